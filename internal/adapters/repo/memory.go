package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stockbot/internal/domain"
)

// Memory хранит данные в памяти процесса (STORE_DRIVER=memory и тесты).
type Memory struct {
	clock domain.Clock

	mu         sync.Mutex
	nextID     int64
	watchlists map[domain.Owner][]domain.WatchlistEntry
	positions  map[domain.Owner]map[string]domain.Position
	pnl        map[domain.Owner]decimal.Decimal
	channels   map[channelKey]domain.PrivateChannel
	heartbeats map[string]time.Time
	help       map[string]string
}

type channelKey struct {
	owner domain.Owner
	kind  domain.ChannelKind
}

var (
	_ domain.WatchlistRepo      = (*Memory)(nil)
	_ domain.PortfolioRepo      = (*Memory)(nil)
	_ domain.PrivateChannelRepo = (*Memory)(nil)
	_ domain.HeartbeatRepo      = (*Memory)(nil)
	_ domain.HelpMessageRepo    = (*Memory)(nil)
)

// NewMemory создаёт пустое хранилище.
func NewMemory(clock domain.Clock) *Memory {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Memory{
		clock:      clock,
		watchlists: make(map[domain.Owner][]domain.WatchlistEntry),
		positions:  make(map[domain.Owner]map[string]domain.Position),
		pnl:        make(map[domain.Owner]decimal.Decimal),
		channels:   make(map[channelKey]domain.PrivateChannel),
		heartbeats: make(map[string]time.Time),
		help:       make(map[string]string),
	}
}

// Ping всегда успешен.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) AddWatchlistEntry(_ context.Context, entry domain.WatchlistEntry) (domain.WatchlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.watchlists[entry.Owner] {
		if e.Symbol == entry.Symbol {
			return domain.WatchlistEntry{}, fmt.Errorf("watchlist %s: %w", entry.Symbol, domain.ErrAlreadyExists)
		}
	}
	m.nextID++
	entry.ID = m.nextID
	entry.AddedAt = m.clock.Now()
	m.watchlists[entry.Owner] = append(m.watchlists[entry.Owner], entry)
	return entry, nil
}

func (m *Memory) RemoveWatchlistEntry(_ context.Context, owner domain.Owner, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.watchlists[owner]
	for i, e := range entries {
		if e.Symbol == symbol {
			m.watchlists[owner] = append(entries[:i:i], entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("watchlist %s: %w", symbol, domain.ErrNotFound)
}

func (m *Memory) ListWatchlist(_ context.Context, owner domain.Owner) ([]domain.WatchlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.watchlists[owner]
	out := make([]domain.WatchlistEntry, len(entries))
	copy(out, entries)
	return out, nil
}


func (m *Memory) DeleteWatchlist(_ context.Context, owner domain.Owner) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.watchlists[owner])
	delete(m.watchlists, owner)
	return n, nil
}

func (m *Memory) BuyPosition(_ context.Context, owner domain.Owner, symbol string, shares, price decimal.Decimal) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.positions[owner]
	pos, ok := held[symbol]
	if !ok {
		pos = domain.Position{Owner: owner, Symbol: symbol}
	}
	pos, err := domain.ApplyBuy(pos, shares, price, m.clock.Now())
	if err != nil {
		return domain.Position{}, err
	}
	if held == nil {
		held = make(map[string]domain.Position)
		m.positions[owner] = held
	}
	held[symbol] = pos
	return pos, nil
}

func (m *Memory) SellPosition(_ context.Context, owner domain.Owner, symbol string, shares, price decimal.Decimal) (domain.SaleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.positions[owner]
	pos, ok := held[symbol]
	if !ok {
		return domain.SaleResult{}, fmt.Errorf("position %s: %w", symbol, domain.ErrNotFound)
	}
	pos, result, err := domain.ApplySale(pos, shares, price, m.clock.Now())
	if err != nil {
		return domain.SaleResult{}, err
	}
	if pos.Shares.IsZero() {
		delete(held, symbol)
	} else {
		held[symbol] = pos
	}
	m.pnl[owner] = m.pnl[owner].Add(result.RealizedPnL)
	return result, nil
}

func (m *Memory) ListPositions(_ context.Context, owner domain.Owner) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Position, 0, len(m.positions[owner]))
	for _, pos := range m.positions[owner] {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func (m *Memory) DeletePositions(_ context.Context, owner domain.Owner) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.positions[owner])
	delete(m.positions, owner)
	return n, nil
}

func (m *Memory) RealizedPnL(_ context.Context, owner domain.Owner) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pnl[owner], nil
}

func (m *Memory) ResetRealizedPnL(_ context.Context, owner domain.Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pnl, owner)
	return nil
}

func (m *Memory) CreatePrivateChannel(_ context.Context, ch domain.PrivateChannel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := channelKey{owner: ch.Owner, kind: ch.Kind}
	if _, ok := m.channels[key]; ok {
		return fmt.Errorf("%s channel: %w", ch.Kind, domain.ErrAlreadyExists)
	}
	for _, existing := range m.channels {
		if existing.ChannelID == ch.ChannelID {
			return fmt.Errorf("channel %s: %w", ch.ChannelID, domain.ErrAlreadyExists)
		}
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = m.clock.Now()
	}
	m.channels[key] = ch
	return nil
}

func (m *Memory) GetPrivateChannel(_ context.Context, owner domain.Owner, kind domain.ChannelKind) (domain.PrivateChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelKey{owner: owner, kind: kind}]
	if !ok {
		return domain.PrivateChannel{}, fmt.Errorf("%s channel: %w", kind, domain.ErrNotFound)
	}
	return ch, nil
}

func (m *Memory) GetPrivateChannelByID(_ context.Context, channelID string) (domain.PrivateChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.channels {
		if ch.ChannelID == channelID {
			return ch, nil
		}
	}
	return domain.PrivateChannel{}, fmt.Errorf("channel %s: %w", channelID, domain.ErrNotFound)
}

func (m *Memory) DeletePrivateChannel(_ context.Context, owner domain.Owner, kind domain.ChannelKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := channelKey{owner: owner, kind: kind}
	if _, ok := m.channels[key]; !ok {
		return fmt.Errorf("%s channel: %w", kind, domain.ErrNotFound)
	}
	delete(m.channels, key)
	return nil
}

func (m *Memory) LastHeartbeat(_ context.Context, channelID string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.heartbeats[channelID]
	return at, ok, nil
}

func (m *Memory) SaveHeartbeat(_ context.Context, channelID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[channelID] = at
	return nil
}

func (m *Memory) HelpMessageID(_ context.Context, guildID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.help[guildID]
	return id, ok, nil
}

func (m *Memory) SaveHelpMessageID(_ context.Context, guildID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.help[guildID] = messageID
	return nil
}
