package earnings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stockbot/internal/domain"
	"stockbot/internal/infra/clock"
)

type stubMarket struct {
	events   []domain.EarningsEvent
	from, to time.Time
}

func (s *stubMarket) Quote(context.Context, string) (domain.Quote, error) { return domain.Quote{}, nil }

func (s *stubMarket) Profile(context.Context, string) (domain.CompanyProfile, error) {
	return domain.CompanyProfile{}, nil
}

func (s *stubMarket) EarningsCalendar(_ context.Context, from, to time.Time) ([]domain.EarningsEvent, error) {
	s.from, s.to = from, to
	return s.events, nil
}

type stubPrices struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (s *stubPrices) Quote(_ context.Context, symbol string) (domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return domain.Quote{Symbol: symbol, Current: price}, nil
}

type stubBoard struct {
	channels  []string
	published map[string]Calendar
}

func (b *stubBoard) EarningsChannels(context.Context) ([]string, error) { return b.channels, nil }

func (b *stubBoard) PublishCalendar(_ context.Context, channelID string, cal Calendar) error {
	if b.published == nil {
		b.published = map[string]Calendar{}
	}
	b.published[channelID] = cal
	return nil
}

func TestBuildFiltersByPriceAndGroupsByDay(t *testing.T) {
	market := &stubMarket{events: []domain.EarningsEvent{
		{Symbol: "ORCL", Date: "2024-03-11"},
		{Symbol: "PENNY", Date: "2024-03-11"},
		{Symbol: "ADBE", Date: "2024-03-14"},
		{Symbol: "BIG", Date: "2024-03-12"},
		{Symbol: "GHOST", Date: "2024-03-12"},
		{Symbol: "AVGO", Date: "2024-03-11"},
		{Symbol: "AVGO", Date: "2024-03-11"},
	}}
	prices := &stubPrices{prices: map[string]float64{"ORCL": 110, "PENNY": 1.2, "ADBE": 560, "BIG": 1200, "AVGO": 5}}
	now := time.Date(2024, 3, 10, 18, 30, 0, 0, time.UTC)
	svc := NewService(market, prices, &stubBoard{}, clock.NewFake(now), Config{DaysAhead: 7, MinPrice: 5, MaxPrice: 600}, zerolog.Nop())

	cal, err := svc.Build(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !market.from.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)) || !market.to.Equal(time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("неожиданный интервал %s..%s", market.from, market.to)
	}
	if cal.Total != 3 || len(cal.Days) != 2 {
		t.Fatalf("неожиданный календарь: %+v", cal)
	}
	first := cal.Days[0]
	if first.Date != "2024-03-11" || first.Events[0].Symbol != "AVGO" || first.Events[1].Symbol != "ORCL" {
		t.Fatalf("неожиданный первый день: %+v", first)
	}
	if first.Events[1].CurrentPrice != 110 {
		t.Fatalf("цена не сохранена: %+v", first.Events[1])
	}
}

func TestRunPublishesToEveryBoard(t *testing.T) {
	market := &stubMarket{events: []domain.EarningsEvent{{Symbol: "ORCL", Date: "2024-03-11"}}}
	board := &stubBoard{channels: []string{"a", "b"}}
	svc := NewService(market, &stubPrices{prices: map[string]float64{"ORCL": 100}}, board, clock.NewFake(time.Now()), Config{}, zerolog.Nop())
	if err := svc.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(board.published) != 2 || board.published["b"].Total != 1 {
		t.Fatalf("неожиданная публикация: %+v", board.published)
	}
}

func TestDayChunks(t *testing.T) {
	day := Day{Events: make([]domain.EarningsEvent, 31)}
	chunks := day.Chunks(SymbolsPerField)
	if len(chunks) != 3 || len(chunks[2]) != 1 {
		t.Fatalf("неожиданное деление: %d", len(chunks))
	}
}

func TestFormatDay(t *testing.T) {
	if got := FormatDay("2024-03-11"); got != "March 11, 2024 (Monday)" {
		t.Fatalf("FormatDay = %q", got)
	}
	if got := ShortDay("2024-03-11"); got != "Mon 03/11" {
		t.Fatalf("ShortDay = %q", got)
	}
	if got := FormatDay("soon"); got != "soon" {
		t.Fatalf("FormatDay = %q", got)
	}
}
