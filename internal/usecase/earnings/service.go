package earnings

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stockbot/internal/domain"
)

const (
	// SymbolsPerField: сколько тикеров помещается в одно поле embed.
	SymbolsPerField = 15
	dateLayout      = "2006-01-02"
	lookupWorkers   = 5
)

// PriceSource отдаёт текущую котировку тикера.
type PriceSource interface {
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
}

// Board: канал earnings-calendar-dashboard на серверах.
type Board interface {
	EarningsChannels(ctx context.Context) ([]string, error)
	// PublishCalendar очищает канал и публикует календарь.
	PublishCalendar(ctx context.Context, channelID string, cal Calendar) error
}

// Day: отчётности одного дня.
type Day struct {
	Date   string
	Events []domain.EarningsEvent
}

// Chunks делит события дня на группы по size.
func (d Day) Chunks(size int) [][]domain.EarningsEvent {
	if size <= 0 {
		size = SymbolsPerField
	}
	var out [][]domain.EarningsEvent
	for i := 0; i < len(d.Events); i += size {
		end := i + size
		if end > len(d.Events) {
			end = len(d.Events)
		}
		out = append(out, d.Events[i:end])
	}
	return out
}

// Calendar: отфильтрованный по цене календарь на несколько дней.
type Calendar struct {
	From     time.Time
	To       time.Time
	Days     []Day
	Total    int
	MinPrice float64
	MaxPrice float64
}

// Config задаёт окно и ценовой диапазон.
type Config struct {
	DaysAhead int
	MinPrice  float64
	MaxPrice  float64
}

// Service собирает и публикует календарь отчётностей.
type Service struct {
	market domain.MarketData
	prices PriceSource
	board  Board
	clock  domain.Clock
	cfg    Config
	logger zerolog.Logger
}

// NewService создаёт сервис календаря.
func NewService(market domain.MarketData, prices PriceSource, board Board, clock domain.Clock, cfg Config, logger zerolog.Logger) *Service {
	if cfg.DaysAhead <= 0 {
		cfg.DaysAhead = 7
	}
	if cfg.MaxPrice <= 0 {
		cfg.MinPrice, cfg.MaxPrice = 5, 600
	}
	return &Service{market: market, prices: prices, board: board, clock: clock, cfg: cfg, logger: logger}
}

// Build загружает календарь и оставляет тикеры в ценовом диапазоне.
func (s *Service) Build(ctx context.Context) (Calendar, error) {
	from := s.clock.Now().UTC().Truncate(24 * time.Hour)
	to := from.AddDate(0, 0, s.cfg.DaysAhead)
	events, err := s.market.EarningsCalendar(ctx, from, to)
	if err != nil {
		return Calendar{}, fmt.Errorf("загрузка календаря: %w", err)
	}

	filtered, err := s.filterByPrice(ctx, events)
	if err != nil {
		return Calendar{}, err
	}

	byDate := make(map[string][]domain.EarningsEvent)
	for _, e := range filtered {
		byDate[e.Date] = append(byDate[e.Date], e)
	}
	cal := Calendar{From: from, To: to, Total: len(filtered), MinPrice: s.cfg.MinPrice, MaxPrice: s.cfg.MaxPrice}
	for date, list := range byDate {
		sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })
		cal.Days = append(cal.Days, Day{Date: date, Events: list})
	}
	sort.Slice(cal.Days, func(i, j int) bool { return cal.Days[i].Date < cal.Days[j].Date })
	return cal, nil
}

func (s *Service) filterByPrice(ctx context.Context, events []domain.EarningsEvent) ([]domain.EarningsEvent, error) {
	var (
		mu  sync.Mutex
		out []domain.EarningsEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupWorkers)
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		key := e.Symbol + "|" + e.Date
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		g.Go(func() error {
			quote, err := s.prices.Quote(gctx, e.Symbol)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.logger.Debug().Err(err).Str("symbol", e.Symbol).Msg("цена недоступна, тикер пропущен")
				return nil
			}
			if quote.Current < s.cfg.MinPrice || quote.Current > s.cfg.MaxPrice {
				return nil
			}
			e.CurrentPrice = quote.Current
			mu.Lock()
			out = append(out, e)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Run публикует календарь во все каналы earnings-calendar-dashboard.
func (s *Service) Run(ctx context.Context) error {
	cal, err := s.Build(ctx)
	if err != nil {
		return err
	}
	channels, err := s.board.EarningsChannels(ctx)
	if err != nil {
		return fmt.Errorf("поиск каналов календаря: %w", err)
	}
	for _, channelID := range channels {
		if err := s.board.PublishCalendar(ctx, channelID, cal); err != nil {
			s.logger.Error().Err(err).Str("channel", channelID).Msg("не удалось опубликовать календарь")
			continue
		}
	}
	s.logger.Info().Int("companies", cal.Total).Int("days", len(cal.Days)).Int("channels", len(channels)).Msg("календарь отчётностей опубликован")
	return nil
}

// FormatDay возвращает дату вида "March 11, 2024 (Monday)".
func FormatDay(date string) string {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("January 02, 2006 (Monday)")
}

// ShortDay возвращает дату вида "Mon 03/11".
func ShortDay(date string) string {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("Mon 01/02")
}
