package stockinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stockbot/internal/domain"
)

// DefaultTTL: время жизни котировки в кэше.
const DefaultTTL = 60 * time.Second

const cachePrefix = "stockinfo:"

// Service возвращает котировку и профиль компании с кэшированием.
type Service struct {
	market domain.MarketData
	cache  domain.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewService создаёт сервис. cache может быть nil.
func NewService(market domain.MarketData, cache domain.Cache, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{market: market, cache: cache, ttl: ttl, logger: logger}
}

// Lookup возвращает сведения о тикере. Нулевая цена означает неизвестный тикер.
func (s *Service) Lookup(ctx context.Context, symbol string) (domain.StockInfo, error) {
	normalized, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return domain.StockInfo{}, err
	}
	if info, ok := s.cached(ctx, normalized); ok {
		return info, nil
	}

	quote, err := s.market.Quote(ctx, normalized)
	if err != nil {
		return domain.StockInfo{}, err
	}
	if quote.Current == 0 {
		return domain.StockInfo{}, fmt.Errorf("quote %s: %w", normalized, domain.ErrNotFound)
	}
	info := domain.StockInfo{Quote: quote, Profile: domain.CompanyProfile{Symbol: normalized}}
	profile, err := s.market.Profile(ctx, normalized)
	switch {
	case err == nil:
		info.Profile = profile
	case errors.Is(err, domain.ErrNotFound):
	default:
		s.logger.Warn().Err(err).Str("symbol", normalized).Msg("профиль компании недоступен")
	}
	s.store(ctx, normalized, info)
	return info, nil
}

// Quote реализует portfolio.PriceSource.
func (s *Service) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	info, err := s.Lookup(ctx, symbol)
	if err != nil {
		return domain.Quote{}, err
	}
	return info.Quote, nil
}

func (s *Service) cached(ctx context.Context, symbol string) (domain.StockInfo, bool) {
	if s.cache == nil {
		return domain.StockInfo{}, false
	}
	data, err := s.cache.Get(ctx, cachePrefix+symbol)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("кэш котировок недоступен")
		}
		return domain.StockInfo{}, false
	}
	var info domain.StockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.StockInfo{}, false
	}
	return info, true
}

func (s *Service) store(ctx context.Context, symbol string, info domain.StockInfo) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cachePrefix+symbol, data, s.ttl); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("не удалось сохранить котировку в кэш")
	}
}
