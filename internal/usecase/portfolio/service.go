package portfolio

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"stockbot/internal/domain"
)

// PriceSource отдаёт текущую котировку тикера.
type PriceSource interface {
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
}

// Holding: позиция с рыночной оценкой.
type Holding struct {
	Position      domain.Position
	CurrentPrice  decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	PriceKnown    bool
}

// Snapshot: состояние портфеля на момент запроса.
type Snapshot struct {
	Holdings      []Holding
	TotalCost     decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
}

// Service управляет портфелями пользователей.
type Service struct {
	repo     domain.PortfolioRepo
	channels domain.PrivateChannelRepo
	prices   PriceSource
}

// NewService создаёт сервис портфеля.
func NewService(repo domain.PortfolioRepo, channels domain.PrivateChannelRepo, prices PriceSource) *Service {
	return &Service{repo: repo, channels: channels, prices: prices}
}

// Buy открывает или усредняет позицию. Требует приватный канал portfolio.
func (s *Service) Buy(ctx context.Context, owner domain.Owner, symbol string, shares, price decimal.Decimal) (domain.Position, error) {
	normalized, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return domain.Position{}, err
	}
	if !shares.IsPositive() || !price.IsPositive() {
		return domain.Position{}, fmt.Errorf("shares and price must be positive: %w", domain.ErrInvalidInput)
	}
	if _, err := s.channels.GetPrivateChannel(ctx, owner, domain.ChannelKindPortfolio); err != nil {
		return domain.Position{}, fmt.Errorf("поиск канала portfolio: %w", err)
	}
	pos, err := s.repo.BuyPosition(ctx, owner, normalized, shares, price)
	if err != nil {
		return domain.Position{}, fmt.Errorf("покупка %s: %w", normalized, err)
	}
	return pos, nil
}

// Sell продаёт часть позиции и фиксирует P&L.
func (s *Service) Sell(ctx context.Context, owner domain.Owner, symbol string, shares, price decimal.Decimal) (domain.SaleResult, error) {
	normalized, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return domain.SaleResult{}, err
	}
	if !shares.IsPositive() || !price.IsPositive() {
		return domain.SaleResult{}, fmt.Errorf("shares and price must be positive: %w", domain.ErrInvalidInput)
	}
	result, err := s.repo.SellPosition(ctx, owner, normalized, shares, price)
	if err != nil {
		return domain.SaleResult{}, fmt.Errorf("продажа %s: %w", normalized, err)
	}
	return result, nil
}

// Snapshot оценивает позиции по текущим ценам. Недоступная цена не является ошибкой.
func (s *Service) Snapshot(ctx context.Context, owner domain.Owner) (Snapshot, error) {
	positions, err := s.repo.ListPositions(ctx, owner)
	if err != nil {
		return Snapshot{}, fmt.Errorf("чтение позиций: %w", err)
	}
	realized, err := s.repo.RealizedPnL(ctx, owner)
	if err != nil {
		return Snapshot{}, fmt.Errorf("чтение P&L: %w", err)
	}
	snap := Snapshot{RealizedPnL: realized, Holdings: make([]Holding, 0, len(positions))}
	for _, pos := range positions {
		h := Holding{Position: pos}
		snap.TotalCost = snap.TotalCost.Add(pos.TotalCost)
		if s.prices != nil {
			if q, err := s.prices.Quote(ctx, pos.Symbol); err == nil && q.Current > 0 {
				h.PriceKnown = true
				h.CurrentPrice = decimal.NewFromFloat(q.Current)
				h.MarketValue = h.CurrentPrice.Mul(pos.Shares)
				h.UnrealizedPnL = h.MarketValue.Sub(pos.TotalCost)
				snap.MarketValue = snap.MarketValue.Add(h.MarketValue)
				snap.UnrealizedPnL = snap.UnrealizedPnL.Add(h.UnrealizedPnL)
			}
		}
		snap.Holdings = append(snap.Holdings, h)
	}
	return snap, nil
}

// RealizedPnL возвращает накопленный реализованный P&L.
func (s *Service) RealizedPnL(ctx context.Context, owner domain.Owner) (decimal.Decimal, error) {
	pnl, err := s.repo.RealizedPnL(ctx, owner)
	if err != nil {
		return decimal.Zero, fmt.Errorf("чтение P&L: %w", err)
	}
	return pnl, nil
}

// ResetPnL обнуляет реализованный P&L.
func (s *Service) ResetPnL(ctx context.Context, owner domain.Owner) error {
	if err := s.repo.ResetRealizedPnL(ctx, owner); err != nil {
		return fmt.Errorf("сброс P&L: %w", err)
	}
	return nil
}
