package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ApplyBuy добавляет купленные акции к позиции и пересчитывает среднюю цену.
func ApplyBuy(pos Position, shares, price decimal.Decimal, now time.Time) (Position, error) {
	if !shares.IsPositive() || !price.IsPositive() {
		return pos, fmt.Errorf("shares and price must be positive: %w", ErrInvalidInput)
	}
	if pos.CreatedAt.IsZero() {
		pos.CreatedAt = now
	}
	pos.Shares = pos.Shares.Add(shares)
	pos.TotalCost = pos.TotalCost.Add(shares.Mul(price))
	pos.AveragePrice = pos.TotalCost.Div(pos.Shares)
	pos.UpdatedAt = now
	return pos, nil
}

// ApplySale списывает проданные акции. Себестоимость списывается пропорционально,
// поэтому после полной продажи позиция обнуляется точно (Shares == 0, позицию нужно удалить).
func ApplySale(pos Position, shares, price decimal.Decimal, now time.Time) (Position, SaleResult, error) {
	if !shares.IsPositive() || !price.IsPositive() {
		return pos, SaleResult{}, fmt.Errorf("shares and price must be positive: %w", ErrInvalidInput)
	}
	if shares.GreaterThan(pos.Shares) {
		return pos, SaleResult{}, fmt.Errorf("only %s shares of %s held: %w", pos.Shares, pos.Symbol, ErrInvalidInput)
	}
	costSold := pos.TotalCost
	if shares.LessThan(pos.Shares) {
		costSold = pos.TotalCost.Mul(shares).Div(pos.Shares)
	}
	proceeds := shares.Mul(price)
	result := SaleResult{
		Symbol:      pos.Symbol,
		SharesSold:  shares,
		Price:       price,
		Proceeds:    proceeds,
		RealizedPnL: proceeds.Sub(costSold),
	}
	if costSold.IsPositive() {
		result.PnLPercent = result.RealizedPnL.Div(costSold).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	pos.Shares = pos.Shares.Sub(shares)
	pos.TotalCost = pos.TotalCost.Sub(costSold)
	if pos.Shares.IsZero() {
		pos.TotalCost = decimal.Zero
	}
	pos.UpdatedAt = now
	result.RemainingShares = pos.Shares
	return pos, result, nil
}
