package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Owner идентифицирует пользователя Discord в пределах сервера.
type Owner struct {
	GuildID string
	UserID  string
}

// String возвращает ключ владельца для логов и кэша.
func (o Owner) String() string {
	return o.GuildID + ":" + o.UserID
}

// ChannelKind описывает тип приватного канала.
type ChannelKind string

const (
	ChannelKindWatchlist ChannelKind = "watchlist"
	ChannelKindPortfolio ChannelKind = "portfolio"
)

// Valid проверяет, что тип канала известен.
func (k ChannelKind) Valid() bool {
	return k == ChannelKindWatchlist || k == ChannelKindPortfolio
}

// PrivateChannel хранит привязку приватного канала к пользователю.
type PrivateChannel struct {
	Owner     Owner
	ChannelID string
	Kind      ChannelKind
	CreatedAt time.Time
}

// WatchlistEntry описывает тикер в списке наблюдения.
type WatchlistEntry struct {
	ID          int64
	Owner       Owner
	Symbol      string
	CompanyName string
	AddedAt     time.Time
}

// Position описывает позицию портфеля.
type Position struct {
	Owner        Owner
	Symbol       string
	Shares       decimal.Decimal
	TotalCost    decimal.Decimal
	AveragePrice decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SaleResult содержит итог продажи части позиции.
type SaleResult struct {
	Symbol          string
	SharesSold      decimal.Decimal
	Price           decimal.Decimal
	Proceeds        decimal.Decimal
	RealizedPnL     decimal.Decimal
	PnLPercent      float64
	RemainingShares decimal.Decimal
}

// NewsSource: поставщик новостей.
type NewsSource string

const (
	SourceFinnhub   NewsSource = "finnhub"
	SourceMarketaux NewsSource = "marketaux"
	SourceTwitter   NewsSource = "twitter"
)

// NewsItem: нормализованная новость любого поставщика.
type NewsItem struct {
	Source      NewsSource
	ExternalID  string
	Headline    string
	Summary     string
	URL         string
	Publisher   string
	PublishedAt time.Time
}

// Key возвращает ключ для окна дедупликации.
func (n NewsItem) Key() string {
	return string(n.Source) + ":" + n.ExternalID
}

// Quote: котировка тикера.
type Quote struct {
	Symbol        string
	Current       float64
	Change        float64
	PercentChange float64
	High          float64
	Low           float64
	Open          float64
	PreviousClose float64
}

// CompanyProfile: краткие сведения о компании.
type CompanyProfile struct {
	Symbol   string
	Name     string
	Exchange string
	Industry string
	WebURL   string
}

// StockInfo объединяет котировку и профиль.
type StockInfo struct {
	Quote   Quote
	Profile CompanyProfile
}

// DisplayName возвращает название компании либо тикер.
func (s StockInfo) DisplayName() string {
	if name := strings.TrimSpace(s.Profile.Name); name != "" {
		return name
	}
	return s.Quote.Symbol
}

// EarningsEvent: запись календаря отчётностей.
type EarningsEvent struct {
	Symbol       string
	Date         string
	EPSEstimate  *float64
	Hour         string
	CurrentPrice float64
}
