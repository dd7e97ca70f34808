package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// WatchlistRepo хранит списки наблюдения пользователей.
type WatchlistRepo interface {
	// AddWatchlistEntry вставляет запись или возвращает ErrAlreadyExists.
	AddWatchlistEntry(ctx context.Context, entry WatchlistEntry) (WatchlistEntry, error)
	// RemoveWatchlistEntry удаляет запись или возвращает ErrNotFound.
	RemoveWatchlistEntry(ctx context.Context, owner Owner, symbol string) error
	// ListWatchlist возвращает записи в порядке добавления.
	ListWatchlist(ctx context.Context, owner Owner) ([]WatchlistEntry, error)
	DeleteWatchlist(ctx context.Context, owner Owner) (int, error)
}

// PortfolioRepo хранит позиции и реализованный P&L.
type PortfolioRepo interface {
	// BuyPosition открывает позицию или усредняет существующую.
	BuyPosition(ctx context.Context, owner Owner, symbol string, shares, price decimal.Decimal) (Position, error)
	// SellPosition продаёт часть позиции и начисляет реализованный P&L.
	SellPosition(ctx context.Context, owner Owner, symbol string, shares, price decimal.Decimal) (SaleResult, error)
	ListPositions(ctx context.Context, owner Owner) ([]Position, error)
	DeletePositions(ctx context.Context, owner Owner) (int, error)
	RealizedPnL(ctx context.Context, owner Owner) (decimal.Decimal, error)
	ResetRealizedPnL(ctx context.Context, owner Owner) error
}

// PrivateChannelRepo хранит привязки приватных каналов.
type PrivateChannelRepo interface {
	// CreatePrivateChannel сохраняет привязку или возвращает ErrAlreadyExists.
	CreatePrivateChannel(ctx context.Context, ch PrivateChannel) error
	GetPrivateChannel(ctx context.Context, owner Owner, kind ChannelKind) (PrivateChannel, error)
	GetPrivateChannelByID(ctx context.Context, channelID string) (PrivateChannel, error)
	DeletePrivateChannel(ctx context.Context, owner Owner, kind ChannelKind) error
}

// HeartbeatRepo запоминает время последнего сообщения «нет новостей».
type HeartbeatRepo interface {
	LastHeartbeat(ctx context.Context, channelID string) (time.Time, bool, error)
	SaveHeartbeat(ctx context.Context, channelID string, at time.Time) error
}

// HelpMessageRepo хранит идентификатор справочного сообщения сервера.
type HelpMessageRepo interface {
	HelpMessageID(ctx context.Context, guildID string) (string, bool, error)
	SaveHelpMessageID(ctx context.Context, guildID, messageID string) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get возвращает ErrNotFound, если ключа нет.
	Get(ctx context.Context, key string) ([]byte, error)
}

// SeenWindow: ограниченное окно уже опубликованных новостей.
type SeenWindow interface {
	// Seen сообщает, есть ли ключ в окне, не изменяя его.
	Seen(ctx context.Context, key string) (bool, error)
	// MarkIfNew запоминает ключ и возвращает true, если он ещё не встречался.
	MarkIfNew(ctx context.Context, key string) (bool, error)
}

// NewsFetcher получает свежие новости одного поставщика.
type NewsFetcher interface {
	Source() NewsSource
	FetchNews(ctx context.Context) ([]NewsItem, error)
}

// NewsPublisher доставляет новости в каналы чата.
type NewsPublisher interface {
	NewsChannels(ctx context.Context) ([]string, error)
	PublishNews(ctx context.Context, channelID string, item NewsItem) error
	PublishNotice(ctx context.Context, channelID, text string) error
}

// NewsMirror дублирует опубликованные новости во внешние системы.
type NewsMirror interface {
	Name() string
	MirrorNews(ctx context.Context, item NewsItem) error
}

// MarketData предоставляет котировки и календарь отчётностей.
type MarketData interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	Profile(ctx context.Context, symbol string) (CompanyProfile, error)
	EarningsCalendar(ctx context.Context, from, to time.Time) ([]EarningsEvent, error)
}

// ChannelManager создаёт и удаляет каналы на сервере.
type ChannelManager interface {
	// CreatePrivateTextChannel создаёт канал, видимый только владельцу и боту.
	CreatePrivateTextChannel(ctx context.Context, guildID, name, ownerUserID string) (string, error)
	// DeleteChannel удаляет канал; отсутствующий канал возвращает ErrNotFound.
	DeleteChannel(ctx context.Context, channelID string) error
}
