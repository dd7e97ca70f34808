package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию бота.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Discord struct {
		Token          string   `envconfig:"DISCORD_TOKEN"`
		AppID          string   `envconfig:"DISCORD_APP_ID"`
		DevGuildID     string   `envconfig:"DISCORD_DEV_GUILD_ID"`
		NewsChannel    string   `envconfig:"DISCORD_NEWS_CHANNEL" default:"news"`
		NewsChannelIDs []string `envconfig:"NEWS_CHANNEL_IDS"`
	} `envconfig:""`

	Finnhub struct {
		APIKeys []string `envconfig:"FINNHUB_API_KEYS"`
		BaseURL string   `envconfig:"FINNHUB_BASE_URL" default:"https://finnhub.io/api/v1"`
	} `envconfig:""`

	Marketaux struct {
		APIKeys []string `envconfig:"MARKETAUX_API_KEYS"`
		BaseURL string   `envconfig:"MARKETAUX_BASE_URL" default:"https://api.marketaux.com/v1"`
	} `envconfig:""`

	Twitter struct {
		BearerToken string   `envconfig:"TWITTER_BEARER_TOKEN"`
		BaseURL     string   `envconfig:"TWITTER_BASE_URL" default:"https://api.twitter.com/2"`
		Accounts    []string `envconfig:"TWITTER_ACCOUNTS" default:"WalterBloomberg,DeItaone,FirstSquawk"`
	} `envconfig:""`

	Poller struct {
		Tick              time.Duration `envconfig:"POLL_TICK" default:"30s"`
		FinnhubInterval   time.Duration `envconfig:"FINNHUB_FETCH_INTERVAL" default:"2m"`
		MarketauxInterval time.Duration `envconfig:"MARKETAUX_FETCH_INTERVAL" default:"8m"`
		TwitterInterval   time.Duration `envconfig:"TWITTER_FETCH_INTERVAL" default:"5m"`
		Freshness         time.Duration `envconfig:"NEWS_FRESHNESS" default:"48h"`
		HeartbeatCooldown time.Duration `envconfig:"HEARTBEAT_COOLDOWN" default:"15m"`
		SeenCapacity      int           `envconfig:"SEEN_WINDOW_CAPACITY" default:"500"`
		SeenTTL           time.Duration `envconfig:"SEEN_WINDOW_TTL" default:"48h"`
	} `envconfig:""`

	Store struct {
		Driver string `envconfig:"STORE_DRIVER" default:"postgres"`
		PGDSN  string `envconfig:"PG_DSN"`
	} `envconfig:""`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Limits struct {
		WatchlistMax  int           `envconfig:"WATCHLIST_MAX" default:"15"`
		EarningsDays  int           `envconfig:"EARNINGS_DAYS_AHEAD" default:"7"`
		EarningsMinPx float64       `envconfig:"EARNINGS_MIN_PRICE" default:"5"`
		EarningsMaxPx float64       `envconfig:"EARNINGS_MAX_PRICE" default:"600"`
		PurgeAfter    time.Duration `envconfig:"PURGE_AFTER" default:"48h"`
	} `envconfig:""`

	Telegram struct {
		Token  string `envconfig:"TG_BOT_TOKEN"`
		ChatID int64  `envconfig:"TG_MIRROR_CHAT_ID"`
	} `envconfig:""`

	Rabbit struct {
		URL      string `envconfig:"RABBITMQ_URL"`
		Exchange string `envconfig:"RABBITMQ_NEWS_EXCHANGE" default:"stockbot.news"`
	} `envconfig:""`

	Tracing struct {
		Enabled bool `envconfig:"TRACING_ENABLED" default:"false"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения, предварительно подхватив .env.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
