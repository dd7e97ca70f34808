package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stockbot/internal/adapters/discord"
	"stockbot/internal/adapters/finnhub"
	"stockbot/internal/adapters/marketaux"
	"stockbot/internal/adapters/repo"
	"stockbot/internal/adapters/telegram"
	"stockbot/internal/adapters/twitter"
	"stockbot/internal/domain"
	"stockbot/internal/infra/cache"
	"stockbot/internal/infra/config"
	"stockbot/internal/infra/db"
	httpinfra "stockbot/internal/infra/http"
	"stockbot/internal/infra/log"
	"stockbot/internal/infra/metrics"
	"stockbot/internal/infra/queue"
	"stockbot/internal/infra/trace"
	"stockbot/internal/usecase/earnings"
	"stockbot/internal/usecase/guildsetup"
	"stockbot/internal/usecase/janitor"
	"stockbot/internal/usecase/news"
	"stockbot/internal/usecase/portfolio"
	"stockbot/internal/usecase/provision"
	"stockbot/internal/usecase/schedule"
	"stockbot/internal/usecase/stockinfo"
	"stockbot/internal/usecase/watchlist"
)

const (
	earningsInterval = 24 * time.Hour
	janitorInterval  = time.Hour
	// readyTimeout: сколько ждать данных серверов перед запуском периодических задач.
	readyTimeout = time.Minute
)

// store объединяет все репозитории бота.
type store interface {
	domain.WatchlistRepo
	domain.PortfolioRepo
	domain.PrivateChannelRepo
	domain.HeartbeatRepo
	domain.HelpMessageRepo
	Ping(ctx context.Context) error
}

// kv: кэш котировок и окно дедупликации.
type kv interface {
	domain.Cache
	domain.SeenWindow
}

type memoryKV struct {
	*cache.Memory
	*cache.MemorySeen
}

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Discord.Token == "" {
		logger.Fatal().Msg("DISCORD_TOKEN не задан")
	}
	if err := trace.Init(ctx, cfg.Tracing.Enabled); err != nil {
		logger.Fatal().Err(err).Msg("не удалось инициализировать трассировку")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = trace.Shutdown(shutdownCtx)
	}()
	metrics.MustRegister(prometheus.DefaultRegisterer)

	clk := domain.SystemClock{}

	st, closeStore := openStore(ctx, cfg, clk, logger)
	defer closeStore()
	cacheKV, redisClient := openCache(ctx, cfg, clk, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	fh := finnhub.New(cfg.Finnhub.BaseURL, cfg.Finnhub.APIKeys, clk, cfg.Poller.Freshness)
	sources := []news.Source{{Fetcher: fh, Interval: cfg.Poller.FinnhubInterval}}
	if len(cfg.Marketaux.APIKeys) > 0 {
		mx := marketaux.New(cfg.Marketaux.BaseURL, cfg.Marketaux.APIKeys, clk, cfg.Poller.Freshness)
		sources = append(sources, news.Source{Fetcher: mx, Interval: cfg.Poller.MarketauxInterval})
	}
	if cfg.Twitter.BearerToken != "" {
		tw := twitter.New(cfg.Twitter.BaseURL, cfg.Twitter.BearerToken, cfg.Twitter.Accounts, clk, cfg.Poller.Freshness)
		sources = append(sources, news.Source{Fetcher: tw, Interval: cfg.Poller.TwitterInterval})
	}
	mirrors, closeMirrors := openMirrors(cfg, logger)
	defer closeMirrors()

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать сессию Discord")
	}
	gateway := discord.NewGateway(session, clk, cfg.Discord.NewsChannel, cfg.Discord.NewsChannelIDs, log.Component(logger, "discord"))

	stocks := stockinfo.NewService(fh, cacheKV, stockinfo.DefaultTTL, log.Component(logger, "stockinfo"))
	provisionUC := provision.NewService(st, gateway, st, st, log.Component(logger, "provision"))
	watchlistUC := watchlist.NewService(st, st, cfg.Limits.WatchlistMax)
	portfolioUC := portfolio.NewService(st, st, stocks)
	setupUC := guildsetup.NewService(gateway, st, cfg.Discord.NewsChannel, log.Component(logger, "guildsetup"))
	earningsUC := earnings.NewService(fh, fh, gateway, clk, earnings.Config{
		DaysAhead: cfg.Limits.EarningsDays,
		MinPrice:  cfg.Limits.EarningsMinPx,
		MaxPrice:  cfg.Limits.EarningsMaxPx,
	}, log.Component(logger, "earnings"))
	janitorUC := janitor.NewService(gateway, st, clk, cfg.Limits.PurgeAfter, log.Component(logger, "janitor"))

	poller := news.NewPoller(sources, cacheKV, gateway, st, clk, log.Component(logger, "news"), news.Options{
		Tick:              cfg.Poller.Tick,
		HeartbeatCooldown: cfg.Poller.HeartbeatCooldown,
		Mirrors:           mirrors,
	})
	runner := schedule.NewRunner(clk, log.Component(logger, "schedule"))

	handler := discord.NewHandler(log.Component(logger, "commands"), provisionUC, watchlistUC, portfolioUC, stocks)
	bot := discord.NewBot(session, handler, setupUC, provisionUC, cfg.Discord.AppID, cfg.Discord.DevGuildID, log.Component(logger, "bot"))

	ops := httpinfra.NewServer(logger, func(ctx context.Context) error {
		if err := st.Ping(ctx); err != nil {
			return err
		}
		if redisClient != nil {
			return redisClient.Ping(ctx).Err()
		}
		return nil
	})
	ops.Start(ctx, cfg.MetricsAddr)

	logger.Info().Int("sources", len(sources)).Int("mirrors", len(mirrors)).Str("store", cfg.Store.Driver).Msg("stockbot запускается")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error {
		select {
		case <-bot.Ready():
		case <-time.After(readyTimeout):
			logger.Warn().Msg("данные серверов не получены, задачи запускаются без ожидания")
		case <-gctx.Done():
			return nil
		}
		return runner.RunAll(gctx,
			schedule.Task{Name: "earnings", Interval: earningsInterval, Run: earningsUC.Run},
			schedule.Task{Name: "janitor", Interval: janitorInterval, Run: janitorUC.Run},
		)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("бот остановлен с ошибкой")
		return
	}
	logger.Info().Msg("бот остановлен")
}

func openStore(ctx context.Context, cfg config.AppConfig, clk domain.Clock, logger zerolog.Logger) (store, func()) {
	if cfg.Store.Driver == "memory" {
		logger.Warn().Msg("используется хранилище в памяти, данные не переживут рестарт")
		return repo.NewMemory(clk), func() {}
	}
	pool, err := db.Connect(ctx, cfg.Store.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
	}
	pg := repo.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		logger.Fatal().Err(err).Msg("не удалось применить схему БД")
	}
	return pg, pool.Close
}

func openCache(ctx context.Context, cfg config.AppConfig, clk domain.Clock, logger zerolog.Logger) (kv, *redis.Client) {
	if cfg.RedisAddr == "" {
		return memoryKV{
			Memory:     cache.NewMemory(clk),
			MemorySeen: cache.NewMemorySeen(clk, cfg.Poller.SeenCapacity, cfg.Poller.SeenTTL),
		}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis недоступен")
	}
	return cache.NewRedis(client, cfg.Poller.SeenTTL), client
}

func openMirrors(cfg config.AppConfig, logger zerolog.Logger) ([]domain.NewsMirror, func()) {
	var (
		mirrors []domain.NewsMirror
		closers []func()
	)
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		tg, err := telegram.Dial(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			logger.Error().Err(err).Msg("telegram-зеркало отключено")
		} else {
			mirrors = append(mirrors, tg)
		}
	}
	if cfg.Rabbit.URL != "" {
		rb, err := queue.NewRabbitPublisher(cfg.Rabbit.URL, cfg.Rabbit.Exchange)
		if err != nil {
			logger.Error().Err(err).Msg("rabbitmq-зеркало отключено")
		} else {
			mirrors = append(mirrors, rb)
			closers = append(closers, func() { _ = rb.Close() })
		}
	}
	return mirrors, func() {
		for _, c := range closers {
			c()
		}
	}
}
