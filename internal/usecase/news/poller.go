package news

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"stockbot/internal/domain"
	"stockbot/internal/infra/metrics"
	"stockbot/internal/infra/trace"
)

// HeartbeatText: сообщение для канала, если новых новостей нет.
const HeartbeatText = "🔄 No new news at this time.\n" +
	"⚠️ ATTENTION ⚠️ StockBot can miss news. News may be delayed from 1 minute up to 24 hours. " +
	"Do your own research for faster or equity-specific news."

const (
	defaultTick              = 30 * time.Second
	defaultHeartbeatCooldown = 15 * time.Minute
	cooldownInitial          = time.Minute
	cooldownMax              = 30 * time.Minute
)

// Source описывает поставщика и частоту его опроса.
type Source struct {
	Fetcher  domain.NewsFetcher
	Interval time.Duration
}

// Options: необязательные параметры поллера.
type Options struct {
	Tick              time.Duration
	HeartbeatCooldown time.Duration
	Mirrors           []domain.NewsMirror
}

// CycleReport: итог одного цикла опроса.
type CycleReport struct {
	CycleID    string
	Polled     []domain.NewsSource
	Failed     map[domain.NewsSource]error
	Fetched    int
	New        int
	Published  int
	Heartbeats int
}

type sourceState struct {
	fetcher       domain.NewsFetcher
	interval      time.Duration
	nextDue       time.Time
	cooldownUntil time.Time
	backoff       *backoff.ExponentialBackOff
}

type fetchResult struct {
	state *sourceState
	items []domain.NewsItem
	err   error
}

// Poller периодически опрашивает поставщиков и публикует новые новости.
type Poller struct {
	seen       domain.SeenWindow
	publisher  domain.NewsPublisher
	heartbeats domain.HeartbeatRepo
	mirrors    []domain.NewsMirror
	clock      domain.Clock
	logger     zerolog.Logger

	tick              time.Duration
	heartbeatCooldown time.Duration

	mu      sync.Mutex
	sources []*sourceState
}

// NewPoller создаёт поллер.
func NewPoller(sources []Source, seen domain.SeenWindow, publisher domain.NewsPublisher, heartbeats domain.HeartbeatRepo, clock domain.Clock, logger zerolog.Logger, opts Options) *Poller {
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if opts.HeartbeatCooldown <= 0 {
		opts.HeartbeatCooldown = defaultHeartbeatCooldown
	}
	p := &Poller{
		seen:              seen,
		publisher:         publisher,
		heartbeats:        heartbeats,
		mirrors:           opts.Mirrors,
		clock:             clock,
		logger:            logger,
		tick:              opts.Tick,
		heartbeatCooldown: opts.HeartbeatCooldown,
	}
	for _, src := range sources {
		if src.Fetcher == nil {
			continue
		}
		p.sources = append(p.sources, &sourceState{
			fetcher:  src.Fetcher,
			interval: src.Interval,
			backoff:  newCooldown(clock),
		})
	}
	return p
}

func newCooldown(clock domain.Clock) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cooldownInitial
	b.MaxInterval = cooldownMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Clock = clock
	b.Reset()
	return b
}

// Run выполняет циклы до отмены контекста.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().Int("sources", len(p.sources)).Dur("tick", p.tick).Msg("поллер новостей запущен")
	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error().Err(err).Msg("цикл опроса завершился ошибкой")
		}
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("поллер новостей остановлен")
			return ctx.Err()
		case <-p.clock.After(p.tick):
		}
	}
}

// CooldownUntil возвращает момент окончания паузы источника.
func (p *Poller) CooldownUntil(source domain.NewsSource) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sources {
		if s.fetcher.Source() == source {
			return s.cooldownUntil
		}
	}
	return time.Time{}
}

// PollOnce опрашивает источники, у которых подошёл срок, и публикует новые новости.
func (p *Poller) PollOnce(ctx context.Context) (report CycleReport, err error) {
	report = CycleReport{CycleID: uuid.NewString(), Failed: map[domain.NewsSource]error{}}
	ctx, span := trace.StartSpan(ctx, "news.poll_cycle", attribute.String("cycle_id", report.CycleID))
	defer func() { trace.End(span, err) }()
	started := time.Now()
	defer func() { metrics.PollCycleSeconds.Observe(time.Since(started).Seconds()) }()

	logger := p.logger.With().Str("cycle_id", report.CycleID).Logger()
	now := p.clock.Now()
	due := p.dueSources(now)
	if len(due) == 0 {
		return report, nil
	}

	results := p.fetchAll(ctx, due)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return report, ctxErr
	}

	var items []domain.NewsItem
	for _, res := range results {
		source := res.state.fetcher.Source()
		report.Polled = append(report.Polled, source)
		if res.err != nil {
			report.Failed[source] = res.err
			p.recordFailure(res.state, res.err, now, logger)
			continue
		}
		p.recordSuccess(res.state, now)
		metrics.NewsFetchedTotal.WithLabelValues(string(source)).Add(float64(len(res.items)))
		items = append(items, res.items...)
	}
	report.Fetched = len(items)

	channels, err := p.publisher.NewsChannels(ctx)
	if err != nil {
		return report, err
	}
	if len(channels) == 0 {
		// без каналов новости не помечаются, чтобы опубликовать их позже
		logger.Debug().Int("fetched", report.Fetched).Msg("нет каналов для публикации")
		return report, nil
	}

	items = DeduplicateByURL(items)
	SortOldestFirst(items)
	fresh := make([]domain.NewsItem, 0, len(items))
	for _, item := range items {
		seen, err := p.seen.Seen(ctx, item.Key())
		if err != nil {
			logger.Warn().Err(err).Str("key", item.Key()).Msg("окно дедупликации недоступно, новость пропущена")
			continue
		}
		if !seen {
			fresh = append(fresh, item)
		}
	}
	report.New = len(fresh)

	for _, item := range fresh {
		delivered := false
		for _, channelID := range channels {
			if err := p.publisher.PublishNews(ctx, channelID, item); err != nil {
				metrics.BotSendErrors.Inc()
				logger.Error().Err(err).Str("channel", channelID).Str("key", item.Key()).Msg("не удалось опубликовать новость")
				continue
			}
			delivered = true
			report.Published++
			metrics.NewsPublishedTotal.WithLabelValues(string(item.Source)).Inc()
		}
		if !delivered {
			// ключ не запоминается: новость повторится в следующем цикле
			continue
		}
		if _, err := p.seen.MarkIfNew(ctx, item.Key()); err != nil {
			logger.Warn().Err(err).Str("key", item.Key()).Msg("не удалось запомнить новость")
		}
		p.mirror(ctx, item, logger)
	}

	if len(fresh) == 0 {
		for _, channelID := range channels {
			sent, err := p.heartbeat(ctx, channelID, now)
			if err != nil {
				logger.Warn().Err(err).Str("channel", channelID).Msg("не удалось отправить heartbeat")
				continue
			}
			if sent {
				report.Heartbeats++
			}
		}
	}

	logger.Debug().
		Int("polled", len(report.Polled)).
		Int("failed", len(report.Failed)).
		Int("fetched", report.Fetched).
		Int("new", report.New).
		Int("published", report.Published).
		Msg("цикл опроса завершён")
	return report, nil
}

func (p *Poller) dueSources(now time.Time) []*sourceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	var due []*sourceState
	for _, s := range p.sources {
		if now.Before(s.nextDue) || now.Before(s.cooldownUntil) {
			continue
		}
		due = append(due, s)
	}
	return due
}

// fetchAll опрашивает источники параллельно. Ошибка одного не отменяет остальные.
func (p *Poller) fetchAll(ctx context.Context, due []*sourceState) []fetchResult {
	results := make([]fetchResult, len(due))
	var g errgroup.Group
	for i, s := range due {
		g.Go(func() error {
			items, err := s.fetcher.FetchNews(ctx)
			results[i] = fetchResult{state: s, items: items, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Poller) recordSuccess(s *sourceState, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.backoff.Reset()
	s.cooldownUntil = time.Time{}
	s.nextDue = now.Add(s.interval)
}

func (p *Poller) recordFailure(s *sourceState, err error, now time.Time, logger zerolog.Logger) {
	source := string(s.fetcher.Source())
	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		p.mu.Lock()
		wait := s.backoff.NextBackOff()
		if rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		s.cooldownUntil = now.Add(wait)
		s.nextDue = s.cooldownUntil
		p.mu.Unlock()
		metrics.SourceFailuresTotal.WithLabelValues(source, "rate_limited").Inc()
		logger.Warn().Err(err).Str("source", source).Dur("cooldown", wait).Msg("источник ограничил запросы")
		return
	}
	p.mu.Lock()
	s.nextDue = now.Add(s.interval)
	p.mu.Unlock()
	metrics.SourceFailuresTotal.WithLabelValues(source, "upstream").Inc()
	logger.Error().Err(err).Str("source", source).Msg("источник недоступен")
}

func (p *Poller) mirror(ctx context.Context, item domain.NewsItem, logger zerolog.Logger) {
	for _, m := range p.mirrors {
		if err := m.MirrorNews(ctx, item); err != nil {
			logger.Warn().Err(err).Str("mirror", m.Name()).Str("key", item.Key()).Msg("не удалось продублировать новость")
		}
	}
}

func (p *Poller) heartbeat(ctx context.Context, channelID string, now time.Time) (bool, error) {
	if p.heartbeats == nil {
		return false, nil
	}
	last, ok, err := p.heartbeats.LastHeartbeat(ctx, channelID)
	if err != nil {
		return false, err
	}
	if ok && now.Sub(last) < p.heartbeatCooldown {
		return false, nil
	}
	if err := p.publisher.PublishNotice(ctx, channelID, HeartbeatText); err != nil {
		metrics.BotSendErrors.Inc()
		return false, err
	}
	return true, p.heartbeats.SaveHeartbeat(ctx, channelID, now)
}
