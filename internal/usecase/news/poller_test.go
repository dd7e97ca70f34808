package news

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stockbot/internal/adapters/repo"
	"stockbot/internal/domain"
	"stockbot/internal/infra/cache"
	"stockbot/internal/infra/clock"
)

type stubFetcher struct {
	source domain.NewsSource
	mu     sync.Mutex
	items  []domain.NewsItem
	err    error
	calls  int
}

func (s *stubFetcher) Source() domain.NewsSource { return s.source }

func (s *stubFetcher) FetchNews(context.Context) ([]domain.NewsItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.NewsItem(nil), s.items...), nil
}

func (s *stubFetcher) set(items []domain.NewsItem, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items, s.err = items, err
}

func (s *stubFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type published struct {
	channel string
	key     string
	notice  string
}

type stubPublisher struct {
	mu       sync.Mutex
	channels []string
	sent     []published
	newsErr  error
}

func (s *stubPublisher) NewsChannels(context.Context) ([]string, error) { return s.channels, nil }

func (s *stubPublisher) PublishNews(_ context.Context, channelID string, item domain.NewsItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.newsErr != nil {
		return s.newsErr
	}
	s.sent = append(s.sent, published{channel: channelID, key: item.Key()})
	return nil
}

func (s *stubPublisher) PublishNotice(_ context.Context, channelID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, published{channel: channelID, notice: text})
	return nil
}

func (s *stubPublisher) failNews(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newsErr = err
}

func (s *stubPublisher) news() []published {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []published
	for _, p := range s.sent {
		if p.key != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *stubPublisher) notices() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.sent {
		if p.notice != "" {
			n++
		}
	}
	return n
}

type stubMirror struct {
	keys []string
}

func (m *stubMirror) Name() string { return "stub" }

func (m *stubMirror) MirrorNews(_ context.Context, item domain.NewsItem) error {
	m.keys = append(m.keys, item.Key())
	return errors.New("mirror down")
}

var start = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func item(source domain.NewsSource, id string, age time.Duration) domain.NewsItem {
	return domain.NewsItem{
		Source:      source,
		ExternalID:  id,
		Headline:    "headline " + id,
		URL:         "https://news/" + string(source) + "/" + id,
		PublishedAt: start.Add(-age),
	}
}

type fixture struct {
	clock     *clock.Fake
	publisher *stubPublisher
	finnhub   *stubFetcher
	marketaux *stubFetcher
	mirror    *stubMirror
	poller    *Poller
}

func newFixture() *fixture {
	f := &fixture{
		clock:     clock.NewFake(start),
		publisher: &stubPublisher{channels: []string{"news-1", "news-2"}},
		finnhub:   &stubFetcher{source: domain.SourceFinnhub},
		marketaux: &stubFetcher{source: domain.SourceMarketaux},
		mirror:    &stubMirror{},
	}
	f.poller = NewPoller(
		[]Source{
			{Fetcher: f.finnhub, Interval: 2 * time.Minute},
			{Fetcher: f.marketaux, Interval: 8 * time.Minute},
		},
		cache.NewMemorySeen(f.clock, 500, 48*time.Hour),
		f.publisher,
		repo.NewMemory(f.clock),
		f.clock,
		zerolog.Nop(),
		Options{Tick: 30 * time.Second, HeartbeatCooldown: 15 * time.Minute, Mirrors: []domain.NewsMirror{f.mirror}},
	)
	return f
}

func TestPollOncePublishesOldestFirstToEveryChannel(t *testing.T) {
	f := newFixture()
	f.finnhub.set([]domain.NewsItem{item(domain.SourceFinnhub, "new", time.Minute), item(domain.SourceFinnhub, "old", time.Hour)}, nil)

	report, err := f.poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.New != 2 || report.Published != 4 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	got := f.publisher.news()
	if got[0].key != "finnhub:old" || got[0].channel != "news-1" || got[1].channel != "news-2" || got[2].key != "finnhub:new" {
		t.Fatalf("неожиданный порядок: %+v", got)
	}
	if len(f.mirror.keys) != 2 {
		t.Fatalf("ошибка зеркала не должна мешать публикации: %v", f.mirror.keys)
	}
}

func TestPollOnceNeverRepublishes(t *testing.T) {
	f := newFixture()
	items := []domain.NewsItem{item(domain.SourceFinnhub, "1", time.Minute)}
	f.finnhub.set(items, nil)
	f.marketaux.set([]domain.NewsItem{{Source: domain.SourceMarketaux, ExternalID: "m", Headline: "dup", URL: items[0].URL, PublishedAt: start}}, nil)

	if _, err := f.poller.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(f.publisher.news()); n != 2 {
		t.Fatalf("дубликат по URL должен отбрасываться, опубликовано %d", n)
	}

	f.clock.Advance(2 * time.Minute)
	report, err := f.poller.PollOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Fetched != 1 || report.New != 0 {
		t.Fatalf("уже виденная новость не должна публиковаться: %+v", report)
	}
	if n := len(f.publisher.news()); n != 2 {
		t.Fatalf("повторная публикация: %d", n)
	}
}

func TestRateLimitedSourceIsIsolatedAndCoolsDown(t *testing.T) {
	f := newFixture()
	f.finnhub.set(nil, &domain.RateLimitError{Source: "finnhub"})
	f.marketaux.set([]domain.NewsItem{item(domain.SourceMarketaux, "m1", time.Minute)}, nil)

	report, err := f.poller.PollOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(report.Failed[domain.SourceFinnhub], domain.ErrRateLimited) {
		t.Fatalf("ожидали ограничение finnhub: %+v", report.Failed)
	}
	if report.Published != 2 {
		t.Fatalf("marketaux должен опубликоваться: %+v", report)
	}
	if got := f.poller.CooldownUntil(domain.SourceFinnhub); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("первая пауза должна быть 1m, получили %s", got.Sub(start))
	}

	f.clock.Advance(30 * time.Second)
	_, _ = f.poller.PollOnce(context.Background())
	if f.finnhub.callCount() != 1 {
		t.Fatal("во время паузы источник не опрашивается")
	}

	f.clock.Advance(30 * time.Second)
	_, _ = f.poller.PollOnce(context.Background())
	if f.finnhub.callCount() != 2 {
		t.Fatal("после паузы источник опрашивается снова")
	}
	if got := f.poller.CooldownUntil(domain.SourceFinnhub); !got.Equal(start.Add(3 * time.Minute)) {
		t.Fatalf("вторая пауза должна удвоиться, окончание %s", got.Sub(start))
	}

	f.clock.Advance(2 * time.Minute)
	f.finnhub.set([]domain.NewsItem{item(domain.SourceFinnhub, "f1", 0)}, nil)
	report, _ = f.poller.PollOnce(context.Background())
	if report.Failed[domain.SourceFinnhub] != nil || report.New != 1 {
		t.Fatalf("после восстановления ожидали новость: %+v", report)
	}
	if !f.poller.CooldownUntil(domain.SourceFinnhub).IsZero() {
		t.Fatal("успех сбрасывает паузу")
	}
}

func TestRetryAfterWinsOverBackoff(t *testing.T) {
	f := newFixture()
	f.finnhub.set(nil, &domain.RateLimitError{Source: "finnhub", RetryAfter: 10 * time.Minute})
	_, _ = f.poller.PollOnce(context.Background())
	if got := f.poller.CooldownUntil(domain.SourceFinnhub); !got.Equal(start.Add(10 * time.Minute)) {
		t.Fatalf("ожидали паузу Retry-After, получили %s", got.Sub(start))
	}
}

func TestUpstreamErrorRetriedNextDueCycle(t *testing.T) {
	f := newFixture()
	f.finnhub.set(nil, &domain.UpstreamError{Source: "finnhub", Status: 500})
	_, _ = f.poller.PollOnce(context.Background())
	if !f.poller.CooldownUntil(domain.SourceFinnhub).IsZero() {
		t.Fatal("сетевая ошибка не вызывает паузу")
	}
	f.clock.Advance(time.Minute)
	_, _ = f.poller.PollOnce(context.Background())
	if f.finnhub.callCount() != 1 {
		t.Fatal("до интервала источник не опрашивается")
	}
	f.clock.Advance(time.Minute)
	_, _ = f.poller.PollOnce(context.Background())
	if f.finnhub.callCount() != 2 {
		t.Fatal("источник опрашивается на следующем цикле")
	}
}

func TestHeartbeatCooldown(t *testing.T) {
	f := newFixture()
	if _, err := f.poller.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := f.publisher.notices(); n != 2 {
		t.Fatalf("ожидали heartbeat в оба канала, получили %d", n)
	}
	if text := f.publisher.sent[0].notice; !strings.Contains(text, "No new news") || !strings.Contains(text, "StockBot can miss news") {
		t.Fatalf("heartbeat без предупреждения: %q", text)
	}
	f.clock.Advance(8 * time.Minute)
	_, _ = f.poller.PollOnce(context.Background())
	if n := f.publisher.notices(); n != 2 {
		t.Fatalf("heartbeat не чаще раза в 15 минут, получили %d", n)
	}
	f.clock.Advance(8 * time.Minute)
	_, _ = f.poller.PollOnce(context.Background())
	if n := f.publisher.notices(); n != 4 {
		t.Fatalf("после 15 минут heartbeat повторяется, получили %d", n)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.poller.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.clock.Waiters() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("поллер не дошёл до ожидания")
		}
		time.Sleep(time.Millisecond)
	}
	f.clock.Advance(30 * time.Second)
	for f.finnhub.callCount() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("первый цикл не выполнен")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("ожидали context.Canceled, получили %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run не завершился после отмены")
	}
}

func TestPollOnceKeepsItemsWhenNoChannels(t *testing.T) {
	f := newFixture()
	f.publisher.channels = nil
	f.finnhub.set([]domain.NewsItem{item(domain.SourceFinnhub, "a", time.Minute)}, nil)

	report, err := f.poller.PollOnce(context.Background())
	if err != nil || report.Fetched != 1 || report.New != 0 {
		t.Fatalf("неожиданный отчёт: %+v %v", report, err)
	}

	f.publisher.channels = []string{"news-1"}
	f.clock.Advance(2 * time.Minute)
	report, err = f.poller.PollOnce(context.Background())
	if err != nil || report.New != 1 || report.Published != 1 {
		t.Fatalf("новость должна выйти, когда появился канал: %+v %v", report, err)
	}
}

func TestPollOnceRetriesUndeliveredNews(t *testing.T) {
	f := newFixture()
	f.finnhub.set([]domain.NewsItem{item(domain.SourceFinnhub, "a", time.Minute)}, nil)
	f.publisher.failNews(errors.New("discord 502"))

	report, err := f.poller.PollOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.New != 1 || report.Published != 0 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	if n := f.publisher.notices(); n != 0 {
		t.Fatalf("heartbeat при недоставленной новости: %d", n)
	}
	if len(f.mirror.keys) != 0 {
		t.Fatalf("недоставленная новость не зеркалируется: %v", f.mirror.keys)
	}

	f.publisher.failNews(nil)
	f.clock.Advance(2 * time.Minute)
	report, err = f.poller.PollOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.New != 1 || report.Published != 2 {
		t.Fatalf("новость должна выйти повторно: %+v", report)
	}

	f.clock.Advance(2 * time.Minute)
	report, _ = f.poller.PollOnce(context.Background())
	if report.New != 0 || len(f.publisher.news()) != 2 {
		t.Fatalf("после доставки новость запоминается: %+v", report)
	}
}

func TestPollOnceRemembersDeliveredNews(t *testing.T) {
	f := newFixture()
	f.publisher.channels = []string{"news-1"}
	f.finnhub.set([]domain.NewsItem{item(domain.SourceFinnhub, "a", time.Minute)}, nil)
	if _, err := f.poller.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.publisher.channels = []string{"news-1", "news-2"}
	f.clock.Advance(2 * time.Minute)
	report, _ := f.poller.PollOnce(context.Background())
	if report.New != 0 || report.Published != 0 {
		t.Fatalf("доставленная новость не повторяется: %+v", report)
	}
}
