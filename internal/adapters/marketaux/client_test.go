package marketaux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockbot/internal/domain"
	"stockbot/internal/infra/clock"
)

func TestFetchNews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/news/all" || q.Get("api_token") != "key" || q.Get("language") != "en" || q.Get("limit") != "50" {
			t.Errorf("неожиданный запрос %s", r.URL)
		}
		_, _ = w.Write([]byte(`{"data": [
			{"uuid": "u-1", "title": "Oil rallies", "description": "Brent up", "url": "https://m/1", "language": "en", "published_at": "2024-03-10T11:00:00.000000Z", "source": "cnbc.com"},
			{"uuid": "u-2", "title": "Alt", "url": "https://m/2", "language": "de", "published_at": "2024-03-10T11:00:00.000000Z"},
			{"uuid": "u-3", "title": "Stale", "url": "https://m/3", "language": "en", "published_at": "2024-03-01T11:00:00.000000Z"},
			{"uuid": "u-4", "title": "Broken", "url": "https://m/4", "language": "en", "published_at": "yesterday"}
		]}`))
	}))
	defer srv.Close()

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	c := New(srv.URL, []string{"key"}, clock.NewFake(now), 48*time.Hour)
	items, err := c.FetchNews(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("ожидали 1 новость, получили %d", len(items))
	}
	got := items[0]
	if got.ExternalID != "u-1" || got.Summary != "Brent up" || got.Key() != "marketaux:u-1" {
		t.Fatalf("неожиданная новость: %+v", got)
	}
}

func TestFetchNewsUsageLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error": {"code": "usage_limit_reached"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, []string{"key"}, clock.NewFake(time.Now()), 48*time.Hour)
	if _, err := c.FetchNews(context.Background()); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("ожидали ErrRateLimited, получили %v", err)
	}
}
