package twitter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stockbot/internal/domain"
	"stockbot/internal/infra/clock"
)

func TestQuery(t *testing.T) {
	c := New("", "t", []string{"@DeItaone", " ", "zerohedge"}, clock.NewFake(time.Now()), 0)
	if got := c.Query(); got != "from:DeItaone OR from:zerohedge" {
		t.Fatalf("Query = %q", got)
	}
}

func TestFetchNews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("нет bearer токена")
		}
		if r.URL.Path != "/tweets/search/recent" || r.URL.Query().Get("query") != "from:DeItaone" {
			t.Errorf("неожиданный запрос %s", r.URL)
		}
		_, _ = w.Write([]byte(`{
			"data": [
				{"id": "111", "text": "FED HOLDS RATES\nmore", "author_id": "9", "created_at": "2024-03-10T11:30:00.000Z"},
				{"id": "112", "text": "old", "author_id": "9", "created_at": "2024-03-01T11:30:00.000Z"}
			],
			"includes": {"users": [{"id": "9", "username": "DeItaone", "name": "Walter Bloomberg"}]}
		}`))
	}))
	defer srv.Close()

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	c := New(srv.URL, "token", []string{"DeItaone"}, clock.NewFake(now), 48*time.Hour)
	items, err := c.FetchNews(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("ожидали 1 твит, получили %d", len(items))
	}
	got := items[0]
	if got.Headline != "FED HOLDS RATES" || got.URL != "https://x.com/DeItaone/status/111" || got.ExternalID != "111" {
		t.Fatalf("неожиданный твит: %+v", got)
	}
}

func TestFetchNewsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "900")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "token", []string{"a"}, clock.NewFake(time.Now()), 0)
	_, err := c.FetchNews(context.Background())
	var rl *domain.RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter != 15*time.Minute {
		t.Fatalf("ожидали паузу 15m, получили %v", err)
	}
}

func TestFetchNewsNoAccounts(t *testing.T) {
	c := New("http://127.0.0.1:1", "token", nil, clock.NewFake(time.Now()), 0)
	items, err := c.FetchNews(context.Background())
	if err != nil || len(items) != 0 {
		t.Fatalf("ожидали пустой результат без запроса: %v %v", items, err)
	}
}

func TestHeadlineTruncates(t *testing.T) {
	long := strings.Repeat("я", 300)
	got := headline(long)
	if n := len([]rune(got)); n != maxHeadlineRune {
		t.Fatalf("длина %d", n)
	}
}
