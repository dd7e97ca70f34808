package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockbot/internal/domain"
)

func TestGetJSONDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "secret" {
			t.Errorf("заголовок не передан")
		}
		_, _ = w.Write([]byte(`{"c": 12.5}`))
	}))
	defer srv.Close()

	c := New("finnhub", time.Second)
	var out struct {
		C float64 `json:"c"`
	}
	header := http.Header{}
	header.Set("X-Token", "secret")
	if err := c.GetJSON(context.Background(), "quote", srv.URL, header, &out); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if out.C != 12.5 {
		t.Fatalf("c = %v", out.C)
	}
}

func TestGetJSONRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := New("finnhub", time.Second).GetJSON(context.Background(), "news", srv.URL, nil, &struct{}{})
	var rl *domain.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("ожидали RateLimitError, получили %v", err)
	}
	if rl.RetryAfter != 30*time.Second {
		t.Fatalf("RetryAfter = %s", rl.RetryAfter)
	}
}

func TestGetJSONResetHeader(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Rate-Limit-Reset", "1704067320")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New("twitter", time.Second)
	c.now = func() time.Time { return now }
	err := c.GetJSON(context.Background(), "search", srv.URL, nil, &struct{}{})
	var rl *domain.RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter != 2*time.Minute {
		t.Fatalf("ожидали паузу 2m, получили %v", err)
	}
}

func TestGetJSONUpstreamErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad-json" {
			_, _ = w.Write([]byte("{"))
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("marketaux", time.Second)
	err := c.GetJSON(context.Background(), "news", srv.URL+"/fail", nil, &struct{}{})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("ожидали ErrUpstreamUnavailable, получили %v", err)
	}
	var up *domain.UpstreamError
	if !errors.As(err, &up) || up.Status != http.StatusInternalServerError {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	err = c.GetJSON(context.Background(), "news", srv.URL+"/bad-json", nil, &struct{}{})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("ошибка декодирования должна быть upstream: %v", err)
	}
}
