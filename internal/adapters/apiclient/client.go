package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"stockbot/internal/domain"
	"stockbot/internal/infra/metrics"
	"stockbot/internal/infra/trace"
)

const defaultTimeout = 15 * time.Second

// Client выполняет GET-запросы к REST API поставщика и классифицирует ошибки.
type Client struct {
	http   *http.Client
	source string
	now    func() time.Time
}

// New создаёт клиента. timeout <= 0 означает значение по умолчанию.
func New(source string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{http: &http.Client{Timeout: timeout}, source: source, now: time.Now}
}

// Source возвращает имя поставщика.
func (c *Client) Source() string { return c.source }

// GetJSON выполняет запрос и декодирует тело в out.
// 429 и 402 превращаются в *domain.RateLimitError, прочие сбои в *domain.UpstreamError.
func (c *Client) GetJSON(ctx context.Context, operation, endpoint string, header http.Header, out any) (err error) {
	ctx, span := trace.StartSpan(ctx, c.source+"."+operation, attribute.String("provider", c.source))
	defer func() { trace.End(span, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &domain.UpstreamError{Source: c.source, Err: fmt.Errorf("build request: %w", err)}
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest(c.source, operation, c.source, start, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			// адрес может содержать ключ в query
			err = urlErr.Err
		}
		return &domain.UpstreamError{Source: c.source, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusPaymentRequired {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		rlErr := &domain.RateLimitError{Source: c.source, RetryAfter: c.retryAfter(resp.Header)}
		metrics.ObserveNetworkRequest(c.source, operation, c.source, start, rlErr)
		return rlErr
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		upErr := &domain.UpstreamError{Source: c.source, Status: resp.StatusCode}
		if msg := strings.TrimSpace(string(data)); msg != "" {
			upErr.Err = errors.New(msg)
		}
		metrics.ObserveNetworkRequest(c.source, operation, c.source, start, upErr)
		return upErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		decodeErr := &domain.UpstreamError{Source: c.source, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		metrics.ObserveNetworkRequest(c.source, operation, c.source, start, decodeErr)
		return decodeErr
	}
	metrics.ObserveNetworkRequest(c.source, operation, c.source, start, nil)
	return nil
}

// retryAfter читает Retry-After (секунды или HTTP-дата) либо x-rate-limit-reset (unix-время).
func (c *Client) retryAfter(h http.Header) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := at.Sub(c.now()); d > 0 {
				return d
			}
		}
	}
	if v := strings.TrimSpace(h.Get("X-Rate-Limit-Reset")); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(c.now()); d > 0 {
				return d
			}
		}
	}
	return 0
}
