package apiclient

import (
	"context"
	"errors"
	"strings"

	"stockbot/internal/domain"
)

var errNoKeys = errors.New("no api keys configured")

// KeyRing перебирает ключи поставщика, переходя к следующему при ошибке.
type KeyRing struct {
	source string
	keys   []string
}

// NewKeyRing создаёт набор ключей, отбрасывая пустые значения.
func NewKeyRing(source string, keys []string) *KeyRing {
	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	return &KeyRing{source: source, keys: cleaned}
}

// Len возвращает количество ключей.
func (r *KeyRing) Len() int { return len(r.keys) }

// Do вызывает fn с каждым ключом по очереди до первого успеха.
// Если все ключи упёрлись в лимит, возвращается RateLimitError с наибольшей паузой.
func (r *KeyRing) Do(ctx context.Context, fn func(ctx context.Context, key string) error) error {
	if len(r.keys) == 0 {
		return &domain.UpstreamError{Source: r.source, Err: errNoKeys}
	}
	var (
		limited *domain.RateLimitError
		lastErr error
	)
	for _, key := range r.keys {
		err := fn(ctx, key)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			if limited == nil || rl.RetryAfter > limited.RetryAfter {
				limited = rl
			}
			continue
		}
		lastErr = err
	}
	if lastErr != nil {
		return lastErr
	}
	return &domain.RateLimitError{Source: r.source, RetryAfter: limited.RetryAfter}
}
