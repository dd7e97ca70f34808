package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyExists возвращается при повторном создании записи.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotFound возвращается, если запись отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited возвращается, когда поставщик ограничил запросы.
	ErrRateLimited = errors.New("rate limited")
	// ErrUpstreamUnavailable: сетевая или HTTP-ошибка поставщика.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInvalidInput: некорректные аргументы команды.
	ErrInvalidInput = errors.New("invalid input")
	// ErrLimitReached: превышена вместимость списка.
	ErrLimitReached = errors.New("limit reached")
)

// RateLimitError описывает ограничение поставщика с рекомендуемой паузой.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Source, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Source)
}

// Is позволяет сравнивать с ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// UpstreamError описывает сбой запроса к поставщику.
type UpstreamError struct {
	Source string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil && e.Status > 0:
		return fmt.Sprintf("%s: status %d: %v", e.Source, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Source, e.Err)
	default:
		return fmt.Sprintf("%s: unexpected status %d", e.Source, e.Status)
	}
}

// Is позволяет сравнивать с ErrUpstreamUnavailable.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
