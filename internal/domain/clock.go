package domain

import "time"

// Clock абстрагирует время для планировщиков и тестов.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock использует реальное время.
type SystemClock struct{}

// Now возвращает текущее время в UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// After ждёт указанный интервал.
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
