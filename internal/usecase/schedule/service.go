package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stockbot/internal/domain"
)

// Task: периодическая задача.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner запускает задачи с фиксированным интервалом.
type Runner struct {
	clock  domain.Clock
	logger zerolog.Logger
}

// NewRunner создаёт планировщик.
func NewRunner(clock domain.Clock, logger zerolog.Logger) *Runner {
	return &Runner{clock: clock, logger: logger}
}

// Run выполняет задачу сразу и затем каждые Interval до отмены контекста.
func (r *Runner) Run(ctx context.Context, task Task) error {
	if task.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", task.Name)
	}
	logger := r.logger.With().Str("task", task.Name).Logger()
	for {
		if err := r.runOnce(ctx, task); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("задача завершилась ошибкой")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(task.Interval):
		}
	}
}

// RunAll запускает задачи параллельно и ждёт их остановки.
func (r *Runner) RunAll(ctx context.Context, tasks ...Task) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error { return r.Run(ctx, task) })
	}
	return g.Wait()
}

func (r *Runner) runOnce(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	start := r.clock.Now()
	err = task.Run(ctx)
	r.logger.Debug().Str("task", task.Name).Dur("took", r.clock.Now().Sub(start)).Msg("задача выполнена")
	return err
}
