package janitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stockbot/internal/domain"
)

// DefaultMaxAge: возраст, после которого сообщения удаляются.
const DefaultMaxAge = 48 * time.Hour

// Channels даёт доступ к публичным каналам всех серверов.
type Channels interface {
	PublicTextChannels(ctx context.Context) ([]string, error)
	DeleteMessagesBefore(ctx context.Context, channelID string, cutoff time.Time) (int, error)
}

// Service чистит старые сообщения в публичных каналах.
type Service struct {
	channels Channels
	privates domain.PrivateChannelRepo
	clock    domain.Clock
	maxAge   time.Duration
	logger   zerolog.Logger
}

// NewService создаёт уборщика.
func NewService(channels Channels, privates domain.PrivateChannelRepo, clock domain.Clock, maxAge time.Duration, logger zerolog.Logger) *Service {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Service{channels: channels, privates: privates, clock: clock, maxAge: maxAge, logger: logger}
}

// Run удаляет сообщения старше maxAge. Приватные каналы пропускаются.
func (s *Service) Run(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.maxAge)
	ids, err := s.channels.PublicTextChannels(ctx)
	if err != nil {
		return fmt.Errorf("список каналов: %w", err)
	}
	total := 0
	for _, id := range ids {
		if _, err := s.privates.GetPrivateChannelByID(ctx, id); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn().Err(err).Str("channel", id).Msg("не удалось проверить канал")
			continue
		}
		n, err := s.channels.DeleteMessagesBefore(ctx, id, cutoff)
		total += n
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Str("channel", id).Msg("не удалось очистить канал")
		}
	}
	if total > 0 {
		s.logger.Info().Int("deleted", total).Time("cutoff", cutoff).Msg("старые сообщения удалены")
	}
	return nil
}
