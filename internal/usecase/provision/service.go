package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"stockbot/internal/domain"
)

// Service создаёт и удаляет приватные каналы пользователей.
type Service struct {
	channels   domain.PrivateChannelRepo
	manager    domain.ChannelManager
	watchlists domain.WatchlistRepo
	portfolios domain.PortfolioRepo
	logger     zerolog.Logger
}

// NewService создаёт сервис провижининга.
func NewService(channels domain.PrivateChannelRepo, manager domain.ChannelManager, watchlists domain.WatchlistRepo, portfolios domain.PortfolioRepo, logger zerolog.Logger) *Service {
	return &Service{
		channels:   channels,
		manager:    manager,
		watchlists: watchlists,
		portfolios: portfolios,
		logger:     logger,
	}
}

// ChannelName возвращает имя приватного канала вида private_<kind>-<username>.
func ChannelName(kind domain.ChannelKind, username string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(username)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteByte('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "user"
	}
	return "private_" + string(kind) + "-" + name
}

// CreatePrivate создаёт канал kind для владельца и возвращает его id.
func (s *Service) CreatePrivate(ctx context.Context, owner domain.Owner, kind domain.ChannelKind, username string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("channel kind %q: %w", kind, domain.ErrInvalidInput)
	}
	existing, err := s.channels.GetPrivateChannel(ctx, owner, kind)
	switch {
	case err == nil:
		return existing.ChannelID, fmt.Errorf("%s channel <#%s>: %w", kind, existing.ChannelID, domain.ErrAlreadyExists)
	case !errors.Is(err, domain.ErrNotFound):
		return "", fmt.Errorf("поиск канала: %w", err)
	}

	channelID, err := s.manager.CreatePrivateTextChannel(ctx, owner.GuildID, ChannelName(kind, username), owner.UserID)
	if err != nil {
		return "", fmt.Errorf("создание канала: %w", err)
	}
	err = s.channels.CreatePrivateChannel(ctx, domain.PrivateChannel{Owner: owner, ChannelID: channelID, Kind: kind})
	if err != nil {
		// параллельный вызов успел первым: созданный канал лишний
		if delErr := s.manager.DeleteChannel(ctx, channelID); delErr != nil && !errors.Is(delErr, domain.ErrNotFound) {
			s.logger.Warn().Err(delErr).Str("channel", channelID).Msg("не удалось удалить лишний канал")
		}
		return "", fmt.Errorf("сохранение канала: %w", err)
	}
	s.logger.Info().Str("owner", owner.String()).Str("kind", string(kind)).Str("channel", channelID).Msg("создан приватный канал")
	return channelID, nil
}

// DeletePrivate удаляет канал kind, его привязку и все записи этого типа.
func (s *Service) DeletePrivate(ctx context.Context, owner domain.Owner, kind domain.ChannelKind) error {
	if !kind.Valid() {
		return fmt.Errorf("channel kind %q: %w", kind, domain.ErrInvalidInput)
	}
	ch, err := s.channels.GetPrivateChannel(ctx, owner, kind)
	if err != nil {
		return fmt.Errorf("поиск канала: %w", err)
	}
	if err := s.manager.DeleteChannel(ctx, ch.ChannelID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("удаление канала: %w", err)
	}
	return s.forget(ctx, ch)
}

// HandleChannelDeleted чистит данные, если привязанный канал удалили вручную.
func (s *Service) HandleChannelDeleted(ctx context.Context, channelID string) error {
	ch, err := s.channels.GetPrivateChannelByID(ctx, channelID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("поиск канала: %w", err)
	}
	return s.forget(ctx, ch)
}

// IsPrivateChannel сообщает, является ли channelID приватным каналом владельца.
func (s *Service) IsPrivateChannel(ctx context.Context, owner domain.Owner, channelID string) bool {
	if channelID == "" {
		return false
	}
	ch, err := s.channels.GetPrivateChannelByID(ctx, channelID)
	if err != nil {
		return false
	}
	return ch.Owner == owner
}

// forget удаляет записи владельца, затем привязку канала.
func (s *Service) forget(ctx context.Context, ch domain.PrivateChannel) error {
	var (
		removed int
		err     error
	)
	switch ch.Kind {
	case domain.ChannelKindWatchlist:
		removed, err = s.watchlists.DeleteWatchlist(ctx, ch.Owner)
	case domain.ChannelKindPortfolio:
		removed, err = s.portfolios.DeletePositions(ctx, ch.Owner)
	}
	if err != nil {
		return fmt.Errorf("удаление записей: %w", err)
	}
	if err := s.channels.DeletePrivateChannel(ctx, ch.Owner, ch.Kind); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("удаление привязки: %w", err)
	}
	s.logger.Info().Str("owner", ch.Owner.String()).Str("kind", string(ch.Kind)).Int("removed", removed).Msg("приватный канал удалён")
	return nil
}
