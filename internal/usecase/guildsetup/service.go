package guildsetup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"stockbot/internal/domain"
)

const (
	EarningsChannel = "earnings-calendar-dashboard"
	CommandsChannel = "bot-descriptions-commands"
)

// Guilds управляет служебными каналами сервера.
type Guilds interface {
	// EnsureReadOnlyChannel создаёт канал или обновляет права: чтение для всех, запись для админов.
	EnsureReadOnlyChannel(ctx context.Context, guildID, name string) (string, error)
	// EditHelpMessage обновляет справку; удалённое сообщение, ErrNotFound.
	EditHelpMessage(ctx context.Context, channelID, messageID string) error
	PostHelpMessage(ctx context.Context, channelID string) (string, error)
}

// Service готовит сервер к работе бота.
type Service struct {
	guilds      Guilds
	help        domain.HelpMessageRepo
	newsChannel string
	logger      zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService создаёт сервис настройки серверов.
func NewService(guilds Guilds, help domain.HelpMessageRepo, newsChannel string, logger zerolog.Logger) *Service {
	if newsChannel == "" {
		newsChannel = "news"
	}
	return &Service{guilds: guilds, help: help, newsChannel: newsChannel, logger: logger, locks: make(map[string]*sync.Mutex)}
}

// Channels возвращает имена служебных каналов.
func (s *Service) Channels() []string {
	return []string{s.newsChannel, EarningsChannel, CommandsChannel}
}

func (s *Service) lock(guildID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[guildID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[guildID] = l
	}
	return l
}

// Setup создаёт служебные каналы и публикует справку. Сбой одного канала не мешает остальным.
func (s *Service) Setup(ctx context.Context, guildID string) error {
	l := s.lock(guildID)
	l.Lock()
	defer l.Unlock()

	logger := s.logger.With().Str("guild", guildID).Logger()
	var (
		commandsID string
		errs       []error
	)
	for _, name := range s.Channels() {
		id, err := s.guilds.EnsureReadOnlyChannel(ctx, guildID, name)
		if err != nil {
			logger.Error().Err(err).Str("channel", name).Msg("не удалось подготовить канал")
			errs = append(errs, fmt.Errorf("канал %s: %w", name, err))
			continue
		}
		if name == CommandsChannel {
			commandsID = id
		}
	}
	if commandsID != "" {
		if err := s.publishHelp(ctx, guildID, commandsID); err != nil {
			logger.Error().Err(err).Msg("не удалось опубликовать справку")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) publishHelp(ctx context.Context, guildID, channelID string) error {
	msgID, ok, err := s.help.HelpMessageID(ctx, guildID)
	if err != nil {
		return fmt.Errorf("чтение id справки: %w", err)
	}
	if ok {
		err := s.guilds.EditHelpMessage(ctx, channelID, msgID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("обновление справки: %w", err)
		}
	}
	newID, err := s.guilds.PostHelpMessage(ctx, channelID)
	if err != nil {
		return fmt.Errorf("публикация справки: %w", err)
	}
	if err := s.help.SaveHelpMessageID(ctx, guildID, newID); err != nil {
		return fmt.Errorf("сохранение id справки: %w", err)
	}
	return nil
}
