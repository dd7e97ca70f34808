package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"stockbot/internal/adapters/textsplit"
	"stockbot/internal/domain"
	"stockbot/internal/infra/metrics"
	"stockbot/internal/usecase/guildsetup"
	"stockbot/internal/usecase/provision"
)

// commandTimeout ограничивает обработку одной команды.
const commandTimeout = 30 * time.Second

// NewSession создаёт сессию бота с нужными intents.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	return s, nil
}

// Bot связывает события шлюза Discord с обработчиками.
type Bot struct {
	session    *discordgo.Session
	handler    *Handler
	setup      *guildsetup.Service
	provision  *provision.Service
	appID      string
	devGuildID string
	log        zerolog.Logger

	mu        sync.Mutex
	pending   map[string]struct{}
	loaded    map[string]struct{}
	ready     chan struct{}
	readyOnce sync.Once
}

// NewBot создаёт бота. devGuildID регистрирует команды только на одном сервере.
func NewBot(session *discordgo.Session, handler *Handler, setup *guildsetup.Service, provisionUC *provision.Service, appID, devGuildID string, log zerolog.Logger) *Bot {
	return &Bot{
		session:    session,
		handler:    handler,
		setup:      setup,
		provision:  provisionUC,
		appID:      appID,
		devGuildID: devGuildID,
		log:        log,
		loaded:     make(map[string]struct{}),
		ready:      make(chan struct{}),
	}
}

// Ready закрывается, когда получены данные всех серверов из события Ready.
func (b *Bot) Ready() <-chan struct{} {
	return b.ready
}

func (b *Bot) markPending(guilds []*discordgo.Guild) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = make(map[string]struct{}, len(guilds))
	for _, g := range guilds {
		if _, ok := b.loaded[g.ID]; !ok {
			b.pending[g.ID] = struct{}{}
		}
	}
	if len(b.pending) == 0 {
		b.readyOnce.Do(func() { close(b.ready) })
	}
}

func (b *Bot) markLoaded(guildID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loaded[guildID] = struct{}{}
	if b.pending == nil {
		return
	}
	delete(b.pending, guildID)
	if len(b.pending) == 0 {
		b.readyOnce.Do(func() { close(b.ready) })
	}
}

// Run открывает соединение, регистрирует команды и ждёт отмены ctx.
func (b *Bot) Run(ctx context.Context) error {
	b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("бот подключён к Discord")
		b.markPending(r.Guilds)
	})
	b.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		defer b.markLoaded(g.ID)
		if err := b.setup.Setup(ctx, g.ID); err != nil {
			b.log.Error().Err(err).Str("guild", g.ID).Msg("настройка сервера завершилась с ошибками")
		}
	})
	b.session.AddHandler(func(_ *discordgo.Session, c *discordgo.ChannelDelete) {
		if err := b.provision.HandleChannelDeleted(ctx, c.ID); err != nil {
			b.log.Error().Err(err).Str("channel", c.ID).Msg("не удалось очистить данные удалённого канала")
		}
	})
	b.session.AddHandler(func(s *discordgo.Session, ic *discordgo.InteractionCreate) {
		b.onInteraction(ctx, s, ic.Interaction)
	})

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("подключение к Discord: %w", err)
	}
	defer b.session.Close()

	if err := b.registerCommands(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	b.log.Info().Msg("бот останавливается")
	return nil
}

func (b *Bot) registerCommands(ctx context.Context) error {
	appID := b.appID
	if appID == "" && b.session.State != nil && b.session.State.User != nil {
		appID = b.session.State.User.ID
	}
	start := time.Now()
	cmds, err := b.session.ApplicationCommandBulkOverwrite(appID, b.devGuildID, Commands(), discordgo.WithContext(ctx))
	observe("register_commands", appID, start, err)
	if err != nil {
		return fmt.Errorf("регистрация команд: %w", err)
	}
	b.log.Info().Int("commands", len(cmds)).Str("guild", b.devGuildID).Msg("slash-команды зарегистрированы")
	return nil
}

// invocationFrom извлекает команду или нажатие кнопки из взаимодействия.
func invocationFrom(i *discordgo.Interaction) (Invocation, bool) {
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return Invocation{}, false
	}
	inv := Invocation{
		Owner:     domain.Owner{GuildID: i.GuildID, UserID: user.ID},
		Username:  user.Username,
		ChannelID: i.ChannelID,
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		inv.Command = data.Name
		inv.Options = make(map[string]any, len(data.Options))
		for _, opt := range data.Options {
			inv.Options[opt.Name] = opt.Value
		}
	case discordgo.InteractionMessageComponent:
		inv.Command = i.MessageComponentData().CustomID
		inv.Button = true
	default:
		return Invocation{}, false
	}
	return inv, true
}

func (b *Bot) onInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.Interaction) {
	inv, ok := invocationFrom(i)
	if !ok {
		return
	}
	var flags discordgo.MessageFlags
	if b.handler.Ephemeral(ctx, inv) {
		flags = discordgo.MessageFlagsEphemeral
	}

	start := time.Now()
	err := s.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	}, discordgo.WithContext(ctx))
	observe("interaction_defer", i.ChannelID, start, err)
	if err != nil {
		b.log.Error().Err(err).Str("command", inv.Command).Msg("не удалось подтвердить команду")
		return
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	reply := b.handler.Handle(cmdCtx, inv)
	b.deliver(ctx, s, i, reply, flags)
}

// deliver заменяет отложенный ответ первой частью, остальное шлёт follow-up сообщениями.
func (b *Bot) deliver(ctx context.Context, s *discordgo.Session, i *discordgo.Interaction, reply Reply, flags discordgo.MessageFlags) {
	parts := textsplit.Split(reply.Content, textsplit.DiscordLimit)
	first := ""
	if len(parts) > 0 {
		first, parts = parts[0], parts[1:]
	}
	edit := &discordgo.WebhookEdit{Content: &first}
	if len(reply.Embeds) > 0 {
		edit.Embeds = &reply.Embeds
	}
	if len(reply.Components) > 0 {
		edit.Components = &reply.Components
	}

	start := time.Now()
	_, err := s.InteractionResponseEdit(i, edit, discordgo.WithContext(ctx))
	observe("interaction_edit", i.ChannelID, start, err)
	if err != nil {
		metrics.BotSendErrors.Inc()
		b.log.Error().Err(err).Msg("не удалось отправить ответ на команду")
		return
	}
	for _, part := range parts {
		start := time.Now()
		_, err := s.FollowupMessageCreate(i, false, &discordgo.WebhookParams{Content: part, Flags: flags}, discordgo.WithContext(ctx))
		observe("interaction_followup", i.ChannelID, start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			b.log.Error().Err(err).Msg("не удалось отправить продолжение ответа")
			return
		}
	}
}
