package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"stockbot/internal/adapters/textsplit"
	"stockbot/internal/domain"
	"stockbot/internal/infra/metrics"
	"stockbot/internal/usecase/earnings"
	"stockbot/internal/usecase/guildsetup"
	"stockbot/internal/usecase/janitor"
)

const (
	component = "discord"

	viewAndSend = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages
	readOnly    = discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory

	pageSize = 100
	// maxPurgePages ограничивает число страниц истории за один проход.
	maxPurgePages = 20
	// bulkDeleteAge: Discord не удаляет пачкой сообщения старше 14 дней.
	bulkDeleteAge = 14*24*time.Hour - time.Hour
)

// Gateway выполняет операции с каналами и сообщениями через REST API Discord.
type Gateway struct {
	session        *discordgo.Session
	clock          domain.Clock
	newsChannel    string
	newsChannelIDs []string
	log            zerolog.Logger
}

var (
	_ domain.ChannelManager = (*Gateway)(nil)
	_ domain.NewsPublisher  = (*Gateway)(nil)
	_ earnings.Board        = (*Gateway)(nil)
	_ guildsetup.Guilds     = (*Gateway)(nil)
	_ janitor.Channels      = (*Gateway)(nil)
)

// NewGateway создаёт адаптер поверх открытой сессии.
func NewGateway(session *discordgo.Session, clock domain.Clock, newsChannel string, newsChannelIDs []string, log zerolog.Logger) *Gateway {
	if newsChannel == "" {
		newsChannel = "news"
	}
	return &Gateway{
		session:        session,
		clock:          clock,
		newsChannel:    newsChannel,
		newsChannelIDs: newsChannelIDs,
		log:            log,
	}
}

func observe(operation, target string, start time.Time, err error) {
	metrics.ObserveNetworkRequest(component, operation, target, start, err)
}

// mapRESTError превращает «Unknown Channel/Message» и 404 в domain.ErrNotFound.
func mapRESTError(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		notFound := rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound
		if rest.Message != nil && (rest.Message.Code == discordgo.ErrCodeUnknownChannel || rest.Message.Code == discordgo.ErrCodeUnknownMessage) {
			notFound = true
		}
		if notFound {
			return fmt.Errorf("%s: %w", strings.TrimSpace(err.Error()), domain.ErrNotFound)
		}
	}
	return err
}

func (g *Gateway) botUserID() string {
	if g.session.State != nil && g.session.State.User != nil {
		return g.session.State.User.ID
	}
	return ""
}

// privateOverwrites: канал виден только владельцу и боту.
func privateOverwrites(guildID, ownerID, botID string) []*discordgo.PermissionOverwrite {
	out := []*discordgo.PermissionOverwrite{
		{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
		{ID: ownerID, Type: discordgo.PermissionOverwriteTypeMember, Allow: viewAndSend | discordgo.PermissionReadMessageHistory},
	}
	if botID != "" && botID != ownerID {
		out = append(out, &discordgo.PermissionOverwrite{ID: botID, Type: discordgo.PermissionOverwriteTypeMember, Allow: viewAndSend | discordgo.PermissionReadMessageHistory})
	}
	return out
}

// readOnlyOverwrites: читать могут все, писать только администраторы и бот.
func readOnlyOverwrites(guildID, botID string, roles []*discordgo.Role) []*discordgo.PermissionOverwrite {
	out := []*discordgo.PermissionOverwrite{
		{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Allow: readOnly, Deny: discordgo.PermissionSendMessages},
	}
	for _, role := range roles {
		if role.ID == guildID || role.Permissions&discordgo.PermissionAdministrator == 0 {
			continue
		}
		out = append(out, &discordgo.PermissionOverwrite{ID: role.ID, Type: discordgo.PermissionOverwriteTypeRole, Allow: viewAndSend})
	}
	if botID != "" {
		out = append(out, &discordgo.PermissionOverwrite{ID: botID, Type: discordgo.PermissionOverwriteTypeMember, Allow: viewAndSend | discordgo.PermissionManageMessages})
	}
	return out
}

// isPublic сообщает, что текстовый канал доступен @everyone.
func isPublic(ch *discordgo.Channel) bool {
	if ch == nil || ch.Type != discordgo.ChannelTypeGuildText {
		return false
	}
	for _, o := range ch.PermissionOverwrites {
		if o.ID == ch.GuildID && o.Type == discordgo.PermissionOverwriteTypeRole && o.Deny&discordgo.PermissionViewChannel != 0 {
			return false
		}
	}
	return true
}

// channelsNamed собирает текстовые каналы с именем name из всех серверов и добавляет extra без повторов.
func channelsNamed(guilds []*discordgo.Guild, name string, extra []string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, guild := range guilds {
		for _, ch := range guild.Channels {
			if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == name {
				add(ch.ID)
			}
		}
	}
	for _, id := range extra {
		add(id)
	}
	return out
}

func (g *Gateway) guilds() []*discordgo.Guild {
	if g.session.State == nil {
		return nil
	}
	g.session.State.RLock()
	defer g.session.State.RUnlock()
	return slices.Clone(g.session.State.Guilds)
}

func (g *Gateway) stateChannelsNamed(name string, extra []string) []string {
	if g.session.State == nil {
		return channelsNamed(nil, name, extra)
	}
	g.session.State.RLock()
	defer g.session.State.RUnlock()
	return channelsNamed(g.session.State.Guilds, name, extra)
}

// CreatePrivateTextChannel создаёт канал, видимый только владельцу и боту.
func (g *Gateway) CreatePrivateTextChannel(ctx context.Context, guildID, name, ownerUserID string) (string, error) {
	start := time.Now()
	ch, err := g.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		PermissionOverwrites: privateOverwrites(guildID, ownerUserID, g.botUserID()),
	}, discordgo.WithContext(ctx))
	observe("channel_create", guildID, start, err)
	if err != nil {
		return "", fmt.Errorf("создание канала %s: %w", name, err)
	}
	return ch.ID, nil
}

// DeleteChannel удаляет канал; отсутствующий канал, ErrNotFound.
func (g *Gateway) DeleteChannel(ctx context.Context, channelID string) error {
	start := time.Now()
	_, err := g.session.ChannelDelete(channelID, discordgo.WithContext(ctx))
	observe("channel_delete", channelID, start, err)
	if err != nil {
		return fmt.Errorf("удаление канала %s: %w", channelID, mapRESTError(err))
	}
	return nil
}

// NewsChannels возвращает каналы news всех серверов и NEWS_CHANNEL_IDS.
func (g *Gateway) NewsChannels(context.Context) ([]string, error) {
	return g.stateChannelsNamed(g.newsChannel, g.newsChannelIDs), nil
}

// PublishNews отправляет новость embed-сообщением.
func (g *Gateway) PublishNews(ctx context.Context, channelID string, item domain.NewsItem) error {
	start := time.Now()
	_, err := g.session.ChannelMessageSendEmbed(channelID, NewsEmbed(item), discordgo.WithContext(ctx))
	observe("send_news", channelID, start, err)
	if err != nil {
		metrics.BotSendErrors.Inc()
		return fmt.Errorf("отправка новости: %w", err)
	}
	return nil
}

// PublishNotice отправляет текст, разбивая его по лимиту Discord.
func (g *Gateway) PublishNotice(ctx context.Context, channelID, text string) error {
	for _, part := range textsplit.Split(text, textsplit.DiscordLimit) {
		start := time.Now()
		_, err := g.session.ChannelMessageSend(channelID, part, discordgo.WithContext(ctx))
		observe("send_message", channelID, start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			return fmt.Errorf("отправка сообщения: %w", err)
		}
	}
	return nil
}

// EarningsChannels возвращает каналы календаря отчётностей.
func (g *Gateway) EarningsChannels(context.Context) ([]string, error) {
	return g.stateChannelsNamed(guildsetup.EarningsChannel, nil), nil
}

// PublishCalendar очищает канал и публикует сводку и отдельный embed на каждый день.
func (g *Gateway) PublishCalendar(ctx context.Context, channelID string, cal earnings.Calendar) error {
	if _, err := g.DeleteMessagesBefore(ctx, channelID, g.clock.Now().Add(time.Minute)); err != nil {
		g.log.Warn().Err(err).Str("channel", channelID).Msg("не удалось очистить канал календаря")
	}
	embeds := make([]*discordgo.MessageEmbed, 0, len(cal.Days)+1)
	embeds = append(embeds, EarningsSummaryEmbed(cal))
	for _, day := range cal.Days {
		embeds = append(embeds, EarningsDayEmbed(day))
	}
	for _, embed := range embeds {
		start := time.Now()
		_, err := g.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
		observe("send_earnings", channelID, start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			return fmt.Errorf("публикация календаря: %w", err)
		}
	}
	return nil
}

// EnsureReadOnlyChannel находит канал по имени или создаёт его и выставляет права только на чтение.
func (g *Gateway) EnsureReadOnlyChannel(ctx context.Context, guildID, name string) (string, error) {
	start := time.Now()
	roles, err := g.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	observe("guild_roles", guildID, start, err)
	if err != nil {
		return "", fmt.Errorf("роли сервера: %w", err)
	}
	overwrites := readOnlyOverwrites(guildID, g.botUserID(), roles)

	start = time.Now()
	channels, err := g.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	observe("guild_channels", guildID, start, err)
	if err != nil {
		return "", fmt.Errorf("каналы сервера: %w", err)
	}
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText || ch.Name != name {
			continue
		}
		start = time.Now()
		_, err := g.session.ChannelEdit(ch.ID, &discordgo.ChannelEdit{PermissionOverwrites: overwrites}, discordgo.WithContext(ctx))
		observe("channel_edit", ch.ID, start, err)
		if err != nil {
			return "", fmt.Errorf("права канала %s: %w", name, err)
		}
		return ch.ID, nil
	}

	start = time.Now()
	ch, err := g.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	observe("channel_create", guildID, start, err)
	if err != nil {
		return "", fmt.Errorf("создание канала %s: %w", name, err)
	}
	g.log.Info().Str("guild", guildID).Str("channel", name).Msg("создан служебный канал")
	return ch.ID, nil
}

// EditHelpMessage обновляет справку; удалённое сообщение, ErrNotFound.
func (g *Gateway) EditHelpMessage(ctx context.Context, channelID, messageID string) error {
	start := time.Now()
	_, err := g.session.ChannelMessageEditEmbed(channelID, messageID, HelpEmbed(), discordgo.WithContext(ctx))
	observe("edit_help", channelID, start, err)
	if err != nil {
		return fmt.Errorf("правка справки: %w", mapRESTError(err))
	}
	return nil
}

// PostHelpMessage публикует справку и возвращает id сообщения.
func (g *Gateway) PostHelpMessage(ctx context.Context, channelID string) (string, error) {
	start := time.Now()
	msg, err := g.session.ChannelMessageSendEmbed(channelID, HelpEmbed(), discordgo.WithContext(ctx))
	observe("send_help", channelID, start, err)
	if err != nil {
		metrics.BotSendErrors.Inc()
		return "", fmt.Errorf("публикация справки: %w", err)
	}
	return msg.ID, nil
}

// PublicTextChannels возвращает текстовые каналы, видимые @everyone.
func (g *Gateway) PublicTextChannels(context.Context) ([]string, error) {
	var out []string
	for _, guild := range g.guilds() {
		g.session.State.RLock()
		for _, ch := range guild.Channels {
			if isPublic(ch) {
				out = append(out, ch.ID)
			}
		}
		g.session.State.RUnlock()
	}
	return out, nil
}

// DeleteMessagesBefore удаляет сообщения старше cutoff: свежие пачками, старые по одному.
func (g *Gateway) DeleteMessagesBefore(ctx context.Context, channelID string, cutoff time.Time) (int, error) {
	var (
		stale  []*discordgo.Message
		before string
	)
	for page := 0; page < maxPurgePages; page++ {
		start := time.Now()
		msgs, err := g.session.ChannelMessages(channelID, pageSize, before, "", "", discordgo.WithContext(ctx))
		observe("channel_messages", channelID, start, err)
		if err != nil {
			return 0, fmt.Errorf("история канала: %w", mapRESTError(err))
		}
		for _, m := range msgs {
			if m.Timestamp.Before(cutoff) {
				stale = append(stale, m)
			}
		}
		if len(msgs) < pageSize {
			break
		}
		before = msgs[len(msgs)-1].ID
	}
	return g.deleteMessages(ctx, channelID, stale)
}

func (g *Gateway) deleteMessages(ctx context.Context, channelID string, msgs []*discordgo.Message) (int, error) {
	bulk, single := partitionForDelete(msgs, g.clock.Now())
	deleted := 0
	for _, chunk := range bulk {
		start := time.Now()
		err := g.session.ChannelMessagesBulkDelete(channelID, chunk, discordgo.WithContext(ctx))
		observe("bulk_delete", channelID, start, err)
		if err != nil {
			return deleted, fmt.Errorf("пакетное удаление: %w", err)
		}
		deleted += len(chunk)
	}
	for _, id := range single {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		start := time.Now()
		err := g.session.ChannelMessageDelete(channelID, id, discordgo.WithContext(ctx))
		observe("message_delete", channelID, start, err)
		if err != nil {
			if errors.Is(mapRESTError(err), domain.ErrNotFound) {
				continue
			}
			return deleted, fmt.Errorf("удаление сообщения: %w", err)
		}
		deleted++
	}
	return deleted, nil
}

// partitionForDelete делит сообщения на пачки для bulk delete (от 2 до 100 свежих) и одиночные удаления.
func partitionForDelete(msgs []*discordgo.Message, now time.Time) (bulk [][]string, single []string) {
	var fresh []string
	for _, m := range msgs {
		if now.Sub(m.Timestamp) < bulkDeleteAge {
			fresh = append(fresh, m.ID)
		} else {
			single = append(single, m.ID)
		}
	}
	for len(fresh) >= 2 {
		n := min(len(fresh), pageSize)
		bulk = append(bulk, fresh[:n])
		fresh = fresh[n:]
	}
	single = append(single, fresh...)
	return bulk, single
}
