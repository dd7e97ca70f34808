package discord

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"stockbot/internal/domain"
)

func TestPrivateOverwritesHideFromEveryone(t *testing.T) {
	ows := privateOverwrites("g1", "alice", "bot")
	if len(ows) != 3 {
		t.Fatalf("ожидали 3 правила, получили %d", len(ows))
	}
	if ows[0].ID != "g1" || ows[0].Deny&discordgo.PermissionViewChannel == 0 {
		t.Fatalf("@everyone должен потерять доступ: %+v", ows[0])
	}
	for _, o := range ows[1:] {
		if o.Type != discordgo.PermissionOverwriteTypeMember || o.Allow&viewAndSend != viewAndSend {
			t.Fatalf("владелец и бот должны видеть и писать: %+v", o)
		}
	}
	ch := &discordgo.Channel{GuildID: "g1", Type: discordgo.ChannelTypeGuildText, PermissionOverwrites: ows}
	if isPublic(ch) {
		t.Fatal("приватный канал не должен считаться публичным")
	}
}

func TestReadOnlyOverwrites(t *testing.T) {
	roles := []*discordgo.Role{
		{ID: "g1", Permissions: 0},
		{ID: "admins", Permissions: discordgo.PermissionAdministrator},
		{ID: "members", Permissions: discordgo.PermissionSendMessages},
	}
	ows := readOnlyOverwrites("g1", "bot", roles)
	if len(ows) != 3 {
		t.Fatalf("ожидали 3 правила, получили %+v", ows)
	}
	if ows[0].Deny&discordgo.PermissionSendMessages == 0 || ows[0].Allow&discordgo.PermissionViewChannel == 0 {
		t.Fatalf("@everyone только читает: %+v", ows[0])
	}
	if ows[1].ID != "admins" || ows[1].Allow&discordgo.PermissionSendMessages == 0 {
		t.Fatalf("админы пишут: %+v", ows[1])
	}
	ch := &discordgo.Channel{GuildID: "g1", Type: discordgo.ChannelTypeGuildText, PermissionOverwrites: ows}
	if !isPublic(ch) {
		t.Fatal("канал только для чтения остаётся публичным")
	}
	ch.Type = discordgo.ChannelTypeGuildVoice
	if isPublic(ch) {
		t.Fatal("голосовые каналы не чистятся")
	}
}

func TestChannelsNamed(t *testing.T) {
	guilds := []*discordgo.Guild{
		{ID: "g1", Channels: []*discordgo.Channel{
			{ID: "1", Name: "news", Type: discordgo.ChannelTypeGuildText},
			{ID: "2", Name: "general", Type: discordgo.ChannelTypeGuildText},
		}},
		{ID: "g2", Channels: []*discordgo.Channel{
			{ID: "3", Name: "news", Type: discordgo.ChannelTypeGuildText},
			{ID: "4", Name: "news", Type: discordgo.ChannelTypeGuildVoice},
		}},
	}
	got := channelsNamed(guilds, "news", []string{"3", " 9 ", ""})
	want := []string{"1", "3", "9"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("получили %v, ожидали %v", got, want)
	}
}

func TestMapRESTError(t *testing.T) {
	unknown := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMessage},
	}
	if err := mapRESTError(unknown); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	if err := mapRESTError(forbidden); errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("403 не является ErrNotFound")
	}
	if mapRESTError(nil) != nil {
		t.Fatal("nil остаётся nil")
	}
}

func TestPartitionForDelete(t *testing.T) {
	now := time.Date(2024, 3, 30, 12, 0, 0, 0, time.UTC)
	var msgs []*discordgo.Message
	for i := 0; i < 150; i++ {
		msgs = append(msgs, &discordgo.Message{ID: fmt.Sprintf("f%d", i), Timestamp: now.Add(-72 * time.Hour)})
	}
	msgs = append(msgs, &discordgo.Message{ID: "old", Timestamp: now.Add(-20 * 24 * time.Hour)})

	bulk, single := partitionForDelete(msgs, now)
	if len(bulk) != 2 || len(bulk[0]) != 100 || len(bulk[1]) != 50 {
		t.Fatalf("неожиданные пачки: %d", len(bulk))
	}
	if len(single) != 1 || single[0] != "old" {
		t.Fatalf("старые удаляются по одному: %v", single)
	}

	bulk, single = partitionForDelete(msgs[:101], now)
	if len(bulk) != 1 || len(single) != 1 || single[0] != "f100" {
		t.Fatalf("одиночный остаток не идёт в bulk: %d %v", len(bulk), single)
	}
}

func TestInvocationFrom(t *testing.T) {
	i := &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: "c1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "alice", Username: "Alice"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: cmdBuy,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "symbol", Type: discordgo.ApplicationCommandOptionString, Value: "aapl"},
				{Name: "shares", Type: discordgo.ApplicationCommandOptionNumber, Value: 2.5},
			},
		},
	}
	inv, ok := invocationFrom(i)
	if !ok || inv.Button || inv.Command != cmdBuy || inv.Owner != alice || inv.Username != "Alice" {
		t.Fatalf("неожиданный разбор: %+v", inv)
	}
	if inv.str("symbol") != "aapl" || inv.num("shares") != 2.5 || inv.num("price") != 0 {
		t.Fatalf("неожиданные опции: %+v", inv.Options)
	}

	press := &discordgo.Interaction{
		Type:    discordgo.InteractionMessageComponent,
		GuildID: "g1",
		Member:  &discordgo.Member{User: &discordgo.User{ID: "alice"}},
		Data:    discordgo.MessageComponentInteractionData{CustomID: stockInfoPrefix + "AAPL"},
	}
	inv, ok = invocationFrom(press)
	if !ok || !inv.Button || inv.Command != "stock_info:AAPL" {
		t.Fatalf("неожиданная кнопка: %+v", inv)
	}

	if _, ok := invocationFrom(&discordgo.Interaction{Type: discordgo.InteractionPing}); ok {
		t.Fatal("ping без пользователя не обрабатывается")
	}
}
