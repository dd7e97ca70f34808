package discord

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"stockbot/internal/domain"
	"stockbot/internal/usecase/earnings"
)

func TestWatchlistButtonsFiveByFive(t *testing.T) {
	var entries []domain.WatchlistEntry
	for i := 0; i < 30; i++ {
		entries = append(entries, domain.WatchlistEntry{Symbol: fmt.Sprintf("S%c", 'A'+i)})
	}
	rows := WatchlistButtons(entries)
	if len(rows) != 5 {
		t.Fatalf("ожидали 5 рядов, получили %d", len(rows))
	}
	for _, r := range rows {
		row := r.(discordgo.ActionsRow)
		if len(row.Components) != 5 {
			t.Fatalf("в ряду %d кнопок", len(row.Components))
		}
	}
	first := rows[0].(discordgo.ActionsRow).Components[0].(discordgo.Button)
	if first.CustomID != "stock_info:SA" || first.Label != "SA" {
		t.Fatalf("неожиданная кнопка: %+v", first)
	}

	rows = WatchlistButtons(entries[:7])
	if len(rows) != 2 || len(rows[1].(discordgo.ActionsRow).Components) != 2 {
		t.Fatalf("7 тикеров = ряды 5+2")
	}
}

func TestNewsEmbed(t *testing.T) {
	published := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)
	embed := NewsEmbed(domain.NewsItem{
		Source:      domain.SourceMarketaux,
		Headline:    strings.Repeat("h", 300),
		Summary:     "short summary",
		URL:         "https://example.com",
		Publisher:   "Reuters",
		PublishedAt: published,
	})
	if n := len([]rune(embed.Title)); n != titleLimit {
		t.Fatalf("заголовок не обрезан: %d", n)
	}
	if !strings.HasSuffix(embed.Title, "…") {
		t.Fatalf("нет многоточия: %q", embed.Title)
	}
	if embed.Footer.Text != "Reuters · marketaux" || embed.Timestamp != "2024-03-10T14:30:00Z" {
		t.Fatalf("неожиданный embed: %+v %+v", embed, embed.Footer)
	}
}

func TestEarningsDayEmbedChunks(t *testing.T) {
	eps := 1.25
	day := earnings.Day{Date: "2024-03-11"}
	for i := 0; i < 20; i++ {
		day.Events = append(day.Events, domain.EarningsEvent{Symbol: fmt.Sprintf("T%d", i), CurrentPrice: 10, Hour: "amc", EPSEstimate: &eps})
	}
	embed := EarningsDayEmbed(day)
	if embed.Title != "March 11, 2024 (Monday)" {
		t.Fatalf("заголовок = %q", embed.Title)
	}
	if len(embed.Fields) != 2 {
		t.Fatalf("ожидали 2 поля по 15, получили %d", len(embed.Fields))
	}
	if got := strings.Count(embed.Fields[0].Value, "\n") + 1; got != earnings.SymbolsPerField {
		t.Fatalf("в первом поле %d тикеров", got)
	}
	if !strings.Contains(embed.Fields[0].Value, "**T0** $10.00 · EPS est 1.25 · after close") {
		t.Fatalf("неожиданная строка: %q", embed.Fields[0].Value)
	}
}

func TestHelpEmbedListsCommands(t *testing.T) {
	var b strings.Builder
	for _, f := range HelpEmbed().Fields {
		b.WriteString(f.Value)
	}
	for _, cmd := range Commands() {
		if cmd.Name == cmdHelp {
			continue
		}
		if !strings.Contains(b.String(), "/"+cmd.Name) {
			t.Fatalf("справка не упоминает /%s", cmd.Name)
		}
	}
}
