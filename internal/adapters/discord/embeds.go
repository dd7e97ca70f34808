package discord

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"

	"stockbot/internal/domain"
	"stockbot/internal/usecase/earnings"
	"stockbot/internal/usecase/portfolio"
)

const (
	colorBlue   = 0x3498db
	colorGreen  = 0x2ecc71
	colorRed    = 0xe74c3c
	colorGold   = 0xf1c40f
	colorPurple = 0x9b59b6
	colorGrey   = 0x95a5a6

	titleLimit       = 256
	descriptionLimit = 4096
	fieldLimit       = 1024
	summaryLimit     = 600
	maxFields        = 25

	// maxButtons: пять рядов по пять кнопок.
	maxButtons    = 25
	buttonsPerRow = 5
)

func truncate(s string, limit int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= limit {
		return string(runes)
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func signedMoney(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", math.Abs(v))
	}
	return fmt.Sprintf("+$%.2f", v)
}

// amount и signedAmount печатают суммы портфеля с округлением до центов.
func amount(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func signedAmount(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Abs().StringFixed(2)
	}
	return "+$" + d.StringFixed(2)
}

func shares(d decimal.Decimal) string {
	return d.String()
}

func signColor(d decimal.Decimal) int {
	return pnlColor(float64(d.Sign()))
}

func pnlColor(v float64) int {
	switch {
	case v > 0:
		return colorGreen
	case v < 0:
		return colorRed
	default:
		return colorGrey
	}
}

func sourceColor(source domain.NewsSource) int {
	switch source {
	case domain.SourceFinnhub:
		return colorBlue
	case domain.SourceMarketaux:
		return colorPurple
	case domain.SourceTwitter:
		return 0x1da1f2
	default:
		return colorGrey
	}
}

// NewsEmbed оформляет новость для канала news.
func NewsEmbed(item domain.NewsItem) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: truncate(item.Headline, titleLimit),
		URL:   item.URL,
		Color: sourceColor(item.Source),
	}
	if summary := truncate(item.Summary, summaryLimit); summary != "" && summary != embed.Title {
		embed.Description = summary
	}
	footer := string(item.Source)
	if item.Publisher != "" && !strings.EqualFold(item.Publisher, footer) {
		footer = item.Publisher + " · " + footer
	}
	embed.Footer = &discordgo.MessageEmbedFooter{Text: footer}
	if !item.PublishedAt.IsZero() {
		embed.Timestamp = item.PublishedAt.UTC().Format(time.RFC3339)
	}
	return embed
}

// StockEmbed оформляет котировку и профиль компании.
func StockEmbed(info domain.StockInfo) *discordgo.MessageEmbed {
	q := info.Quote
	title := q.Symbol
	if name := info.DisplayName(); name != q.Symbol {
		title = fmt.Sprintf("%s (%s)", name, q.Symbol)
	}
	arrow := "▲"
	if q.Change < 0 {
		arrow = "▼"
	}
	embed := &discordgo.MessageEmbed{
		Title: truncate(title, titleLimit),
		URL:   info.Profile.WebURL,
		Color: pnlColor(q.Change),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Price", Value: money(q.Current), Inline: true},
			{Name: "Change", Value: fmt.Sprintf("%s %s (%+.2f%%)", arrow, signedMoney(q.Change), q.PercentChange), Inline: true},
			{Name: "Previous close", Value: money(q.PreviousClose), Inline: true},
			{Name: "Open", Value: money(q.Open), Inline: true},
			{Name: "High", Value: money(q.High), Inline: true},
			{Name: "Low", Value: money(q.Low), Inline: true},
		},
	}
	if ex := strings.TrimSpace(info.Profile.Exchange); ex != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Exchange", Value: truncate(ex, fieldLimit), Inline: true})
	}
	if ind := strings.TrimSpace(info.Profile.Industry); ind != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Industry", Value: truncate(ind, fieldLimit), Inline: true})
	}
	embed.Footer = &discordgo.MessageEmbedFooter{Text: "Data: Finnhub"}
	return embed
}

// WatchlistEmbed перечисляет тикеры в порядке добавления.
func WatchlistEmbed(entries []domain.WatchlistEntry, limit int) *discordgo.MessageEmbed {
	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. **%s**", i+1, e.Symbol)
		if name := strings.TrimSpace(e.CompanyName); name != "" {
			b.WriteString(" ")
			b.WriteString(name)
		}
		b.WriteString("\n")
	}
	description := b.String()
	if len(entries) > 0 {
		description += "\nPress a button to get the current quote."
	}
	return &discordgo.MessageEmbed{
		Title:       "📋 Your watchlist",
		Description: truncate(description, descriptionLimit),
		Color:       colorBlue,
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%d/%d symbols", len(entries), limit)},
	}
}

// WatchlistButtons строит кнопки stock_info:<SYMBOL>, не больше пяти рядов по пять.
func WatchlistButtons(entries []domain.WatchlistEntry) []discordgo.MessageComponent {
	if len(entries) > maxButtons {
		entries = entries[:maxButtons]
	}
	var rows []discordgo.MessageComponent
	for i := 0; i < len(entries); i += buttonsPerRow {
		end := min(i+buttonsPerRow, len(entries))
		row := discordgo.ActionsRow{}
		for _, e := range entries[i:end] {
			row.Components = append(row.Components, discordgo.Button{
				Label:    e.Symbol,
				Style:    discordgo.SecondaryButton,
				CustomID: stockInfoPrefix + e.Symbol,
			})
		}
		rows = append(rows, row)
	}
	return rows
}

// PortfolioEmbed показывает позиции с оценкой по текущим ценам.
func PortfolioEmbed(snap portfolio.Snapshot) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "💼 Your portfolio",
		Color: signColor(snap.UnrealizedPnL),
	}
	if len(snap.Holdings) == 0 {
		embed.Description = "Your portfolio is empty. Use `/buy` to add a position."
		embed.Color = colorGrey
		return embed
	}
	for i, h := range snap.Holdings {
		if i == maxFields-1 && len(snap.Holdings) > maxFields {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:  "…",
				Value: fmt.Sprintf("%d more positions", len(snap.Holdings)-i),
			})
			break
		}
		pos := h.Position
		value := fmt.Sprintf("%s sh @ %s avg\nCost: %s", shares(pos.Shares), amount(pos.AveragePrice), amount(pos.TotalCost))
		if h.PriceKnown {
			pct := 0.0
			if pos.TotalCost.IsPositive() {
				pct = h.UnrealizedPnL.Div(pos.TotalCost).Mul(decimal.NewFromInt(100)).InexactFloat64()
			}
			value += fmt.Sprintf("\nNow: %s · Value: %s\nP&L: %s (%+.2f%%)", amount(h.CurrentPrice), amount(h.MarketValue), signedAmount(h.UnrealizedPnL), pct)
		} else {
			value += "\nNow: price unavailable"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: pos.Symbol, Value: value, Inline: true})
	}
	embed.Description = fmt.Sprintf("Cost basis: **%s**\nMarket value: **%s**\nUnrealized P&L: **%s**\nRealized P&L: **%s**",
		amount(snap.TotalCost), amount(snap.MarketValue), signedAmount(snap.UnrealizedPnL), signedAmount(snap.RealizedPnL))
	return embed
}

// PnLEmbed показывает реализованный P&L.
func PnLEmbed(realized decimal.Decimal) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "📈 Realized P&L",
		Description: fmt.Sprintf("**%s**", signedAmount(realized)),
		Color:       signColor(realized),
	}
}

var helpSections = []struct{ name, value string }{
	{"📰 News", "Financial news from Finnhub, Marketaux and Twitter is posted to the `news` channel automatically."},
	{"📋 Watchlist", "`/watchlist` create your private channel\n`/add_company <symbol> [company_name]`\n`/remove_company <symbol>`\n`/show_watchlist` list with quote buttons\n`/delete_watchlist` delete channel and symbols"},
	{"💼 Portfolio", "`/portfolio` create your private channel\n`/buy <symbol> <shares> <price>`\n`/sell <symbol> <shares> <price>`\n`/show_portfolio` positions at current prices\n`/pnl` realized P&L\n`/reset_pnl` reset realized P&L\n`/delete_portfolio` delete channel and positions"},
	{"💵 Quotes", "`/stock_info <symbol>` current price and company info"},
	{"📅 Earnings", "The `earnings-calendar-dashboard` channel is refreshed daily with upcoming earnings."},
}

// HelpEmbed: справка по командам бота.
func HelpEmbed() *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "🤖 Stock bot commands",
		Description: "Replies inside your private channels are visible there; elsewhere they are only visible to you.",
		Color:       colorGold,
	}
	for _, s := range helpSections {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: s.name, Value: s.value})
	}
	return embed
}

// EarningsSummaryEmbed: заголовок календаря отчётностей.
func EarningsSummaryEmbed(cal earnings.Calendar) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "📅 Earnings calendar",
		Description: fmt.Sprintf("%s to %s\nCompanies priced %s to %s: **%d**",
			cal.From.Format("Jan 02"), cal.To.Format("Jan 02, 2006"), money(cal.MinPrice), money(cal.MaxPrice), cal.Total),
		Color: colorGold,
	}
	if len(cal.Days) == 0 {
		embed.Description += "\nNo earnings reports in this range."
		return embed
	}
	for _, day := range cal.Days {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   earnings.ShortDay(day.Date),
			Value:  strconv.Itoa(len(day.Events)),
			Inline: true,
		})
	}
	return embed
}

// EarningsDayEmbed перечисляет отчётности дня по SymbolsPerField тикеров в поле.
func EarningsDayEmbed(day earnings.Day) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: earnings.FormatDay(day.Date),
		Color: colorBlue,
	}
	for i, chunk := range day.Chunks(earnings.SymbolsPerField) {
		lines := make([]string, 0, len(chunk))
		for _, e := range chunk {
			line := fmt.Sprintf("**%s** %s", e.Symbol, money(e.CurrentPrice))
			if e.EPSEstimate != nil {
				line += fmt.Sprintf(" · EPS est %.2f", *e.EPSEstimate)
			}
			if h := hourLabel(e.Hour); h != "" {
				line += " · " + h
			}
			lines = append(lines, line)
		}
		name := "Companies"
		if i > 0 {
			name = "Companies (cont.)"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: name, Value: truncate(strings.Join(lines, "\n"), fieldLimit)})
	}
	embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%d companies", len(day.Events))}
	return embed
}

func hourLabel(hour string) string {
	switch strings.ToLower(hour) {
	case "bmo":
		return "before open"
	case "amc":
		return "after close"
	case "dmh":
		return "during market"
	default:
		return ""
	}
}
