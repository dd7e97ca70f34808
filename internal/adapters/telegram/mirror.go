package telegram

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stockbot/internal/adapters/textsplit"
	"stockbot/internal/domain"
	"stockbot/internal/infra/metrics"
)

// Sender: часть tgbotapi.BotAPI, нужная зеркалу.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Mirror дублирует опубликованные новости в чат Telegram.
type Mirror struct {
	bot    Sender
	chatID int64
}

var _ domain.NewsMirror = (*Mirror)(nil)

// NewMirror создаёт зеркало для чата chatID.
func NewMirror(bot Sender, chatID int64) *Mirror {
	return &Mirror{bot: bot, chatID: chatID}
}

// Dial подключается к Bot API по токену.
func Dial(token string, chatID int64) (*Mirror, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot api: %w", err)
	}
	return NewMirror(api, chatID), nil
}

func (m *Mirror) Name() string { return "telegram" }

const (
	headlineLimit  = 256
	summaryLimit   = 300
	publisherLimit = 64
	// urlLimit: более длинная ссылка после экранирования не выводится.
	urlLimit = 400
)

// MirrorNews отправляет новость одним сообщением в HTML-разметке.
func (m *Mirror) MirrorNews(ctx context.Context, item domain.NewsItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(m.chatID, FormatNews(item))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	start := time.Now()
	_, err := m.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(m.chatID, 10), start, err)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// FormatNews собирает текст новости для Telegram. Части обрезаются до экранирования,
// поэтому текст укладывается в одно сообщение и теги не разрываются.
func FormatNews(item domain.NewsItem) string {
	text := formatNews(item, true)
	if utf8.RuneCountInString(text) > textsplit.TelegramLimit {
		text = formatNews(item, false)
	}
	return text
}

func formatNews(item domain.NewsItem, withSummary bool) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(truncate(item.Headline, headlineLimit)))
	b.WriteString("</b>")
	if summary := truncate(item.Summary, summaryLimit); withSummary && summary != "" {
		b.WriteString("\n\n")
		b.WriteString(html.EscapeString(summary))
	}
	b.WriteString("\n\n")
	source := item.Publisher
	if source == "" {
		source = string(item.Source)
	}
	b.WriteString("📰 ")
	b.WriteString(html.EscapeString(truncate(source, publisherLimit)))
	if link := html.EscapeString(item.URL); link != "" && len(link) <= urlLimit {
		fmt.Fprintf(&b, " · <a href=\"%s\">link</a>", link)
	}
	return b.String()
}

func truncate(s string, limit int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= limit {
		return string(runes)
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
