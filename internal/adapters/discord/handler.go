package discord

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockbot/internal/domain"
	"stockbot/internal/infra/metrics"
	"stockbot/internal/usecase/portfolio"
	"stockbot/internal/usecase/provision"
	"stockbot/internal/usecase/stockinfo"
	"stockbot/internal/usecase/watchlist"
)

const (
	msgInternal    = "❌ Something went wrong. Please try again later."
	msgRateLimited = "⏳ The market data provider is busy right now. Please try again in a minute."
	msgUpstream    = "⚠️ Market data is temporarily unavailable. Please try again later."
	msgBadSymbol   = "❌ Please provide a valid stock symbol (letters only, max 10 characters)."
	msgGuildOnly   = "⚠️ This command only works inside a server."
)

// Invocation: slash-команда или нажатие кнопки без привязки к транспорту.
type Invocation struct {
	// Command: имя команды либо custom_id кнопки.
	Command   string
	Button    bool
	Owner     domain.Owner
	Username  string
	ChannelID string
	Options   map[string]any
}

func (inv Invocation) str(name string) string {
	v, _ := inv.Options[name].(string)
	return strings.TrimSpace(v)
}

// dec переводит числовую опцию в decimal по кратчайшей записи (0.1 остаётся 0.1).
func (inv Invocation) dec(name string) decimal.Decimal {
	return decimal.NewFromFloat(inv.num(name))
}

func (inv Invocation) num(name string) float64 {
	switch v := inv.Options[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Reply: ответ на команду.
type Reply struct {
	Content    string
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent
}

// replyError несёт готовый текст для пользователя.
type replyError struct {
	text string
	err  error
}

func (e *replyError) Error() string { return e.err.Error() }
func (e *replyError) Unwrap() error { return e.err }

func explain(err error, text string) error {
	return &replyError{text: text, err: err}
}

// Handler обрабатывает команды и кнопки.
type Handler struct {
	log        zerolog.Logger
	provision  *provision.Service
	watchlists *watchlist.Service
	portfolios *portfolio.Service
	stocks     *stockinfo.Service
}

// NewHandler создаёт обработчик команд.
func NewHandler(log zerolog.Logger, provisionUC *provision.Service, watchlistUC *watchlist.Service, portfolioUC *portfolio.Service, stocks *stockinfo.Service) *Handler {
	return &Handler{
		log:        log,
		provision:  provisionUC,
		watchlists: watchlistUC,
		portfolios: portfolioUC,
		stocks:     stocks,
	}
}

// Ephemeral решает, виден ли ответ только вызвавшему.
// Кнопки отвечают всегда скрыто, команды публичны лишь в приватном канале владельца.
func (h *Handler) Ephemeral(ctx context.Context, inv Invocation) bool {
	if inv.Button {
		return true
	}
	return !h.provision.IsPrivateChannel(ctx, inv.Owner, inv.ChannelID)
}

// Handle выполняет команду. Ошибки и паники превращаются в текст ответа.
func (h *Handler) Handle(ctx context.Context, inv Invocation) (reply Reply) {
	name := inv.Command
	if inv.Button {
		name = "button:" + strings.SplitN(inv.Command, ":", 2)[0]
	}
	log := h.log.With().Str("command", name).Str("owner", inv.Owner.String()).Logger()

	var err error
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("паника в обработчике команды")
			err = fmt.Errorf("panic: %v", r)
			reply = Reply{Content: msgInternal}
		}
		if expected(err) {
			metrics.ObserveCommand(name, nil)
			return
		}
		metrics.ObserveCommand(name, err)
	}()

	reply, err = h.route(ctx, inv)
	if err == nil {
		return reply
	}
	var re *replyError
	switch {
	case errors.As(err, &re):
		log.Debug().Err(err).Msg("команда отклонена")
		return Reply{Content: re.text}
	case errors.Is(err, domain.ErrRateLimited):
		log.Warn().Err(err).Msg("поставщик ограничил запросы")
		return Reply{Content: msgRateLimited}
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		log.Warn().Err(err).Msg("поставщик недоступен")
		return Reply{Content: msgUpstream}
	case errors.Is(err, domain.ErrInvalidInput):
		return Reply{Content: msgBadSymbol}
	default:
		log.Error().Err(err).Msg("ошибка обработки команды")
		return Reply{Content: msgInternal}
	}
}

// expected: ошибки, вызванные вводом пользователя, а не сбоем.
func expected(err error) bool {
	return errors.Is(err, domain.ErrAlreadyExists) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrLimitReached)
}

func (h *Handler) route(ctx context.Context, inv Invocation) (Reply, error) {
	if inv.Button {
		switch {
		case strings.HasPrefix(inv.Command, stockInfoPrefix):
			return h.handleStockButton(ctx, inv)
		default:
			return Reply{Content: "❓ Unknown button."}, nil
		}
	}

	switch inv.Command {
	case cmdHelp:
		return Reply{Embeds: []*discordgo.MessageEmbed{HelpEmbed()}}, nil
	case cmdStockInfo:
		return h.handleStockInfo(ctx, inv.str("symbol"))
	}

	if inv.Owner.GuildID == "" {
		return Reply{Content: msgGuildOnly}, nil
	}
	switch inv.Command {
	case cmdWatchlist:
		return h.handleCreatePrivate(ctx, inv, domain.ChannelKindWatchlist)
	case cmdDeleteWatchlist:
		return h.handleDeletePrivate(ctx, inv, domain.ChannelKindWatchlist)
	case cmdAddCompany:
		return h.handleAddCompany(ctx, inv)
	case cmdRemoveCompany:
		return h.handleRemoveCompany(ctx, inv)
	case cmdShowWatchlist:
		return h.handleShowWatchlist(ctx, inv)
	case cmdPortfolio:
		return h.handleCreatePrivate(ctx, inv, domain.ChannelKindPortfolio)
	case cmdDeletePortfolio:
		return h.handleDeletePrivate(ctx, inv, domain.ChannelKindPortfolio)
	case cmdBuy:
		return h.handleBuy(ctx, inv)
	case cmdSell:
		return h.handleSell(ctx, inv)
	case cmdShowPortfolio:
		return h.handleShowPortfolio(ctx, inv)
	case cmdPnL:
		return h.handlePnL(ctx, inv)
	case cmdResetPnL:
		return h.handleResetPnL(ctx, inv)
	default:
		return Reply{Content: "❓ Unknown command. Use `/help` to see what I can do."}, nil
	}
}

func displaySymbol(input string) string {
	return strings.ToUpper(strings.TrimSpace(input))
}

func (h *Handler) handleCreatePrivate(ctx context.Context, inv Invocation, kind domain.ChannelKind) (Reply, error) {
	channelID, err := h.provision.CreatePrivate(ctx, inv.Owner, kind, inv.Username)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return Reply{}, explain(err, fmt.Sprintf("⚠️ You already have a private %s channel: <#%s>", kind, channelID))
	}
	if err != nil {
		return Reply{}, err
	}
	return Reply{Content: fmt.Sprintf("✅ Your private %s channel is ready: <#%s>", kind, channelID)}, nil
}

func (h *Handler) handleDeletePrivate(ctx context.Context, inv Invocation, kind domain.ChannelKind) (Reply, error) {
	err := h.provision.DeletePrivate(ctx, inv.Owner, kind)
	if errors.Is(err, domain.ErrNotFound) {
		return Reply{}, explain(err, fmt.Sprintf("⚠️ You don't have a private %s channel.", kind))
	}
	if err != nil {
		return Reply{}, err
	}
	return Reply{Content: fmt.Sprintf("🗑️ Your private %s channel and all its data were deleted.", kind)}, nil
}

func (h *Handler) handleAddCompany(ctx context.Context, inv Invocation) (Reply, error) {
	symbol := displaySymbol(inv.str("symbol"))
	entry, err := h.watchlists.Add(ctx, inv.Owner, symbol, inv.str("company_name"))
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return Reply{}, explain(err, msgBadSymbol)
	case errors.Is(err, domain.ErrNotFound):
		return Reply{}, explain(err, "⚠️ You need a private watchlist first. Create it with `/watchlist`.")
	case errors.Is(err, domain.ErrAlreadyExists):
		return Reply{}, explain(err, fmt.Sprintf("⚠️ **%s** is already in your watchlist.", symbol))
	case errors.Is(err, domain.ErrLimitReached):
		return Reply{}, explain(err, fmt.Sprintf("⚠️ Your watchlist is full (%d symbols). Remove one with `/remove_company` first.", h.watchlists.Limit()))
	case err != nil:
		return Reply{}, err
	}
	text := fmt.Sprintf("✅ Added **%s** to your watchlist.", entry.Symbol)
	if entry.CompanyName != "" {
		text = fmt.Sprintf("✅ Added **%s** (%s) to your watchlist.", entry.Symbol, entry.CompanyName)
	}
	return Reply{Content: text}, nil
}

func (h *Handler) handleRemoveCompany(ctx context.Context, inv Invocation) (Reply, error) {
	symbol := displaySymbol(inv.str("symbol"))
	err := h.watchlists.Remove(ctx, inv.Owner, symbol)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return Reply{}, explain(err, msgBadSymbol)
	case errors.Is(err, domain.ErrNotFound):
		return Reply{}, explain(err, fmt.Sprintf("⚠️ **%s** is not in your watchlist.", symbol))
	case err != nil:
		return Reply{}, err
	}
	return Reply{Content: fmt.Sprintf("🗑️ Removed **%s** from your watchlist.", symbol)}, nil
}

func (h *Handler) handleShowWatchlist(ctx context.Context, inv Invocation) (Reply, error) {
	entries, err := h.watchlists.List(ctx, inv.Owner)
	if err != nil {
		return Reply{}, err
	}
	if len(entries) == 0 {
		return Reply{Content: "📭 Your watchlist is empty. Add symbols with `/add_company`."}, nil
	}
	return Reply{
		Embeds:     []*discordgo.MessageEmbed{WatchlistEmbed(entries, h.watchlists.Limit())},
		Components: WatchlistButtons(entries),
	}, nil
}

func (h *Handler) handleStockButton(ctx context.Context, inv Invocation) (Reply, error) {
	symbol := strings.TrimPrefix(inv.Command, stockInfoPrefix)
	ok, err := h.watchlists.Contains(ctx, inv.Owner, symbol)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		return Reply{}, explain(domain.ErrNotFound, fmt.Sprintf("⚠️ **%s** is not in your watchlist.", displaySymbol(symbol)))
	}
	return h.handleStockInfo(ctx, symbol)
}

func (h *Handler) handleStockInfo(ctx context.Context, symbol string) (Reply, error) {
	info, err := h.stocks.Lookup(ctx, symbol)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return Reply{}, explain(err, msgBadSymbol)
	case errors.Is(err, domain.ErrNotFound):
		return Reply{}, explain(err, fmt.Sprintf("⚠️ No quote found for **%s**.", displaySymbol(symbol)))
	case err != nil:
		return Reply{}, err
	}
	return Reply{Embeds: []*discordgo.MessageEmbed{StockEmbed(info)}}, nil
}

func (h *Handler) handleBuy(ctx context.Context, inv Invocation) (Reply, error) {
	symbol := displaySymbol(inv.str("symbol"))
	qty, price := inv.dec("shares"), inv.dec("price")
	pos, err := h.portfolios.Buy(ctx, inv.Owner, symbol, qty, price)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return Reply{}, explain(err, "❌ Please provide a valid symbol and positive shares and price.")
	case errors.Is(err, domain.ErrNotFound):
		return Reply{}, explain(err, "⚠️ You need a private portfolio first. Create it with `/portfolio`.")
	case err != nil:
		return Reply{}, err
	}
	return Reply{Content: fmt.Sprintf("✅ Bought %s **%s** @ %s. Position: %s sh @ %s avg.",
		shares(qty), pos.Symbol, amount(price), shares(pos.Shares), amount(pos.AveragePrice))}, nil
}

func (h *Handler) handleSell(ctx context.Context, inv Invocation) (Reply, error) {
	symbol := displaySymbol(inv.str("symbol"))
	qty, price := inv.dec("shares"), inv.dec("price")
	res, err := h.portfolios.Sell(ctx, inv.Owner, symbol, qty, price)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return Reply{}, explain(err, "❌ Invalid sale. Check the symbol, use positive shares and price, and don't sell more than you hold.")
	case errors.Is(err, domain.ErrNotFound):
		return Reply{}, explain(err, fmt.Sprintf("⚠️ You don't hold **%s**.", symbol))
	case err != nil:
		return Reply{}, err
	}
	text := fmt.Sprintf("✅ Sold %s **%s** @ %s. Realized P&L: %s (%+.2f%%).",
		shares(res.SharesSold), res.Symbol, amount(res.Price), signedAmount(res.RealizedPnL), res.PnLPercent)
	if res.RemainingShares.IsPositive() {
		text += fmt.Sprintf(" Remaining: %s sh.", shares(res.RemainingShares))
	} else {
		text += " Position closed."
	}
	return Reply{Content: text}, nil
}

func (h *Handler) handleShowPortfolio(ctx context.Context, inv Invocation) (Reply, error) {
	snap, err := h.portfolios.Snapshot(ctx, inv.Owner)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Embeds: []*discordgo.MessageEmbed{PortfolioEmbed(snap)}}, nil
}

func (h *Handler) handlePnL(ctx context.Context, inv Invocation) (Reply, error) {
	pnl, err := h.portfolios.RealizedPnL(ctx, inv.Owner)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Embeds: []*discordgo.MessageEmbed{PnLEmbed(pnl)}}, nil
}

func (h *Handler) handleResetPnL(ctx context.Context, inv Invocation) (Reply, error) {
	if err := h.portfolios.ResetPnL(ctx, inv.Owner); err != nil {
		return Reply{}, err
	}
	return Reply{Content: "🔄 Your realized P&L has been reset to $0.00."}, nil
}
