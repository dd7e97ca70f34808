package discord

import "github.com/bwmarrin/discordgo"

const (
	cmdWatchlist       = "watchlist"
	cmdDeleteWatchlist = "delete_watchlist"
	cmdAddCompany      = "add_company"
	cmdRemoveCompany   = "remove_company"
	cmdShowWatchlist   = "show_watchlist"
	cmdPortfolio       = "portfolio"
	cmdDeletePortfolio = "delete_portfolio"
	cmdBuy             = "buy"
	cmdSell            = "sell"
	cmdShowPortfolio   = "show_portfolio"
	cmdPnL             = "pnl"
	cmdResetPnL        = "reset_pnl"
	cmdStockInfo       = "stock_info"
	cmdHelp            = "help"

	// stockInfoPrefix: префикс custom_id кнопок списка наблюдения.
	stockInfoPrefix = "stock_info:"
)

var minPositive = 0.000001

func symbolOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "symbol",
		Description: description,
		Required:    true,
		MaxLength:   10,
	}
}

func tradeOptions() []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{
		symbolOption("Stock symbol (e.g. AAPL)"),
		{
			Type:        discordgo.ApplicationCommandOptionNumber,
			Name:        "shares",
			Description: "Number of shares",
			Required:    true,
			MinValue:    &minPositive,
		},
		{
			Type:        discordgo.ApplicationCommandOptionNumber,
			Name:        "price",
			Description: "Price per share in USD",
			Required:    true,
			MinValue:    &minPositive,
		},
	}
}

// Commands возвращает определения slash-команд бота.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{Name: cmdWatchlist, Description: "Create your private watchlist channel"},
		{Name: cmdDeleteWatchlist, Description: "Delete your private watchlist channel and all its symbols"},
		{
			Name:        cmdAddCompany,
			Description: "Add a company to your watchlist",
			Options: []*discordgo.ApplicationCommandOption{
				symbolOption("Stock symbol (e.g. AAPL)"),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "company_name",
					Description: "Optional company name",
					MaxLength:   100,
				},
			},
		},
		{
			Name:        cmdRemoveCompany,
			Description: "Remove a company from your watchlist",
			Options:     []*discordgo.ApplicationCommandOption{symbolOption("Stock symbol to remove")},
		},
		{Name: cmdShowWatchlist, Description: "Show your watchlist"},
		{Name: cmdPortfolio, Description: "Create your private portfolio channel"},
		{Name: cmdDeletePortfolio, Description: "Delete your private portfolio channel and all positions"},
		{Name: cmdBuy, Description: "Record a purchase in your portfolio", Options: tradeOptions()},
		{Name: cmdSell, Description: "Record a sale from your portfolio", Options: tradeOptions()},
		{Name: cmdShowPortfolio, Description: "Show your portfolio valued at current prices"},
		{Name: cmdPnL, Description: "Show your realized profit and loss"},
		{Name: cmdResetPnL, Description: "Reset your realized profit and loss"},
		{
			Name:        cmdStockInfo,
			Description: "Get current price and company info",
			Options:     []*discordgo.ApplicationCommandOption{symbolOption("Stock symbol (e.g. AAPL)")},
		},
		{Name: cmdHelp, Description: "Show available commands"},
	}
}
