package finnhub

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stockbot/internal/adapters/apiclient"
	"stockbot/internal/domain"
)

const (
	DefaultBaseURL = "https://finnhub.io/api/v1"
	tokenHeader    = "X-Finnhub-Token"
	dateLayout     = "2006-01-02"
)

// DefaultCategories: категории ленты новостей Finnhub.
var DefaultCategories = []string{"general", "forex", "crypto", "merger"}

// Client обращается к REST API Finnhub.
type Client struct {
	baseURL    string
	api        *apiclient.Client
	keys       *apiclient.KeyRing
	clock      domain.Clock
	freshness  time.Duration
	categories []string
}

// New создаёт клиента Finnhub.
func New(baseURL string, keys []string, clock domain.Clock, freshness time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		api:        apiclient.New(string(domain.SourceFinnhub), 0),
		keys:       apiclient.NewKeyRing(string(domain.SourceFinnhub), keys),
		clock:      clock,
		freshness:  freshness,
		categories: DefaultCategories,
	}
}

type newsArticle struct {
	Category string `json:"category"`
	Datetime int64  `json:"datetime"`
	Headline string `json:"headline"`
	ID       int64  `json:"id"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

type quoteResponse struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	PercentChange float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
}

type profileResponse struct {
	Name     string `json:"name"`
	Ticker   string `json:"ticker"`
	Exchange string `json:"exchange"`
	Industry string `json:"finnhubIndustry"`
	WebURL   string `json:"weburl"`
}

type earningsResponse struct {
	EarningsCalendar []struct {
		Date        string   `json:"date"`
		EPSEstimate *float64 `json:"epsEstimate"`
		Hour        string   `json:"hour"`
		Symbol      string   `json:"symbol"`
	} `json:"earningsCalendar"`
}

// Source реализует domain.NewsFetcher.
func (c *Client) Source() domain.NewsSource { return domain.SourceFinnhub }

// FetchNews загружает все категории и отбрасывает устаревшие статьи.
func (c *Client) FetchNews(ctx context.Context) ([]domain.NewsItem, error) {
	now := c.clock.Now()
	var items []domain.NewsItem
	for _, category := range c.categories {
		var articles []newsArticle
		query := url.Values{"category": {category}}
		if err := c.get(ctx, "news", "/news", query, &articles); err != nil {
			return nil, fmt.Errorf("finnhub news %s: %w", category, err)
		}
		for _, a := range articles {
			item := toNewsItem(a)
			if item.Headline == "" || item.URL == "" {
				continue
			}
			if !item.Fresh(now, c.freshness) {
				continue
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func toNewsItem(a newsArticle) domain.NewsItem {
	published := time.Unix(a.Datetime, 0).UTC()
	item := domain.NewsItem{
		Source:      domain.SourceFinnhub,
		Headline:    strings.TrimSpace(a.Headline),
		Summary:     strings.TrimSpace(a.Summary),
		URL:         strings.TrimSpace(a.URL),
		Publisher:   a.Source,
		PublishedAt: published,
	}
	if a.ID != 0 {
		item.ExternalID = strconv.FormatInt(a.ID, 10)
	} else {
		item.ExternalID = domain.FallbackNewsID(item.Source, item.Headline, published, item.URL)
	}
	return item
}

// Quote возвращает котировку тикера.
func (c *Client) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	var resp quoteResponse
	if err := c.get(ctx, "quote", "/quote", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return domain.Quote{}, fmt.Errorf("finnhub quote %s: %w", symbol, err)
	}
	return domain.Quote{
		Symbol:        symbol,
		Current:       resp.Current,
		Change:        resp.Change,
		PercentChange: resp.PercentChange,
		High:          resp.High,
		Low:           resp.Low,
		Open:          resp.Open,
		PreviousClose: resp.PreviousClose,
	}, nil
}

// Profile возвращает профиль компании. Пустой ответ, ErrNotFound.
func (c *Client) Profile(ctx context.Context, symbol string) (domain.CompanyProfile, error) {
	var resp profileResponse
	if err := c.get(ctx, "profile", "/stock/profile2", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return domain.CompanyProfile{}, fmt.Errorf("finnhub profile %s: %w", symbol, err)
	}
	if resp.Name == "" && resp.Ticker == "" {
		return domain.CompanyProfile{}, fmt.Errorf("finnhub profile %s: %w", symbol, domain.ErrNotFound)
	}
	return domain.CompanyProfile{
		Symbol:   symbol,
		Name:     resp.Name,
		Exchange: resp.Exchange,
		Industry: resp.Industry,
		WebURL:   resp.WebURL,
	}, nil
}

// EarningsCalendar возвращает отчётности в интервале дат включительно.
func (c *Client) EarningsCalendar(ctx context.Context, from, to time.Time) ([]domain.EarningsEvent, error) {
	query := url.Values{
		"from": {from.Format(dateLayout)},
		"to":   {to.Format(dateLayout)},
	}
	var resp earningsResponse
	if err := c.get(ctx, "earnings", "/calendar/earnings", query, &resp); err != nil {
		return nil, fmt.Errorf("finnhub earnings: %w", err)
	}
	events := make([]domain.EarningsEvent, 0, len(resp.EarningsCalendar))
	for _, e := range resp.EarningsCalendar {
		if e.Symbol == "" {
			continue
		}
		events = append(events, domain.EarningsEvent{
			Symbol:      e.Symbol,
			Date:        e.Date,
			EPSEstimate: e.EPSEstimate,
			Hour:        e.Hour,
		})
	}
	return events, nil
}

func (c *Client) get(ctx context.Context, operation, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return c.keys.Do(ctx, func(ctx context.Context, key string) error {
		header := http.Header{}
		header.Set(tokenHeader, key)
		return c.api.GetJSON(ctx, operation, endpoint, header, out)
	})
}

var (
	_ domain.NewsFetcher = (*Client)(nil)
	_ domain.MarketData  = (*Client)(nil)
)
