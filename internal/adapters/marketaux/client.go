package marketaux

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"stockbot/internal/adapters/apiclient"
	"stockbot/internal/domain"
)

const (
	DefaultBaseURL = "https://api.marketaux.com/v1"
	pageLimit      = "50"
)

// Client получает ленту новостей Marketaux.
type Client struct {
	baseURL   string
	api       *apiclient.Client
	keys      *apiclient.KeyRing
	clock     domain.Clock
	freshness time.Duration
}

// New создаёт клиента Marketaux.
func New(baseURL string, keys []string, clock domain.Clock, freshness time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		api:       apiclient.New(string(domain.SourceMarketaux), 0),
		keys:      apiclient.NewKeyRing(string(domain.SourceMarketaux), keys),
		clock:     clock,
		freshness: freshness,
	}
}

type newsResponse struct {
	Data []article `json:"data"`
}

type article struct {
	UUID        string `json:"uuid"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Language    string `json:"language"`
	PublishedAt string `json:"published_at"`
	Source      string `json:"source"`
}

// Source реализует domain.NewsFetcher.
func (c *Client) Source() domain.NewsSource { return domain.SourceMarketaux }

// FetchNews возвращает свежие англоязычные новости.
func (c *Client) FetchNews(ctx context.Context) ([]domain.NewsItem, error) {
	var resp newsResponse
	err := c.keys.Do(ctx, func(ctx context.Context, key string) error {
		query := url.Values{
			"api_token": {key},
			"language":  {"en"},
			"limit":     {pageLimit},
		}
		return c.api.GetJSON(ctx, "news", c.baseURL+"/news/all?"+query.Encode(), nil, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("marketaux news: %w", err)
	}

	now := c.clock.Now()
	items := make([]domain.NewsItem, 0, len(resp.Data))
	for _, a := range resp.Data {
		if a.Language != "en" {
			continue
		}
		item, ok := toNewsItem(a)
		if !ok || !item.Fresh(now, c.freshness) {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func toNewsItem(a article) (domain.NewsItem, bool) {
	published, err := time.Parse(time.RFC3339Nano, a.PublishedAt)
	if err != nil {
		return domain.NewsItem{}, false
	}
	item := domain.NewsItem{
		Source:      domain.SourceMarketaux,
		ExternalID:  a.UUID,
		Headline:    strings.TrimSpace(a.Title),
		Summary:     strings.TrimSpace(a.Description),
		URL:         strings.TrimSpace(a.URL),
		Publisher:   a.Source,
		PublishedAt: published.UTC(),
	}
	if item.Headline == "" || item.URL == "" {
		return domain.NewsItem{}, false
	}
	if item.ExternalID == "" {
		item.ExternalID = domain.FallbackNewsID(item.Source, item.Headline, item.PublishedAt, item.URL)
	}
	return item, true
}

var _ domain.NewsFetcher = (*Client)(nil)
