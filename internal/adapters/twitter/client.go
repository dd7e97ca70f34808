package twitter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"stockbot/internal/adapters/apiclient"
	"stockbot/internal/domain"
)

const (
	DefaultBaseURL  = "https://api.twitter.com/2"
	maxResults      = "50"
	maxHeadlineRune = 200
)

// Client ищет свежие твиты заданных аккаунтов через X API v2.
type Client struct {
	baseURL  string
	api      *apiclient.Client
	token    string
	accounts []string
	clock    domain.Clock
	fresh    time.Duration
}

// New создаёт клиента. Пустой список аккаунтов отключает источник.
func New(baseURL, bearerToken string, accounts []string, clock domain.Clock, freshness time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cleaned := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if a = strings.TrimPrefix(strings.TrimSpace(a), "@"); a != "" {
			cleaned = append(cleaned, a)
		}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		api:      apiclient.New(string(domain.SourceTwitter), 0),
		token:    bearerToken,
		accounts: cleaned,
		clock:    clock,
		fresh:    freshness,
	}
}

type searchResponse struct {
	Data []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		AuthorID  string `json:"author_id"`
		CreatedAt string `json:"created_at"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Name     string `json:"name"`
		} `json:"users"`
	} `json:"includes"`
}

// Source реализует domain.NewsFetcher.
func (c *Client) Source() domain.NewsSource { return domain.SourceTwitter }

// Query возвращает поисковый запрос по аккаунтам.
func (c *Client) Query() string {
	parts := make([]string, 0, len(c.accounts))
	for _, a := range c.accounts {
		parts = append(parts, "from:"+a)
	}
	return strings.Join(parts, " OR ")
}

// FetchNews возвращает свежие твиты отслеживаемых аккаунтов.
func (c *Client) FetchNews(ctx context.Context) ([]domain.NewsItem, error) {
	if len(c.accounts) == 0 {
		return nil, nil
	}
	query := url.Values{
		"query":        {c.Query()},
		"max_results":  {maxResults},
		"tweet.fields": {"created_at,author_id"},
		"expansions":   {"author_id"},
		"user.fields":  {"username,name"},
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	var resp searchResponse
	if err := c.api.GetJSON(ctx, "search", c.baseURL+"/tweets/search/recent?"+query.Encode(), header, &resp); err != nil {
		return nil, fmt.Errorf("twitter search: %w", err)
	}

	users := make(map[string]string, len(resp.Includes.Users))
	names := make(map[string]string, len(resp.Includes.Users))
	for _, u := range resp.Includes.Users {
		users[u.ID] = u.Username
		names[u.ID] = u.Name
	}

	now := c.clock.Now()
	items := make([]domain.NewsItem, 0, len(resp.Data))
	for _, tw := range resp.Data {
		published, err := time.Parse(time.RFC3339, tw.CreatedAt)
		if err != nil {
			continue
		}
		username := users[tw.AuthorID]
		if username == "" {
			username = "i"
		}
		text := strings.TrimSpace(tw.Text)
		item := domain.NewsItem{
			Source:      domain.SourceTwitter,
			ExternalID:  tw.ID,
			Headline:    headline(text),
			Summary:     text,
			URL:         fmt.Sprintf("https://x.com/%s/status/%s", username, tw.ID),
			Publisher:   names[tw.AuthorID],
			PublishedAt: published.UTC(),
		}
		if item.ExternalID == "" {
			item.ExternalID = domain.FallbackNewsID(item.Source, item.Headline, item.PublishedAt, item.URL)
		}
		if item.Headline == "" || !item.Fresh(now, c.fresh) {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// headline берёт первую строку текста, обрезая её до лимита.
func headline(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) <= maxHeadlineRune {
		return line
	}
	runes := []rune(line)
	return string(runes[:maxHeadlineRune-1]) + "…"
}

var _ domain.NewsFetcher = (*Client)(nil)
