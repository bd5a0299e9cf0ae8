package retrieval

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"

	"github.com/mmcdole/gofeed"
)

// GoogleNewsEndpoint is the RSS search endpoint.
const GoogleNewsEndpoint = "https://news.google.com/rss/search"

// GoogleNews searches news articles through the Google News RSS feed.
type GoogleNews struct {
	fetcher  *Fetcher
	endpoint string
	language string // hl, e.g. en-US
	region   string // gl, e.g. US
}

// NewGoogleNews creates a news searcher. Empty arguments use defaults.
func NewGoogleNews(fetcher *Fetcher, endpoint, language, region string) *GoogleNews {
	if endpoint == "" {
		endpoint = GoogleNewsEndpoint
	}
	if language == "" {
		language = "en-US"
	}
	if region == "" {
		region = "US"
	}
	return &GoogleNews{fetcher: fetcher, endpoint: endpoint, language: language, region: region}
}

// Name identifies the backend.
func (g *GoogleNews) Name() string { return "googlenews" }

// ceid builds the edition identifier, e.g. US:en.
func (g *GoogleNews) ceid() string {
	lang := g.language
	if i := strings.IndexByte(lang, '-'); i > 0 {
		lang = lang[:i]
	}
	return g.region + ":" + lang
}

// Search implements types.Searcher.
func (g *GoogleNews) Search(ctx context.Context, query string, maxResults int) ([]types.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	maxResults = clampResults(maxResults)

	feedURL := fmt.Sprintf("%s?q=%s&hl=%s&gl=%s&ceid=%s",
		g.endpoint,
		url.QueryEscape(query),
		url.QueryEscape(g.language),
		url.QueryEscape(g.region),
		url.QueryEscape(g.ceid()),
	)

	page, err := g.fetcher.Get(ctx, feedURL, "application/rss+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.1")
	if err != nil {
		return nil, fmt.Errorf("google news search failed: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(page.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse news feed: %w", err)
	}

	results := make([]types.SearchResult, 0, maxResults)
	for _, item := range feed.Items {
		if len(results) >= maxResults {
			break
		}
		if item == nil || item.Link == "" {
			continue
		}
		results = append(results, types.SearchResult{
			Title:   strings.TrimSpace(item.Title),
			URL:     item.Link,
			Snippet: PlainText(item.Description),
			Source:  "googlenews",
		})
	}

	logging.Retrieval("Google News search completed: %d results for %q", len(results), query)
	return results, nil
}
