package retrieval

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"

	"golang.org/x/net/html"
)

// DuckDuckGoEndpoint is the HTML search interface (no API key required).
const DuckDuckGoEndpoint = "https://html.duckduckgo.com/html/"

// maxResultsCap bounds a single search call.
const maxResultsCap = 30

// DuckDuckGo searches the DuckDuckGo HTML interface.
type DuckDuckGo struct {
	fetcher  *Fetcher
	endpoint string
}

// NewDuckDuckGo creates a searcher. An empty endpoint uses DuckDuckGoEndpoint.
func NewDuckDuckGo(fetcher *Fetcher, endpoint string) *DuckDuckGo {
	if endpoint == "" {
		endpoint = DuckDuckGoEndpoint
	}
	return &DuckDuckGo{fetcher: fetcher, endpoint: endpoint}
}

// Name identifies the backend.
func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search implements types.Searcher.
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]types.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	maxResults = clampResults(maxResults)

	logging.RetrievalDebug("DuckDuckGo search: query=%q, max_results=%d", query, maxResults)

	searchURL := fmt.Sprintf("%s?q=%s", d.endpoint, url.QueryEscape(query))
	page, err := d.fetcher.Get(ctx, searchURL, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, fmt.Errorf("duckduckgo search failed: %w", err)
	}

	results, err := parseDuckDuckGoResults(page.Body, maxResults)
	if err != nil {
		return nil, err
	}
	logging.Retrieval("DuckDuckGo search completed: %d results for %q", len(results), query)
	return results, nil
}

func clampResults(n int) int {
	if n <= 0 {
		return 10
	}
	if n > maxResultsCap {
		return maxResultsCap
	}
	return n
}

// parseDuckDuckGoResults extracts search results from DuckDuckGo HTML.
func parseDuckDuckGoResults(htmlContent string, maxResults int) ([]types.SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var results []types.SearchResult

	// DuckDuckGo HTML uses class="result results_links" for search results
	var findResults func(*html.Node)
	findResults = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}

		if n.Type == html.ElementNode && n.Data == "div" {
			class := getAttr(n, "class")
			if strings.Contains(class, "result") && strings.Contains(class, "results_links") {
				result := extractResult(n)
				if result.URL != "" && result.Title != "" {
					results = append(results, result)
				}
				return
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findResults(c)
		}
	}

	findResults(doc)
	return results, nil
}

// extractResult extracts a single search result from a result div.
func extractResult(n *html.Node) types.SearchResult {
	result := types.SearchResult{Source: "duckduckgo"}

	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			class := getAttr(n, "class")
			switch {
			case strings.Contains(class, "result__a"):
				result.URL = getAttr(n, "href")
				result.Title = textContent(n)
			case strings.Contains(class, "result__snippet"):
				result.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)

	result.URL = unwrapRedirect(result.URL)
	return result
}

// unwrapRedirect resolves //duckduckgo.com/l/?uddg=<target> links.
func unwrapRedirect(href string) string {
	if !strings.Contains(href, "duckduckgo.com/l/") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get("uddg")
}
