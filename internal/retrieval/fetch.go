// Package retrieval implements the content retrieval service: search
// backends, rate-limited HTTP fetching and HTML to markdown conversion.
package retrieval

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deepresearch/internal/logging"
)

// Renderer produces the final HTML of a page after scripts run.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// FetcherConfig configures HTTP retrieval.
type FetcherConfig struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	RatePerHost  float64
	Burst        int
}

// DefaultFetcherConfig returns sensible defaults.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		UserAgent:    "Mozilla/5.0 (compatible; deepresearch/0.1)",
		Timeout:      30 * time.Second,
		MaxBodyBytes: 2 << 20, // 2MB
		RatePerHost:  1.0,
		Burst:        2,
	}
}

// Page is a fetched document.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        string
	Rendered    bool
}

// HTTPError reports a non-200 response.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// Fetcher performs rate-limited GET requests.
type Fetcher struct {
	client  *http.Client
	config  FetcherConfig
	limiter *HostLimiter
	cache   *Cache
}

// NewFetcher creates a fetcher. cache may be nil.
func NewFetcher(cfg FetcherConfig, cache *Cache) *Fetcher {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultFetcherConfig().MaxBodyBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetcherConfig().Timeout
	}
	if cfg.RatePerHost <= 0 {
		cfg.RatePerHost = DefaultFetcherConfig().RatePerHost
	}
	return &Fetcher{
		client:  &http.Client{Timeout: cfg.Timeout},
		config:  cfg,
		limiter: NewHostLimiter(cfg.RatePerHost, cfg.Burst),
		cache:   cache,
	}
}

// Get fetches rawURL with the given Accept header.
func (f *Fetcher) Get(ctx context.Context, rawURL, accept string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	if err := f.limiter.Wait(ctx, u.Hostname()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	if accept == "" {
		accept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{URL: rawURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	logging.RetrievalDebug("GET %s -> %d (%d bytes, %v)", rawURL, resp.StatusCode, len(body), time.Since(start))
	return &Page{
		URL:         rawURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        string(body),
	}, nil
}

// Fetch retrieves a page for extraction, consulting the cache first.
// When renderer is non-nil the page is rendered in a browser instead.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, renderer Renderer) (*Page, error) {
	namespace := "page"
	if renderer != nil {
		namespace = "rendered"
	}
	key := HashKey(pageURL)

	if f.cache != nil {
		if body, ok := f.cache.Get(ctx, namespace, key); ok {
			logging.RetrievalDebug("page cache hit: %s", pageURL)
			return &Page{URL: pageURL, StatusCode: http.StatusOK, ContentType: "text/html", Body: body, Rendered: renderer != nil}, nil
		}
	}

	var page *Page
	if renderer != nil {
		u, err := url.Parse(pageURL)
		if err != nil {
			return nil, fmt.Errorf("invalid URL %q: %w", pageURL, err)
		}
		if err := f.limiter.Wait(ctx, u.Hostname()); err != nil {
			return nil, err
		}
		body, err := renderer.Render(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", pageURL, err)
		}
		page = &Page{URL: pageURL, StatusCode: http.StatusOK, ContentType: "text/html", Body: body, Rendered: true}
	} else {
		var err error
		page, err = f.Get(ctx, pageURL, "")
		if err != nil {
			return nil, err
		}
	}

	if f.cache != nil && isHTMLOrText(page.ContentType) {
		f.cache.Set(ctx, namespace, key, page.Body)
	}
	return page, nil
}

func isHTMLOrText(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "html") || strings.HasPrefix(ct, "text/")
}
