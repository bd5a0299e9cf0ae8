// Package browser renders script-heavy pages in headless Chromium so their
// social metadata is present in the HTML handed to extractors.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"deepresearch/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Config configures the renderer.
type Config struct {
	DebuggerURL       string        // Attach to a running Chrome instead of launching
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		ViewportWidth:     1366,
		ViewportHeight:    900,
		NavigationTimeout: 30 * time.Second,
	}
}

// GetNavigationTimeout returns the navigation timeout.
func (c Config) GetNavigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}

// Renderer owns one browser process shared by all render calls.
type Renderer struct {
	cfg Config

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
}

// NewRenderer creates a renderer. The browser starts lazily on first use.
func NewRenderer(cfg Config) *Renderer {
	return &Renderer{cfg: cfg}
}

// Start connects to an existing Chrome or launches a new one.
func (r *Renderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		if _, err := r.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserWarn("Stale browser connection detected, reconnecting")
		_ = r.browser.Close()
		r.browser = nil
		r.controlURL = ""
	}

	controlURL := r.cfg.DebuggerURL
	if controlURL == "" {
		u, err := launcher.New().Headless(r.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("no debugger_url and failed to launch: %w", err)
		}
		controlURL = u
	}

	// The browser outlives any single request context.
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	r.browser = b
	r.controlURL = controlURL
	logging.Browser("Browser connected: %s", controlURL)
	return nil
}

func (r *Renderer) ensureStarted(ctx context.Context) (*rod.Browser, error) {
	r.mu.RLock()
	b := r.browser
	r.mu.RUnlock()
	if b != nil {
		return b, nil
	}
	if err := r.Start(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.browser == nil {
		return nil, errors.New("browser not connected")
	}
	return r.browser, nil
}

// IsConnected returns whether the browser is connected.
func (r *Renderer) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.browser != nil
}

// Render loads pageURL in a fresh incognito page and returns the final HTML.
func (r *Renderer) Render(ctx context.Context, pageURL string) (string, error) {
	b, err := r.ensureStarted(ctx)
	if err != nil {
		return "", err
	}

	incognito, err := b.Incognito()
	if err != nil {
		return "", fmt.Errorf("incognito context: %w", err)
	}
	defer incognito.Close()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             r.cfg.ViewportWidth,
		Height:            r.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		logging.BrowserDebug("failed to set viewport: %v", err)
	}

	start := time.Now()
	p := page.Context(ctx).Timeout(r.cfg.GetNavigationTimeout())
	if err := p.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load %s: %w", pageURL, err)
	}

	html, err := p.HTML()
	if err != nil {
		return "", fmt.Errorf("read html %s: %w", pageURL, err)
	}
	logging.BrowserDebug("Rendered %s (%d bytes, %v)", pageURL, len(html), time.Since(start))
	return html, nil
}

// Shutdown closes the browser.
func (r *Renderer) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	r.controlURL = ""
	return err
}
