package config

import "fmt"

// Discovery classifier modes.
const (
	DiscoveryModeRules = "rules"
	DiscoveryModeLLM   = "llm"
)

// DiscoveryConfig configures query expansion and bucket classification.
type DiscoveryConfig struct {
	Mode             string  `yaml:"mode"`               // rules, llm
	BucketCap        int     `yaml:"bucket_cap"`         // Max identifiers per category
	MaxSearchQueries int     `yaml:"max_search_queries"` // Bounded retrieval fan-out
	ResultsPerQuery  int     `yaml:"results_per_query"`
	Model            string  `yaml:"model"`
	Temperature      float64 `yaml:"temperature"`
}

// Validate checks discovery settings.
func (d DiscoveryConfig) Validate() error {
	if d.Mode != DiscoveryModeRules && d.Mode != DiscoveryModeLLM {
		return fmt.Errorf("invalid discovery mode: %s (valid: rules, llm)", d.Mode)
	}
	if d.BucketCap < 1 || d.BucketCap > 20 {
		return fmt.Errorf("discovery.bucket_cap must be between 1 and 20")
	}
	if d.MaxSearchQueries < 1 {
		return fmt.Errorf("discovery.max_search_queries must be >= 1")
	}
	if d.ResultsPerQuery < 1 {
		return fmt.Errorf("discovery.results_per_query must be >= 1")
	}
	return nil
}

// SpecialistConfig configures the per-category processors.
type SpecialistConfig struct {
	Timeout         string  `yaml:"timeout"` // Per-branch deadline
	MaxContentChars int     `yaml:"max_content_chars"`
	Summarize       bool    `yaml:"summarize"` // Rewrite extracted content through the completion service
	Model           string  `yaml:"model"`
	Temperature     float64 `yaml:"temperature"`
}

// SynthesisConfig configures the final answer stage.
type SynthesisConfig struct {
	Timeout         string  `yaml:"timeout"`
	MaxRecordChars  int     `yaml:"max_record_chars"`  // Per-record summary budget in the prompt
	MaxContextChars int     `yaml:"max_context_chars"` // Whole evidence block budget
	Model           string  `yaml:"model"`
	Temperature     float64 `yaml:"temperature"`
}

// RetrievalConfig configures search backends and HTTP fetching.
type RetrievalConfig struct {
	Backends       []string `yaml:"backends"` // duckduckgo, googlenews
	UserAgent      string   `yaml:"user_agent"`
	RequestTimeout string   `yaml:"request_timeout"`
	RatePerHost    float64  `yaml:"rate_per_host"` // Requests per second per host
	Burst          int      `yaml:"burst"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
	NewsLanguage   string   `yaml:"news_language"`
	NewsRegion     string   `yaml:"news_region"`
}

// ValidBackends lists the supported search backends.
var ValidBackends = []string{"duckduckgo", "googlenews"}

// Validate checks retrieval settings.
func (r RetrievalConfig) Validate() error {
	if len(r.Backends) == 0 {
		return fmt.Errorf("retrieval.backends must name at least one backend")
	}
	for _, b := range r.Backends {
		ok := false
		for _, v := range ValidBackends {
			if b == v {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("invalid retrieval backend: %s (valid: %v)", b, ValidBackends)
		}
	}
	if r.RatePerHost <= 0 {
		return fmt.Errorf("retrieval.rate_per_host must be > 0")
	}
	return nil
}

// BrowserConfig configures headless rendering for script-heavy platforms.
type BrowserConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Headless          bool     `yaml:"headless"`
	ControlURL        string   `yaml:"control_url"` // Attach to a running browser instead of launching one
	NavigationTimeout string   `yaml:"navigation_timeout"`
	Categories        []string `yaml:"categories"` // Categories rendered through the browser
}

// CacheConfig configures the retrieval cache.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Driver     string `yaml:"driver"` // sqlite (pure Go), sqlite3 (cgo), memory
	Path       string `yaml:"path"`
	TTL        string `yaml:"ttl"`
	MaxEntries int    `yaml:"max_entries"`
}

// Validate checks cache settings.
func (c CacheConfig) Validate() error {
	switch c.Driver {
	case "sqlite", "sqlite3", "memory":
	default:
		return fmt.Errorf("invalid cache driver: %s (valid: sqlite, sqlite3, memory)", c.Driver)
	}
	if c.Enabled && c.Driver != "memory" && c.Path == "" {
		return fmt.Errorf("cache.path is required for driver %s", c.Driver)
	}
	return nil
}

// IsPersistent reports whether the cache is backed by a database file.
func (c CacheConfig) IsPersistent() bool {
	return c.Enabled && c.Driver != "memory"
}
