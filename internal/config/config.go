package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all deepresearch configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Completion service
	LLM LLMConfig `yaml:"llm"`

	// Pipeline stages
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Specialist SpecialistConfig `yaml:"specialist"`
	Synthesis  SynthesisConfig  `yaml:"synthesis"`

	// Content retrieval
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Browser   BrowserConfig   `yaml:"browser"`
	Cache     CacheConfig     `yaml:"cache"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Resource limits
	Limits Limits `yaml:"limits"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "deepresearch",
		Version: "0.1.0",

		LLM: LLMConfig{
			Provider:   "openai",
			Model:      "gpt-4o",
			BaseURL:    "https://api.openai.com/v1",
			Timeout:    "120s",
			MaxRetries: 3,
		},

		Discovery: DiscoveryConfig{
			Mode:             DiscoveryModeRules,
			BucketCap:        3,
			MaxSearchQueries: 5,
			ResultsPerQuery:  10,
			Temperature:      0,
		},

		Specialist: SpecialistConfig{
			Timeout:         "60s",
			MaxContentChars: 4000,
			Summarize:       false,
			Model:           "o3-mini",
			Temperature:     0.1,
		},

		Synthesis: SynthesisConfig{
			Timeout:         "180s",
			MaxRecordChars:  1500,
			MaxContextChars: 60000,
			Temperature:     0.3,
		},

		Retrieval: RetrievalConfig{
			Backends:       []string{"duckduckgo", "googlenews"},
			UserAgent:      "Mozilla/5.0 (compatible; deepresearch/0.1; +https://github.com/deepresearch)",
			RequestTimeout: "30s",
			RatePerHost:    1.0,
			Burst:          2,
			MaxBodyBytes:   2 * 1024 * 1024,
			NewsLanguage:   "en-US",
			NewsRegion:     "US",
		},

		Browser: BrowserConfig{
			Enabled:           false,
			Headless:          true,
			NavigationTimeout: "30s",
			Categories:        []string{"instagram", "linkedin", "x"},
		},

		Cache: CacheConfig{
			Enabled:    true,
			Driver:     "sqlite",
			Path:       ".deepresearch/cache.db",
			TTL:        "24h",
			MaxEntries: 500,
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Dir:       ".deepresearch/logs",
			DebugMode: false,
		},

		Limits: Limits{
			MaxConcurrentAPICalls: 4,
			RunTimeout:            "10m",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Ollama only claims the provider slot when nothing else did
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		if c.LLM.Provider == "" {
			c.LLM.Provider = "ollama"
		}
		if c.LLM.Provider == "ollama" {
			c.LLM.BaseURL = host
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if model := os.Getenv("DEEPRESEARCH_LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("DEEPRESEARCH_CACHE_DB"); path != "" {
		c.Cache.Path = path
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetSpecialistTimeout returns the per-branch specialist timeout.
func (c *Config) GetSpecialistTimeout() time.Duration {
	return parseDuration(c.Specialist.Timeout, 60*time.Second)
}

// GetSynthesisTimeout returns the synthesis call timeout.
func (c *Config) GetSynthesisTimeout() time.Duration {
	return parseDuration(c.Synthesis.Timeout, 180*time.Second)
}

// GetRequestTimeout returns the HTTP retrieval timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDuration(c.Retrieval.RequestTimeout, 30*time.Second)
}

// GetNavigationTimeout returns the headless browser navigation timeout.
func (c *Config) GetNavigationTimeout() time.Duration {
	return parseDuration(c.Browser.NavigationTimeout, 30*time.Second)
}

// GetCacheTTL returns the retrieval cache TTL.
func (c *Config) GetCacheTTL() time.Duration {
	return parseDuration(c.Cache.TTL, 24*time.Hour)
}

// GetRunTimeout returns the end-to-end run timeout.
func (c *Config) GetRunTimeout() time.Duration {
	return parseDuration(c.Limits.RunTimeout, 10*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ValidProviders lists the supported completion providers.
var ValidProviders = []string{"openai", "ollama", "gemini"}

// Validate checks the configuration for obvious errors.
func (c *Config) Validate() error {
	valid := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if c.LLM.RequiresAPIKey() && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set OPENAI_API_KEY or GEMINI_API_KEY, or use provider ollama)")
	}
	if err := c.Discovery.Validate(); err != nil {
		return err
	}
	if c.Specialist.MaxContentChars < 200 {
		return fmt.Errorf("specialist.max_content_chars must be >= 200")
	}
	if c.Synthesis.MaxRecordChars < 100 {
		return fmt.Errorf("synthesis.max_record_chars must be >= 100")
	}
	if err := c.Retrieval.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	return c.ValidateLimits()
}

// IsBrowserEnabled returns whether headless rendering is enabled.
func (c *Config) IsBrowserEnabled() bool {
	return c.Browser.Enabled
}

// DefaultConfigPath returns the default path to .deepresearch/config.yaml.
func DefaultConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ".deepresearch/config.yaml"
	}
	return filepath.Join(cwd, ".deepresearch", "config.yaml")
}
