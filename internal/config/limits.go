package config

import "fmt"

// Limits enforces run-wide resource constraints.
type Limits struct {
	MaxConcurrentAPICalls int    `yaml:"max_concurrent_api_calls" json:"max_concurrent_api_calls"` // Max simultaneous LLM API calls
	RunTimeout            string `yaml:"run_timeout" json:"run_timeout"`                           // End-to-end deadline
}

// ValidateLimits checks that limits are within acceptable ranges.
func (c *Config) ValidateLimits() error {
	if c.Limits.MaxConcurrentAPICalls < 1 {
		return fmt.Errorf("max_concurrent_api_calls must be >= 1")
	}
	if c.Limits.MaxConcurrentAPICalls > 32 {
		return fmt.Errorf("max_concurrent_api_calls must be <= 32")
	}
	return nil
}
