package config

// LLMConfig configures the completion service.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai, ollama, gemini
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	MaxRetries  int     `yaml:"max_retries"`
	Temperature float64 `yaml:"temperature"`
}

// RequiresAPIKey reports whether the provider needs credentials.
func (l LLMConfig) RequiresAPIKey() bool {
	return l.Provider != "ollama"
}

// Stage names accepted by ForStage.
const (
	StageDiscovery  = "discovery"
	StageSpecialist = "specialist"
	StageSynthesis  = "synthesis"
)

// ForStage returns the LLM settings for one pipeline stage.
// Stage model and temperature override the shared values when set; synthesis
// also carries its own call timeout.
func (c *Config) ForStage(stage string) LLMConfig {
	out := c.LLM
	switch stage {
	case StageDiscovery:
		if c.Discovery.Model != "" {
			out.Model = c.Discovery.Model
		}
		out.Temperature = c.Discovery.Temperature
	case StageSpecialist:
		if c.Specialist.Model != "" {
			out.Model = c.Specialist.Model
		}
		out.Temperature = c.Specialist.Temperature
	case StageSynthesis:
		if c.Synthesis.Model != "" {
			out.Model = c.Synthesis.Model
		}
		out.Temperature = c.Synthesis.Temperature
		if c.Synthesis.Timeout != "" {
			out.Timeout = c.Synthesis.Timeout
		}
	}
	return out
}
