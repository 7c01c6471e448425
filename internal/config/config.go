package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Gateway    GatewayConfig    `toml:"gateway"`
	Validation ValidationConfig `toml:"validation"`
	Context    ContextConfig    `toml:"context"`
	Prompts    PromptTemplates  `toml:"prompts"`
}

// Profile names. The profile only changes tuning values, never code paths.
const (
	ProfileQuality = "quality"
	ProfileFast    = "fast"
)

// PipelineConfig holds chunking, concurrency and checkpoint settings
type PipelineConfig struct {
	Profile          string `toml:"profile"`        // "quality" or "fast"
	MaxWorkers       int    `toml:"max_workers"`    // concurrent chapter workers
	ChunkSize        int    `toml:"chunk_size"`     // words per window (0 = profile default)
	Overlap          int    `toml:"overlap"`        // overlapping words (0 = profile default)
	WorkDir          string `toml:"work_dir"`       // checkpoints and outputs
	RetryAttempts    int    `toml:"retry_attempts"` // rewrite attempts per window
	RetryDelayMillis int    `toml:"retry_delay_ms"` // fixed backoff between attempts
}

// GatewayConfig represents configuration for the rewrite backend
type GatewayConfig struct {
	Backend            string  `toml:"backend"` // "openai" or "ollama"
	BaseURL            string  `toml:"base_url"`
	ModelName          string  `toml:"model_name"`
	Temperature        float64 `toml:"temperature"`
	TopP               float64 `toml:"top_p"`
	MaxOutputTokens    int     `toml:"max_output_tokens"`
	SummaryMaxTokens   int     `toml:"summary_max_tokens"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute"`
	TimeoutSeconds     int     `toml:"timeout_seconds"` // per-call timeout
}

// ValidationConfig holds the degenerate-output detection thresholds
type ValidationConfig struct {
	MinChars        int     `toml:"min_chars"`         // minimum output length
	MinUniqueRatio  float64 `toml:"min_unique_ratio"`  // token uniqueness floor
	NGramSize       int     `toml:"ngram_size"`        // repeated-sequence length
	MaxNGramRepeats int     `toml:"max_ngram_repeats"` // rejection threshold
}

// ContextConfig holds the summary and memory-tail budgets
type ContextConfig struct {
	MemoryTailChars       int `toml:"memory_tail_chars"`       // tail carried across windows
	GlobalSummaryChapters int `toml:"global_summary_chapters"` // chapters sampled for the book summary
	ChapterSampleChars    int `toml:"chapter_sample_chars"`    // per-chapter sample for the book summary
	SummaryInputCap       int `toml:"summary_input_cap"`       // max chars fed to one summarize call
}

// PromptTemplates holds all customizable prompt templates
type PromptTemplates struct {
	Rewrite string `toml:"rewrite"`
	Summary string `toml:"summary"`
	Smooth  string `toml:"smooth"`
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKeys map[string]string
}

// MaxWorkersLimit is the maximum allowed chapter concurrency.
const MaxWorkersLimit = 64

// FastMode reports whether the fast profile is active. Fast mode skips
// summarization and transition smoothing and uses larger windows.
func (c *Config) FastMode() bool {
	return c.Pipeline.Profile == ProfileFast
}

// GatewayTimeout returns the per-call timeout as a duration.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

// RetryDelay returns the fixed backoff between rewrite attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Pipeline.RetryDelayMillis) * time.Millisecond
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Pipeline.Profile != ProfileQuality && c.Pipeline.Profile != ProfileFast {
		return fmt.Errorf("pipeline.profile must be %q or %q (got %q)", ProfileQuality, ProfileFast, c.Pipeline.Profile)
	}
	if c.Pipeline.MaxWorkers < 1 {
		return fmt.Errorf("pipeline.max_workers must be at least 1")
	}
	if c.Pipeline.MaxWorkers > MaxWorkersLimit {
		return fmt.Errorf("pipeline.max_workers must not exceed %d (got %d)", MaxWorkersLimit, c.Pipeline.MaxWorkers)
	}
	if c.Pipeline.ChunkSize < 1 {
		return fmt.Errorf("pipeline.chunk_size must be at least 1")
	}
	if c.Pipeline.Overlap < 0 {
		return fmt.Errorf("pipeline.overlap must not be negative")
	}
	if c.Pipeline.Overlap >= c.Pipeline.ChunkSize {
		return fmt.Errorf("pipeline.overlap (%d) must be smaller than pipeline.chunk_size (%d)", c.Pipeline.Overlap, c.Pipeline.ChunkSize)
	}
	if c.Pipeline.RetryAttempts < 1 {
		return fmt.Errorf("pipeline.retry_attempts must be at least 1")
	}
	if c.Pipeline.RetryDelayMillis < 0 {
		return fmt.Errorf("pipeline.retry_delay_ms must not be negative")
	}

	if c.Gateway.Backend != "openai" && c.Gateway.Backend != "ollama" {
		return fmt.Errorf("gateway.backend must be \"openai\" or \"ollama\" (got %q)", c.Gateway.Backend)
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if c.Gateway.ModelName == "" {
		return fmt.Errorf("gateway.model_name is required")
	}
	if c.Gateway.Temperature < 0 || c.Gateway.Temperature > 2 {
		return fmt.Errorf("gateway.temperature must be between 0 and 2")
	}
	if c.Gateway.TopP < 0 || c.Gateway.TopP > 1 {
		return fmt.Errorf("gateway.top_p must be between 0 and 1")
	}
	if c.Gateway.MaxOutputTokens < 1 {
		return fmt.Errorf("gateway.max_output_tokens must be at least 1")
	}
	if c.Gateway.RateLimitPerMinute < 1 {
		return fmt.Errorf("gateway.rate_limit_per_minute must be at least 1")
	}
	if c.Gateway.TimeoutSeconds < 1 {
		return fmt.Errorf("gateway.timeout_seconds must be at least 1")
	}

	if c.Validation.MinChars < 1 {
		return fmt.Errorf("validation.min_chars must be at least 1")
	}
	if c.Validation.MinUniqueRatio < 0 || c.Validation.MinUniqueRatio > 1 {
		return fmt.Errorf("validation.min_unique_ratio must be between 0 and 1")
	}
	if c.Validation.NGramSize < 2 {
		return fmt.Errorf("validation.ngram_size must be at least 2")
	}
	if c.Validation.MaxNGramRepeats < 2 {
		return fmt.Errorf("validation.max_ngram_repeats must be at least 2")
	}

	if c.Context.MemoryTailChars < 0 {
		return fmt.Errorf("context.memory_tail_chars must not be negative")
	}
	if c.Context.GlobalSummaryChapters < 1 {
		return fmt.Errorf("context.global_summary_chapters must be at least 1")
	}
	if c.Context.SummaryInputCap < 1 {
		return fmt.Errorf("context.summary_input_cap must be at least 1")
	}

	if c.Prompts.Rewrite == "" {
		return fmt.Errorf("prompts.rewrite is required")
	}
	if c.Prompts.Summary == "" {
		return fmt.Errorf("prompts.summary is required")
	}
	if c.Prompts.Smooth == "" {
		return fmt.Errorf("prompts.smooth is required")
	}

	return nil
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{
		APIKeys: make(map[string]string),
	}

	// Generic API key (provider-agnostic)
	if key := os.Getenv("API_KEY"); key != "" {
		secrets.APIKeys["generic"] = key
	}

	// Provider-specific keys override the generic one
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		secrets.APIKeys["openai"] = key
	}
	if key := os.Getenv("TOGETHER_API_KEY"); key != "" {
		secrets.APIKeys["together"] = key
	}
	if key := os.Getenv("HF_TOKEN"); key != "" {
		secrets.APIKeys["huggingface"] = key
	}

	return secrets, nil
}

// GetAPIKey returns the API key for a given base URL
func (s *Secrets) GetAPIKey(baseURL string) string {
	if strings.Contains(baseURL, "openai.com") {
		if key := s.APIKeys["openai"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "together.xyz") || strings.Contains(baseURL, "together.ai") {
		if key := s.APIKeys["together"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "huggingface.co") {
		if key := s.APIKeys["huggingface"]; key != "" {
			return key
		}
	}

	// Fall back to the generic API_KEY for any compatible provider
	if key := s.APIKeys["generic"]; key != "" {
		return key
	}

	// No key configured; may be a local server without auth
	return ""
}
