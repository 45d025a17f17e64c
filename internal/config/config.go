// Package config loads scrapeforge configuration from a YAML file with
// environment overrides. A missing file yields the defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all scrapeforge configuration.
type Config struct {
	// HTTP listen address for the serve command
	ListenAddr string `yaml:"listen_addr"`

	// LLM configuration for the code-generation capability
	LLM LLMConfig `yaml:"llm"`

	// Sandbox execution settings
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Refinement loop settings
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Storage
	DatabasePath string `yaml:"database_path"`
}

// LLMConfig configures the generation provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

// SandboxConfig configures scraper execution. Timeout is a duration
// string ("60s", "2m").
type SandboxConfig struct {
	Mode       string `yaml:"mode"` // interpreted, subprocess
	Timeout    string `yaml:"timeout"`
	CaptureCap int    `yaml:"capture_cap"` // bytes retained per stream
}

// ExecTimeout parses the sandbox timeout, falling back to 60s.
func (s SandboxConfig) ExecTimeout() time.Duration {
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// PipelineConfig configures the refinement loop.
type PipelineConfig struct {
	MaxIterations int `yaml:"max_iterations"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8080",
		LLM: LLMConfig{
			Provider: "gemini",
		},
		Sandbox: SandboxConfig{
			Mode:       "interpreted",
			Timeout:    "60s",
			CaptureCap: 64 * 1024,
		},
		Pipeline: PipelineConfig{
			MaxIterations: 5,
		},
		DatabasePath: filepath.Join(".", "scrapeforge.db"),
	}
}

// Load reads configuration from a YAML file, falling back to defaults
// when the file does not exist, then applies environment overrides.
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

// Save writes the configuration to a YAML file.
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

// applyEnvOverrides applies environment variable overrides. API keys
// are checked in provider priority order.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "gemini"
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("SCRAPEFORGE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("SCRAPEFORGE_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if addr := os.Getenv("SCRAPEFORGE_LISTEN"); addr != "" {
		c.ListenAddr = addr
	}
	if path := os.Getenv("SCRAPEFORGE_DB"); path != "" {
		c.DatabasePath = path
	}
	if timeout := os.Getenv("SCRAPEFORGE_SANDBOX_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil && d > 0 {
			c.Sandbox.Timeout = timeout
		}
	}
}

// Validate checks the configuration for values the pipeline cannot run
// with.
func (c *Config) Validate() error {
	if c.Pipeline.MaxIterations < 1 {
		return fmt.Errorf("pipeline.max_iterations must be >= 1, got %d", c.Pipeline.MaxIterations)
	}
	if _, err := time.ParseDuration(c.Sandbox.Timeout); err != nil {
		return fmt.Errorf("sandbox.timeout is not a duration: %q", c.Sandbox.Timeout)
	}
	switch c.Sandbox.Mode {
	case "interpreted", "subprocess":
	default:
		return fmt.Errorf("unknown sandbox mode %q", c.Sandbox.Mode)
	}
	return nil
}
