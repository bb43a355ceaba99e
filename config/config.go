// Package config provides configuration loading and management for Semflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Semflow configuration.
type Config struct {
	Model        ModelConfig        `yaml:"model"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	NATS         NATSConfig         `yaml:"nats"`
	Watch        WatchConfig        `yaml:"watch"`
}

// ModelConfig configures the LLM agent runtime.
type ModelConfig struct {
	// Provider selects the LLM provider ("ollama", "openai", "anthropic").
	Provider string `yaml:"provider"`
	// Default is the default model to use (e.g., "qwen2.5-coder:32b")
	Default string `yaml:"default"`
	// Endpoint is the provider API endpoint (default: http://localhost:11434/v1)
	Endpoint string `yaml:"endpoint"`
	// Temperature controls randomness (0.0-1.0, default: 0.2)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// OrchestratorConfig configures workflow execution defaults. Workflows may
// override concurrency and the per-task timeout at submission.
type OrchestratorConfig struct {
	// Concurrency bounds simultaneous task dispatches per workflow.
	Concurrency int `yaml:"concurrency"`
	// TaskTimeout bounds one task's worker and QC calls together.
	TaskTimeout time.Duration `yaml:"task_timeout"`
	// EventBuffer is the per-subscription event buffer size.
	EventBuffer int `yaml:"event_buffer"`
}

// NATSConfig configures the NATS connection used for graph persistence,
// execution checkpoints, and the event bridge.
type NATSConfig struct {
	// URL is the NATS server URL. Empty disables NATS-backed features.
	URL string `yaml:"url"`
	// SubjectPrefix is prepended to bridged event subjects.
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Enabled reports whether NATS-backed features are on.
func (c *NATSConfig) Enabled() bool {
	return c.URL != ""
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	// Debounce is the quiet period before changed files are submitted.
	Debounce time.Duration `yaml:"debounce"`
	// Include lists doublestar globs changed files must match.
	Include []string `yaml:"include"`
	// Exclude lists doublestar globs that suppress matches.
	Exclude []string `yaml:"exclude"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "ollama",
			Default:     "qwen2.5-coder:32b",
			Endpoint:    "http://localhost:11434/v1",
			Temperature: 0.2,
			Timeout:     5 * time.Minute,
		},
		Orchestrator: OrchestratorConfig{
			Concurrency: 3,
			TaskTimeout: 10 * time.Minute,
			EventBuffer: 256,
		},
		NATS: NATSConfig{
			URL:           "",
			SubjectPrefix: "semflow.event",
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
			Include:  []string{"**/*.yaml", "**/*.yml", "**/*.json"},
			Exclude:  []string{".git/**", "node_modules/**", "vendor/**"},
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Model.Default == "" {
		return fmt.Errorf("model.default is required")
	}
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Orchestrator.Concurrency < 1 {
		return fmt.Errorf("orchestrator.concurrency must be >= 1")
	}
	if c.Orchestrator.TaskTimeout <= 0 {
		return fmt.Errorf("orchestrator.task_timeout must be positive")
	}
	if c.Orchestrator.EventBuffer < 1 {
		return fmt.Errorf("orchestrator.event_buffer must be >= 1")
	}
	if c.Watch.Debounce <= 0 {
		return fmt.Errorf("watch.debounce must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Model
	if other.Model.Provider != "" {
		c.Model.Provider = other.Model.Provider
	}
	if other.Model.Default != "" {
		c.Model.Default = other.Model.Default
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	// Orchestrator
	if other.Orchestrator.Concurrency != 0 {
		c.Orchestrator.Concurrency = other.Orchestrator.Concurrency
	}
	if other.Orchestrator.TaskTimeout != 0 {
		c.Orchestrator.TaskTimeout = other.Orchestrator.TaskTimeout
	}
	if other.Orchestrator.EventBuffer != 0 {
		c.Orchestrator.EventBuffer = other.Orchestrator.EventBuffer
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}

	// Watch
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if len(other.Watch.Include) > 0 {
		c.Watch.Include = other.Watch.Include
	}
	if len(other.Watch.Exclude) > 0 {
		c.Watch.Exclude = other.Watch.Exclude
	}
}
