// Package config handles todochat configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/todochat/config.yaml, /etc/todochat/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "todochat", "config.yaml"))
	}

	paths = append(paths, "/etc/todochat/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all todochat configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Completion CompletionConfig `yaml:"completion"`
	Agent      AgentConfig      `yaml:"agent"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Auth       AuthConfig       `yaml:"auth"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// CompletionConfig defines the chat-completions provider connection.
type CompletionConfig struct {
	BaseURL string `yaml:"base_url"` // OpenAI-compatible endpoint
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// TimeoutSec bounds a single completion request (default 60).
	TimeoutSec int `yaml:"timeout_sec"`
}

// Timeout returns the per-request completion timeout.
func (c CompletionConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	// HistoryLimit is the maximum number of turns loaded as model context.
	HistoryLimit int `yaml:"history_limit"`
	// MaxToolIterations bounds the model/tool round-trips per turn.
	MaxToolIterations int `yaml:"max_tool_iterations"`
	// CompletionRetries is the number of attempts against the completion
	// provider before the turn fails as unavailable.
	CompletionRetries int `yaml:"completion_retries"`
}

// RateLimitConfig throttles chat requests per user.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// AuthConfig defines how bearer tokens map to user identities.
// Tokens is a static token → user id map for development and testing;
// production deployments front this service with a real identity provider.
type AuthConfig struct {
	Tokens map[string]int64 `yaml:"tokens"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Completion: CompletionConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Agent: AgentConfig{
			HistoryLimit:      50,
			MaxToolIterations: 5,
			CompletionRetries: 3,
		},
		RateLimit: RateLimitConfig{RPS: 5, Burst: 10},
		DataDir:   ".",
	}
}
