package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "300ms" or "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all configuration for the client
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Auth     AuthConfig     `yaml:"auth"`
	Cache    CacheConfig    `yaml:"cache"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Search   SearchConfig   `yaml:"search"`
	Log      LogConfig      `yaml:"log"`
}

// BackendConfig holds the remote service endpoints
type BackendConfig struct {
	BaseURL string `yaml:"base_url"` // e.g. https://api.example.com/api/v1
	WSURL   string `yaml:"ws_url"`   // e.g. wss://api.example.com/ws
	Local   bool   `yaml:"local"`    // run against an embedded in-memory backend
}

// AuthConfig holds the stored access token
type AuthConfig struct {
	AccessToken string `yaml:"access_token"`
}

// CacheConfig holds profile cache tuning
type CacheConfig struct {
	TTL Duration `yaml:"ttl"`
}

// RealtimeConfig holds change-feed tuning
type RealtimeConfig struct {
	Debounce         Duration `yaml:"debounce"`
	ReconnectBackoff Duration `yaml:"reconnect_backoff"`
}

// SearchConfig holds search input tuning
type SearchConfig struct {
	Debounce Duration `yaml:"debounce"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a YAML file and applies defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config usable without a file, in local mode.
func Default() *Config {
	cfg := &Config{}
	cfg.Backend.Local = true
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = Duration(30 * time.Minute)
	}
	if c.Realtime.Debounce <= 0 {
		c.Realtime.Debounce = Duration(300 * time.Millisecond)
	}
	if c.Realtime.ReconnectBackoff <= 0 {
		c.Realtime.ReconnectBackoff = Duration(2 * time.Second)
	}
	if c.Search.Debounce <= 0 {
		c.Search.Debounce = Duration(400 * time.Millisecond)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
