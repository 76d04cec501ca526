// Package config loads service configuration from an optional YAML file
// with environment variables expanded, then applies env overrides so the
// service also runs fully env-configured.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML durations in the "10m" / "24h" notation. The yaml
// package only maps integers onto time.Duration, which nobody writes by hand.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(n)
	return nil
}

// Std converts back to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all gridprompt configuration.
type Config struct {
	Listen    string                    `yaml:"listen"`
	Store     StoreConfig               `yaml:"store"`
	Cache     CacheConfig               `yaml:"cache"`
	Limits    LimitsConfig              `yaml:"limits"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// StoreConfig selects the durable cache backend.
type StoreConfig struct {
	Backend    string `yaml:"backend"` // "redis", "sqlite" or "off"
	RedisAddr  string `yaml:"redis_addr"`
	SQLitePath string `yaml:"sqlite_path"`
}

// CacheConfig fixes the tier sizes and freshness windows.
type CacheConfig struct {
	MemoryCapacity    int      `yaml:"memory_capacity"`
	MemoryTTL         Duration `yaml:"memory_ttl"`
	DurableTTL        Duration `yaml:"durable_ttl"`
	DurableMaxEntries int      `yaml:"durable_max_entries"`
	KeyPrefix         string   `yaml:"key_prefix"`
}

// LimitsConfig bounds concurrency and attempt pacing.
type LimitsConfig struct {
	MaxConcurrent  int      `yaml:"max_concurrent"`
	DefaultTimeout Duration `yaml:"default_timeout"`
	BaseBackoff    Duration `yaml:"base_backoff"`
	LogMax         int      `yaml:"log_max"`
}

// ProviderConfig defines one upstream LLM vendor.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Store: StoreConfig{
			Backend:    "sqlite",
			RedisAddr:  "127.0.0.1:6379",
			SQLitePath: "gridprompt.db",
		},
		Cache: CacheConfig{
			MemoryCapacity:    500,
			MemoryTTL:         Duration(10 * time.Minute),
			DurableTTL:        Duration(24 * time.Hour),
			DurableMaxEntries: 200,
			KeyPrefix:         "gridprompt",
		},
		Limits: LimitsConfig{
			MaxConcurrent:  2,
			DefaultTimeout: Duration(30 * time.Second),
			BaseBackoff:    Duration(100 * time.Millisecond),
			LogMax:         50,
		},
		Providers: map[string]ProviderConfig{
			"openai": {BaseURL: "https://api.openai.com"},
			"gemini": {BaseURL: "https://generativelanguage.googleapis.com"},
		},
	}
}

// Load reads a YAML config file and expands environment variables. An empty
// path returns defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets the plain-env deployment style win over file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Listen = ":" + v
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Store.SQLitePath = v
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		p := c.Providers["openai"]
		p.APIKey = v
		if p.BaseURL == "" {
			p.BaseURL = "https://api.openai.com"
		}
		c.Providers["openai"] = p
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		p := c.Providers["openai"]
		p.BaseURL = v
		c.Providers["openai"] = p
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		p := c.Providers["gemini"]
		p.APIKey = v
		if p.BaseURL == "" {
			p.BaseURL = "https://generativelanguage.googleapis.com"
		}
		c.Providers["gemini"] = p
	}
	if v := os.Getenv("GEMINI_BASE_URL"); v != "" {
		p := c.Providers["gemini"]
		p.BaseURL = v
		c.Providers["gemini"] = p
	}
}
