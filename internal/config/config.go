// Package config loads and validates runtime configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all runtime configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Model   ModelConfig   `mapstructure:"model"`
	Pools   PoolsConfig   `mapstructure:"pools"`
	Files   FilesConfig   `mapstructure:"files"`
}

// ServerConfig controls the observability HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ModelConfig governs the rate-limited model service.
type ModelConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Name           string  `mapstructure:"name"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	WindowSeconds  int     `mapstructure:"window_seconds"`
	PollIntervalMs int     `mapstructure:"poll_interval_ms"`
	RetryCount     int     `mapstructure:"retry_count"`
	RetryBackoffMs int     `mapstructure:"retry_backoff_ms"`
	MaxTokens      int     `mapstructure:"max_tokens"`
}

// PoolsConfig sizes the worker pools.
type PoolsConfig struct {
	ThreadWorkers  int `mapstructure:"thread_workers"`
	ProcessWorkers int `mapstructure:"process_workers"`
}

// FilesConfig sets the output directory of the file-mover service.
type FilesConfig struct {
	OutDir string `mapstructure:"out_dir"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)

	v.SetDefault("model.name", "gpt-4o-mini")
	v.SetDefault("model.rate_limit", 10000)
	v.SetDefault("model.window_seconds", 60)
	v.SetDefault("model.poll_interval_ms", 50)
	v.SetDefault("model.retry_count", 3)
	v.SetDefault("model.retry_backoff_ms", 250)
	v.SetDefault("model.max_tokens", 1024)

	v.SetDefault("pools.thread_workers", 4)
	v.SetDefault("pools.process_workers", 2)

	v.SetDefault("files.out_dir", "data/out")
}

// Validate rejects configurations the runtime cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if c.Model.RateLimit < 0 {
		return fmt.Errorf("model.rate_limit must not be negative")
	}
	if c.Model.RateLimit > 0 && c.Model.WindowSeconds <= 0 {
		return fmt.Errorf("model.window_seconds must be positive when model.rate_limit is set")
	}
	if c.Model.RetryCount <= 0 {
		return fmt.Errorf("model.retry_count must be positive")
	}
	if c.Pools.ThreadWorkers <= 0 || c.Pools.ProcessWorkers <= 0 {
		return fmt.Errorf("pool worker counts must be positive")
	}
	return nil
}
