// Package config loads server configuration from defaults, an optional YAML
// file, and COMPASS_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	SessionsDir string `mapstructure:"sessions_dir"`

	AnthropicAPIKey  string  `mapstructure:"anthropic_api_key"`
	AnthropicBaseURL string  `mapstructure:"anthropic_base_url"`
	Model            string  `mapstructure:"model"`
	MaxTokens        int     `mapstructure:"max_tokens"`
	Temperature      float64 `mapstructure:"temperature"`
	ContextWindow    int     `mapstructure:"context_window"`

	OpenFDAAPIKey string `mapstructure:"openfda_api_key"`

	// Loop policy. Safe to tune.
	MaxIterations             int `mapstructure:"max_iterations"`
	HeartbeatIntervalSeconds  int `mapstructure:"heartbeat_interval_seconds"`
	CompactionThreshold       int `mapstructure:"compaction_threshold"`
	IntakeCompactionThreshold int `mapstructure:"intake_compaction_threshold"`
	CompactionTail            int `mapstructure:"compaction_tail"`

	// Outbound HTTP timeout for collaborator calls.
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`

	// Orchestrators idle longer than this are evicted from the registry.
	OrchestratorIdleMinutes int `mapstructure:"orchestrator_idle_minutes"`
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// RequestTimeout returns the collaborator HTTP timeout as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// OrchestratorIdleTimeout returns the registry eviction age as a duration.
func (c Config) OrchestratorIdleTimeout() time.Duration {
	return time.Duration(c.OrchestratorIdleMinutes) * time.Minute
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8100)
	v.SetDefault("log_level", "info")
	v.SetDefault("sessions_dir", "sessions")
	// Every key needs a default registered or AutomaticEnv will not bind it
	// during Unmarshal.
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("anthropic_base_url", "")
	v.SetDefault("openfda_api_key", "")
	v.SetDefault("model", "claude-sonnet-4-5-20250929")
	v.SetDefault("max_tokens", 16384)
	v.SetDefault("temperature", 1.0)
	v.SetDefault("context_window", 200_000)
	v.SetDefault("max_iterations", 15)
	v.SetDefault("heartbeat_interval_seconds", 8)
	v.SetDefault("compaction_threshold", 24)
	v.SetDefault("intake_compaction_threshold", 50)
	v.SetDefault("compaction_tail", 20)
	v.SetDefault("request_timeout_seconds", 30)
	v.SetDefault("orchestrator_idle_minutes", 120)
}

// Load resolves configuration. configFile may be empty, in which case only
// defaults and environment variables apply.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COMPASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("heartbeat_interval_seconds must be positive, got %d", c.HeartbeatIntervalSeconds)
	}
	if c.CompactionTail <= 0 || c.CompactionTail > c.CompactionThreshold {
		return fmt.Errorf("compaction_tail %d must be in (0, compaction_threshold %d]", c.CompactionTail, c.CompactionThreshold)
	}
	return nil
}
