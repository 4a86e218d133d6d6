package config

import "time"

// Config is the root configuration for Tidings.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Notify   NotifyConfig   `yaml:"notify"`
	Planning PlanningConfig `yaml:"planning"`
	Sessions SessionsConfig `yaml:"sessions"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	MCP      MCPConfig      `yaml:"mcp"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

type AuthConfig struct {
	// DataDir holds the generated API token when no APITokens are configured.
	DataDir   string          `yaml:"data_dir"`
	APITokens []APITokenEntry `yaml:"api_tokens"`
	// APIToken is a plaintext token, normally set through TIDINGS_API_TOKEN.
	APIToken string `yaml:"-"`
}

type APITokenEntry struct {
	Name      string `yaml:"name"`
	TokenHash string `yaml:"token_hash"`
}

type DatabaseConfig struct {
	Path            string        `yaml:"path"`
	RetentionDays   int           `yaml:"retention_days"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type NotifyConfig struct {
	UpdatesEnabled bool `yaml:"updates_enabled"`
	DirectToThis   bool `yaml:"direct_to_this"`
	Journal        bool `yaml:"journal"`
}

type PlanningConfig struct {
	Delay               time.Duration `yaml:"delay"`
	DefaultNotifyNeeded bool          `yaml:"default_notify_needed"`
	RestoreOnStart      bool          `yaml:"restore_on_start"`
}

type SessionsConfig struct {
	QueueSize      int           `yaml:"queue_size"`
	OutboxLimit    int           `yaml:"outbox_limit"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	AllowEmit      bool          `yaml:"allow_emit"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type MCPConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Debounce    time.Duration `yaml:"debounce"`
	ForwardKeys []string      `yaml:"forward_keys"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8430,
			LogLevel: "info",
		},
		Auth: AuthConfig{
			DataDir: "~/.config/tidings",
		},
		Database: DatabaseConfig{
			Path:            "~/.config/tidings/tidings.db",
			RetentionDays:   30,
			CleanupInterval: time.Hour,
		},
		Notify: NotifyConfig{
			UpdatesEnabled: true,
			Journal:        true,
		},
		Planning: PlanningConfig{
			DefaultNotifyNeeded: true,
			RestoreOnStart:      true,
		},
		Sessions: SessionsConfig{
			QueueSize:    256,
			OutboxLimit:  1000,
			IdleTimeout:  10 * time.Minute,
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		MCP: MCPConfig{
			Enabled:  true,
			Debounce: time.Second,
		},
	}
}
