package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// searchPaths returns the ordered list of config file locations to try.
func searchPaths() []string {
	paths := []string{
		"/etc/tidings/tidings.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tidings", "tidings.yaml"))
	}

	paths = append(paths, "tidings.yaml")

	if envPath := os.Getenv("TIDINGS_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	return paths
}

// Load reads configuration from YAML files and environment variables.
// Files are loaded in order (each overrides the previous):
// /etc/tidings/tidings.yaml < ~/.config/tidings/tidings.yaml < ./tidings.yaml < $TIDINGS_CONFIG
func Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range searchPaths() {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadFile(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables have higher priority than YAML config values.
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("TIDINGS_API_TOKEN"); token != "" {
		cfg.Auth.APIToken = token
	}
	if level := os.Getenv("TIDINGS_LOG_LEVEL"); level != "" {
		cfg.Server.LogLevel = level
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config search paths
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	slog.Debug("loading config file", "path", path)

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Server.Host == "0.0.0.0" {
		return fmt.Errorf("server.host must not be 0.0.0.0: Tidings listens on localhost only (put a reverse proxy in front for external access)")
	}

	switch cfg.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be one of debug, info, warn, error; got %q", cfg.Server.LogLevel)
	}

	for i, t := range cfg.Auth.APITokens {
		if t.Name == "" {
			return fmt.Errorf("auth.api_tokens[%d].name is required", i)
		}
		if len(t.TokenHash) != 64 {
			return fmt.Errorf("auth.api_tokens[%d].token_hash must be a 64-character sha256 hex digest", i)
		}
	}

	if cfg.Database.RetentionDays < 0 {
		return fmt.Errorf("database.retention_days must not be negative")
	}

	if cfg.Planning.Delay < 0 {
		return fmt.Errorf("planning.delay must not be negative")
	}

	if cfg.Sessions.QueueSize < 1 {
		return fmt.Errorf("sessions.queue_size must be at least 1")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", cfg.Metrics.Path)
	}

	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	cfg.Auth.DataDir = ExpandHome(cfg.Auth.DataDir)

	return nil
}
