package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Deployer  DeployerConfig  `mapstructure:"deployer"`
	Guardrail GuardrailConfig `mapstructure:"guardrail"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DeployerConfig holds deployment gateway configuration.
type DeployerConfig struct {
	// BaseURL is the deployer service address. Empty enables the no-op
	// gateway for local development.
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// GuardrailConfig holds guardrail rule-set configuration.
type GuardrailConfig struct {
	// RulesFile is an optional YAML rule-set file. Empty uses the
	// built-in default rules.
	RulesFile string `mapstructure:"rules_file"`
}

// AuthConfig holds actor identity configuration.
type AuthConfig struct {
	// RolesFile is an optional YAML file mapping emails to roles.
	// Emails not in the file get the viewer role.
	RolesFile string `mapstructure:"roles_file"`
}

// WorkersConfig holds background worker configuration.
type WorkersConfig struct {
	ProbeInterval   time.Duration `mapstructure:"probe_interval"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	ReviewMaxAge    time.Duration `mapstructure:"review_max_age"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.dsn", "./data/promoter.db")
	v.SetDefault("deployer.base_url", "")
	v.SetDefault("deployer.api_key", "")
	v.SetDefault("deployer.timeout", "60s")
	v.SetDefault("guardrail.rules_file", "")
	v.SetDefault("auth.roles_file", "")
	v.SetDefault("workers.probe_interval", "30s")
	v.SetDefault("workers.monitor_interval", "15m")
	v.SetDefault("workers.review_max_age", "72h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("PROMOTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
