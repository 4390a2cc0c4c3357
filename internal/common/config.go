// Package common provides shared utilities for stocksync
package common

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/stocksync/internal/interfaces"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for stocksync
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Clients     ClientsConfig `toml:"clients"`
	Sync        SyncConfig    `toml:"sync"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds SurrealDB connection settings.
type StorageConfig struct {
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Kiwoom KiwoomConfig `toml:"kiwoom"`
}

// KiwoomConfig holds Kiwoom REST API configuration
type KiwoomConfig struct {
	Host       string `toml:"host"`
	AppKey     string `toml:"app_key"`
	SecretKey  string `toml:"secret_key"`
	RateLimit  int    `toml:"rate_limit"`
	MaxRetries int    `toml:"max_retries"`
	Timeout    string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *KiwoomConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// SyncConfig controls the scheduled price synchronization cycle.
type SyncConfig struct {
	Enabled         bool     `toml:"enabled"`
	Time            string   `toml:"time"`     // HH:MM in Timezone
	Timezone        string   `toml:"timezone"` // IANA name
	Weekdays        []string `toml:"weekdays"`
	RebalanceDay    string   `toml:"rebalance_day"`
	StockDelay      string   `toml:"stock_delay"`
	PageDelay       string   `toml:"page_delay"`
	MaxHistoryDays  int      `toml:"max_history_days"`
	ProfitThreshold float64  `toml:"profit_threshold"`
}

// GetLocation resolves the configured timezone, falling back to UTC.
func (c *SyncConfig) GetLocation() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetStockDelay returns the pause between consecutive items in a cycle.
func (c *SyncConfig) GetStockDelay() time.Duration {
	d, err := time.ParseDuration(c.StockDelay)
	if err != nil || d < 0 {
		return 3 * time.Second
	}
	return d
}

// GetPageDelay returns the pause between upstream pages.
func (c *SyncConfig) GetPageDelay() time.Duration {
	d, err := time.ParseDuration(c.PageDelay)
	if err != nil || d < 0 {
		return time.Second
	}
	return d
}

// GetRunTime parses Time into hour and minute. Invalid values yield 18:05.
func (c *SyncConfig) GetRunTime() (hour, minute int) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.Time))
	if err != nil {
		return 18, 5
	}
	return t.Hour(), t.Minute()
}

// GetWeekdays returns the weekdays on which the scheduled cycle runs.
func (c *SyncConfig) GetWeekdays() []time.Weekday {
	var days []time.Weekday
	for _, name := range c.Weekdays {
		if d, ok := ParseWeekday(name); ok {
			days = append(days, d)
		}
	}
	if len(days) == 0 {
		return []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	}
	return days
}

// GetRebalanceDay returns the weekday on which average prices are rebalanced.
func (c *SyncConfig) GetRebalanceDay() time.Weekday {
	if d, ok := ParseWeekday(c.RebalanceDay); ok {
		return d
	}
	return time.Friday
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(name string) (time.Weekday, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if n == full || n == full[:3] {
			return d, true
		}
	}
	return time.Sunday, false
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Address:   "ws://localhost:8000/rpc",
			Namespace: "stocksync",
			Database:  "stocksync",
			Username:  "root",
			Password:  "root",
		},
		Clients: ClientsConfig{
			Kiwoom: KiwoomConfig{
				Host:       "https://api.kiwoom.com",
				RateLimit:  5,
				MaxRetries: 5,
				Timeout:    "30s",
			},
		},
		Sync: SyncConfig{
			Enabled:         true,
			Time:            "18:05",
			Timezone:        "Asia/Seoul",
			Weekdays:        []string{"mon", "tue", "wed", "thu", "fri"},
			RebalanceDay:    "friday",
			StockDelay:      "3s",
			PageDelay:       "1s",
			MaxHistoryDays:  365,
			ProfitThreshold: 5.0,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Outputs:    []string{"console"},
			FilePath:   "./logs/stocksync.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier ones
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("STOCKSYNC_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("STOCKSYNC_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("STOCKSYNC_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("STOCKSYNC_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Storage overrides
	if v := os.Getenv("STOCKSYNC_DB_ADDRESS"); v != "" {
		config.Storage.Address = v
	}
	if v := os.Getenv("STOCKSYNC_DB_NAMESPACE"); v != "" {
		config.Storage.Namespace = v
	}
	if v := os.Getenv("STOCKSYNC_DB_DATABASE"); v != "" {
		config.Storage.Database = v
	}
	if v := os.Getenv("STOCKSYNC_DB_USERNAME"); v != "" {
		config.Storage.Username = v
	}
	if v := os.Getenv("STOCKSYNC_DB_PASSWORD"); v != "" {
		config.Storage.Password = v
	}

	if v := os.Getenv("STOCKSYNC_KIWOOM_HOST"); v != "" {
		config.Clients.Kiwoom.Host = v
	}

	if v := os.Getenv("STOCKSYNC_SYNC_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Sync.Enabled = b
		}
	}
	if v := os.Getenv("STOCKSYNC_SYNC_TIME"); v != "" {
		config.Sync.Time = v
	}
	if v := os.Getenv("STOCKSYNC_SYNC_TIMEZONE"); v != "" {
		config.Sync.Timezone = v
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ResolveAPIKey resolves a credential from environment, InternalStore, or fallback
func ResolveAPIKey(ctx context.Context, store interfaces.InternalStore, name string, fallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"kiwoom_app_key":    {"KIWOOM_APP_KEY", "STOCKSYNC_KIWOOM_APP_KEY"},
		"kiwoom_secret_key": {"KIWOOM_SECRET_KEY", "STOCKSYNC_KIWOOM_SECRET_KEY"},
	}

	// Environment wins
	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	if store != nil {
		value, err := store.GetSystemKV(ctx, name)
		if err == nil && value != "" {
			return value, nil
		}
	}

	if fallback != "" {
		return fallback, nil
	}

	return "", fmt.Errorf("credential '%s' not found in environment or store", name)
}
