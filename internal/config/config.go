// Package config loads kitzi settings from a YAML file and KITZI_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/bennybar/kitzi/internal/domain"
)

const (
	appName   = "kitzi"
	envPrefix = "KITZI"
	megabyte  = int64(1 << 20)
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds Audiobookshelf server configuration
type ServerConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"` // API token sent as a bearer credential
}

// StorageConfig holds local storage configuration
type StorageConfig struct {
	Root string `mapstructure:"root"` // Contains downloads/, streamcache/ and kitzi.db
}

// CacheConfig holds stream cache ceiling bounds, in megabytes
type CacheConfig struct {
	MaxMB   int64 `mapstructure:"max_mb"`   // Seeds the persisted ceiling on first init
	MinMB   int64 `mapstructure:"min_mb"`
	UpperMB int64 `mapstructure:"upper_mb"`
	StepMB  int64 `mapstructure:"step_mb"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File      string `mapstructure:"file"` // "-" logs to stderr
	Level     string `mapstructure:"level"`
	MaxSizeMB int    `mapstructure:"max_size_mb"` // rotate past this size
}

// Limits converts the configured bounds to bytes
func (c CacheConfig) Limits() domain.CacheLimits {
	limits := domain.CacheLimits{
		Min:  c.MinMB * megabyte,
		Max:  c.UpperMB * megabyte,
		Step: c.StepMB * megabyte,
	}
	if limits.Max > 0 && limits.Max < limits.Min {
		limits.Max = limits.Min
	}
	limits.Default = limits.Clamp(c.MaxMB * megabyte)
	return limits
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Root: defaultStoragePath(),
		},
		Cache: CacheConfig{
			MaxMB:   500,
			MinMB:   200,
			UpperMB: 2000,
			StepMB:  50,
		},
		Logging: LoggingConfig{
			File:      defaultLogPath(),
			Level:     "INFO",
			MaxSizeMB: 10,
		},
	}
}

// defaultStoragePath returns the default storage root for the current OS
func defaultStoragePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), appName, "storage")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", appName, "storage")
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), appName, appName+".log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", appName, appName+".log")
	}
}

// DefaultConfigPath returns the default config directory for the current OS
func DefaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), appName)
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", appName)
	}
}

// LoadConfig loads configuration from file and environment.
// An empty path searches the default config directory and the working directory.
func LoadConfig(path string) (*Config, error) {
	return load(viper.GetViper(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigPath())
		v.AddConfigPath(".")
	}

	// Environment variable overrides, e.g. KITZI_CACHE_MAX_MB
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			// Config file not found is OK, use defaults
		case path != "" && errors.Is(err, os.ErrNotExist):
			// Explicit path that does not exist yet; SaveConfig will create it
		default:
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.url", cfg.Server.URL)
	v.SetDefault("server.token", cfg.Server.Token)
	v.SetDefault("storage.root", cfg.Storage.Root)
	v.SetDefault("cache.max_mb", cfg.Cache.MaxMB)
	v.SetDefault("cache.min_mb", cfg.Cache.MinMB)
	v.SetDefault("cache.upper_mb", cfg.Cache.UpperMB)
	v.SetDefault("cache.step_mb", cfg.Cache.StepMB)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.max_size_mb", cfg.Logging.MaxSizeMB)
}

// SaveConfig writes cfg to path, or to the default location when path is empty.
// The process-wide viper is left untouched so later loads still see env and flags.
func SaveConfig(cfg *Config, path string) error {
	return save(viper.New(), cfg, path)
}

func save(v *viper.Viper, cfg *Config, path string) error {
	if path == "" {
		path = filepath.Join(DefaultConfigPath(), "config.yaml")
	}

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set fields individually to ensure correct key names (snake_case)
	v.Set("server.url", cfg.Server.URL)
	v.Set("server.token", cfg.Server.Token)
	v.Set("storage.root", cfg.Storage.Root)
	v.Set("cache.max_mb", cfg.Cache.MaxMB)
	v.Set("cache.min_mb", cfg.Cache.MinMB)
	v.Set("cache.upper_mb", cfg.Cache.UpperMB)
	v.Set("cache.step_mb", cfg.Cache.StepMB)
	v.Set("logging.file", cfg.Logging.File)
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("logging.max_size_mb", cfg.Logging.MaxSizeMB)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// IsConfigured returns true if the server URL and token are set
func (c *Config) IsConfigured() bool {
	return c.Server.URL != "" && c.Server.Token != ""
}
