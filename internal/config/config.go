package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Accounts AccountsConfig `mapstructure:"accounts"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AccountsConfig locates the per-account directories
type AccountsConfig struct {
	Root    string `mapstructure:"root"`    // Directory containing one subdirectory per account
	Current string `mapstructure:"current"` // Account to select at startup (optional)
}

// AuthConfig holds token refresh configuration
type AuthConfig struct {
	TokenURL     string        `mapstructure:"token_url"`     // Authorization endpoint for refresh-token grants
	ClientID     string        `mapstructure:"client_id"`     // OAuth client identifier
	ClientSecret string        `mapstructure:"client_secret"` // OAuth client secret
	ExpiryMargin time.Duration `mapstructure:"expiry_margin"` // Treat tokens expiring within this window as expired
}

// FetchConfig tunes the batch fetch engine
type FetchConfig struct {
	ChunkSize int `mapstructure:"chunk_size"` // Identifiers per batch call; matches the remote batch ceiling
}

// DispatchConfig tunes multi-account fan-out
type DispatchConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"` // 0 means one task per selected account, unbounded
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Accounts: AccountsConfig{
			Root: defaultAccountsRoot(),
		},
		Auth: AuthConfig{
			ExpiryMargin: 2 * time.Minute,
		},
		Fetch: FetchConfig{
			ChunkSize: 50,
		},
		Dispatch: DispatchConfig{
			MaxConcurrent: 0,
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// defaultAccountsRoot returns the default accounts directory for the current OS
func defaultAccountsRoot() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "emseepee", "accounts")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "emseepee", "accounts")
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "emseepee", "emseepee.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "emseepee", "emseepee.log")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "emseepee")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "emseepee")
	}
}

// LoadConfig loads configuration from file and environment
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultConfigPath())
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("EMSEEPEE")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.Fetch.ChunkSize <= 0 {
		cfg.Fetch.ChunkSize = 50
	}
	if cfg.Auth.ExpiryMargin <= 0 {
		cfg.Auth.ExpiryMargin = 2 * time.Minute
	}

	return cfg, nil
}

// SaveConfig saves the current configuration to file
func SaveConfig(cfg *Config) error {
	configPath := defaultConfigPath()

	// Ensure config directory exists
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set fields individually to ensure correct key names (snake_case)
	viper.Set("accounts.root", cfg.Accounts.Root)
	viper.Set("accounts.current", cfg.Accounts.Current)

	viper.Set("auth.token_url", cfg.Auth.TokenURL)
	viper.Set("auth.client_id", cfg.Auth.ClientID)
	viper.Set("auth.client_secret", cfg.Auth.ClientSecret)
	viper.Set("auth.expiry_margin", cfg.Auth.ExpiryMargin)

	viper.Set("fetch.chunk_size", cfg.Fetch.ChunkSize)
	viper.Set("dispatch.max_concurrent", cfg.Dispatch.MaxConcurrent)

	viper.Set("logging.file", cfg.Logging.File)
	viper.Set("logging.level", cfg.Logging.Level)

	configFile := filepath.Join(configPath, "config.yaml")
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
