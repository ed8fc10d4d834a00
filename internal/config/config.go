// Package config loads server configuration from a YAML file and ADVANCEMENT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the complete server configuration.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Server      ServerConfig      `mapstructure:"server"`
	Advancement AdvancementConfig `mapstructure:"advancement"`
}

// LoggingConfig selects the zap level and encoder.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig selects the character store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// WebSocketConfig is where the session host listens.
type WebSocketConfig struct {
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// AdvancementConfig tunes session planning.
type AdvancementConfig struct {
	MaxLevel   int    `mapstructure:"max_level"`
	JournalDir string `mapstructure:"journal_dir"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Database: DatabaseConfig{
			Driver: DriverMemory,
		},
		Server: ServerConfig{
			WebSocket: WebSocketConfig{
				Address: ":8080",
				Path:    "/advancement",
			},
		},
		Advancement: AdvancementConfig{
			MaxLevel: 20,
		},
	}
}

// Load reads path, if it exists, on top of the defaults and applies environment
// overrides such as ADVANCEMENT_DATABASE_DRIVER. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ADVANCEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides work without a file.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)

	v.SetDefault("database.driver", defaults.Database.Driver)
	v.SetDefault("database.dsn", defaults.Database.DSN)

	v.SetDefault("server.websocket.address", defaults.Server.WebSocket.Address)
	v.SetDefault("server.websocket.path", defaults.Server.WebSocket.Path)

	v.SetDefault("advancement.max_level", defaults.Advancement.MaxLevel)
	v.SetDefault("advancement.journal_dir", defaults.Advancement.JournalDir)
}
