package config

import (
	"fmt"
	"slices"
	"strings"
)

var (
	validDrivers    = []string{DriverMemory, DriverSQLite, DriverPostgres}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"json", "console"}
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Addf records a problem.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	if !slices.Contains(validLogLevels, c.Logging.Level) {
		verr.Addf("logging.level must be one of %v, got %q", validLogLevels, c.Logging.Level)
	}
	if !slices.Contains(validLogFormats, c.Logging.Format) {
		verr.Addf("logging.format must be one of %v, got %q", validLogFormats, c.Logging.Format)
	}

	if !slices.Contains(validDrivers, c.Database.Driver) {
		verr.Addf("database.driver must be one of %v, got %q", validDrivers, c.Database.Driver)
	}
	if c.Database.Driver == DriverPostgres && c.Database.DSN == "" {
		verr.Addf("database.dsn is required for the postgres driver")
	}

	if c.Server.WebSocket.Address == "" {
		verr.Addf("server.websocket.address is required")
	}
	if !strings.HasPrefix(c.Server.WebSocket.Path, "/") {
		verr.Addf("server.websocket.path must start with /, got %q", c.Server.WebSocket.Path)
	}

	if c.Advancement.MaxLevel <= 0 {
		verr.Addf("advancement.max_level must be positive, got %d", c.Advancement.MaxLevel)
	}

	if len(verr.Errors) > 0 {
		return verr
	}
	return nil
}
