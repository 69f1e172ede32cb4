// Package cliconfig layers the daemon's configuration from defaults, a
// TOML file, VENUESYNC_* environment variables, and command-line flags,
// in increasing order of precedence.
package cliconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/roamio/venuesync/pkg/log"
)

// Config holds CLI configuration for the venuesync daemon.
type Config struct {
	DataDir   string
	RemoteURL string
	AuthKey   string
	LogLevel  string

	HTTPTimeout   time.Duration
	CacheTTL      time.Duration
	SyncInterval  time.Duration
	SweepInterval time.Duration
	ProbeInterval time.Duration

	MaxRetries int

	RateQuota  int
	RateWindow time.Duration

	BreakerThreshold int
	BreakerRecovery  time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		LogLevel:         "info",
		HTTPTimeout:      15 * time.Second,
		CacheTTL:         15 * time.Minute,
		SyncInterval:     5 * time.Minute,
		SweepInterval:    10 * time.Minute,
		ProbeInterval:    30 * time.Second,
		MaxRetries:       5,
		RateQuota:        30,
		RateWindow:       time.Minute,
		BreakerThreshold: 5,
		BreakerRecovery:  30 * time.Second,
		AuthKey:          os.Getenv("VENUESYNC_AUTH_KEY"),
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = home + "/.venuesync/data"
		} else {
			return fmt.Errorf("data-dir is required")
		}
	}

	if c.RemoteURL == "" {
		return fmt.Errorf("remote-url is required")
	}
	// Ensure no trailing slash
	if c.RemoteURL[len(c.RemoteURL)-1] == '/' {
		c.RemoteURL = c.RemoteURL[:len(c.RemoteURL)-1]
	}

	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}

	return nil
}

// Logger builds the daemon logger for the configured level. The
// concrete type is returned so the caller can hot-reload the level.
func (c *Config) Logger() *log.Zerolog {
	return log.NewZerolog(c.LogLevel)
}

// configSetter helps apply configuration values while respecting flag
// precedence. It only applies values if the corresponding flag hasn't
// been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}
