package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors Config but uses strings for durations to make TOML friendly.
type fileConfig struct {
	DataDir   string `toml:"data_dir"`
	RemoteURL string `toml:"remote_url"`
	AuthKey   string `toml:"auth_key"`
	LogLevel  string `toml:"log_level"`

	HTTPTimeout   string `toml:"http_timeout"`
	CacheTTL      string `toml:"cache_ttl"`
	SyncInterval  string `toml:"sync_interval"`
	SweepInterval string `toml:"sweep_interval"`
	ProbeInterval string `toml:"probe_interval"`

	MaxRetries int `toml:"max_retries"`

	RateQuota  int    `toml:"rate_quota"`
	RateWindow string `toml:"rate_window"`

	BreakerThreshold int    `toml:"breaker_threshold"`
	BreakerRecovery  string `toml:"breaker_recovery"`
}

// LoadFile reads a TOML config file and applies it to cfg, respecting
// flags that have been explicitly set (changed map).
func LoadFile(path string, cfg *Config, changed map[string]bool) error {
	fc, err := loadFile(path)
	if err != nil {
		return err
	}
	return applyFile(cfg, fc, changed)
}

// loadFile reads and parses a TOML config file.
func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.venuesync/config.toml if the user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".venuesync", "config.toml")
	}
	return ""
}

// applyFile applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func applyFile(cfg *Config, fc fileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("remote-url", fc.RemoteURL, &cfg.RemoteURL)
	s.setString("auth-key", fc.AuthKey, &cfg.AuthKey)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	if err := s.setDuration("http-timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("cache-ttl", fc.CacheTTL, &cfg.CacheTTL); err != nil {
		return err
	}
	if err := s.setDuration("sync-interval", fc.SyncInterval, &cfg.SyncInterval); err != nil {
		return err
	}
	if err := s.setDuration("sweep-interval", fc.SweepInterval, &cfg.SweepInterval); err != nil {
		return err
	}
	if err := s.setDuration("probe-interval", fc.ProbeInterval, &cfg.ProbeInterval); err != nil {
		return err
	}
	if err := s.setDuration("rate-window", fc.RateWindow, &cfg.RateWindow); err != nil {
		return err
	}
	if err := s.setDuration("breaker-recovery", fc.BreakerRecovery, &cfg.BreakerRecovery); err != nil {
		return err
	}

	s.setInt("max-retries", fc.MaxRetries, &cfg.MaxRetries)
	s.setInt("rate-quota", fc.RateQuota, &cfg.RateQuota)
	s.setInt("breaker-threshold", fc.BreakerThreshold, &cfg.BreakerThreshold)

	return nil
}
