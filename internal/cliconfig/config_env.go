package cliconfig

import "os"

// ApplyEnv applies configuration from environment variables (VENUESYNC_*).
// It respects flags that have been explicitly set (changed map).
// Returns an error if any environment variable has an invalid format.
func ApplyEnv(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-dir", os.Getenv("VENUESYNC_DATA_DIR"), &cfg.DataDir)
	s.setString("remote-url", os.Getenv("VENUESYNC_REMOTE_URL"), &cfg.RemoteURL)
	s.setString("auth-key", os.Getenv("VENUESYNC_AUTH_KEY"), &cfg.AuthKey)
	s.setString("log-level", os.Getenv("VENUESYNC_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setDuration("http-timeout", os.Getenv("VENUESYNC_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("cache-ttl", os.Getenv("VENUESYNC_CACHE_TTL"), &cfg.CacheTTL); err != nil {
		return err
	}
	if err := s.setDuration("sync-interval", os.Getenv("VENUESYNC_SYNC_INTERVAL"), &cfg.SyncInterval); err != nil {
		return err
	}
	if err := s.setDuration("sweep-interval", os.Getenv("VENUESYNC_SWEEP_INTERVAL"), &cfg.SweepInterval); err != nil {
		return err
	}
	if err := s.setDuration("probe-interval", os.Getenv("VENUESYNC_PROBE_INTERVAL"), &cfg.ProbeInterval); err != nil {
		return err
	}
	if err := s.setDuration("rate-window", os.Getenv("VENUESYNC_RATE_WINDOW"), &cfg.RateWindow); err != nil {
		return err
	}
	if err := s.setDuration("breaker-recovery", os.Getenv("VENUESYNC_BREAKER_RECOVERY"), &cfg.BreakerRecovery); err != nil {
		return err
	}

	if err := s.setIntFromString("max-retries", os.Getenv("VENUESYNC_MAX_RETRIES"), &cfg.MaxRetries); err != nil {
		return err
	}
	if err := s.setIntFromString("rate-quota", os.Getenv("VENUESYNC_RATE_QUOTA"), &cfg.RateQuota); err != nil {
		return err
	}
	if err := s.setIntFromString("breaker-threshold", os.Getenv("VENUESYNC_BREAKER_THRESHOLD"), &cfg.BreakerThreshold); err != nil {
		return err
	}

	return nil
}
