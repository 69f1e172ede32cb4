package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/roamio/venuesync/internal/adapters/connectivity"
	"github.com/roamio/venuesync/internal/cliconfig"
	"github.com/roamio/venuesync/internal/engine"
	"github.com/roamio/venuesync/pkg/log"
)

const longHelp = `venuesync keeps a local venue cache in sync with a rate-limited remote
service. Reads are served from the local durable store while offline;
writes land locally first and are replayed against the remote service
when connectivity returns.

Configure via ~/.venuesync/config.toml, VENUESYNC_* environment
variables, or flags (flags win).`

const exampleUsage = `  venuesync --remote-url https://api.example.com --auth-key <key>
  venuesync --config ./config.toml --sync-interval 1m`

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:     "venuesync",
		Short:   "Offline-first sync daemon for the venue cache",
		Long:    longHelp,
		Example: exampleUsage,
		Version: getVersion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := changedFlags(cmd.Flags())

			if cfgPath == "" {
				cfgPath = cliconfig.DefaultConfigPath()
			}
			if cfgPath != "" {
				if err := cliconfig.LoadFile(cfgPath, &cfg, changed); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("load config: %w", err)
				}
			}
			if err := cliconfig.ApplyEnv(&cfg, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return run(cmd.Context(), cfg, cfgPath, changed)
		},
		SilenceUsage: true,
	}

	flags := root.Flags()
	flags.StringVar(&cfgPath, "config", "", "path to TOML config file")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the local durable store")
	flags.StringVar(&cfg.RemoteURL, "remote-url", cfg.RemoteURL, "base URL of the venue service")
	flags.StringVar(&cfg.AuthKey, "auth-key", cfg.AuthKey, "API key for the venue service")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	flags.DurationVar(&cfg.SyncInterval, "sync-interval", cfg.SyncInterval, "period of the background queue drain")
	flags.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "period of the expired-entry sweep")
	flags.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "freshness window for cached listings")
	flags.DurationVar(&cfg.ProbeInterval, "probe-interval", cfg.ProbeInterval, "connectivity probe period")
	flags.IntVar(&cfg.RateQuota, "rate-quota", cfg.RateQuota, "remote requests allowed per rate window")
	flags.DurationVar(&cfg.RateWindow, "rate-window", cfg.RateWindow, "sliding rate-limit window")
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "replay budget per queued mutation")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg cliconfig.Config, cfgPath string, changed map[string]bool) error {
	logger := cfg.Logger()
	logger.Info("venuesync starting",
		log.String("version", getVersion()),
		log.String("os_arch", runtime.GOOS+"/"+runtime.GOARCH),
		log.String("remote", cfg.RemoteURL))

	prober := connectivity.NewProber(connectivity.ProberConfig{
		URL:      cfg.RemoteURL,
		Interval: cfg.ProbeInterval,
		Client:   &http.Client{Timeout: cfg.HTTPTimeout},
	}, logger)

	eng, err := engine.New(engine.Config{
		DataDir:          cfg.DataDir,
		RemoteURL:        cfg.RemoteURL,
		AuthKey:          cfg.AuthKey,
		HTTPTimeout:      cfg.HTTPTimeout,
		CacheTTL:         cfg.CacheTTL,
		SyncInterval:     cfg.SyncInterval,
		SweepInterval:    cfg.SweepInterval,
		MaxRetries:       cfg.MaxRetries,
		RateQuota:        cfg.RateQuota,
		RateWindow:       cfg.RateWindow,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerRecovery:  cfg.BreakerRecovery,
	},
		engine.WithLogger(logger),
		engine.WithConnectivity(prober),
	)
	if err != nil {
		return err
	}
	logger.Info("local store ready", log.String("path", eng.Store().Path()))

	prober.Start(ctx)
	defer prober.Stop()

	if err := eng.Start(ctx); err != nil {
		return err
	}

	// Hot-reload sync interval and log level edits while running.
	watcher := cliconfig.NewWatcher(cfgPath, changed, func(next cliconfig.Config) {
		logger.SetLevel(next.LogLevel)
		eng.SetSyncInterval(next.SyncInterval)
	}, logger)
	go watcher.Run(ctx)

	<-ctx.Done()
	logger.Info("shutting down")
	return eng.Stop()
}

// changedFlags records which flags were explicitly set, for precedence
// over file and environment values.
func changedFlags(flags *pflag.FlagSet) map[string]bool {
	changed := make(map[string]bool)
	flags.Visit(func(f *pflag.Flag) {
		changed[f.Name] = true
	})
	return changed
}
