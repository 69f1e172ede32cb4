// Package engine implements the cache coordinator: the façade the rest
// of the application uses to read and write venue records while
// disconnected. Reads go through the local durable store with a
// strategy chosen from network conditions; writes land optimistically
// in the store and are confirmed remotely, immediately when online or
// eventually through the sync queue.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/roamio/venuesync/internal/adapters/connectivity"
	remoteAdapter "github.com/roamio/venuesync/internal/adapters/remote"
	"github.com/roamio/venuesync/internal/breaker"
	"github.com/roamio/venuesync/internal/domain"
	"github.com/roamio/venuesync/internal/ports"
	"github.com/roamio/venuesync/internal/ratelimit"
	"github.com/roamio/venuesync/internal/store"
	"github.com/roamio/venuesync/internal/syncq"
	"github.com/roamio/venuesync/pkg/log"
)

// Default engine tuning.
const (
	DefaultSyncInterval  = 5 * time.Minute
	DefaultSweepInterval = 10 * time.Minute
	DefaultCacheTTL      = 15 * time.Minute
	DefaultHTTPTimeout   = 15 * time.Second
)

// Generic-cache keys owned by the coordinator.
const (
	lastSyncKey = "sync:last-success"

	// lastSyncTTL bounds the bookkeeping stamp; it is advisory state,
	// not correctness-critical.
	lastSyncTTL = 30 * 24 * time.Hour
)

func freshKey(filter domain.Filter) string {
	return "venues:fresh:" + filter.Key()
}

// Config holds engine parameters.
type Config struct {
	// DataDir is the directory for the local durable store. Required
	// unless a store is injected via WithStore.
	DataDir string

	// RemoteURL is the base URL of the venue service. Required unless a
	// remote source is injected via WithRemote.
	RemoteURL string

	// AuthKey authenticates against the venue service.
	AuthKey string

	// HTTPTimeout bounds each remote request.
	HTTPTimeout time.Duration

	// CacheTTL is how long a cached listing is considered fresh.
	CacheTTL time.Duration

	// SyncInterval is the period of the background drain while online.
	SyncInterval time.Duration

	// SweepInterval is the period of the expired-entry sweep.
	SweepInterval time.Duration

	// MaxRetries is the replay budget per queued mutation.
	MaxRetries int

	// RateQuota and RateWindow configure the sliding-window limiter.
	RateQuota  int
	RateWindow time.Duration

	// BreakerThreshold and BreakerRecovery configure the circuit breaker.
	BreakerThreshold int
	BreakerRecovery  time.Duration
}

// SetDefaults fills zero fields with defaults.
func (c *Config) SetDefaults() {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = syncq.DefaultMaxRetries
	}
	if c.RateQuota <= 0 {
		c.RateQuota = ratelimit.DefaultQuota
	}
	if c.RateWindow <= 0 {
		c.RateWindow = ratelimit.DefaultWindow
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = breaker.DefaultThreshold
	}
	if c.BreakerRecovery <= 0 {
		c.BreakerRecovery = breaker.DefaultRecoveryTimeout
	}
}

// Engine is the offline-first sync and caching engine. Construct with
// New, begin background work with Start, release with Stop.
type Engine struct {
	cfg    Config
	logger log.Logger

	store   *store.Store
	queue   *syncq.Queue
	limiter *ratelimit.Limiter
	breaker *breaker.Breaker
	gate    *gatedRemote
	conn    ports.ConnectivitySignal

	lifecycle *lifecycle

	// intervalCh carries hot-reloaded sync intervals to the drain loop.
	intervalCh chan time.Duration

	// refreshing guards the single background cache refresh.
	refreshing sync.Mutex
	refreshSet map[string]bool

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

// New creates an engine. The instance starts in StateStopped; reads and
// writes work immediately, Start enables the background timers.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.SetDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = log.NewNop()
	}

	st := o.store
	if st == nil {
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("engine: data dir is required")
		}
		st = store.New(cfg.DataDir, logger)
	}

	remote := o.remote
	if remote == nil {
		if cfg.RemoteURL == "" {
			return nil, fmt.Errorf("engine: remote url is required")
		}
		httpClient := o.httpClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
		}
		remote = remoteAdapter.New(cfg.RemoteURL, cfg.AuthKey, httpClient, logger)
	}

	conn := o.conn
	if conn == nil {
		conn = connectivity.NewManual(true)
	}

	limiter := ratelimit.New(ratelimit.Config{Quota: cfg.RateQuota, Window: cfg.RateWindow})
	brk := breaker.New(breaker.Config{
		Threshold:       cfg.BreakerThreshold,
		RecoveryTimeout: cfg.BreakerRecovery,
	}, logger)
	gate := &gatedRemote{remote: remote, limiter: limiter, breaker: brk}

	queue := syncq.New(st, conn, gate, syncq.Config{
		MaxRetries: cfg.MaxRetries,
		OnDrop:     o.onDrop,
	}, logger)

	return &Engine{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		queue:      queue,
		limiter:    limiter,
		breaker:    brk,
		gate:       gate,
		conn:       conn,
		lifecycle:  newLifecycle(logger),
		intervalCh: make(chan time.Duration, 1),
		refreshSet: make(map[string]bool),
	}, nil
}

// Store exposes the local durable store for host-level maintenance.
func (e *Engine) Store() *store.Store {
	return e.store
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return e.lifecycle.State()
}
