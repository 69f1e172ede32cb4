package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/roamio/venuesync/internal/ports"
	"github.com/roamio/venuesync/pkg/log"
)

// Default prober tuning.
const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second

	// slowProbeLatency is the round-trip above which the connection is
	// graded poor.
	slowProbeLatency = 2 * time.Second
)

// Prober discovers connectivity by periodically issuing a HEAD request
// against the remote base URL. While offline the probe interval backs
// off exponentially and resets on the first success.
type Prober struct {
	url      string
	client   ports.HTTPClient
	interval time.Duration
	logger   log.Logger

	signal *Manual

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ProberConfig holds prober parameters.
type ProberConfig struct {
	// URL is probed with HEAD requests. Required.
	URL string

	// Interval is the steady-state probe period. Default: 30s.
	Interval time.Duration

	// Client issues the probes. Defaults to an http.Client with a 5s timeout.
	Client ports.HTTPClient
}

// NewProber creates a prober. The signal starts offline until the first
// probe succeeds.
func NewProber(cfg ProberConfig, logger log.Logger) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultProbeInterval
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: DefaultProbeTimeout}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Prober{
		url:      cfg.URL,
		client:   cfg.Client,
		interval: cfg.Interval,
		logger:   logger,
		signal:   NewManual(false),
	}
}

// Online reports current connectivity.
func (p *Prober) Online() bool { return p.signal.Online() }

// Quality grades the current connection from probe latency.
func (p *Prober) Quality() ports.Quality { return p.signal.Quality() }

// Subscribe registers a transition callback.
func (p *Prober) Subscribe(fn func(online bool)) func() { return p.signal.Subscribe(fn) }

// Start launches the probe loop. The first probe runs immediately.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	probeCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(probeCtx)
	}()
}

// Stop terminates the probe loop and waits for it to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Prober) run(ctx context.Context) {
	back := newBackoff(p.interval, 8*p.interval)

	for {
		wait := p.interval
		if p.probe(ctx) {
			back.Reset()
		} else {
			wait = back.Next()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// probe issues one HEAD request and updates the signal. Any response,
// even a server error, proves the network path is up.
func (p *Prober) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Error("probe request build failed", log.Err(err))
		return false
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		if p.signal.Online() {
			p.logger.Warn("connectivity lost", log.Err(err))
		}
		p.signal.SetOnline(false)
		return false
	}
	resp.Body.Close()

	latency := time.Since(start)
	if latency > slowProbeLatency {
		p.signal.SetQuality(ports.QualityPoor)
	} else {
		p.signal.SetQuality(ports.QualityGood)
	}
	if !p.signal.Online() {
		p.logger.Info("connectivity restored", log.Duration("latency", latency))
	}
	p.signal.SetOnline(true)
	return true
}

// backoff implements exponential growth for the offline probe interval.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{initial: initial, max: max, current: initial}
}

// Next returns the current delay and doubles it for the next call.
func (b *backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset restores the initial delay.
func (b *backoff) Reset() {
	b.current = b.initial
}
