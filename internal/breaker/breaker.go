// Package breaker implements a circuit breaker that stops calling a
// failing remote dependency for a cool-down period.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/roamio/venuesync/internal/domain"
	"github.com/roamio/venuesync/pkg/log"
)

// Default breaker configuration values.
const (
	DefaultThreshold       = 5
	DefaultRecoveryTimeout = 30 * time.Second
)

// State represents the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds breaker parameters.
type Config struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int

	// RecoveryTimeout is how long the breaker stays open before allowing
	// a half-open probe.
	RecoveryTimeout time.Duration
}

// Breaker tracks consecutive remote-call failures and temporarily blocks
// calls to let the remote source recover. Initial state is closed; there
// is no terminal state.
type Breaker struct {
	mu            sync.Mutex
	threshold     int
	recovery      time.Duration
	state         State
	failures      int
	nextAttemptAt time.Time
	logger        log.Logger
	now           func() time.Time
}

// New creates a breaker in the closed state. Zero config fields get defaults.
func New(cfg Config, logger log.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Breaker{
		threshold: cfg.Threshold,
		recovery:  cfg.RecoveryTimeout,
		state:     StateClosed,
		logger:    logger,
		now:       time.Now,
	}
}

// Execute wraps a remote call. While open and before the recovery
// deadline it fails immediately with domain.ErrCircuitOpen without
// invoking op. Once the deadline passes exactly one probing call is let
// through; its outcome closes or re-opens the breaker. The operation's
// original error is always propagated to the caller.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Before(b.nextAttemptAt) {
			b.mu.Unlock()
			return domain.ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.logger.Info("circuit half-open, probing")
	case StateHalfOpen:
		// A probe is already in flight; only one call may test the remote.
		b.mu.Unlock()
		return domain.ErrCircuitOpen
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		if b.state != StateClosed {
			b.logger.Info("circuit closed")
		}
		b.failures = 0
		b.state = StateClosed
		return nil
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
		b.nextAttemptAt = b.now().Add(b.recovery)
		b.logger.Warn("circuit opened",
			log.Int("failures", b.failures),
			log.Time("next_attempt_at", b.nextAttemptAt))
	}
	return err
}

// State returns the current breaker state. A breaker whose recovery
// deadline has passed still reports open until the next Execute probes.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
