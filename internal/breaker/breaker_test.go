package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roamio/venuesync/internal/domain"
)

var errRemote = errors.New("remote down")

func failing(ctx context.Context) error { return errRemote }
func succeeding(ctx context.Context) error { return nil }

func TestOpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	b := New(Config{Threshold: 2, RecoveryTimeout: 30 * time.Second}, nil)
	base := time.Now()
	b.now = func() time.Time { return base }

	// Failures below the threshold propagate but keep the circuit closed.
	if err := b.Execute(ctx, failing); !errors.Is(err, errRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after one failure, got %v", b.State())
	}

	if err := b.Execute(ctx, failing); !errors.Is(err, errRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after threshold, got %v", b.State())
	}

	// The next call short-circuits without invoking the operation.
	invoked := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Fatal("operation must not run while circuit is open")
	}
}

func TestHalfOpenProbeCloses(t *testing.T) {
	ctx := context.Background()
	b := New(Config{Threshold: 2, RecoveryTimeout: 30 * time.Second}, nil)
	base := time.Now()
	now := base
	b.now = func() time.Time { return now }

	b.Execute(ctx, failing)
	b.Execute(ctx, failing)

	// t+10s: still open, rejected immediately.
	now = base.Add(10 * time.Second)
	if err := b.Execute(ctx, succeeding); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected rejection before recovery timeout, got %v", err)
	}

	// t+31s: one probe is allowed through; success closes the circuit.
	now = base.Add(31 * time.Second)
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("probe should run and succeed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %v", b.State())
	}
	if b.Failures() != 0 {
		t.Fatalf("expected failure counter reset, got %d", b.Failures())
	}
}

func TestHalfOpenProbeReopens(t *testing.T) {
	ctx := context.Background()
	b := New(Config{Threshold: 2, RecoveryTimeout: 30 * time.Second}, nil)
	base := time.Now()
	now := base
	b.now = func() time.Time { return now }

	b.Execute(ctx, failing)
	b.Execute(ctx, failing)

	now = base.Add(31 * time.Second)
	if err := b.Execute(ctx, failing); !errors.Is(err, errRemote) {
		t.Fatalf("probe failure must propagate the original error, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected re-open after failed probe, got %v", b.State())
	}

	// The refreshed deadline keeps rejecting until another timeout passes.
	now = base.Add(45 * time.Second)
	if err := b.Execute(ctx, succeeding); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected rejection inside refreshed recovery window, got %v", err)
	}

	now = base.Add(62 * time.Second)
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("second probe should run: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
}

func TestSuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	b := New(Config{Threshold: 3, RecoveryTimeout: time.Minute}, nil)

	b.Execute(ctx, failing)
	b.Execute(ctx, failing)
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("success: %v", err)
	}
	if b.Failures() != 0 {
		t.Fatalf("expected counter reset on success, got %d", b.Failures())
	}

	// The earlier failures no longer count toward the threshold.
	b.Execute(ctx, failing)
	b.Execute(ctx, failing)
	if b.State() != StateClosed {
		t.Fatalf("expected closed below threshold, got %v", b.State())
	}
}

func TestSingleProbeWhileHalfOpen(t *testing.T) {
	ctx := context.Background()
	b := New(Config{Threshold: 1, RecoveryTimeout: time.Second}, nil)
	base := time.Now()
	now := base
	b.now = func() time.Time { return now }

	b.Execute(ctx, failing)
	now = base.Add(2 * time.Second)

	// While the probe is in flight, a second caller is rejected.
	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(ctx, func(ctx context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	if err := b.Execute(ctx, succeeding); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected concurrent caller rejection during probe, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe, got %v", b.State())
	}
}
