package syncq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamio/venuesync/internal/adapters/connectivity"
	"github.com/roamio/venuesync/internal/domain"
	"github.com/roamio/venuesync/internal/store"
)

var errFlaky = errors.New("remote unavailable")

// stubSubmitter scripts per-record outcomes and counts attempts.
type stubSubmitter struct {
	mu sync.Mutex

	// failures maps record ID to how many attempts fail before success.
	failures map[string]int

	// err overrides the failure error when set.
	err error

	attempts map[string]int
	started  chan struct{}
	release  chan struct{}
}

func newStubSubmitter() *stubSubmitter {
	return &stubSubmitter{
		failures: make(map[string]int),
		attempts: make(map[string]int),
	}
}

func (s *stubSubmitter) Submit(ctx context.Context, item domain.SyncItem) error {
	s.mu.Lock()
	s.attempts[item.Record.ID]++
	n := s.attempts[item.Record.ID]
	remaining := s.failures[item.Record.ID]
	err := s.err
	started := s.started
	release := s.release
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}

	if n <= remaining {
		if err != nil {
			return err
		}
		return errFlaky
	}
	return nil
}

func (s *stubSubmitter) attemptCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id]
}

func newTestQueue(t *testing.T, sub Submitter, cfg Config) (*Queue, *connectivity.Manual) {
	t.Helper()
	st := store.New(t.TempDir(), nil)
	conn := connectivity.NewManual(true)
	return New(st, conn, sub, cfg, nil), conn
}

func TestDrainOfflineIsNoop(t *testing.T) {
	ctx := context.Background()
	sub := newStubSubmitter()
	q, conn := newTestQueue(t, sub, Config{})
	conn.SetOnline(false)

	_, err := q.Enqueue(ctx, domain.MutationCreate, domain.Venue{ID: "v1"})
	require.NoError(t, err)

	res, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, sub.attemptCount("v1"))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestConvergenceOnNthAttempt(t *testing.T) {
	ctx := context.Background()
	sub := newStubSubmitter()
	sub.failures["v1"] = 2 // succeeds on the 3rd attempt
	q, _ := newTestQueue(t, sub, Config{MaxRetries: 5})

	_, err := q.Enqueue(ctx, domain.MutationUpdate, domain.Venue{ID: "v1"})
	require.NoError(t, err)

	// Two failing drains leave the item queued with growing retries.
	for i := 1; i <= 2; i++ {
		res, err := q.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Remaining, "drain %d", i)
		assert.Zero(t, res.Succeeded)
	}

	items, err := q.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Retries)
	assert.False(t, items[0].LastAttempt.IsZero())

	// Third drain confirms the item; it is removed exactly once.
	res, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Zero(t, res.Remaining)

	// Further drains find nothing to do.
	res, err = q.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Equal(t, 3, sub.attemptCount("v1"))
}

func TestExhaustedItemIsDropped(t *testing.T) {
	ctx := context.Background()
	sub := newStubSubmitter()
	sub.failures["v1"] = 100

	var dropped []domain.SyncItem
	cfg := Config{
		MaxRetries: 3,
		OnDrop: func(item domain.SyncItem, err error) {
			dropped = append(dropped, item)
			assert.ErrorIs(t, err, errFlaky)
		},
	}
	q, _ := newTestQueue(t, sub, cfg)

	_, err := q.Enqueue(ctx, domain.MutationCreate, domain.Venue{ID: "v1"})
	require.NoError(t, err)

	var last DrainResult
	for i := 0; i < 3; i++ {
		last, err = q.Drain(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, last.Dropped)
	assert.Zero(t, last.Remaining)
	require.Len(t, dropped, 1)
	assert.Equal(t, "v1", dropped[0].Record.ID)
	assert.Equal(t, 3, dropped[0].Retries)
}

func TestItemFailureDoesNotAbortPass(t *testing.T) {
	ctx := context.Background()
	sub := newStubSubmitter()
	sub.failures["bad"] = 100
	q, _ := newTestQueue(t, sub, Config{MaxRetries: 5})

	// Insertion order: bad first, good second.
	_, err := q.Enqueue(ctx, domain.MutationCreate, domain.Venue{ID: "bad"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, domain.MutationCreate, domain.Venue{ID: "good"})
	require.NoError(t, err)

	res, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, 1, sub.attemptCount("good"))
}

func TestGateRefusalPausesPass(t *testing.T) {
	ctx := context.Background()
	sub := newStubSubmitter()
	sub.failures["v1"] = 100
	sub.err = domain.ErrRateLimited
	q, _ := newTestQueue(t, sub, Config{MaxRetries: 3})

	_, err := q.Enqueue(ctx, domain.MutationCreate, domain.Venue{ID: "v1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, domain.MutationCreate, domain.Venue{ID: "v2"})
	require.NoError(t, err)

	res, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Remaining)
	assert.Zero(t, sub.attemptCount("v2"), "items after a gate refusal must not be attempted")

	// A gate refusal does not charge the retry budget.
	items, err := q.Items(ctx)
	require.NoError(t, err)
	for _, item := range items {
		assert.Zero(t, item.Retries)
	}
}

func TestReentrantDrainIsNoop(t *testing.T) {
	ctx := context.Background()
	sub := newStubSubmitter()
	sub.started = make(chan struct{}, 1)
	sub.release = make(chan struct{})
	q, _ := newTestQueue(t, sub, Config{})

	_, err := q.Enqueue(ctx, domain.MutationCreate, domain.Venue{ID: "v1"})
	require.NoError(t, err)

	first := make(chan DrainResult, 1)
	go func() {
		res, _ := q.Drain(ctx)
		first <- res
	}()

	// Wait until the first drain is inside the submitter, then start a
	// concurrent drain: it must skip, not queue a second pass.
	<-sub.started
	assert.True(t, q.InProgress())
	res, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(sub.release)
	got := <-first
	assert.False(t, got.Skipped)
	assert.Equal(t, 1, sub.attemptCount("v1"), "each item attempted at most once per cycle")
}

func TestDrainOrderFollowsInsertion(t *testing.T) {
	ctx := context.Background()

	var order []string
	sub := submitterFunc(func(ctx context.Context, item domain.SyncItem) error {
		order = append(order, item.Record.ID)
		return nil
	})
	q, _ := newTestQueue(t, sub, Config{})

	// Deterministic, strictly increasing enqueue timestamps.
	var tick int64
	q.now = func() time.Time {
		tick++
		return time.Unix(0, tick)
	}

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, domain.MutationCreate, domain.Venue{ID: id})
		require.NoError(t, err)
	}

	_, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

type submitterFunc func(ctx context.Context, item domain.SyncItem) error

func (f submitterFunc) Submit(ctx context.Context, item domain.SyncItem) error {
	return f(ctx, item)
}
