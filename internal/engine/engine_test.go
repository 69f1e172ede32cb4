package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamio/venuesync/internal/adapters/connectivity"
	"github.com/roamio/venuesync/internal/domain"
	"github.com/roamio/venuesync/internal/ports"
	"github.com/roamio/venuesync/internal/store"
)

// stubRemote scripts the remote data source.
type stubRemote struct {
	mu sync.Mutex

	listing  []domain.Venue
	listErr  error
	writeErr error

	listCalls   int
	createCalls int
	updateCalls int
}

func (r *stubRemote) List(ctx context.Context, filter domain.Filter) ([]domain.Venue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]domain.Venue, 0, len(r.listing))
	for _, v := range r.listing {
		if filter.Matches(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *stubRemote) Create(ctx context.Context, record domain.Venue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	return r.writeErr
}

func (r *stubRemote) Update(ctx context.Context, record domain.Venue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	return r.writeErr
}

func (r *stubRemote) setWriteErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeErr = err
}

func newTestEngine(t *testing.T, remote *stubRemote, conn *connectivity.Manual) *Engine {
	t.Helper()
	st := store.New(t.TempDir(), nil)
	e, err := New(Config{
		CacheTTL:         time.Minute,
		RateQuota:        1000,
		BreakerThreshold: 1000,
	}, WithStore(st), WithRemote(remote), WithConnectivity(conn))
	require.NoError(t, err)
	return e
}

func TestWriteOnlineConfirmsSynchronously(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{}
	e := newTestEngine(t, remote, connectivity.NewManual(true))

	require.NoError(t, e.Write(ctx, domain.Venue{ID: "v1", Name: "Sightglass"}))
	assert.Equal(t, 1, remote.createCalls)

	status, err := e.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.PendingCount)

	// Existing record routes through update.
	require.NoError(t, e.Write(ctx, domain.Venue{ID: "v1", Name: "Sightglass Roastery"}))
	assert.Equal(t, 1, remote.updateCalls)
}

func TestWritePermanentRejectionRollsBack(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{}
	e := newTestEngine(t, remote, connectivity.NewManual(true))

	remote.setWriteErr(&domain.RemoteError{Code: 422, Message: "bad venue", Permanent: true})

	err := e.Write(ctx, domain.Venue{ID: "v1", Name: "Nope"})
	require.Error(t, err)
	assert.True(t, domain.IsPermanentRemote(err))

	// The optimistic update is gone: the store is in its pre-write state.
	_, err = e.ReadOne(ctx, "v1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Nothing queued either; permanent failures are not retried.
	status, err := e.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.PendingCount)
}

func TestWritePermanentRejectionRestoresPrevious(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{}
	e := newTestEngine(t, remote, connectivity.NewManual(true))

	require.NoError(t, e.Write(ctx, domain.Venue{ID: "v1", Name: "Original"}))

	remote.setWriteErr(&domain.RemoteError{Code: 400, Message: "rejected", Permanent: true})
	err := e.Write(ctx, domain.Venue{ID: "v1", Name: "Changed"})
	require.Error(t, err)

	got, err := e.ReadOne(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "Original", got.Name)
}

func TestWriteTransientFailureEnqueues(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{}
	e := newTestEngine(t, remote, connectivity.NewManual(true))

	remote.setWriteErr(&domain.RemoteError{Code: 503, Message: "try later"})

	// The caller sees success: the optimistic update stands and the
	// mutation is absorbed into the queue.
	require.NoError(t, e.Write(ctx, domain.Venue{ID: "v1", Name: "Flaky"}))

	got, err := e.ReadOne(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "Flaky", got.Name)

	status, err := e.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.PendingCount)
}

func TestWriteOfflineSkipsRemote(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{}
	conn := connectivity.NewManual(false)
	e := newTestEngine(t, remote, conn)

	require.NoError(t, e.Write(ctx, domain.Venue{ID: "v1", Name: "Offline"}))
	assert.Zero(t, remote.createCalls, "no synchronous attempt while offline")

	got, err := e.ReadOne(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "Offline", got.Name)

	status, err := e.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.PendingCount)

	// Back online, a forced sync confirms the queued mutation.
	conn.SetOnline(true)
	res := e.ForceSync(ctx)
	assert.True(t, res.Success)
	assert.Equal(t, 1, remote.createCalls)

	status, err = e.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.PendingCount)
}

func TestReadOfflineServesCache(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{listing: []domain.Venue{{ID: "v1", Name: "Cafe", Category: "cafe"}}}
	conn := connectivity.NewManual(true)
	e := newTestEngine(t, remote, conn)

	// Online read warms the cache.
	venues, err := e.Read(ctx, domain.Filter{}, false)
	require.NoError(t, err)
	require.Len(t, venues, 1)

	// Offline read is served from cache without touching the remote.
	conn.SetOnline(false)
	before := remote.listCalls
	venues, err = e.Read(ctx, domain.Filter{}, false)
	require.NoError(t, err)
	require.Len(t, venues, 1)
	assert.Equal(t, "Cafe", venues[0].Name)
	assert.Equal(t, before, remote.listCalls)
}

func TestReadOfflineEmptyCacheErrors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &stubRemote{}, connectivity.NewManual(false))

	_, err := e.Read(ctx, domain.Filter{}, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReadFallsBackToCacheOnRemoteError(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{listing: []domain.Venue{{ID: "v1", Name: "Cafe"}}}
	e := newTestEngine(t, remote, connectivity.NewManual(true))

	_, err := e.Read(ctx, domain.Filter{}, false)
	require.NoError(t, err)

	remote.mu.Lock()
	remote.listErr = &domain.RemoteError{Code: 500, Message: "boom"}
	remote.mu.Unlock()

	venues, err := e.Read(ctx, domain.Filter{}, true)
	require.NoError(t, err, "cache fallback must absorb the remote error")
	require.Len(t, venues, 1)
}

func TestReadErrorsOnlyWhenBothEmpty(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{listErr: &domain.RemoteError{Code: 500, Message: "boom"}}
	e := newTestEngine(t, remote, connectivity.NewManual(true))

	_, err := e.Read(ctx, domain.Filter{}, false)
	require.Error(t, err)
	var re *domain.RemoteError
	assert.ErrorAs(t, err, &re)
}

func TestReadFilterByCategory(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{listing: []domain.Venue{
		{ID: "v1", Name: "Cafe", Category: "cafe"},
		{ID: "v2", Name: "Bar", Category: "bar"},
	}}
	e := newTestEngine(t, remote, connectivity.NewManual(true))

	venues, err := e.Read(ctx, domain.Filter{Category: "cafe"}, false)
	require.NoError(t, err)
	require.Len(t, venues, 1)
	assert.Equal(t, "v1", venues[0].ID)
}

func TestRefreshPrunesRemotelyDeletedRecords(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{listing: []domain.Venue{
		{ID: "v1", Name: "Cafe", Category: "cafe"},
		{ID: "v2", Name: "Bar", Category: "bar"},
	}}
	conn := connectivity.NewManual(true)
	e := newTestEngine(t, remote, conn)

	venues, err := e.Read(ctx, domain.Filter{}, true)
	require.NoError(t, err)
	require.Len(t, venues, 2)

	// v2 is deleted on the remote; the next refresh must evict it.
	remote.mu.Lock()
	remote.listing = remote.listing[:1]
	remote.mu.Unlock()

	venues, err = e.Read(ctx, domain.Filter{}, true)
	require.NoError(t, err)
	require.Len(t, venues, 1)

	// Cache-served reads no longer resurrect the deleted record.
	conn.SetOnline(false)
	venues, err = e.Read(ctx, domain.Filter{}, false)
	require.NoError(t, err)
	require.Len(t, venues, 1)
	assert.Equal(t, "v1", venues[0].ID)

	_, err = e.ReadOne(ctx, "v2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFilteredRefreshLeavesOtherCategoriesAlone(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{listing: []domain.Venue{
		{ID: "v1", Name: "Cafe", Category: "cafe"},
		{ID: "v2", Name: "Bar", Category: "bar"},
	}}
	conn := connectivity.NewManual(true)
	e := newTestEngine(t, remote, conn)

	_, err := e.Read(ctx, domain.Filter{}, true)
	require.NoError(t, err)

	// The last cafe disappears; a cafe-filtered refresh prunes it but
	// must not touch records outside the filter.
	remote.mu.Lock()
	remote.listing = remote.listing[1:]
	remote.mu.Unlock()

	venues, err := e.Read(ctx, domain.Filter{Category: "cafe"}, true)
	require.NoError(t, err)
	assert.Empty(t, venues)

	conn.SetOnline(false)
	venues, err = e.Read(ctx, domain.Filter{}, false)
	require.NoError(t, err)
	require.Len(t, venues, 1)
	assert.Equal(t, "v2", venues[0].ID)
}

func TestRefreshKeepsRecordsWithQueuedWrites(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{listing: []domain.Venue{{ID: "v1", Name: "Cafe"}}}
	conn := connectivity.NewManual(false)
	e := newTestEngine(t, remote, conn)

	// Offline write: optimistic record plus a queued mutation.
	require.NoError(t, e.Write(ctx, domain.Venue{ID: "v9", Name: "New Spot"}))

	// A refresh listing that predates the queued write must not wipe it.
	conn.SetOnline(true)
	venues, err := e.Read(ctx, domain.Filter{}, true)
	require.NoError(t, err)
	require.Len(t, venues, 1)

	got, err := e.ReadOne(ctx, "v9")
	require.NoError(t, err)
	assert.Equal(t, "New Spot", got.Name)

	status, err := e.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.PendingCount)
}

func TestReadOneFallsThroughToListing(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{listing: []domain.Venue{{ID: "v7", Name: "Hidden Gem"}}}
	e := newTestEngine(t, remote, connectivity.NewManual(true))

	got, err := e.ReadOne(ctx, "v7")
	require.NoError(t, err)
	assert.Equal(t, "Hidden Gem", got.Name)
	assert.Equal(t, 1, remote.listCalls)

	// Second lookup hits the cache.
	_, err = e.ReadOne(ctx, "v7")
	require.NoError(t, err)
	assert.Equal(t, 1, remote.listCalls)
}

func TestRateLimitedWriteGoesToQueue(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{}
	st := store.New(t.TempDir(), nil)
	e, err := New(Config{
		RateQuota:  1,
		RateWindow: time.Hour,
	}, WithStore(st), WithRemote(remote), WithConnectivity(connectivity.NewManual(true)))
	require.NoError(t, err)

	require.NoError(t, e.Write(ctx, domain.Venue{ID: "v1"}))
	require.NoError(t, e.Write(ctx, domain.Venue{ID: "v2"}))

	// One call reached the remote, the second was absorbed by the queue.
	assert.Equal(t, 1, remote.createCalls)
	status, err := e.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.PendingCount)
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{}
	conn := connectivity.NewManual(false)
	e := newTestEngine(t, remote, conn)

	require.NoError(t, e.Write(ctx, domain.Venue{ID: "v1"}))
	require.NoError(t, e.ClearAll(ctx))

	_, err := e.ReadOne(ctx, "v1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	status, err := e.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.PendingCount)
}

func TestEngineStats(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{}
	e := newTestEngine(t, remote, connectivity.NewManual(true))

	require.NoError(t, e.Write(ctx, domain.Venue{ID: "v1"}))

	res := e.ForceSync(ctx)
	require.True(t, res.Success)

	stats, err := e.EngineStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "closed", stats.Breaker)
	assert.Zero(t, stats.PendingMutations)
	assert.False(t, stats.LastSyncAt.IsZero())
	assert.Equal(t, 1, stats.Store.Partitions[domain.PartitionRecords])
}

func TestLifecycle(t *testing.T) {
	remote := &stubRemote{}
	conn := connectivity.NewManual(true)
	e := newTestEngine(t, remote, conn)

	require.Equal(t, StateStopped, e.State())
	require.ErrorIs(t, e.Stop(), domain.ErrNotRunning)

	require.NoError(t, e.Start(context.Background()))
	require.Equal(t, StateRunning, e.State())
	require.ErrorIs(t, e.Start(context.Background()), domain.ErrAlreadyRunning)

	require.NoError(t, e.Stop())
	require.Equal(t, StateStopped, e.State())
}

func TestReconnectTriggersDrain(t *testing.T) {
	ctx := context.Background()
	remote := &stubRemote{}
	conn := connectivity.NewManual(false)
	e := newTestEngine(t, remote, conn)

	require.NoError(t, e.Write(ctx, domain.Venue{ID: "v1"}))
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	conn.SetOnline(true)

	// The reconnect drain runs on a background worker.
	require.Eventually(t, func() bool {
		status, err := e.SyncStatus(ctx)
		return err == nil && status.PendingCount == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, remote.createCalls)
}

var _ ports.RemoteSource = (*stubRemote)(nil)
