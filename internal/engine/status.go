package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roamio/venuesync/internal/domain"
	"github.com/roamio/venuesync/internal/ratelimit"
	"github.com/roamio/venuesync/internal/store"
	"github.com/roamio/venuesync/internal/syncq"
	"github.com/roamio/venuesync/pkg/log"
)

// SyncResult reports the outcome of a manual sync.
type SyncResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Status describes the sync queue's current condition.
type Status struct {
	InProgress   bool `json:"in_progress"`
	PendingCount int  `json:"pending_count"`
	Online       bool `json:"online"`
}

// Stats aggregates engine observability counters.
type Stats struct {
	Store            store.Stats    `json:"store"`
	PendingMutations int            `json:"pending_mutations"`
	RateLimit        ratelimit.Info `json:"rate_limit"`
	Breaker          string         `json:"breaker"`
	LastSyncAt       time.Time      `json:"last_sync_at,omitempty"`
}

// ForceSync drains the sync queue on demand.
func (e *Engine) ForceSync(ctx context.Context) SyncResult {
	if !e.conn.Online() {
		return SyncResult{Success: false, Message: "offline, sync deferred"}
	}

	res, err := e.drain(ctx, "manual")
	switch {
	case err != nil:
		return SyncResult{Success: false, Message: err.Error()}
	case res.Skipped:
		return SyncResult{Success: true, Message: "sync already in progress"}
	case res.Remaining > 0:
		return SyncResult{
			Success: false,
			Message: fmt.Sprintf("%d mutations still pending", res.Remaining),
		}
	default:
		return SyncResult{
			Success: true,
			Message: fmt.Sprintf("synced %d mutations", res.Succeeded),
		}
	}
}

// SyncStatus reports whether a drain is running, how many mutations are
// pending, and the connectivity state.
func (e *Engine) SyncStatus(ctx context.Context) (Status, error) {
	pending, err := e.queue.Pending(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		InProgress:   e.queue.InProgress(),
		PendingCount: pending,
		Online:       e.conn.Online(),
	}, nil
}

// ClearAll wipes every partition of the local durable store, including
// queued mutations.
func (e *Engine) ClearAll(ctx context.Context) error {
	return e.store.ClearAll(ctx)
}

// EngineStats returns store counters, limiter window state, breaker
// state, and the last successful sync time.
func (e *Engine) EngineStats(ctx context.Context) (Stats, error) {
	st, err := e.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	pending, err := e.queue.Pending(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Store:            st,
		PendingMutations: pending,
		RateLimit:        e.limiter.Info(),
		Breaker:          e.breaker.State().String(),
	}
	var last time.Time
	if err := e.store.GetTTL(ctx, lastSyncKey, &last); err == nil {
		stats.LastSyncAt = last
	} else if !errors.Is(err, domain.ErrNotFound) {
		return Stats{}, err
	}
	return stats, nil
}

// drain runs one queue pass and stamps the last-successful-sync time
// when the queue comes out empty.
func (e *Engine) drain(ctx context.Context, reason string) (syncq.DrainResult, error) {
	res, err := e.queue.Drain(ctx)
	if err != nil {
		e.logger.Warn("drain failed", log.String("reason", reason), log.Err(err))
		return res, err
	}
	if !res.Skipped && res.Remaining == 0 {
		if serr := e.store.SetWithTTL(ctx, lastSyncKey, time.Now(), lastSyncTTL); serr != nil {
			e.logger.Warn("failed to stamp last sync", log.Err(serr))
		}
	}
	return res, nil
}
