// Package syncq implements the durable sync queue: an ordered log of
// pending mutations awaiting confirmation by the remote data source.
// Items persist in their own partition of the local durable store and
// survive restarts.
package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roamio/venuesync/internal/domain"
	"github.com/roamio/venuesync/internal/ports"
	"github.com/roamio/venuesync/internal/store"
	"github.com/roamio/venuesync/pkg/log"
)

// DefaultMaxRetries is the replay budget per item before it is dropped.
const DefaultMaxRetries = 5

// Submitter replays one queued mutation against the remote source.
// The engine supplies its gated remote path (rate limiter + circuit
// breaker) here.
type Submitter interface {
	Submit(ctx context.Context, item domain.SyncItem) error
}

// DropHandler is notified when an item exhausts its retry budget and is
// abandoned. The original write caller returned long ago, so the drop is
// reported through this observability hook instead of an error return.
type DropHandler func(item domain.SyncItem, err error)

// Config holds queue parameters.
type Config struct {
	// MaxRetries is the replay budget per item. Default: 5.
	MaxRetries int

	// OnDrop is invoked for every abandoned item. Optional.
	OnDrop DropHandler
}

// Queue is the durable mutation queue. Draining is reentrancy-guarded:
// a Drain while one is already running is a no-op rather than a second pass.
type Queue struct {
	store      *store.Store
	conn       ports.ConnectivitySignal
	submitter  Submitter
	maxRetries int
	onDrop     DropHandler
	logger     log.Logger

	draining atomic.Bool
	now      func() time.Time
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	// Skipped is true when the pass did not run: offline, or another
	// drain was already in progress.
	Skipped bool

	// Attempted is the number of items replayed against the remote source.
	Attempted int

	// Succeeded is the number of items confirmed and removed.
	Succeeded int

	// Dropped is the number of items abandoned after exhausting retries.
	Dropped int

	// Remaining is the number of items still pending after the pass.
	Remaining int
}

// New creates a queue backed by the given store. The submitter is the
// gated remote path used to replay items.
func New(st *store.Store, conn ports.ConnectivitySignal, submitter Submitter, cfg Config, logger log.Logger) *Queue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Queue{
		store:      st,
		conn:       conn,
		submitter:  submitter,
		maxRetries: cfg.MaxRetries,
		onDrop:     cfg.OnDrop,
		logger:     logger,
		now:        time.Now,
	}
}

// Enqueue persists a new pending mutation and returns it.
func (q *Queue) Enqueue(ctx context.Context, mt domain.MutationType, record domain.Venue) (domain.SyncItem, error) {
	item := domain.SyncItem{
		ID:        uuid.NewString(),
		Type:      mt,
		Record:    record,
		CreatedAt: q.now(),
	}
	if err := q.store.Put(ctx, domain.PartitionSyncQueue, item.ID, item); err != nil {
		return domain.SyncItem{}, err
	}
	q.logger.Debug("mutation queued",
		log.String("id", item.ID),
		log.String("type", string(item.Type)),
		log.String("record", record.ID))
	return item, nil
}

// Pending returns the number of queued items.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	items, err := q.store.GetAll(ctx, domain.PartitionSyncQueue)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Items returns the queued items in insertion order.
func (q *Queue) Items(ctx context.Context) ([]domain.SyncItem, error) {
	raw, err := q.store.GetAll(ctx, domain.PartitionSyncQueue)
	if err != nil {
		return nil, err
	}
	items := make([]domain.SyncItem, 0, len(raw))
	for key, data := range raw {
		var item domain.SyncItem
		if err := json.Unmarshal(data, &item); err != nil {
			q.logger.Warn("dropping unreadable queue item", log.String("id", key), log.Err(err))
			_ = q.store.Delete(ctx, domain.PartitionSyncQueue, key)
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// InProgress reports whether a drain pass is currently running.
func (q *Queue) InProgress() bool {
	return q.draining.Load()
}

// Drain replays every pending item through the submitter, in insertion
// order, over a snapshot taken at pass start. Offline it is a no-op.
// Per-item failures are isolated: one item's failure never aborts the
// rest of the pass. Gate refusal (rate limit or open circuit) ends the
// pass early without charging the remaining items' retry budgets.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	if !q.conn.Online() {
		return DrainResult{Skipped: true}, nil
	}
	if !q.draining.CompareAndSwap(false, true) {
		return DrainResult{Skipped: true}, nil
	}
	defer q.draining.Store(false)

	items, err := q.Items(ctx)
	if err != nil {
		return DrainResult{}, err
	}
	if len(items) == 0 {
		return DrainResult{}, nil
	}

	q.logger.Info("draining sync queue", log.Int("pending", len(items)))

	var res DrainResult
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		res.Attempted++
		err := q.submitter.Submit(ctx, item)
		if err == nil {
			if err := q.store.Delete(ctx, domain.PartitionSyncQueue, item.ID); err != nil {
				q.logger.Warn("failed to remove confirmed item", log.String("id", item.ID), log.Err(err))
			}
			res.Succeeded++
			continue
		}

		if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrCircuitOpen) {
			// The gate refused; further submissions would too. Stop the
			// pass without charging anyone's retry budget.
			q.logger.Debug("drain paused by gate", log.Err(err))
			res.Attempted--
			break
		}

		item.Retries++
		item.LastAttempt = q.now()
		if item.Retries >= q.maxRetries {
			q.drop(ctx, item, err)
			res.Dropped++
			continue
		}
		if perr := q.store.Put(ctx, domain.PartitionSyncQueue, item.ID, item); perr != nil {
			q.logger.Warn("failed to persist retry count", log.String("id", item.ID), log.Err(perr))
		}
		q.logger.Debug("replay failed, item kept",
			log.String("id", item.ID),
			log.Int("retries", item.Retries),
			log.Err(err))
	}

	remaining, err := q.Pending(ctx)
	if err == nil {
		res.Remaining = remaining
	}
	q.logger.Info("drain finished",
		log.Int("attempted", res.Attempted),
		log.Int("succeeded", res.Succeeded),
		log.Int("dropped", res.Dropped),
		log.Int("remaining", res.Remaining))
	return res, nil
}

// drop abandons an item that exhausted its retry budget.
func (q *Queue) drop(ctx context.Context, item domain.SyncItem, cause error) {
	if err := q.store.Delete(ctx, domain.PartitionSyncQueue, item.ID); err != nil {
		q.logger.Warn("failed to remove exhausted item", log.String("id", item.ID), log.Err(err))
	}
	q.logger.Error("sync item abandoned after max retries",
		log.String("id", item.ID),
		log.String("record", item.Record.ID),
		log.Int("retries", item.Retries),
		log.Err(cause))
	if q.onDrop != nil {
		q.onDrop(item, cause)
	}
}
