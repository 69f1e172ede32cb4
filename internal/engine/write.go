package engine

import (
	"context"
	"errors"

	"github.com/roamio/venuesync/internal/domain"
	"github.com/roamio/venuesync/pkg/log"
)

// Write applies the record optimistically to the local durable store,
// then confirms it remotely. When online, the remote call runs
// synchronously: a permanent rejection rolls the optimistic update back
// and is returned to the caller; a transient failure (including rate
// limiting and an open circuit) hands the mutation to the sync queue
// and the write still succeeds from the caller's point of view. When
// offline, the mutation goes straight to the queue and the optimistic
// update stays in place.
func (e *Engine) Write(ctx context.Context, record domain.Venue) error {
	var prev domain.Venue
	hadPrev := true
	if err := e.store.Get(ctx, domain.PartitionRecords, record.ID, &prev); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		hadPrev = false
	}

	mt := domain.MutationCreate
	if hadPrev {
		mt = domain.MutationUpdate
	}

	// Optimistic update: visible to subsequent reads right away.
	if err := e.store.Put(ctx, domain.PartitionRecords, record.ID, record); err != nil {
		return err
	}

	if !e.conn.Online() {
		if err := e.enqueue(ctx, mt, record, prev, hadPrev); err != nil {
			return err
		}
		e.logger.Debug("offline write queued", log.String("id", record.ID))
		return nil
	}

	err := e.gate.Submit(ctx, domain.SyncItem{Type: mt, Record: record})
	if err == nil {
		return nil
	}

	if domain.IsPermanentRemote(err) {
		e.logger.Warn("write rejected permanently, rolling back",
			log.String("id", record.ID), log.Err(err))
		e.rollback(ctx, record.ID, prev, hadPrev)
		return err
	}

	// Transient failure: the optimistic update already satisfied the
	// caller-visible expectation; replay later.
	e.logger.Debug("write deferred to sync queue", log.String("id", record.ID), log.Err(err))
	return e.enqueue(ctx, mt, record, prev, hadPrev)
}

// enqueue hands a mutation to the sync queue; if even that fails (local
// storage), the optimistic update is rolled back and the storage error
// surfaced, since the mutation would otherwise be silently lost.
func (e *Engine) enqueue(ctx context.Context, mt domain.MutationType, record, prev domain.Venue, hadPrev bool) error {
	if _, err := e.queue.Enqueue(ctx, mt, record); err != nil {
		e.rollback(ctx, record.ID, prev, hadPrev)
		return err
	}
	return nil
}

// rollback restores the store to its pre-write state.
func (e *Engine) rollback(ctx context.Context, id string, prev domain.Venue, hadPrev bool) {
	var err error
	if hadPrev {
		err = e.store.Put(ctx, domain.PartitionRecords, id, prev)
	} else {
		err = e.store.Delete(ctx, domain.PartitionRecords, id)
	}
	if err != nil {
		e.logger.Error("rollback failed", log.String("id", id), log.Err(err))
	}
}
