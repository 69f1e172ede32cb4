package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/roamio/venuesync/internal/domain"
	"github.com/roamio/venuesync/internal/ports"
	"github.com/roamio/venuesync/pkg/log"
)

// Read returns the venues matching the filter. The strategy follows
// network conditions: cache-only while offline, network-first on a good
// link or when forceRefresh is set, cache-first otherwise. Remote
// errors fall back to the cache; an error is returned only when both
// the remote source and the cache yield nothing.
func (e *Engine) Read(ctx context.Context, filter domain.Filter, forceRefresh bool) ([]domain.Venue, error) {
	if !e.conn.Online() {
		venues, fresh, err := e.cachedVenues(ctx, filter)
		if err != nil {
			return nil, err
		}
		if len(venues) == 0 && !fresh {
			return nil, domain.ErrNotFound
		}
		return venues, nil
	}

	if forceRefresh || e.conn.Quality() == ports.QualityGood {
		return e.readNetworkFirst(ctx, filter)
	}
	return e.readCacheFirst(ctx, filter)
}

// ReadOne returns a single venue by ID. The remote source has no point
// lookup, so a cache miss while online falls through to a full listing
// filtered client-side.
func (e *Engine) ReadOne(ctx context.Context, id string) (domain.Venue, error) {
	var v domain.Venue
	err := e.store.Get(ctx, domain.PartitionRecords, id, &v)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Venue{}, err
	}
	if !e.conn.Online() {
		return domain.Venue{}, domain.ErrNotFound
	}

	venues, err := e.readNetworkFirst(ctx, domain.Filter{})
	if err != nil {
		return domain.Venue{}, err
	}
	for _, v := range venues {
		if v.ID == id {
			return v, nil
		}
	}
	return domain.Venue{}, domain.ErrNotFound
}

func (e *Engine) readNetworkFirst(ctx context.Context, filter domain.Filter) ([]domain.Venue, error) {
	venues, err := e.gate.List(ctx, filter)
	if err == nil {
		e.storeListing(ctx, filter, venues)
		return venues, nil
	}

	e.logger.Warn("remote read failed, falling back to cache", log.Err(err))
	cached, fresh, cerr := e.cachedVenues(ctx, filter)
	if cerr == nil && (len(cached) > 0 || fresh) {
		return cached, nil
	}
	return nil, err
}

func (e *Engine) readCacheFirst(ctx context.Context, filter domain.Filter) ([]domain.Venue, error) {
	cached, fresh, err := e.cachedVenues(ctx, filter)
	if err == nil && (len(cached) > 0 || fresh) {
		if !fresh {
			e.refreshInBackground(filter)
		}
		return cached, nil
	}
	return e.readNetworkFirst(ctx, filter)
}

// cachedVenues reads the records partition filtered client-side.
// fresh reports whether a listing for this filter was stored within the
// cache TTL, which distinguishes a cached empty listing from no cache.
func (e *Engine) cachedVenues(ctx context.Context, filter domain.Filter) (venues []domain.Venue, fresh bool, err error) {
	raw, err := e.store.GetAll(ctx, domain.PartitionRecords)
	if err != nil {
		return nil, false, err
	}

	venues = make([]domain.Venue, 0, len(raw))
	for key, data := range raw {
		var v domain.Venue
		if uerr := json.Unmarshal(data, &v); uerr != nil {
			e.logger.Warn("unreadable cached record", log.String("key", key), log.Err(uerr))
			continue
		}
		if filter.Matches(v) {
			venues = append(venues, v)
		}
	}
	sort.Slice(venues, func(i, j int) bool { return venues[i].Name < venues[j].Name })

	var stamp time.Time
	if serr := e.store.GetTTL(ctx, freshKey(filter), &stamp); serr == nil {
		fresh = true
	}
	return venues, fresh, nil
}

// storeListing replaces the cached records for the filter with a remote
// listing and stamps the filter fresh. Listed venues are upserted;
// cached records the filter matches that the remote no longer returns
// are pruned, so remote deletions propagate to the cache.
func (e *Engine) storeListing(ctx context.Context, filter domain.Filter, venues []domain.Venue) {
	for _, v := range venues {
		if err := e.store.Put(ctx, domain.PartitionRecords, v.ID, v); err != nil {
			e.logger.Warn("failed to cache record", log.String("id", v.ID), log.Err(err))
			return
		}
	}
	e.pruneListing(ctx, filter, venues)
	if err := e.store.SetWithTTL(ctx, freshKey(filter), time.Now(), e.cfg.CacheTTL); err != nil {
		e.logger.Warn("failed to stamp listing", log.Err(err))
	}
}

// pruneListing removes cached records that match the filter but are
// absent from the listing. Records with a queued mutation are kept: the
// remote has not seen those writes yet, so its listing says nothing
// about them.
func (e *Engine) pruneListing(ctx context.Context, filter domain.Filter, venues []domain.Venue) {
	raw, err := e.store.GetAll(ctx, domain.PartitionRecords)
	if err != nil {
		e.logger.Warn("listing prune skipped", log.Err(err))
		return
	}

	listed := make(map[string]bool, len(venues))
	for _, v := range venues {
		listed[v.ID] = true
	}
	queued, err := e.queue.Items(ctx)
	if err != nil {
		e.logger.Warn("listing prune skipped", log.Err(err))
		return
	}
	pending := make(map[string]bool, len(queued))
	for _, item := range queued {
		pending[item.Record.ID] = true
	}

	for key, data := range raw {
		if listed[key] || pending[key] {
			continue
		}
		var v domain.Venue
		// Unreadable entries are pruned along with stale ones.
		if uerr := json.Unmarshal(data, &v); uerr == nil && !filter.Matches(v) {
			continue
		}
		if derr := e.store.Delete(ctx, domain.PartitionRecords, key); derr != nil {
			e.logger.Warn("failed to prune record", log.String("id", key), log.Err(derr))
		}
	}
}

// refreshInBackground refreshes the cache for a filter without blocking
// the caller. A refresh per filter runs at most once at a time, and
// only while the engine is started (the worker is tracked for teardown).
func (e *Engine) refreshInBackground(filter domain.Filter) {
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	key := filter.Key()
	e.refreshing.Lock()
	if e.refreshSet[key] {
		e.refreshing.Unlock()
		return
	}
	e.refreshSet[key] = true
	e.refreshing.Unlock()

	e.lifecycle.addWorker()
	go func() {
		defer e.lifecycle.workerDone()
		defer func() {
			e.refreshing.Lock()
			delete(e.refreshSet, key)
			e.refreshing.Unlock()
		}()

		venues, err := e.gate.List(ctx, filter)
		if err != nil {
			e.logger.Debug("background refresh failed", log.Err(err))
			return
		}
		e.storeListing(ctx, filter, venues)
		e.logger.Debug("background refresh complete",
			log.String("filter", key),
			log.Int("records", len(venues)))
	}()
}
