package engine

import (
	"context"
	"time"

	"github.com/roamio/venuesync/internal/domain"
	"github.com/roamio/venuesync/pkg/log"
)

// Start launches the engine's background work: the periodic sync-queue
// drain, the expired-entry sweep, and the connectivity subscription
// that drains immediately after an offline-to-online transition.
// Returns domain.ErrAlreadyRunning if the engine is already started.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.lifecycle.canStart() {
		return domain.ErrAlreadyRunning
	}
	if err := e.lifecycle.transitionTo(StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.ctx = runCtx
	e.cancel = cancel
	e.lifecycle.setCancel(cancel)

	e.unsubscribe = e.conn.Subscribe(func(online bool) {
		if !online {
			e.logger.Info("connectivity lost, queueing mode")
			return
		}
		e.logger.Info("connectivity restored, draining queue")
		e.lifecycle.addWorker()
		go func() {
			defer e.lifecycle.workerDone()
			e.drain(runCtx, "reconnect")
		}()
	})

	e.lifecycle.addWorker()
	go func() {
		defer e.lifecycle.workerDone()
		e.runDrainLoop(runCtx)
	}()

	e.lifecycle.addWorker()
	go func() {
		defer e.lifecycle.workerDone()
		e.runSweepLoop(runCtx)
	}()

	if err := e.lifecycle.transitionTo(StateRunning, "background loops started"); err != nil {
		return err
	}
	e.logger.Info("engine started",
		log.Duration("sync_interval", e.cfg.SyncInterval),
		log.Duration("sweep_interval", e.cfg.SweepInterval))
	return nil
}

// Stop shuts the engine down: timers are cleared, the connectivity
// subscription is removed, and background workers are waited for up to
// ShutdownTimeout. Returns domain.ErrNotRunning when not started.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.lifecycle.canStop() {
		e.mu.Unlock()
		return domain.ErrNotRunning
	}
	if err := e.lifecycle.transitionTo(StateStopping, "Stop() called"); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	e.lifecycle.doCancel()
	e.mu.Unlock()

	err := e.lifecycle.waitWithTimeout(ShutdownTimeout)
	if err != nil {
		_ = e.lifecycle.transitionTo(StateCrashed, "shutdown timeout")
	} else {
		_ = e.lifecycle.transitionTo(StateStopped, "graceful shutdown")
	}
	return err
}

// SetSyncInterval hot-reloads the period of the background drain.
// Takes effect at the next loop turn.
func (e *Engine) SetSyncInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	// Replace any pending update rather than blocking.
	select {
	case <-e.intervalCh:
	default:
	}
	e.intervalCh <- d
}

func (e *Engine) runDrainLoop(ctx context.Context) {
	interval := e.cfg.SyncInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-e.intervalCh:
			if d != interval {
				interval = d
				ticker.Reset(interval)
				e.logger.Info("sync interval updated", log.Duration("interval", interval))
			}
		case <-ticker.C:
			e.drain(ctx, "periodic")
		}
	}
}

func (e *Engine) runSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := e.store.ClearExpired(ctx)
			if err != nil {
				e.logger.Warn("expiry sweep failed", log.Err(err))
				continue
			}
			if removed > 0 {
				e.logger.Debug("expiry sweep", log.Int("removed", removed))
			}
		}
	}
}
