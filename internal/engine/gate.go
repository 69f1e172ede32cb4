package engine

import (
	"context"
	"fmt"

	"github.com/roamio/venuesync/internal/breaker"
	"github.com/roamio/venuesync/internal/domain"
	"github.com/roamio/venuesync/internal/ports"
	"github.com/roamio/venuesync/internal/ratelimit"
)

// gatedRemote is the single remote-access path: every call to the
// remote source passes the sliding-window limiter and the circuit
// breaker, in that order. All coordinators sharing one engine share
// this gate, so nothing bypasses the quota.
type gatedRemote struct {
	remote  ports.RemoteSource
	limiter *ratelimit.Limiter
	breaker *breaker.Breaker
}

// call runs fn through limiter and breaker. Admission and recording are
// one step inside Admit; there is no suspension between the check and
// the request being committed to.
func (g *gatedRemote) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !g.limiter.Admit() {
		return domain.ErrRateLimited
	}
	return g.breaker.Execute(ctx, fn)
}

func (g *gatedRemote) List(ctx context.Context, filter domain.Filter) ([]domain.Venue, error) {
	var venues []domain.Venue
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		venues, err = g.remote.List(ctx, filter)
		return err
	})
	return venues, err
}

func (g *gatedRemote) Create(ctx context.Context, record domain.Venue) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.remote.Create(ctx, record)
	})
}

func (g *gatedRemote) Update(ctx context.Context, record domain.Venue) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.remote.Update(ctx, record)
	})
}

// Submit replays one queued mutation. Satisfies syncq.Submitter.
func (g *gatedRemote) Submit(ctx context.Context, item domain.SyncItem) error {
	switch item.Type {
	case domain.MutationCreate:
		return g.Create(ctx, item.Record)
	case domain.MutationUpdate:
		return g.Update(ctx, item.Record)
	default:
		return &domain.RemoteError{
			Message:   fmt.Sprintf("unknown mutation type %q", item.Type),
			Permanent: true,
		}
	}
}
