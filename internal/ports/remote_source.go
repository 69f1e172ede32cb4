package ports

import (
	"context"

	"github.com/roamio/venuesync/internal/domain"
)

// RemoteSource is the rate-limited remote data source the engine
// synchronizes against. All three operations may fail with a
// domain.RemoteError; the engine wraps every invocation with the rate
// limiter and the circuit breaker.
type RemoteSource interface {
	// List returns all records matching the filter. The remote source has
	// no efficient point lookup; single-record reads go through List.
	List(ctx context.Context, filter domain.Filter) ([]domain.Venue, error)

	// Create submits a new record.
	Create(ctx context.Context, record domain.Venue) error

	// Update submits a changed record.
	Update(ctx context.Context, record domain.Venue) error
}
