package engine

import (
	"github.com/roamio/venuesync/internal/ports"
	"github.com/roamio/venuesync/internal/store"
	"github.com/roamio/venuesync/internal/syncq"
	"github.com/roamio/venuesync/pkg/log"
)

// Option configures optional behavior of the engine.
type Option func(*options)

type options struct {
	logger     log.Logger
	remote     ports.RemoteSource
	conn       ports.ConnectivitySignal
	store      *store.Store
	httpClient ports.HTTPClient
	onDrop     syncq.DropHandler
}

func defaultOptions() options {
	return options{}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, the engine is silent.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRemote injects a remote source, replacing the default HTTP
// adapter built from Config.RemoteURL.
func WithRemote(remote ports.RemoteSource) Option {
	return func(o *options) {
		o.remote = remote
	}
}

// WithConnectivity injects the connectivity signal. If not provided,
// the engine assumes it is always online.
func WithConnectivity(conn ports.ConnectivitySignal) Option {
	return func(o *options) {
		o.conn = conn
	}
}

// WithStore injects a local durable store, replacing the default one
// rooted at Config.DataDir. Coordinators sharing a store must share a
// single engine so the rate limiter is not bypassed.
func WithStore(st *store.Store) Option {
	return func(o *options) {
		o.store = st
	}
}

// WithHTTPClient sets a custom HTTP client for the default remote adapter.
func WithHTTPClient(client ports.HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithDropHandler registers a hook invoked whenever a queued mutation
// is abandoned after exhausting its retries.
func WithDropHandler(fn syncq.DropHandler) Option {
	return func(o *options) {
		o.onDrop = fn
	}
}
