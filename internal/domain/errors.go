package domain

import (
	"errors"
	"fmt"
)

// Domain errors returned by the public API, checked with errors.Is.
var (
	// ErrNotFound is returned when a key or record is absent (or expired).
	ErrNotFound = errors.New("venuesync: not found")

	// ErrRateLimited is returned when the sliding-window limiter refuses
	// admission for a remote call.
	ErrRateLimited = errors.New("venuesync: rate limit exceeded")

	// ErrCircuitOpen is returned when the circuit breaker short-circuits
	// a remote call without invoking it.
	ErrCircuitOpen = errors.New("venuesync: circuit open")

	// ErrAlreadyRunning is returned when Start() is called on a running engine.
	ErrAlreadyRunning = errors.New("venuesync: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped engine.
	ErrNotRunning = errors.New("venuesync: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("venuesync: shutdown timeout")
)

// RemoteError describes a failure reported by the remote data source.
// Permanent failures (e.g. validation rejections) are never retried;
// transient ones are absorbed into the sync queue.
type RemoteError struct {
	Code      int
	Message   string
	Permanent bool
}

func (e *RemoteError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("remote error (%s, code %d): %s", kind, e.Code, e.Message)
}

// IsPermanentRemote reports whether err is a RemoteError the remote
// source rejected permanently.
func IsPermanentRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Permanent
}

// StorageError describes a local persistence failure (quota, transaction
// abort, store unreachable).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
