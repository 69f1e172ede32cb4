package domain

import "time"

// MutationType identifies the remote operation a queued item replays.
type MutationType string

const (
	MutationCreate MutationType = "create"
	MutationUpdate MutationType = "update"
)

// SyncItem is a pending mutation awaiting remote confirmation.
// Items live in the sync-queue partition of the local durable store and
// are removed exactly once: after a confirmed remote success, or after
// Retries reaches the configured maximum.
type SyncItem struct {
	ID          string       `json:"id"`
	Type        MutationType `json:"type"`
	Record      Venue        `json:"record"`
	Retries     int          `json:"retries"`
	CreatedAt   time.Time    `json:"created_at"`
	LastAttempt time.Time    `json:"last_attempt,omitempty"`
}
