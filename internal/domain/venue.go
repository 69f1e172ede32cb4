package domain

import (
	"strings"
	"time"
)

// Logical partitions of the local durable store.
const (
	PartitionRecords   = "records"
	PartitionCache     = "generic-cache"
	PartitionSyncQueue = "sync-queue"
)

// Venue is the domain record cached and synchronized by the engine.
// The engine treats it as an opaque payload; schema validation belongs
// to the calling layer.
type Venue struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Address   string    `json:"address"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lng"`
	Rating    float64   `json:"rating,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filter narrows a listing to a subset of venues.
// A zero Filter matches everything.
type Filter struct {
	Category string `json:"category,omitempty"`
}

// Matches reports whether the venue satisfies the filter.
func (f Filter) Matches(v Venue) bool {
	if f.Category == "" {
		return true
	}
	return strings.EqualFold(f.Category, v.Category)
}

// Key returns a stable cache-key fragment for the filter.
func (f Filter) Key() string {
	if f.Category == "" {
		return "all"
	}
	return "category:" + strings.ToLower(f.Category)
}
