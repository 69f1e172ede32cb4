// Package ratelimit implements a sliding-window admission gate that
// protects the remote data source from exceeding its quota.
package ratelimit

import (
	"sync"
	"time"
)

// Default limiter configuration values.
const (
	DefaultQuota  = 30
	DefaultWindow = time.Minute
)

// Config holds limiter parameters.
type Config struct {
	// Quota is the maximum number of admitted requests per window.
	Quota int

	// Window is the trailing span requests are counted over.
	Window time.Duration

	// BucketWidth is the granularity of the window. Defaults to
	// Window/60 so cleanup stays O(buckets) instead of O(requests).
	BucketWidth time.Duration
}

// Limiter counts admitted requests in fixed-size time buckets spanning a
// sliding window. Admission and recording happen under one lock so that
// interleaved callers cannot overrun the quota.
type Limiter struct {
	mu     sync.Mutex
	quota  int
	window time.Duration
	bucket time.Duration

	// counts maps bucket index (unix time / bucket width) to request count.
	counts map[int64]int

	now func() time.Time
}

// Info describes the limiter's current window.
type Info struct {
	Quota        int       `json:"quota"`
	CurrentCount int       `json:"current_count"`
	ResetAt      time.Time `json:"reset_at"`
}

// New creates a limiter. Zero config fields get defaults.
func New(cfg Config) *Limiter {
	if cfg.Quota <= 0 {
		cfg.Quota = DefaultQuota
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.BucketWidth <= 0 {
		cfg.BucketWidth = cfg.Window / 60
	}
	if cfg.BucketWidth <= 0 {
		cfg.BucketWidth = time.Second
	}
	return &Limiter{
		quota:  cfg.Quota,
		window: cfg.Window,
		bucket: cfg.BucketWidth,
		counts: make(map[int64]int),
		now:    time.Now,
	}
}

// Admit reports whether a request may be issued and, if so, records it.
// Check and record are one atomic step; callers must issue the request
// only after a true return.
func (l *Limiter) Admit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)
	if l.total() >= l.quota {
		return false
	}
	l.counts[l.slot(now)]++
	return true
}

// CanAdmit reports whether a request would currently be admitted,
// without recording anything. Use Admit for the real admission step.
func (l *Limiter) CanAdmit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evict(l.now())
	return l.total() < l.quota
}

// Info returns the quota, the count across live buckets, and the time at
// which the oldest live bucket falls out of the window.
func (l *Limiter) Info() Info {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	info := Info{Quota: l.quota, CurrentCount: l.total(), ResetAt: now}
	oldest := int64(0)
	for slot := range l.counts {
		if oldest == 0 || slot < oldest {
			oldest = slot
		}
	}
	if oldest != 0 {
		bucketStart := time.Unix(0, oldest*int64(l.bucket))
		info.ResetAt = bucketStart.Add(l.window)
	}
	return info
}

func (l *Limiter) slot(now time.Time) int64 {
	return now.UnixNano() / int64(l.bucket)
}

// evict drops buckets older than the trailing window. Callers must hold l.mu.
func (l *Limiter) evict(now time.Time) {
	horizon := l.slot(now.Add(-l.window))
	for slot := range l.counts {
		if slot <= horizon {
			delete(l.counts, slot)
		}
	}
}

func (l *Limiter) total() int {
	n := 0
	for _, c := range l.counts {
		n += c
	}
	return n
}
