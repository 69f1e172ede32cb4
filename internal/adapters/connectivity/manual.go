// Package connectivity provides platform adapters for the engine's
// connectivity signal: a manually driven signal for hosts that already
// know their network state (and for tests), and an HTTP prober for
// daemons that need to discover it.
package connectivity

import (
	"sync"

	"github.com/roamio/venuesync/internal/ports"
)

// Manual is a connectivity signal driven explicitly by the host
// application via SetOnline and SetQuality.
type Manual struct {
	mu      sync.Mutex
	online  bool
	quality ports.Quality
	subs    map[int]func(online bool)
	nextID  int
}

// NewManual creates a manual signal with the given initial state and
// good quality.
func NewManual(online bool) *Manual {
	return &Manual{
		online: online,
		subs:   make(map[int]func(online bool)),
	}
}

// Online reports current connectivity.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Quality grades the current connection.
func (m *Manual) Quality() ports.Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

// SetQuality updates the reported connection quality.
func (m *Manual) SetQuality(q ports.Quality) {
	m.mu.Lock()
	m.quality = q
	m.mu.Unlock()
}

// SetOnline updates connectivity and notifies subscribers on a change.
// Callbacks run synchronously on the calling goroutine.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers a transition callback and returns its unsubscribe
// function.
func (m *Manual) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}
