package ports

// Quality grades the current network conditions. The coordinator picks
// its read strategy from it: network-first on good links, cache-first on
// poor ones.
type Quality int

const (
	QualityGood Quality = iota
	QualityPoor
)

// String returns a human-readable representation of the quality.
func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityPoor:
		return "poor"
	default:
		return "unknown"
	}
}

// ConnectivitySignal reports whether the remote source is reachable.
// The engine never probes the network itself; it trusts this collaborator.
type ConnectivitySignal interface {
	// Online reports current connectivity.
	Online() bool

	// Quality grades the current connection.
	Quality() Quality

	// Subscribe registers a callback invoked on every online/offline
	// transition. The returned function unsubscribes the callback and is
	// safe to call more than once.
	Subscribe(fn func(online bool)) (unsubscribe func())
}
