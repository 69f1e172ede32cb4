// Package log provides the structured logging facade used across venuesync.
//
// The engine never logs through a concrete library directly; components
// accept a log.Logger and default to the no-op implementation, so the
// engine stays silent when embedded unless the host wires an adapter.
// NewZerolog builds the production adapter.
package log
