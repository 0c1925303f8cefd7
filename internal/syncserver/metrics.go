package syncserver

import "sync/atomic"

// Metrics captures lightweight in-process counters for observability.
type Metrics struct {
	Requests           atomic.Uint64
	LoginAttempts      atomic.Uint64
	RegisterAttempts   atomic.Uint64
	HealthChecks       atomic.Uint64
	MessagesStored     atomic.Uint64
	ConsumptionUpdates atomic.Uint64
	EventsBroadcast    atomic.Uint64
}

// MetricsSnapshot is a plain copy of the counters at one instant.
type MetricsSnapshot struct {
	Requests           uint64
	LoginAttempts      uint64
	RegisterAttempts   uint64
	HealthChecks       uint64
	MessagesStored     uint64
	ConsumptionUpdates uint64
	EventsBroadcast    uint64
}
