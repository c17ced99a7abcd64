// Package metrics provides a small typed counter registry passed at
// topology construction, replacing the source's global mutable counters and
// .ctors-section initialisers with an explicit, injectable
// object.
package metrics

import "sync/atomic"

// Counter identifies one of the registry's fixed counter slots.
type Counter string

const (
	HeartbeatsStarted   Counter = "heartbeats_started"
	HeartbeatsSucceeded Counter = "heartbeats_succeeded"
	HeartbeatsFailed    Counter = "heartbeats_failed"
	ServerSelectionWaits Counter = "server_selection_waits"
	PoolCheckouts        Counter = "pool_checkouts"
	PoolCheckoutTimeouts Counter = "pool_checkout_timeouts"
	ConnectionsOpened    Counter = "connections_opened"
	ConnectionsClosed    Counter = "connections_closed"
	GenerationBumps      Counter = "generation_bumps"
)

var allCounters = []Counter{
	HeartbeatsStarted, HeartbeatsSucceeded, HeartbeatsFailed,
	ServerSelectionWaits, PoolCheckouts, PoolCheckoutTimeouts,
	ConnectionsOpened, ConnectionsClosed, GenerationBumps,
}

// Registry holds one atomic int64 per Counter. The zero value is not ready
// for use; construct with New.
type Registry struct {
	values map[Counter]*atomic.Int64
}

// New returns a Registry with every known Counter initialised to zero.
func New() *Registry {
	r := &Registry{values: make(map[Counter]*atomic.Int64, len(allCounters))}
	for _, c := range allCounters {
		r.values[c] = new(atomic.Int64)
	}
	return r
}

// Incr adds delta to counter c. Incrementing an unknown counter is a no-op;
// the registry's counter set is closed by design.
func (r *Registry) Incr(c Counter, delta int64) {
	if r == nil {
		return
	}
	if v, ok := r.values[c]; ok {
		v.Add(delta)
	}
}

// Value returns the current value of counter c.
func (r *Registry) Value(c Counter) int64 {
	if r == nil {
		return 0
	}
	if v, ok := r.values[c]; ok {
		return v.Load()
	}
	return 0
}

// Snapshot returns a point-in-time copy of every counter, keyed by name.
func (r *Registry) Snapshot() map[Counter]int64 {
	out := make(map[Counter]int64, len(allCounters))
	if r == nil {
		for _, c := range allCounters {
			out[c] = 0
		}
		return out
	}
	for _, c := range allCounters {
		out[c] = r.values[c].Load()
	}
	return out
}
