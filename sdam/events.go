// Package sdam models Server Discovery and Monitoring events as a tagged
// variant delivered over a bounded channel to a dedicated dispatcher,
// replacing the source's void-pointer APM callbacks with ordinary values.
// Subscribers never re-enter the topology's lock: events are
// constructed from already-immutable description.Topology/Server values.
package sdam

import (
	"time"

	"github.com/cloudresty/mongocore/description"
)

// Kind identifies which SDAM event a Event carries.
type Kind string

const (
	TopologyOpening            Kind = "TopologyOpening"
	TopologyClosed             Kind = "TopologyClosed"
	TopologyDescriptionChanged Kind = "TopologyDescriptionChanged"
	ServerOpening              Kind = "ServerOpening"
	ServerClosed               Kind = "ServerClosed"
	ServerDescriptionChanged   Kind = "ServerDescriptionChanged"
	HeartbeatStarted           Kind = "ServerHeartbeatStarted"
	HeartbeatSucceeded         Kind = "ServerHeartbeatSucceeded"
	HeartbeatFailed            Kind = "ServerHeartbeatFailed"
)

// Event is the single tagged-variant type delivered to subscribers. Only
// the fields relevant to Kind are populated.
type Event struct {
	Kind      Kind
	Time      time.Time
	Address   string
	TopologyID string

	PrevTopology description.Topology
	NewTopology  description.Topology

	PrevServer description.Server
	NewServer  description.Server

	Duration time.Duration
	Err      error
	Awaited  bool
}

// Sink receives dispatched events. Implementations must not block for long;
// the dispatcher delivers events sequentially per topology to preserve
// per-server ordering.
type Sink interface {
	OnSDAMEvent(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) OnSDAMEvent(e Event) { f(e) }

// NopSink discards every event.
type NopSink struct{}

func (NopSink) OnSDAMEvent(Event) {}
