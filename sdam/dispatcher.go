package sdam

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// dispatchBuffer bounds the event channel so a slow or absent sink can never
// make a monitor or the topology mutex block on publish.
const dispatchBuffer = 256

// Dispatcher fans events from many producers (monitors, the topology) out
// to a single Sink on a dedicated goroutine, supervised by an errgroup so it
// shares cancellation with whatever else the caller supervises together.
type Dispatcher struct {
	sink Sink
	ch   chan Event
	done chan struct{}
}

// NewDispatcher starts a dispatcher goroutine under group that delivers
// every published Event to sink, in publish order, until ctx is cancelled.
// If sink is nil, events are discarded.
func NewDispatcher(ctx context.Context, group *errgroup.Group, sink Sink) *Dispatcher {
	if sink == nil {
		sink = NopSink{}
	}
	d := &Dispatcher{
		sink: sink,
		ch:   make(chan Event, dispatchBuffer),
		done: make(chan struct{}),
	}
	group.Go(func() error {
		defer close(d.done)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-d.ch:
				if !ok {
					return nil
				}
				d.sink.OnSDAMEvent(e)
			}
		}
	})
	return d
}

// Publish enqueues e for delivery. It never blocks the caller on a full
// buffer beyond a best-effort drop, because monitors and the topology mutex
// must never stall behind a slow subscriber.
func (d *Dispatcher) Publish(e Event) {
	select {
	case d.ch <- e:
	default:
		// Buffer full: drop rather than block the topology mutex or a
		// monitor's publish path.
	}
}

// Close stops accepting new events. Safe to call once.
func (d *Dispatcher) Close() {
	close(d.ch)
	<-d.done
}
