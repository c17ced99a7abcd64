// Package topology owns the mutex-guarded topology description and the set
// of per-server monitors that keep it current: the pure ingestion function
// of fsm.go wired up to real monitor actors, server selection, cluster-time
// merging, and optional SRV polling.
package topology

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/cloudresty/mongocore/description"
	"github.com/cloudresty/mongocore/metrics"
	"github.com/cloudresty/mongocore/mongocoreerr"
	"github.com/cloudresty/mongocore/monitor"
	"github.com/cloudresty/mongocore/resolver"
	"github.com/cloudresty/mongocore/sdam"
	"github.com/cloudresty/mongocore/selector"
	"github.com/cloudresty/mongocore/wire"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/errgroup"
)

// SRVConfig enables SRV polling for a mongodb+srv:// deployment.
type SRVConfig struct {
	Host     string
	Service  string
	Resolver *resolver.Resolver
	// MaxHosts caps the seed list after a rescan (srvMaxHosts); 0 disables
	// the cap.
	MaxHosts int
}

// Config bundles everything a Topology needs to start monitoring.
type Config struct {
	Seeds            []string
	SetName          string
	DirectConnection bool
	LoadBalanced     bool

	HeartbeatFrequency      time.Duration
	MinHeartbeatFrequency   time.Duration
	ConnectTimeout          time.Duration
	ServerSelectionTimeout  time.Duration
	LocalThresholdMS        int64
	HeartbeatFrequencyMS    int64

	AppName    string
	TLS        *tls.Config
	Compressor wire.Compressor

	SRV *SRVConfig

	Events  sdam.Sink
	Metrics *metrics.Registry

	// BumpGeneration is invoked by a server's monitor on network failure so
	// the connection pool can invalidate stale streams.
	BumpGeneration func(addr string)
}

const (
	driverMinWireVersion = description.SupportedWireVersionMin
	driverMaxWireVersion = description.SupportedWireVersionMax
)

// Topology is the live, monitored view of a deployment.
type Topology struct {
	cfg Config

	mu    sync.Mutex
	cond  *sync.Cond
	desc  description.Topology
	fsm   *fsm
	nextID uint64

	monitors map[string]*monitor.Monitor

	events     *sdam.Dispatcher
	group      *errgroup.Group
	ctx        context.Context
	cancel     context.CancelFunc
}

// New constructs a Topology from cfg's seed list and starts one monitor per
// seed. Callers must call Close when done.
func New(parent context.Context, cfg Config) *Topology {
	ctx, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(ctx)

	t := &Topology{
		cfg:      cfg,
		fsm:      newFSM(driverMinWireVersion, driverMaxWireVersion),
		monitors: make(map[string]*monitor.Monitor),
		events:   sdam.NewDispatcher(ctx, group, cfg.Events),
		group:    group,
		ctx:      gctx,
		cancel:   cancel,
	}
	t.cond = sync.NewCond(&t.mu)
	t.desc = description.Topology{Kind: initialKind(cfg), SetName: cfg.SetName}

	t.events.Publish(sdam.Event{Kind: sdam.TopologyOpening, Time: time.Now(), NewTopology: t.desc})

	for _, addr := range cfg.Seeds {
		t.addServerLocked(addr)
	}

	if cfg.SRV != nil && !cfg.LoadBalanced {
		group.Go(func() error { return t.runSRVPolling(gctx) })
	}

	return t
}

func initialKind(cfg Config) description.TopologyKind {
	switch {
	case cfg.LoadBalanced:
		return description.KindLoadBalanced
	case cfg.DirectConnection:
		return description.KindSingle
	case cfg.SetName != "":
		return description.KindReplicaSetNoPrimary
	default:
		return description.KindUnknown
	}
}

// addServerLocked ensures addr has a description entry and a running
// monitor. If fsm ingestion already added addr to t.desc.Servers (e.g. as a
// reconcileMembers placeholder), that entry and its id are reused rather
// than duplicated. Callers must hold t.mu.
func (t *Topology) addServerLocked(addr string) {
	if _, exists := t.monitors[addr]; exists {
		return
	}

	id, hasEntry := uint64(0), false
	for _, s := range t.desc.Servers {
		if s.Address == addr {
			id, hasEntry = s.ID, true
			break
		}
	}
	if !hasEntry {
		for _, s := range t.desc.Servers {
			if s.ID > t.nextID {
				t.nextID = s.ID
			}
		}
		t.nextID++
		id = t.nextID
	}

	if t.cfg.LoadBalanced {
		// A load-balanced deployment has exactly one addressable "server",
		// the load balancer itself; it is never monitored.
		srv := description.NewDefaultServer(id, addr)
		srv.Kind = description.LoadBalancer
		if hasEntry {
			t.desc.Servers = replaceServer(t.desc.Servers, srv)
		} else {
			t.desc.Servers = append(t.desc.Servers, srv)
		}
		return
	}

	if !hasEntry {
		t.desc.Servers = append(t.desc.Servers, description.NewDefaultServer(id, addr))
	}

	m := monitor.New(id, addr, monitor.Config{
		HeartbeatFrequency:    t.cfg.HeartbeatFrequency,
		MinHeartbeatFrequency: t.cfg.MinHeartbeatFrequency,
		ConnectTimeout:        t.cfg.ConnectTimeout,
		AppName:               t.cfg.AppName,
		TLS:                   t.cfg.TLS,
		Compressor:            t.cfg.Compressor,
		GenerationBumper:      t.cfg.BumpGeneration,
	}, t.Publish, t.events, t.cfg.Metrics)
	t.monitors[addr] = m

	t.events.Publish(sdam.Event{Kind: sdam.ServerOpening, Time: time.Now(), Address: addr})

	t.group.Go(func() error { return m.Run(t.ctx) })
}

// removeServerLocked stops addr's monitor and drops it from the monitor
// set. It does not touch t.desc; callers drop the server's description
// themselves.
func (t *Topology) removeServerLocked(addr string) {
	m, ok := t.monitors[addr]
	if !ok {
		return
	}
	delete(t.monitors, addr)
	m.Stop()
	t.events.Publish(sdam.Event{Kind: sdam.ServerClosed, Time: time.Now(), Address: addr})
}

// Publish ingests one new server description, reconciles the monitor set
// against the resulting member list, and wakes every selector waiting on
// the condition variable.
func (t *Topology) Publish(incoming description.Server) {
	t.mu.Lock()
	prev := t.desc
	next := t.fsm.apply(prev, incoming)
	t.desc = next
	t.reconcileMonitorsLocked(prev, next)
	t.mu.Unlock()

	t.cond.Broadcast()
	t.events.Publish(sdam.Event{Kind: sdam.TopologyDescriptionChanged, Time: time.Now(), PrevTopology: prev, NewTopology: next})
}

// reconcileMonitorsLocked starts monitors for servers new in next and stops
// monitors for servers present in prev but absent from next. Callers must hold t.mu.
func (t *Topology) reconcileMonitorsLocked(prev, next description.Topology) {
	nextAddrs := make(map[string]bool, len(next.Servers))
	for _, s := range next.Servers {
		nextAddrs[s.Address] = true
		if _, ok := t.monitors[s.Address]; !ok {
			t.addServerLocked(s.Address)
		}
	}
	for _, s := range prev.Servers {
		if !nextAddrs[s.Address] {
			t.removeServerLocked(s.Address)
		}
	}
}

// MergeClusterTime keeps the later of the stored and incoming $clusterTime
// values, comparing by the embedded cluster timestamp.
func (t *Topology) MergeClusterTime(incoming bson.Raw) {
	if len(incoming) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if clusterTimeIsNewer(incoming, t.desc.ClusterTime) {
		t.desc.ClusterTime = incoming
	}
}

func clusterTimeIsNewer(incoming, stored bson.Raw) bool {
	if len(stored) == 0 {
		return true
	}
	incTS, incOK := lookupTimestamp(incoming)
	storedTS, storedOK := lookupTimestamp(stored)
	if !incOK {
		return false
	}
	if !storedOK {
		return true
	}
	return incTS > storedTS
}

func lookupTimestamp(ct bson.Raw) (uint64, bool) {
	val, err := ct.LookupErr("clusterTime")
	if err != nil {
		return 0, false
	}
	t, i, ok := val.TimestampOK()
	if !ok {
		return 0, false
	}
	return uint64(t)<<32 | uint64(i), true
}

// Snapshot returns the current topology description.
func (t *Topology) Snapshot() description.Topology {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.desc
}

// RequestImmediateCheck asks every monitor to wake early, used both by a
// failed SelectServer attempt and by the application on an observed error.
func (t *Topology) RequestImmediateCheck() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.monitors {
		m.RequestImmediateCheck()
	}
}

// InvalidateServer marks addr Unknown and cancels its monitor's in-flight
// probe, used when the application itself observes a network error.
func (t *Topology) InvalidateServer(addr string, cause error) {
	t.mu.Lock()
	m, ok := t.monitors[addr]
	t.mu.Unlock()
	if !ok {
		return
	}
	m.CancelProbe()
	if t.cfg.BumpGeneration != nil {
		t.cfg.BumpGeneration(addr)
	}
	t.Publish(description.NewServerFromError(0, addr, cause, description.TopologyVersion{}))
}

// SelectServer implements the retry loop around selector.Select:
// it retries against fresh snapshots, requesting an immediate scan each
// time, until a server is found or serverSelectionTimeoutMS elapses.
func (t *Topology) SelectServer(ctx context.Context, params selector.Params) (description.Server, error) {
	timeout := t.cfg.ServerSelectionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)

	t.cfg.Metrics.Incr(metrics.ServerSelectionWaits, 1)

	for {
		t.mu.Lock()
		snapshot := t.desc
		t.mu.Unlock()

		if srv, ok, err := selector.Select(snapshot, params); err != nil {
			return description.Server{}, err
		} else if ok {
			return srv, nil
		}

		t.RequestImmediateCheck()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return description.Server{}, mongocoreerr.New(mongocoreerr.KindServerSelectionTimeout,
				"server selection timed out after %s", timeout)
		}

		if !t.waitForChange(ctx, remaining) {
			select {
			case <-ctx.Done():
				return description.Server{}, mongocoreerr.Wrap(mongocoreerr.KindCancelled, ctx.Err(), "server selection cancelled")
			default:
				return description.Server{}, mongocoreerr.New(mongocoreerr.KindServerSelectionTimeout,
					"server selection timed out after %s", timeout)
			}
		}
	}
}

// waitForChange blocks on the topology's condition variable until either it
// is broadcast (a monitor published) or timeout/ctx elapses, returning
// false on timeout/cancellation.
func (t *Topology) waitForChange(ctx context.Context, timeout time.Duration) bool {
	woke := make(chan struct{})
	go func() {
		t.mu.Lock()
		t.cond.Wait()
		t.mu.Unlock()
		close(woke)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-woke:
		return true
	case <-timer.C:
		t.cond.Broadcast() // unstick the waiting goroutine above
		return false
	case <-ctx.Done():
		t.cond.Broadcast()
		return false
	}
}

// Close stops every monitor and the SRV polling loop, then waits for them
// to exit.
func (t *Topology) Close() error {
	t.cancel()
	t.mu.Lock()
	for _, m := range t.monitors {
		m.Stop()
	}
	t.mu.Unlock()
	err := t.group.Wait()
	t.events.Publish(sdam.Event{Kind: sdam.TopologyClosed, Time: time.Now()})
	t.events.Close()
	return err
}
