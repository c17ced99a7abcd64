// Package monitor runs one actor per server address: the Wait/Connect/Probe/
// Publish loop that keeps a topology's server descriptions
// fresh. Network errors never propagate to the caller — they are folded
// into an Unknown description and handed to Publish, same as a successful
// probe's result.
package monitor

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudresty/mongocore/description"
	"github.com/cloudresty/mongocore/metrics"
	"github.com/cloudresty/mongocore/mongocoreerr"
	"github.com/cloudresty/mongocore/sdam"
	"github.com/cloudresty/mongocore/transport"
	"github.com/cloudresty/mongocore/wire"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// State is one of the four lifecycle states of States.
type State int32

const (
	Off State = iota
	Running
	ShuttingDown
	Joinable
)

// Config bundles a Monitor's tunables, mostly sourced from the URI.
type Config struct {
	HeartbeatFrequency    time.Duration
	MinHeartbeatFrequency time.Duration
	ConnectTimeout        time.Duration
	AppName               string
	TLS                   *tls.Config
	Compressor            wire.Compressor

	// GenerationBumper is invoked whenever a failure must invalidate
	// existing pooled connections.
	GenerationBumper func(addr string)
}

const defaultMinHeartbeatFrequency = 500 * time.Millisecond

// minWireVersionForOpMsg is the wire version (MongoDB 3.6) at which a server
// first understands OP_MSG; below it every command, including hello itself,
// must travel as legacy OP_QUERY against admin.$cmd.
const minWireVersionForOpMsg = 6

// Monitor is one per-server actor.
type Monitor struct {
	id      uint64
	addr    string
	cfg     Config
	publish func(description.Server)
	events  *sdam.Dispatcher
	metrics *metrics.Registry
	dial    func(ctx context.Context, addr string, opts transport.Options) (transport.Stream, error)

	mu              sync.Mutex
	stream          transport.Stream
	topologyVersion *description.TopologyVersion
	moreToCome      bool
	rtt             time.Duration
	rttSet          bool

	// opMsgSupported and negotiatedCompressor are both decided once, by the
	// handshake reply, and held fixed for the stream's lifetime.
	opMsgSupported       bool
	negotiatedCompressor wire.Compressor

	requestScan chan struct{}
	cancelProbe chan struct{}
	stop        chan struct{}
	done        chan struct{}
	state       atomic.Int32
}

// New constructs a Monitor for addr. publish is called with every new
// description (success or failure); events/metricsReg may be nil.
func New(id uint64, addr string, cfg Config, publish func(description.Server), events *sdam.Dispatcher, metricsReg *metrics.Registry) *Monitor {
	if cfg.MinHeartbeatFrequency <= 0 {
		cfg.MinHeartbeatFrequency = defaultMinHeartbeatFrequency
	}
	m := &Monitor{
		id:          id,
		addr:        addr,
		cfg:         cfg,
		publish:     publish,
		events:      events,
		metrics:     metricsReg,
		dial:        transport.Dial,
		requestScan: make(chan struct{}, 1),
		cancelProbe: make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	m.state.Store(int32(Off))
	return m
}

// State returns the monitor's current lifecycle state.
func (m *Monitor) State() State { return State(m.state.Load()) }

// RequestImmediateCheck asks the monitor to wake early, bounded below by
// MinHeartbeatFrequency since the last scan.
func (m *Monitor) RequestImmediateCheck() {
	select {
	case m.requestScan <- struct{}{}:
	default:
	}
}

// CancelProbe asks the monitor to abandon its current awaitable probe, per
// Cancellation: an application thread that observed a
// network error on this server may request this to avoid waiting out a
// long maxAwaitTimeMS.
func (m *Monitor) CancelProbe() {
	select {
	case m.cancelProbe <- struct{}{}:
	default:
	}
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
}

// Stop requests shutdown: Running -> ShuttingDown immediately; the actor
// itself transitions ShuttingDown -> Joinable -> Off.
func (m *Monitor) Stop() {
	m.state.CompareAndSwap(int32(Running), int32(ShuttingDown))
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

// Done reports the channel closed once the actor has fully exited.
func (m *Monitor) Done() <-chan struct{} { return m.done }

// Run drives the actor loop until Stop is called or ctx is cancelled. It is
// meant to be launched under an errgroup alongside its topology's other
// actors.
func (m *Monitor) Run(ctx context.Context) error {
	m.state.Store(int32(Running))
	defer func() {
		m.state.Store(int32(Joinable))
		m.closeStream()
		m.state.Store(int32(Off))
		close(m.done)
	}()

	for {
		if !m.wait(ctx) {
			return nil
		}

		start := time.Now()
		m.metrics.Incr(metrics.HeartbeatsStarted, 1)
		m.emit(sdam.HeartbeatStarted, description.Server{}, 0, nil, false)

		srv, err := m.probe(ctx)
		elapsed := time.Since(start)

		if err != nil {
			m.metrics.Incr(metrics.HeartbeatsFailed, 1)
			m.emit(sdam.HeartbeatFailed, description.Server{}, elapsed, err, m.awaiting())
			srv = m.failureDescription(err)
			m.closeStream()
			m.moreToCome = false
			if m.cfg.GenerationBumper != nil && shouldBumpGeneration(err) {
				m.cfg.GenerationBumper(m.addr)
				m.metrics.Incr(metrics.GenerationBumps, 1)
			}
		} else {
			m.metrics.Incr(metrics.HeartbeatsSucceeded, 1)
			m.emit(sdam.HeartbeatSucceeded, srv, elapsed, nil, m.awaiting())
			if srv.TopologyVersion.ProcessID != (bson.ObjectID{}) {
				tv := srv.TopologyVersion
				m.topologyVersion = &tv
			}
		}

		m.publish(srv)

		select {
		case <-ctx.Done():
			return nil
		case <-m.stop:
			return nil
		default:
		}
	}
}

func (m *Monitor) awaiting() bool {
	return m.topologyVersion != nil && !m.moreToCome
}

// wait implements the monitor loop's wait-between-probes step.
func (m *Monitor) wait(ctx context.Context) bool {
	if m.moreToCome {
		return true // streaming probe: no sleep, read the next exhaust reply immediately
	}
	timer := time.NewTimer(m.cfg.HeartbeatFrequency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-m.stop:
		return false
	case <-timer.C:
		return true
	case <-m.requestScan:
		min := time.NewTimer(m.cfg.MinHeartbeatFrequency)
		defer min.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-m.stop:
			return false
		case <-min.C:
			return true
		}
	}
}

// probe dials (if needed) and runs the hello/isMaster handshake.
func (m *Monitor) probe(ctx context.Context) (description.Server, error) {
	if err := m.ensureConnected(ctx); err != nil {
		return description.Server{}, err
	}

	if m.moreToCome {
		return m.readStreamed()
	}

	awaitable := m.topologyVersion != nil
	return m.sendHello(ctx, awaitable, false)
}

func (m *Monitor) ensureConnected(ctx context.Context) error {
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()
	if s != nil {
		return nil
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if m.cfg.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}
	stream, err := m.dial(dialCtx, m.addr, transport.Options{ConnectTimeout: m.cfg.ConnectTimeout, TLS: m.cfg.TLS})
	if err != nil {
		return mongocoreerr.Wrap(mongocoreerr.KindNetworkIo, err, "connect to %s", m.addr)
	}

	// Handshake: a non-awaitable hello establishes the monitoring stream. It
	// always travels as uncompressed OP_QUERY, since neither OP_MSG support
	// nor a compressor has been negotiated with this server yet.
	m.mu.Lock()
	m.stream = stream
	m.mu.Unlock()
	m.opMsgSupported = false
	m.negotiatedCompressor = nil
	if _, err := m.sendHello(ctx, false, true); err != nil {
		m.closeStream()
		return mongocoreerr.Wrap(mongocoreerr.KindHandshakeFailed, err, "handshake with %s", m.addr)
	}
	return nil
}

func (m *Monitor) sendHello(ctx context.Context, awaitable, handshake bool) (description.Server, error) {
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()
	if s == nil {
		return description.Server{}, mongocoreerr.New(mongocoreerr.KindNetworkIo, "no stream open for %s", m.addr)
	}

	var compressorNames []string
	if handshake && m.cfg.Compressor != nil {
		compressorNames = []string{m.cfg.Compressor.Name()}
	}
	cmd := buildHelloCommand(m.cfg.AppName, awaitable, m.topologyVersion, m.cfg.HeartbeatFrequency, compressorNames)
	requestID := int32(time.Now().UnixNano())

	var start time.Time
	timeRTT := !awaitable
	if timeRTT {
		start = time.Now()
	}

	// The handshake MUST NOT be compressed, and MUST NOT assume OP_MSG
	// support until a reply has confirmed wire version >= 6.
	var payload []byte
	var err error
	if handshake || !m.opMsgSupported {
		payload = wire.EncodeOpQuery(requestID, cmd)
	} else {
		payload, err = wire.EncodeOpMsg(requestID, cmd, m.negotiatedCompressor)
		if err != nil {
			return description.Server{}, err
		}
	}
	if _, err := s.Write(payload); err != nil {
		return description.Server{}, mongocoreerr.Wrap(mongocoreerr.KindNetworkIo, err, "write hello to %s", m.addr)
	}

	if awaitable {
		deadline := time.Now().Add(m.cfg.HeartbeatFrequency + 5*time.Second)
		_ = s.SetReadDeadline(deadline)
	} else if m.cfg.ConnectTimeout > 0 {
		_ = s.SetReadDeadline(time.Now().Add(m.cfg.ConnectTimeout))
	}

	msg, err := wire.ReadMessage(s)
	if err != nil {
		return description.Server{}, mongocoreerr.Wrap(mongocoreerr.KindNetworkIo, err, "read hello reply from %s", m.addr)
	}

	var rtt time.Duration
	if timeRTT {
		rtt = time.Since(start)
	}

	srv, err := parseHello(m.id, m.addr, msg.Body, rtt, timeRTT)
	if err != nil {
		return description.Server{}, err
	}

	if timeRTT {
		m.updateRTT(rtt)
		srv = srv.SetAverageRTT(m.rtt)
	} else if m.rttSet {
		srv = srv.SetAverageRTT(m.rtt)
	}

	if handshake {
		m.opMsgSupported = srv.WireVersion.Max >= minWireVersionForOpMsg
		m.negotiatedCompressor = negotiateCompressor(m.cfg.Compressor, msg.Body)
	}

	m.moreToCome = msg.MoreToCome
	return srv, nil
}

// negotiateCompressor reports the compressor to use on this stream: nil
// unless the client configured one and the handshake reply's compression
// array names it among what the server also supports.
func negotiateCompressor(preferred wire.Compressor, reply bson.Raw) wire.Compressor {
	if preferred == nil {
		return nil
	}
	val, err := reply.LookupErr("compression")
	if err != nil {
		return nil
	}
	arr, ok := val.ArrayOK()
	if !ok {
		return nil
	}
	values, err := arr.Values()
	if err != nil {
		return nil
	}
	for _, v := range values {
		if name, ok := v.StringValueOK(); ok && name == preferred.Name() {
			return preferred
		}
	}
	return nil
}

func (m *Monitor) readStreamed() (description.Server, error) {
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()
	if s == nil {
		return description.Server{}, mongocoreerr.New(mongocoreerr.KindNetworkIo, "no stream open for %s", m.addr)
	}
	deadline := time.Now().Add(m.cfg.HeartbeatFrequency + 5*time.Second)
	_ = s.SetReadDeadline(deadline)

	msg, err := wire.ReadMessage(s)
	if err != nil {
		return description.Server{}, mongocoreerr.Wrap(mongocoreerr.KindNetworkIo, err, "read streamed reply from %s", m.addr)
	}
	srv, err := parseHello(m.id, m.addr, msg.Body, 0, false)
	if err != nil {
		return description.Server{}, err
	}
	if m.rttSet {
		srv = srv.SetAverageRTT(m.rtt)
	}
	m.moreToCome = msg.MoreToCome
	return srv, nil
}

// rttAlpha is the EWMA smoothing factor applied to round-trip time.
const rttAlpha = 0.2

func (m *Monitor) updateRTT(sample time.Duration) {
	if !m.rttSet {
		m.rtt = sample
		m.rttSet = true
		return
	}
	m.rtt = time.Duration(rttAlpha*float64(sample) + (1-rttAlpha)*float64(m.rtt))
}

func (m *Monitor) closeStream() {
	m.mu.Lock()
	s := m.stream
	m.stream = nil
	m.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
	m.topologyVersion = nil
}

func (m *Monitor) failureDescription(err error) description.Server {
	var tv description.TopologyVersion
	if m.topologyVersion != nil {
		tv = *m.topologyVersion
	}
	return description.NewServerFromError(m.id, m.addr, err, tv)
}

func (m *Monitor) emit(kind sdam.Kind, srv description.Server, d time.Duration, err error, awaited bool) {
	if m.events == nil {
		return
	}
	m.events.Publish(sdam.Event{Kind: kind, Time: time.Now(), Address: m.addr, NewServer: srv, Duration: d, Err: err, Awaited: awaited})
}

// shouldBumpGeneration decides generation-bump failure semantics: every
// network/unparseable error bumps the generation; a not-primary/recovering
// command error only bumps it for legacy (pre-4.2) semantics, which this
// core conservatively always honours since it does not track per-server
// wire version at the call site.
func shouldBumpGeneration(err error) bool {
	var coreErr *mongocoreerr.Error
	if e, ok := err.(*mongocoreerr.Error); ok {
		coreErr = e
	}
	if coreErr == nil {
		return true
	}
	switch coreErr.Kind {
	case mongocoreerr.KindNetworkIo, mongocoreerr.KindNetworkTimeout, mongocoreerr.KindProtocolReply, mongocoreerr.KindHandshakeFailed:
		return true
	case mongocoreerr.KindCommandError:
		return mongocoreerr.IsNotPrimary(coreErr.CodeName, coreErr.Code)
	}
	return false
}
