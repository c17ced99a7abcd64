// Package description holds the immutable snapshot types produced by SDAM:
// a single server's observed state (ServerDescription) and the aggregate
// view of a deployment (TopologyDescription). Both are replaced by value on
// every update, never mutated in place, so that a server-selection read
// never races with a monitor publish.
package description

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ServerKind is the observed role of one server, as reported by its last
// hello/isMaster reply.
type ServerKind string

const (
	Unknown        ServerKind = "Unknown"
	Standalone     ServerKind = "Standalone"
	Mongos         ServerKind = "Mongos"
	PossiblePrimary ServerKind = "PossiblePrimary"
	RSPrimary      ServerKind = "RSPrimary"
	RSSecondary    ServerKind = "RSSecondary"
	RSArbiter      ServerKind = "RSArbiter"
	RSOther        ServerKind = "RSOther"
	RSGhost        ServerKind = "RSGhost"
	LoadBalancer   ServerKind = "LoadBalancer"
)

// DataBearing reports whether a server of this kind can serve reads/writes
// (i.e. is Standalone, Mongos, RSPrimary or RSSecondary).
func (k ServerKind) DataBearing() bool {
	switch k {
	case Standalone, Mongos, RSPrimary, RSSecondary:
		return true
	}
	return false
}

// TopologyVersion is the server-assigned {processId, counter} pair used to
// order replies and discard stale ones.
type TopologyVersion struct {
	ProcessID bson.ObjectID
	Counter   int64
}

// CompareToIncoming returns -1, 0, or 1 comparing tv to incoming, treating a
// nil/zero version as always stale. Per the SDAM spec, a topologyVersion
// only orders replies from the same processId; a changed processId means
// the incoming reply is newer regardless of counter.
func (tv TopologyVersion) CompareToIncoming(incoming TopologyVersion) int {
	if tv.ProcessID.IsZero() || incoming.ProcessID.IsZero() {
		return -1
	}
	if tv.ProcessID != incoming.ProcessID {
		return -1
	}
	switch {
	case tv.Counter < incoming.Counter:
		return -1
	case tv.Counter > incoming.Counter:
		return 1
	default:
		return 0
	}
}

// WireRange is the [min, max] wire-version window a server advertises.
type WireRange struct {
	Min int32
	Max int32
}

// Server is an immutable snapshot of one server's observed state.
type Server struct {
	ID      uint64 // stable id assigned by the topology on first insertion
	Address string // host:port, canonicalised lower-case
	Kind    ServerKind

	AverageRTT    time.Duration
	AverageRTTSet bool

	LastError error
	LastWrite time.Time

	WireVersion    WireRange
	MaxMessageSize uint32
	MaxBSONObjSize uint32

	SetName     string
	SetVersion  *int64
	ElectionID  bson.ObjectID
	Primary     string
	Hosts      []string
	Passives   []string
	Arbiters   []string
	Tags       map[string]string

	TopologyVersion TopologyVersion

	LogicalSessionTimeoutMinutes *int64

	Generation int64
	ServiceID  *bson.ObjectID // set only for LoadBalanced deployments
	HelloOk    bool

	HeartbeatInterval time.Duration
}

// NewDefaultServer returns the initial Unknown description for a
// newly-discovered address, as used to seed a topology before its first
// heartbeat completes.
func NewDefaultServer(id uint64, addr string) Server {
	return Server{ID: id, Address: addr, Kind: Unknown}
}

// NewServerFromError returns an Unknown description carrying err, used when
// a monitor probe or application I/O fails.
func NewServerFromError(id uint64, addr string, err error, tv TopologyVersion) Server {
	return Server{ID: id, Address: addr, Kind: Unknown, LastError: err, TopologyVersion: tv}
}

// SetAverageRTT returns a copy of s with the RTT fields set.
func (s Server) SetAverageRTT(rtt time.Duration) Server {
	s.AverageRTT = rtt
	s.AverageRTTSet = true
	return s
}

// MatchesTags reports whether s carries every key=value pair in tagSet.
// An empty tagSet matches every server.
func (s Server) MatchesTags(tagSet map[string]string) bool {
	for k, v := range tagSet {
		if s.Tags[k] != v {
			return false
		}
	}
	return true
}

// Addresses returns every host the server's hello reply named as a member
// (hosts + passives + arbiters), used to reconcile the topology's member set.
func (s Server) Addresses() []string {
	all := make([]string, 0, len(s.Hosts)+len(s.Passives)+len(s.Arbiters))
	all = append(all, s.Hosts...)
	all = append(all, s.Passives...)
	all = append(all, s.Arbiters...)
	return all
}
