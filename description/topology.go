package description

import "go.mongodb.org/mongo-driver/v2/bson"

// TopologyKind is the overall shape of a deployment as currently understood.
type TopologyKind string

const (
	KindUnknown               TopologyKind = "Unknown"
	KindSingle                TopologyKind = "Single"
	KindSharded               TopologyKind = "Sharded"
	KindReplicaSetNoPrimary   TopologyKind = "ReplicaSetNoPrimary"
	KindReplicaSetWithPrimary TopologyKind = "ReplicaSetWithPrimary"
	KindLoadBalanced          TopologyKind = "LoadBalanced"
)

// Driver-supported wire version window. A server outside this window makes
// the deployment incompatible.
const (
	SupportedWireVersionMin int32 = 0
	SupportedWireVersionMax int32 = 21
)

// Topology is the immutable aggregate view of a deployment: every known
// server description plus the cluster-wide state derived from them.
type Topology struct {
	Kind       TopologyKind
	SetName    string
	Servers    []Server
	MaxSetVersion  *int64
	MaxElectionID  bson.ObjectID

	CompatibilityErr error

	ClusterTime bson.Raw

	SessionTimeoutMinutes *int64
}

// Server looks up a server by address, returning ok=false if absent.
func (t Topology) Server(addr string) (Server, bool) {
	for _, s := range t.Servers {
		if s.Address == addr {
			return s, true
		}
	}
	return Server{}, false
}

// WithServers returns a copy of t with Servers replaced.
func (t Topology) WithServers(servers []Server) Topology {
	t.Servers = servers
	return t
}

// ComputeCompatibility recomputes CompatibilityErr from the current server
// set. Any server other than an Unknown one whose max_wire_version < driverMin or whose
// min_wire_version > driverMax makes the whole topology incompatible.
func (t Topology) ComputeCompatibility(driverMin, driverMax int32) error {
	for _, s := range t.Servers {
		if s.Kind == Unknown {
			continue
		}
		if s.WireVersion.Max < driverMin || s.WireVersion.Min > driverMax {
			return &CompatibilityError{
				Address:   s.Address,
				Min:       s.WireVersion.Min,
				Max:       s.WireVersion.Max,
				DriverMin: driverMin,
				DriverMax: driverMax,
			}
		}
	}
	return nil
}

// CompatibilityError describes a wire-version mismatch that fails server
// selection fast.
type CompatibilityError struct {
	Address   string
	Min, Max  int32
	DriverMin, DriverMax int32
}

func (e *CompatibilityError) Error() string {
	return "server " + e.Address + " is incompatible with this driver's supported wire version range"
}

// MinLogicalSessionTimeout recomputes the cluster's minimum
// logicalSessionTimeoutMinutes across data-bearing members, 
// ("a monotonically-updated logical-session-timeout minimum"). Returns nil
// if any data-bearing member doesn't report one, or there are none.
func (t Topology) MinLogicalSessionTimeout() *int64 {
	var min *int64
	for _, s := range t.Servers {
		if !s.Kind.DataBearing() {
			continue
		}
		if s.LogicalSessionTimeoutMinutes == nil {
			return nil
		}
		if min == nil || *s.LogicalSessionTimeoutMinutes < *min {
			v := *s.LogicalSessionTimeoutMinutes
			min = &v
		}
	}
	return min
}
