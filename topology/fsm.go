package topology

import (
	"strings"

	"github.com/cloudresty/mongocore/description"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// fsm owns the pure ingestion function: given the topology's previous
// description and one incoming server description, compute the next
// description. This is the abridged transition table grounded on the SDAM
// spec and the shape of the reference driver's own topology/server-description
// reconciliation.
type fsm struct {
	driverMin, driverMax int32
}

func newFSM(driverMin, driverMax int32) *fsm {
	return &fsm{driverMin: driverMin, driverMax: driverMax}
}

// apply computes the new topology description resulting from ingesting
// incoming (which replaces whatever description is currently stored for
// incoming.Address, adding it if new). It never mutates prev.
func (f *fsm) apply(prev description.Topology, incoming description.Server) description.Topology {
	switch prev.Kind {
	case description.KindLoadBalanced:
		// Monitoring never modifies a LoadBalanced topology.
		return prev
	}

	next := prev
	next.Servers = replaceServer(prev.Servers, incoming)

	switch prev.Kind {
	case description.KindUnknown:
		next = f.applyToUnknown(next, incoming)
	case description.KindSingle:
		// A Single topology never changes kind or membership.
	case description.KindSharded:
		next = f.applyToSharded(next, incoming)
	case description.KindReplicaSetNoPrimary:
		next = f.applyToRSNoPrimary(next, incoming)
	case description.KindReplicaSetWithPrimary:
		next = f.applyToRSWithPrimary(next, incoming)
	}

	if err := next.ComputeCompatibility(f.driverMin, f.driverMax); err != nil {
		next.CompatibilityErr = err
	} else {
		next.CompatibilityErr = nil
	}
	if min := next.MinLogicalSessionTimeout(); min != nil {
		next.SessionTimeoutMinutes = min
	}

	return next
}

func replaceServer(servers []description.Server, incoming description.Server) []description.Server {
	out := make([]description.Server, 0, len(servers)+1)
	found := false
	for _, s := range servers {
		if s.Address == incoming.Address {
			out = append(out, incoming)
			found = true
			continue
		}
		out = append(out, s)
	}
	if !found {
		out = append(out, incoming)
	}
	return out
}

func removeServerByAddr(servers []description.Server, addr string) []description.Server {
	out := make([]description.Server, 0, len(servers))
	for _, s := range servers {
		if s.Address != addr {
			out = append(out, s)
		}
	}
	return out
}

func (f *fsm) applyToUnknown(t description.Topology, incoming description.Server) description.Topology {
	switch incoming.Kind {
	case description.Standalone:
		if len(t.Servers) == 1 {
			t.Kind = description.KindSingle
			return t
		}
		// Not a direct connection: a standalone amid a seed list is removed.
		t.Servers = removeServerByAddr(t.Servers, incoming.Address)
		return t
	case description.Mongos:
		t.Kind = description.KindSharded
		return t
	case description.RSPrimary, description.RSSecondary, description.RSOther, description.RSArbiter:
		t.SetName = incoming.SetName
		t = reconcileMembers(t, incoming)
		if incoming.Kind == description.RSPrimary {
			t.Kind = description.KindReplicaSetWithPrimary
			t = demoteOtherPrimaries(t, incoming.Address)
			t = adoptElection(t, incoming)
		} else {
			t.Kind = description.KindReplicaSetNoPrimary
		}
		return t
	case description.RSGhost, description.PossiblePrimary, description.Unknown:
		// No topology-kind transition from these alone.
		return t
	}
	return t
}

func (f *fsm) applyToSharded(t description.Topology, incoming description.Server) description.Topology {
	if incoming.Kind != description.Mongos && incoming.Kind != description.Unknown {
		t.Servers = removeServerByAddr(t.Servers, incoming.Address)
	}
	return t
}

func (f *fsm) applyToRSNoPrimary(t description.Topology, incoming description.Server) description.Topology {
	switch incoming.Kind {
	case description.Standalone, description.Mongos:
		t.Servers = removeServerByAddr(t.Servers, incoming.Address)
		return t
	case description.RSPrimary:
		if t.SetName != "" && incoming.SetName != t.SetName {
			t.Servers = removeServerByAddr(t.Servers, incoming.Address)
			return t
		}
		t.SetName = incoming.SetName
		t = reconcileMembers(t, incoming)
		t.Kind = description.KindReplicaSetWithPrimary
		t = demoteOtherPrimaries(t, incoming.Address)
		t = adoptElection(t, incoming)
		return t
	case description.RSSecondary, description.RSOther, description.RSArbiter:
		if t.SetName == "" {
			t.SetName = incoming.SetName
		}
		if incoming.SetName != "" && incoming.SetName != t.SetName {
			t.Servers = removeServerByAddr(t.Servers, incoming.Address)
			return t
		}
		t = reconcileMembers(t, incoming)
		return t
	}
	return t
}

func (f *fsm) applyToRSWithPrimary(t description.Topology, incoming description.Server) description.Topology {
	switch incoming.Kind {
	case description.Standalone, description.Mongos:
		t.Servers = removeServerByAddr(t.Servers, incoming.Address)
		return t
	case description.RSPrimary:
		if incoming.SetName != t.SetName {
			// This primary belongs to a different set entirely; drop it.
			t.Servers = removeServerByAddr(t.Servers, incoming.Address)
			return checkHasPrimary(t)
		}
		if staleElection(t, incoming) {
			// Stale primary: demote the claimant to Unknown and leave the
			// topology kind unchanged.
			t.Servers = replaceServer(t.Servers, description.NewDefaultServer(incoming.ID, incoming.Address))
			return t
		}
		t = reconcileMembers(t, incoming)
		t = demoteOtherPrimaries(t, incoming.Address)
		t = adoptElection(t, incoming)
		return t
	case description.RSSecondary, description.RSOther, description.RSArbiter:
		if incoming.SetName != t.SetName {
			t.Servers = removeServerByAddr(t.Servers, incoming.Address)
			return checkHasPrimary(t)
		}
		return checkHasPrimary(t)
	case description.Unknown, description.RSGhost:
		return checkHasPrimary(t)
	}
	return checkHasPrimary(t)
}

// staleElection reports whether incoming's (setVersion, electionId) is
// strictly older than the topology's current maximum, 
// property 3 ("Topology monotonicity").
func staleElection(t description.Topology, incoming description.Server) bool {
	if t.MaxSetVersion == nil || incoming.SetVersion == nil {
		return false
	}
	if *incoming.SetVersion < *t.MaxSetVersion {
		return true
	}
	if *incoming.SetVersion == *t.MaxSetVersion {
		return !incoming.ElectionID.IsZero() && t.MaxElectionID != incoming.ElectionID &&
			compareObjectIDs(incoming.ElectionID, t.MaxElectionID) < 0
	}
	return false
}

func compareObjectIDs(a, b bson.ObjectID) int {
	ab, bb := a[:], b[:]
	for i := range ab {
		if ab[i] != bb[i] {
			if ab[i] < bb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func adoptElection(t description.Topology, incoming description.Server) description.Topology {
	if incoming.SetVersion != nil && (t.MaxSetVersion == nil || *incoming.SetVersion >= *t.MaxSetVersion) {
		v := *incoming.SetVersion
		t.MaxSetVersion = &v
		t.MaxElectionID = incoming.ElectionID
	}
	return t
}

func demoteOtherPrimaries(t description.Topology, keepAddr string) description.Topology {
	out := make([]description.Server, len(t.Servers))
	for i, s := range t.Servers {
		if s.Kind == description.RSPrimary && s.Address != keepAddr {
			out[i] = description.NewDefaultServer(s.ID, s.Address)
			continue
		}
		out[i] = s
	}
	t.Servers = out
	return t
}

// checkHasPrimary demotes the topology to ReplicaSetNoPrimary if no member
// currently reports RSPrimary.
func checkHasPrimary(t description.Topology) description.Topology {
	for _, s := range t.Servers {
		if s.Kind == description.RSPrimary {
			t.Kind = description.KindReplicaSetWithPrimary
			return t
		}
	}
	t.Kind = description.KindReplicaSetNoPrimary
	return t
}

// reconcileMembers adds servers named in incoming's hosts/passives/arbiters
// that the topology doesn't already know about (as Unknown placeholders to
// be picked up by monitor creation), and drops known members absent from
// incoming's list when incoming is the primary. Non-primary members only ever add to the set.
func reconcileMembers(t description.Topology, incoming description.Server) description.Topology {
	known := make(map[string]bool, len(t.Servers))
	for _, s := range t.Servers {
		known[s.Address] = true
	}

	members := incoming.Addresses()
	memberSet := make(map[string]bool, len(members))
	for _, addr := range members {
		addr = strings.ToLower(addr)
		memberSet[addr] = true
		if !known[addr] {
			t.Servers = append(t.Servers, description.NewDefaultServer(nextPlaceholderID(t.Servers), addr))
			known[addr] = true
		}
	}

	if incoming.Kind == description.RSPrimary && len(members) > 0 {
		kept := t.Servers[:0:0]
		for _, s := range t.Servers {
			if s.Address == incoming.Address || memberSet[s.Address] {
				kept = append(kept, s)
			}
		}
		t.Servers = kept
	}

	return t
}

// nextPlaceholderID returns an id guaranteed not to collide with any id
// already in use; addServerLocked keeps this id when it starts the
// server's monitor.
func nextPlaceholderID(servers []description.Server) uint64 {
	var max uint64
	for _, s := range servers {
		if s.ID > max {
			max = s.ID
		}
	}
	return max + 1
}
