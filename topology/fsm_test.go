package topology

import (
	"testing"

	"github.com/cloudresty/mongocore/description"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func newTestFSM() *fsm { return newFSM(0, 21) }

// TestFSMReplicaSetDiscovery covers scenario S2: discovering
// host "b" from "a"'s hello reply adds it to the member list and moves the
// topology to ReplicaSetWithPrimary.
func TestFSMReplicaSetDiscovery(t *testing.T) {
	f := newTestFSM()
	prev := description.Topology{Kind: description.KindReplicaSetNoPrimary, SetName: "rs0", Servers: []description.Server{
		description.NewDefaultServer(1, "a:27017"),
	}}

	incoming := description.Server{
		ID: 1, Address: "a:27017", Kind: description.RSPrimary,
		SetName: "rs0", Hosts: []string{"a:27017", "b:27017"},
		WireVersion: description.WireRange{Min: 0, Max: 21},
	}

	next := f.apply(prev, incoming)

	if next.Kind != description.KindReplicaSetWithPrimary {
		t.Fatalf("expected ReplicaSetWithPrimary, got %v", next.Kind)
	}
	if _, ok := next.Server("b:27017"); !ok {
		t.Fatalf("expected discovered host b:27017 to be present")
	}
}

// TestFSMStalePrimaryDemoted covers scenario S3: a primary reply
// with a lower electionId than the topology's current maximum is demoted to
// Unknown and the topology kind is unchanged.
func TestFSMStalePrimaryDemoted(t *testing.T) {
	f := newTestFSM()
	currentElection := objectIDFromUint(5)
	staleElectionID := objectIDFromUint(4)
	setVersion := int64(1)

	prev := description.Topology{
		Kind:          description.KindReplicaSetWithPrimary,
		SetName:       "rs0",
		MaxSetVersion: &setVersion,
		MaxElectionID: currentElection,
		Servers: []description.Server{
			{ID: 1, Address: "a:27017", Kind: description.RSPrimary, SetName: "rs0", SetVersion: &setVersion, ElectionID: currentElection},
			{ID: 2, Address: "b:27017", Kind: description.RSSecondary, SetName: "rs0"},
		},
	}

	incoming := description.Server{
		ID: 2, Address: "b:27017", Kind: description.RSPrimary, SetName: "rs0",
		SetVersion: &setVersion, ElectionID: staleElectionID,
		WireVersion: description.WireRange{Min: 0, Max: 21},
	}

	next := f.apply(prev, incoming)

	if next.Kind != description.KindReplicaSetWithPrimary {
		t.Fatalf("expected topology kind unchanged, got %v", next.Kind)
	}
	demoted, ok := next.Server("b:27017")
	if !ok || demoted.Kind != description.Unknown {
		t.Fatalf("expected stale claimant demoted to Unknown, got %+v ok=%v", demoted, ok)
	}
	original, ok := next.Server("a:27017")
	if !ok || original.Kind != description.RSPrimary {
		t.Fatalf("expected original primary untouched, got %+v ok=%v", original, ok)
	}
}

// TestTopologyMonotonicity covers property 3: successive
// RSPrimary descriptions never regress (set_version, election_id).
func TestTopologyMonotonicity(t *testing.T) {
	f := newTestFSM()
	v1, v2 := int64(1), int64(2)
	e1, e2 := objectIDFromUint(1), objectIDFromUint(2)

	t0 := description.Topology{Kind: description.KindReplicaSetNoPrimary, SetName: "rs0"}
	t1 := f.apply(t0, description.Server{ID: 1, Address: "a:27017", Kind: description.RSPrimary, SetName: "rs0", SetVersion: &v2, ElectionID: e2})
	if t1.MaxSetVersion == nil || *t1.MaxSetVersion != 2 {
		t.Fatalf("expected MaxSetVersion=2 after first primary, got %v", t1.MaxSetVersion)
	}

	// An older (setVersion, electionId) pair must never move MaxSetVersion
	// backwards nor promote the stale claimant.
	t2 := f.apply(t1, description.Server{ID: 1, Address: "a:27017", Kind: description.RSPrimary, SetName: "rs0", SetVersion: &v1, ElectionID: e1})
	if *t2.MaxSetVersion != 2 {
		t.Fatalf("expected MaxSetVersion to stay at 2, got %d", *t2.MaxSetVersion)
	}
}

func objectIDFromUint(n byte) bson.ObjectID {
	var id bson.ObjectID
	id[len(id)-1] = n
	return id
}
