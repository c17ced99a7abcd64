package selector

import (
	"testing"
	"time"

	"github.com/cloudresty/mongocore/description"
	"github.com/cloudresty/mongocore/uri"
)

func dataBearingServer(addr string, kind description.ServerKind, rtt time.Duration, tags map[string]string) description.Server {
	return description.Server{
		Address:       addr,
		Kind:          kind,
		AverageRTT:    rtt,
		AverageRTTSet: true,
		Tags:          tags,
	}
}

// TestSelectTagSetFallback covers scenario S4: a Secondary read
// preference with tag sets [{dc:east}, {}] must prefer the east secondary,
// and fall back to the wildcard set once it disappears.
func TestSelectTagSetFallback(t *testing.T) {
	east := dataBearingServer("s1:27017", description.RSSecondary, 5*time.Millisecond, map[string]string{"dc": "east"})
	west := dataBearingServer("s2:27017", description.RSSecondary, 5*time.Millisecond, map[string]string{"dc": "west"})

	params := Params{
		Op: Read,
		ReadPreference: uri.ReadPreference{
			Mode:    uri.Secondary,
			TagSets: []map[string]string{{"dc": "east"}, {}},
		},
		LocalThresholdMS: 15,
	}

	topo := description.Topology{Kind: description.KindReplicaSetWithPrimary, Servers: []description.Server{east, west}}
	got, ok, err := Select(topo, params)
	if err != nil || !ok {
		t.Fatalf("Select() error=%v ok=%v", err, ok)
	}
	if got.Address != "s1:27017" {
		t.Fatalf("expected east secondary selected, got %s", got.Address)
	}

	// s1 removed: falls back to the empty tag set and matches west.
	topo = description.Topology{Kind: description.KindReplicaSetWithPrimary, Servers: []description.Server{west}}
	got, ok, err = Select(topo, params)
	if err != nil || !ok {
		t.Fatalf("Select() error=%v ok=%v", err, ok)
	}
	if got.Address != "s2:27017" {
		t.Fatalf("expected fallback to west secondary, got %s", got.Address)
	}
}

func TestSelectLocalThresholdWindow(t *testing.T) {
	near := dataBearingServer("near:27017", description.RSSecondary, 5*time.Millisecond, nil)
	far := dataBearingServer("far:27017", description.RSSecondary, 50*time.Millisecond, nil)
	topo := description.Topology{Kind: description.KindReplicaSetWithPrimary, Servers: []description.Server{near, far}}

	params := Params{Op: Read, ReadPreference: uri.ReadPreference{Mode: uri.Secondary}, LocalThresholdMS: 10}
	for i := 0; i < 20; i++ {
		got, ok, err := Select(topo, params)
		if err != nil || !ok {
			t.Fatalf("Select() error=%v ok=%v", err, ok)
		}
		if got.Address != "near:27017" {
			t.Fatalf("expected only near within local threshold, got %s", got.Address)
		}
	}
}

func TestSelectLoadBalancedShortcut(t *testing.T) {
	lb := description.Server{Address: "lb:27017", Kind: description.LoadBalancer}
	topo := description.Topology{Kind: description.KindLoadBalanced, Servers: []description.Server{lb}}
	got, ok, err := Select(topo, Params{Op: Read, ReadPreference: uri.ReadPreference{Mode: uri.Primary}})
	if err != nil || !ok {
		t.Fatalf("Select() error=%v ok=%v", err, ok)
	}
	if got.Address != "lb:27017" {
		t.Fatalf("expected load balancer server, got %s", got.Address)
	}
}

func TestSelectCompatibilityErrorFailsFast(t *testing.T) {
	topo := description.Topology{CompatibilityErr: &description.CompatibilityError{Address: "a:27017"}}
	_, ok, err := Select(topo, Params{Op: Read, ReadPreference: uri.ReadPreference{Mode: uri.Primary}})
	if ok || err == nil {
		t.Fatalf("expected compatibility error to fail selection fast, got ok=%v err=%v", ok, err)
	}
}

func TestSelectWriteFiltersToPrimaryCapable(t *testing.T) {
	primary := dataBearingServer("p:27017", description.RSPrimary, time.Millisecond, nil)
	secondary := dataBearingServer("s:27017", description.RSSecondary, time.Millisecond, nil)
	topo := description.Topology{Kind: description.KindReplicaSetWithPrimary, Servers: []description.Server{primary, secondary}}

	got, ok, err := Select(topo, Params{Op: Write, LocalThresholdMS: 15})
	if err != nil || !ok {
		t.Fatalf("Select() error=%v ok=%v", err, ok)
	}
	if got.Address != "p:27017" {
		t.Fatalf("expected primary selected for write, got %s", got.Address)
	}
}
