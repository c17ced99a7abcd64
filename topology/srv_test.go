package topology

import (
	"context"
	"testing"
	"time"
)

// TestCapHostsRespectsMax covers scenario S5: srvMaxHosts bounds the seed
// list a rescan installs, regardless of how many records the DNS answer
// carried.
func TestCapHostsRespectsMax(t *testing.T) {
	hosts := []string{"a:27017", "b:27017", "c:27017", "d:27017"}

	if got := capHosts(hosts, 0); len(got) != len(hosts) {
		t.Fatalf("max=0 (disabled) should return all hosts, got %d", len(got))
	}
	if got := capHosts(hosts, 10); len(got) != len(hosts) {
		t.Fatalf("max above len(hosts) should return all hosts, got %d", len(got))
	}

	got := capHosts(hosts, 2)
	if len(got) != 2 {
		t.Fatalf("expected exactly 2 hosts after capping, got %d", len(got))
	}
	seen := make(map[string]bool, len(got))
	for _, h := range got {
		seen[h] = true
	}
	if len(seen) != 2 {
		t.Fatalf("capped hosts must be distinct, got %v", got)
	}
	for h := range seen {
		found := false
		for _, orig := range hosts {
			if orig == h {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("capped host %q was not in the original set", h)
		}
	}
}

func TestReconcileSRVHostsAddsAndRemoves(t *testing.T) {
	topo := New(context.Background(), Config{
		Seeds:              []string{"a:27017"},
		HeartbeatFrequency: time.Hour,
	})
	defer topo.Close()

	topo.reconcileSRVHosts([]string{"a:27017", "b:27017"})

	topo.mu.Lock()
	_, hasA := topo.monitors["a:27017"]
	_, hasB := topo.monitors["b:27017"]
	serverCount := len(topo.desc.Servers)
	topo.mu.Unlock()

	if !hasA || !hasB {
		t.Fatalf("expected monitors for both a and b after adding b, got a=%v b=%v", hasA, hasB)
	}
	if serverCount != 2 {
		t.Fatalf("expected 2 servers in the description, got %d", serverCount)
	}

	topo.reconcileSRVHosts([]string{"b:27017"})

	topo.mu.Lock()
	_, hasA = topo.monitors["a:27017"]
	_, hasB = topo.monitors["b:27017"]
	serverCount = len(topo.desc.Servers)
	topo.mu.Unlock()

	if hasA {
		t.Fatal("expected a's monitor to be removed once it dropped out of the SRV answer")
	}
	if !hasB {
		t.Fatal("expected b's monitor to remain")
	}
	if serverCount != 1 {
		t.Fatalf("expected 1 server remaining, got %d", serverCount)
	}
}
