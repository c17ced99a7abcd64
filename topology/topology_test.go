package topology

import (
	"context"
	"testing"
	"time"

	"github.com/cloudresty/mongocore/description"
	"github.com/cloudresty/mongocore/selector"
	"github.com/cloudresty/mongocore/uri"
)

// TestTopologySelectServerAfterPublish covers discovery at the
// Topology level: publishing a Standalone description for the sole seed
// moves the topology to Single and makes it selectable. HeartbeatFrequency
// is set far beyond the test's lifetime so the real background monitor
// (which cannot reach a live server in this environment) never interferes
// with the manually-published description.
func TestTopologySelectServerAfterPublish(t *testing.T) {
	topo := New(context.Background(), Config{
		ServerSelectionTimeout: time.Second,
		HeartbeatFrequency:     time.Hour,
	})
	defer topo.Close()

	topo.Publish(description.Server{
		ID: 1, Address: "x:27017", Kind: description.Standalone,
		WireVersion: description.WireRange{Min: 0, Max: 21},
	})

	if got := topo.Snapshot().Kind; got != description.KindSingle {
		t.Fatalf("expected Single topology after standalone publish, got %v", got)
	}

	srv, err := topo.SelectServer(context.Background(), selector.Params{
		Op:               selector.Read,
		ReadPreference:   uri.ReadPreference{Mode: uri.Primary},
		LocalThresholdMS: 15,
	})
	if err != nil {
		t.Fatalf("SelectServer: %v", err)
	}
	if srv.Address != "x:27017" {
		t.Fatalf("expected x:27017 selected, got %s", srv.Address)
	}
}

// TestTopologySelectServerTimesOut covers the no-eligible-server branch of
// with no servers published, SelectServer must return within
// its timeout rather than block forever.
func TestTopologySelectServerTimesOut(t *testing.T) {
	topo := New(context.Background(), Config{
		ServerSelectionTimeout: 50 * time.Millisecond,
		HeartbeatFrequency:     time.Hour,
	})
	defer topo.Close()

	_, err := topo.SelectServer(context.Background(), selector.Params{
		Op:             selector.Read,
		ReadPreference: uri.ReadPreference{Mode: uri.Primary},
	})
	if err == nil {
		t.Fatalf("expected a timeout error with no eligible servers")
	}
}
