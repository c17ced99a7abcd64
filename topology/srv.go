package topology

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cloudresty/mongocore/description"
	"github.com/cloudresty/mongocore/sdam"
)

// runSRVPolling periodically rescans the SRV record and reconciles the
// topology's seed list against it. It never runs for LoadBalanced
// deployments, and a rescan result is applied only while the topology is
// Sharded or Unknown.
func (t *Topology) runSRVPolling(ctx context.Context) error {
	cfg := t.cfg.SRV
	for {
		result, err := cfg.Resolver.Resolve(ctx, cfg.Host, cfg.Service)
		if err == nil {
			if kind := t.Snapshot().Kind; kind == description.KindSharded || kind == description.KindUnknown {
				t.reconcileSRVHosts(capHosts(result.Hosts, cfg.MaxHosts))
			}
		}

		wait := result.TTL
		if wait <= 0 {
			wait = 60 * time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// capHosts enforces srvMaxHosts by taking a random subset of hosts when the
// rescan returns more than max; max <= 0 disables the cap.
func capHosts(hosts []string, max int) []string {
	if max <= 0 || len(hosts) <= max {
		return hosts
	}
	shuffled := append([]string(nil), hosts...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:max]
}

// reconcileSRVHosts adds newly-discovered hosts and removes ones no longer
// present in the SRV answer, mirroring fsm's member-list reconciliation but
// driven by DNS instead of a hello reply.
func (t *Topology) reconcileSRVHosts(hosts []string) {
	want := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		want[h] = true
	}

	t.mu.Lock()
	prev := t.desc
	for _, h := range hosts {
		if _, ok := t.monitors[h]; !ok {
			t.addServerLocked(h)
		}
	}
	kept := make([]description.Server, 0, len(t.desc.Servers))
	for _, s := range t.desc.Servers {
		if want[s.Address] {
			kept = append(kept, s)
		} else {
			t.removeServerLocked(s.Address)
		}
	}
	t.desc.Servers = kept
	next := t.desc
	t.mu.Unlock()

	t.cond.Broadcast()
	if len(next.Servers) != len(prev.Servers) {
		t.events.Publish(sdam.Event{Kind: sdam.TopologyDescriptionChanged, Time: time.Now(), PrevTopology: prev, NewTopology: next})
	}
}
