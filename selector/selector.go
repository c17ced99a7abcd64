// Package selector implements the server selection algorithm: given a
// topology snapshot, an operation type, and a read
// preference, narrow the server list down to the set eligible for the
// operation and pick uniformly at random among the closest by RTT.
package selector

import (
	"math/rand/v2"
	"time"

	"github.com/cloudresty/mongocore/description"
	"github.com/cloudresty/mongocore/mongocoreerr"
	"github.com/cloudresty/mongocore/uri"
)

// OpType is the kind of operation a selection is performed for.
type OpType int

const (
	Read OpType = iota
	Write
)

// Params bundles the inputs server selection selects against.
type Params struct {
	Op                OpType
	ReadPreference    uri.ReadPreference
	LocalThresholdMS  int64
	HeartbeatFrequencyMS int64
	IdleWritePeriodMS int64 // constant 10000 per the Server Selection spec
}

const minMaxStalenessSeconds = 90
const defaultIdleWritePeriodMS = 10000

// Select runs the selection algorithm's steps against one topology snapshot and
// returns the chosen server, or an error/ok=false if none qualifies.
// Callers are expected to retry (waiting on the topology's condition
// variable) until serverSelectionTimeoutMS elapses; Select itself never
// blocks or retries.
func Select(topo description.Topology, p Params) (description.Server, bool, error) {
	if topo.CompatibilityErr != nil {
		return description.Server{}, false, topo.CompatibilityErr
	}

	if topo.Kind == description.KindLoadBalanced {
		for _, s := range topo.Servers {
			if s.Kind == description.LoadBalancer {
				return s, true, nil
			}
		}
		return description.Server{}, false, nil
	}

	candidates := filterByOpAndMode(topo, p)
	candidates = applyTagSets(candidates, p.ReadPreference.TagSets)

	if p.ReadPreference.MaxStalenessSeconds > 0 {
		var err error
		candidates, err = applyMaxStaleness(topo, candidates, p)
		if err != nil {
			return description.Server{}, false, err
		}
	}

	candidates = applyLocalThreshold(candidates, p.LocalThresholdMS)

	if len(candidates) == 0 {
		return description.Server{}, false, nil
	}
	return candidates[rand.IntN(len(candidates))], true, nil
}

// filterByOpAndMode implements selection step 3.
func filterByOpAndMode(topo description.Topology, p Params) []description.Server {
	if p.Op == Write {
		return primaryCapable(topo)
	}

	// Read preference modes only filter replica-set members; in a Single or
	// Sharded topology every data-bearing server serves reads.
	if topo.Kind == description.KindSingle || topo.Kind == description.KindSharded {
		return dataBearing(topo.Servers)
	}

	switch p.ReadPreference.Mode {
	case uri.Primary:
		if prim, ok := findPrimary(topo.Servers); ok {
			return []description.Server{prim}
		}
		return nil

	case uri.PrimaryPreferred:
		if prim, ok := findPrimary(topo.Servers); ok {
			return []description.Server{prim}
		}
		return secondaries(topo.Servers)

	case uri.Secondary:
		return secondaries(topo.Servers)

	case uri.SecondaryPreferred:
		if secs := secondaries(topo.Servers); len(secs) > 0 {
			return secs
		}
		if prim, ok := findPrimary(topo.Servers); ok {
			return []description.Server{prim}
		}
		return nil

	case uri.Nearest:
		return dataBearing(topo.Servers)

	default:
		return dataBearing(topo.Servers)
	}
}

// primaryCapable returns the server that can accept writes: the replica
// set primary, or every standalone/mongos (those always accept writes).
func primaryCapable(topo description.Topology) []description.Server {
	var out []description.Server
	for _, s := range topo.Servers {
		switch s.Kind {
		case description.RSPrimary, description.Standalone, description.Mongos:
			out = append(out, s)
		}
	}
	return out
}

func findPrimary(servers []description.Server) (description.Server, bool) {
	for _, s := range servers {
		if s.Kind == description.RSPrimary {
			return s, true
		}
	}
	return description.Server{}, false
}

func secondaries(servers []description.Server) []description.Server {
	var out []description.Server
	for _, s := range servers {
		if s.Kind == description.RSSecondary {
			out = append(out, s)
		}
	}
	return out
}

func dataBearing(servers []description.Server) []description.Server {
	var out []description.Server
	for _, s := range servers {
		if s.Kind.DataBearing() {
			out = append(out, s)
		}
	}
	return out
}

// applyTagSets implements tag-set filtering: try each tag set in order,
// stopping at the first that produces a non-empty survivor list. An empty
// tagSets list (or a trailing empty map) matches everything.
func applyTagSets(candidates []description.Server, tagSets []map[string]string) []description.Server {
	if len(tagSets) == 0 {
		return candidates
	}
	for _, set := range tagSets {
		var survivors []description.Server
		for _, s := range candidates {
			if s.MatchesTags(set) {
				survivors = append(survivors, s)
			}
		}
		if len(survivors) > 0 {
			return survivors
		}
	}
	return nil
}

// applyMaxStaleness implements selection step 5. Staleness estimation
// follows the Server Selection spec's primary/no-primary formulas.
func applyMaxStaleness(topo description.Topology, candidates []description.Server, p Params) ([]description.Server, error) {
	threshold := time.Duration(p.ReadPreference.MaxStalenessSeconds) * time.Second
	idleWritePeriod := time.Duration(defaultIdleWritePeriodMS) * time.Millisecond
	if p.IdleWritePeriodMS > 0 {
		idleWritePeriod = time.Duration(p.IdleWritePeriodMS) * time.Millisecond
	}
	heartbeatFreq := time.Duration(p.HeartbeatFrequencyMS) * time.Millisecond

	floor := heartbeatFreq + idleWritePeriod
	if threshold < minMaxStalenessSeconds*time.Second || threshold < floor {
		return nil, mongocoreerr.New(mongocoreerr.KindUriInvalid,
			"maxStalenessSeconds must be at least %ds and at least heartbeatFrequencyMS+idleWritePeriod", minMaxStalenessSeconds)
	}

	primary, hasPrimary := findPrimary(topo.Servers)
	var out []description.Server
	for _, s := range candidates {
		if s.Kind != description.RSSecondary {
			out = append(out, s)
			continue
		}
		var staleness time.Duration
		if hasPrimary {
			staleness = (primary.LastWrite.Sub(s.LastWrite)) + (s.AverageRTT - primary.AverageRTT) + heartbeatFreq
		} else {
			staleness = maxLastWrite(topo.Servers).Sub(s.LastWrite) + heartbeatFreq
		}
		if staleness <= threshold {
			out = append(out, s)
		}
	}
	return out, nil
}

func maxLastWrite(servers []description.Server) time.Time {
	var max time.Time
	for _, s := range servers {
		if s.Kind == description.RSSecondary && s.LastWrite.After(max) {
			max = s.LastWrite
		}
	}
	return max
}

// applyLocalThreshold implements selection step 6.
func applyLocalThreshold(candidates []description.Server, localThresholdMS int64) []description.Server {
	if len(candidates) == 0 {
		return candidates
	}
	min := candidates[0].AverageRTT
	for _, s := range candidates[1:] {
		if s.AverageRTTSet && s.AverageRTT < min {
			min = s.AverageRTT
		}
	}
	window := min + time.Duration(localThresholdMS)*time.Millisecond
	var out []description.Server
	for _, s := range candidates {
		if s.AverageRTT <= window {
			out = append(out, s)
		}
	}
	return out
}
