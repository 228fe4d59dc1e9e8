package offline

import "sync/atomic"

// Stats counts cache events. Counters are updated atomically and never reset.
type Stats struct {
	hits                 atomic.Int64
	misses               atomic.Int64
	fallbacks            atomic.Int64
	networkFetches       atomic.Int64
	networkFailures      atomic.Int64
	revalidations        atomic.Int64
	revalidationFailures atomic.Int64
	precached            atomic.Int64
	precacheFailures     atomic.Int64
	bypassed             atomic.Int64
	droppedWrites        atomic.Int64
	privateResponses     atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Hits                 int64 `json:"hits"`
	Misses               int64 `json:"misses"`
	Fallbacks            int64 `json:"fallbacks"`
	NetworkFetches       int64 `json:"network_fetches"`
	NetworkFailures      int64 `json:"network_failures"`
	Revalidations        int64 `json:"revalidations"`
	RevalidationFailures int64 `json:"revalidation_failures"`
	Precached            int64 `json:"precached"`
	PrecacheFailures     int64 `json:"precache_failures"`
	Bypassed             int64 `json:"bypassed"`
	DroppedWrites        int64 `json:"dropped_writes"`
	PrivateResponses     int64 `json:"private_responses"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Hits:                 s.hits.Load(),
		Misses:               s.misses.Load(),
		Fallbacks:            s.fallbacks.Load(),
		NetworkFetches:       s.networkFetches.Load(),
		NetworkFailures:      s.networkFailures.Load(),
		Revalidations:        s.revalidations.Load(),
		RevalidationFailures: s.revalidationFailures.Load(),
		Precached:            s.precached.Load(),
		PrecacheFailures:     s.precacheFailures.Load(),
		Bypassed:             s.bypassed.Load(),
		DroppedWrites:        s.droppedWrites.Load(),
		PrivateResponses:     s.privateResponses.Load(),
	}
}
