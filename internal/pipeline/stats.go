package pipeline

import "sync/atomic"

// Stats counts pipeline outcomes. Counters are safe to read while Run is
// active.
type Stats struct {
	recorded   atomic.Int64
	replayed   atomic.Int64
	unmemoized atomic.Int64
	rejected   atomic.Int64
	failed     atomic.Int64
	epochs     atomic.Int64
	diverged   atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Recorded   int64 `json:"recorded"`
	Replayed   int64 `json:"replayed"`
	Unmemoized int64 `json:"unmemoized"`
	Rejected   int64 `json:"rejected"`
	Failed     int64 `json:"failed"`
	Epochs     int64 `json:"epochs"`
	Diverged   int64 `json:"diverged"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Recorded:   s.recorded.Load(),
		Replayed:   s.replayed.Load(),
		Unmemoized: s.unmemoized.Load(),
		Rejected:   s.rejected.Load(),
		Failed:     s.failed.Load(),
		Epochs:     s.epochs.Load(),
		Diverged:   s.diverged.Load(),
	}
}
