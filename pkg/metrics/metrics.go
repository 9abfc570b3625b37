package metrics

import (
	"sync/atomic"
	"time"
)

// Collector receives operational metrics from the engine.
type Collector interface {
	// RecordCommit is called after a commit reached storage; err is the storage result.
	RecordCommit(deltas int, duration time.Duration, err error)

	// RecordConflict is called when a commit is aborted by the conflict check.
	RecordConflict()

	// RecordWaitTimeout is called when a watermark wait gave up.
	RecordWaitTimeout()

	// RecordSweep is called after every retention sweep.
	RecordSweep(watermark uint64, versionsRemoved, cdcRemoved int, duration time.Duration)

	// RecordConsumerLag reports how far a consumer checkpoint trails done-until.
	RecordConsumerLag(consumer string, lag uint64)
}

type Noop struct{}

func (Noop) RecordCommit(int, time.Duration, error)      {}
func (Noop) RecordConflict()                             {}
func (Noop) RecordWaitTimeout()                          {}
func (Noop) RecordSweep(uint64, int, int, time.Duration) {}
func (Noop) RecordConsumerLag(string, uint64)            {}

// Basic keeps counters in memory.
type Basic struct {
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitTotalNanos atomic.Int64
	DeltaCount       atomic.Int64
	ConflictCount    atomic.Int64
	WaitTimeouts     atomic.Int64
	SweepCount       atomic.Int64
	VersionsRemoved  atomic.Int64
	CdcRemoved       atomic.Int64
	LastWatermark    atomic.Uint64
}

func (b *Basic) RecordCommit(deltas int, duration time.Duration, err error) {
	b.CommitCount.Add(1)
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	b.DeltaCount.Add(int64(deltas))
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

func (b *Basic) RecordConflict() {
	b.ConflictCount.Add(1)
}

func (b *Basic) RecordWaitTimeout() {
	b.WaitTimeouts.Add(1)
}

func (b *Basic) RecordSweep(watermark uint64, versionsRemoved, cdcRemoved int, _ time.Duration) {
	b.SweepCount.Add(1)
	b.VersionsRemoved.Add(int64(versionsRemoved))
	b.CdcRemoved.Add(int64(cdcRemoved))
	b.LastWatermark.Store(watermark)
}

func (b *Basic) RecordConsumerLag(string, uint64) {}

// Stats is a point-in-time view of Basic.
type Stats struct {
	Commits         int64
	CommitErrors    int64
	Conflicts       int64
	WaitTimeouts    int64
	Sweeps          int64
	VersionsRemoved int64
	CdcRemoved      int64
	AvgCommit       time.Duration
}

func (b *Basic) Snapshot() Stats {
	s := Stats{
		Commits:         b.CommitCount.Load(),
		CommitErrors:    b.CommitErrors.Load(),
		Conflicts:       b.ConflictCount.Load(),
		WaitTimeouts:    b.WaitTimeouts.Load(),
		Sweeps:          b.SweepCount.Load(),
		VersionsRemoved: b.VersionsRemoved.Load(),
		CdcRemoved:      b.CdcRemoved.Load(),
	}
	if s.Commits > 0 {
		s.AvgCommit = time.Duration(b.CommitTotalNanos.Load() / s.Commits)
	}
	return s
}
