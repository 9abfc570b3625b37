package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBasicCountsCommitsAndConflicts(t *testing.T) {
	b := &Basic{}
	b.RecordCommit(3, 2*time.Millisecond, nil)
	b.RecordCommit(1, 4*time.Millisecond, errors.New("disk"))
	b.RecordConflict()
	b.RecordSweep(7, 10, 2, time.Millisecond)

	s := b.Snapshot()
	assert.Equal(t, int64(2), s.Commits)
	assert.Equal(t, int64(1), s.CommitErrors)
	assert.Equal(t, int64(1), s.Conflicts)
	assert.Equal(t, int64(10), s.VersionsRemoved)
	assert.Equal(t, 3*time.Millisecond, s.AvgCommit)
	assert.Equal(t, uint64(7), b.LastWatermark.Load())
}

func TestPrometheusRegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus("tiny_mvcc", reg)

	p.RecordConflict()
	p.RecordConflict()
	p.RecordCommit(2, time.Millisecond, nil)
	p.RecordConsumerLag("flow", 12)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.conflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.commits.WithLabelValues("ok")))
	assert.Equal(t, 12.0, testutil.ToFloat64(p.consumerLag.WithLabelValues("flow")))
}
