package store

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"tiny_mvcc/pkg/core"
)

func TestExecutorAppliesInOrder(t *testing.T) {
	var seen []core.CommitVersion
	exec := NewExecutor(4, func(req ExecutorRequest) (int, error) {
		seen = append(seen, req.version)
		return len(req.deltas), nil
	}, nil)

	for v := core.CommitVersion(2); v < 6; v++ {
		n, err := exec.submit(context.Background(), ExecutorRequest{kind: commitRequest, version: v, deltas: []core.Delta{core.Remove([]byte("k"))}})
		assert.NoError(t, err)
		assert.Equal(t, 1, n)
	}
	exec.Stop()
	assert.Equal(t, []core.CommitVersion{2, 3, 4, 5}, seen)
	assert.False(t, exec.Alive())
}

func TestExecutorPanicDisconnectsWriter(t *testing.T) {
	var calls atomic.Int32
	exec := NewExecutor(1, func(req ExecutorRequest) (int, error) {
		calls.Add(1)
		panic("disk on fire")
	}, nil)

	_, err := exec.submit(context.Background(), ExecutorRequest{kind: commitRequest, version: 2})
	assert.ErrorIs(t, err, core.WriterDisconnectedErr)

	_, err = exec.submit(context.Background(), ExecutorRequest{kind: commitRequest, version: 3})
	assert.ErrorIs(t, err, core.WriterDisconnectedErr)
	assert.Equal(t, int32(1), calls.Load())
	exec.Stop()
}

func TestMemoryCommitAfterCloseFails(t *testing.T) {
	m := NewMemory(DefaultMemoryConfig())
	assert.NoError(t, m.Close())
	err := m.Commit(context.Background(), 2, []core.Delta{core.Upsert([]byte("k"), []byte("v"))}, 0)
	assert.ErrorIs(t, err, core.WriterDisconnectedErr)
}
