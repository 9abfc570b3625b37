package cdc

import (
	"bytes"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny_mvcc/pkg/core"
)

type mapKV struct {
	sync.Mutex
	data map[string][]byte
}

func newMapKV() *mapKV {
	return &mapKV{data: map[string][]byte{}}
}

func (m *mapKV) Get(key []byte) ([]byte, bool, error) {
	m.Lock()
	defer m.Unlock()
	v, ok := m.data[string(key)]
	return v, ok, nil
}

func (m *mapKV) Set(key, value []byte) error {
	m.Lock()
	defer m.Unlock()
	m.data[string(key)] = value
	return nil
}

func (m *mapKV) Remove(key []byte) error {
	m.Lock()
	defer m.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *mapKV) ScanPrefix(prefix []byte) ([]core.Pair[[]byte, []byte], error) {
	m.Lock()
	defer m.Unlock()
	var out []core.Pair[[]byte, []byte]
	for k, v := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			out = append(out, core.Pair[[]byte, []byte]{Key: []byte(k), Val: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

func TestWatermarkIsMinimumCheckpoint(t *testing.T) {
	checkpoints := NewCheckpoints(newMapKV())

	watermark, err := checkpoints.ComputeWatermark()
	require.NoError(t, err)
	assert.Equal(t, core.CommitVersion(1), watermark)

	require.NoError(t, checkpoints.Set("c1", 5))
	require.NoError(t, checkpoints.Set("c2", 8))
	watermark, err = checkpoints.ComputeWatermark()
	require.NoError(t, err)
	assert.Equal(t, core.CommitVersion(5), watermark)

	require.NoError(t, checkpoints.Set("c1", 10))
	watermark, err = checkpoints.ComputeWatermark()
	require.NoError(t, err)
	assert.Equal(t, core.CommitVersion(8), watermark)

	require.NoError(t, checkpoints.Remove("c1"))
	require.NoError(t, checkpoints.Remove("c2"))
	watermark, err = checkpoints.ComputeWatermark()
	require.NoError(t, err)
	assert.Equal(t, core.CommitVersion(1), watermark)
}

func TestCheckpointsListConsumers(t *testing.T) {
	checkpoints := NewCheckpoints(newMapKV())
	require.NoError(t, checkpoints.Set("flow", 3))
	require.NoError(t, checkpoints.Set("replica\x00b", 4))

	all, err := checkpoints.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]core.CommitVersion{"flow": 3, "replica\x00b": 4}, all)

	v, ok, err := checkpoints.Get("flow")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, core.CommitVersion(3), v)

	_, ok, err = checkpoints.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, checkpoints.Set("", 1), EmptyConsumerIdErr)
}
