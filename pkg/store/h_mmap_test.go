//go:build unix

package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/core"
)

func openTestMmap(t *testing.T, path string) *Mmap {
	cfg := DefaultMmapConfig(path)
	cfg.InitialSize = 4096
	m, err := OpenMmap(context.Background(), cfg)
	require.NoError(t, err)
	return m
}

func TestMmapRecoversAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment")
	m := openTestMmap(t, path)
	ctx := context.Background()

	// enough data to force the mapping to grow
	big := make([]byte, 3000)
	for v := core.CommitVersion(2); v < 10; v++ {
		require.NoError(t, m.Commit(ctx, v, []core.Delta{core.Upsert([]byte("k"), big), core.Upsert([]byte{byte(v)}, []byte("x"))}, 0))
	}
	require.NoError(t, m.Commit(ctx, 10, []core.Delta{core.Remove([]byte("k"))}, 0))
	_, err := m.Compact(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, m.Single().Set([]byte("s"), []byte("1")))
	require.NoError(t, m.Single().Set([]byte("t"), []byte("2")))
	require.NoError(t, m.Single().Remove([]byte("t")))
	require.NoError(t, m.Close())

	m = openTestMmap(t, path)
	defer m.Close()

	last, err := m.LastVersion()
	require.NoError(t, err)
	assert.Equal(t, core.CommitVersion(10), last)

	e, ok, err := m.Get([]byte("k"), 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, e.Value, 3000)

	// compaction survived the reopen
	_, ok, _ = m.Get([]byte("k"), 3)
	assert.False(t, ok)

	count, err := m.CdcCount(10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	value, ok, _ := m.Single().Get([]byte("s"))
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), value)
	ok, _ = m.Single().Contains([]byte("t"))
	assert.False(t, ok)
}

func TestMmapDiscardsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment")
	m := openTestMmap(t, path)
	ctx := context.Background()
	require.NoError(t, m.Commit(ctx, 2, []core.Delta{core.Upsert([]byte("a"), []byte("1"))}, 0))
	require.NoError(t, m.Commit(ctx, 3, []core.Delta{core.Upsert([]byte("b"), []byte("2"))}, 0))
	tail := m.tail
	require.NoError(t, m.Close())

	// flip a payload byte of the last frame
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	buf := make([]byte, 1)
	_, err = f.ReadAt(buf, tail-1)
	require.NoError(t, err)
	buf[0] ^= 0xff
	_, err = f.WriteAt(buf, tail-1)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m = openTestMmap(t, path)
	defer m.Close()

	last, _ := m.LastVersion()
	assert.Equal(t, core.CommitVersion(2), last)
	_, ok, _ := m.Get([]byte("b"), 3)
	assert.False(t, ok)
	_, ok, _ = m.CdcGet(3)
	assert.False(t, ok)

	// the log keeps appending after the discarded frame
	require.NoError(t, m.Commit(ctx, 3, []core.Delta{core.Upsert([]byte("c"), []byte("3"))}, 0))
	e, ok, _ := m.Get([]byte("c"), 3)
	assert.True(t, ok)
	assert.Equal(t, []byte("3"), e.Value)
}

func TestMmapRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a segment file"), 0o644))

	_, err := OpenMmap(context.Background(), DefaultMmapConfig(path))
	assert.ErrorIs(t, err, core.CorruptedSegmentErr)
}

func TestMmapCdcUsesCompression(t *testing.T) {
	cfg := DefaultMmapConfig(filepath.Join(t.TempDir(), "segment"))
	cfg.Compression = cdc.CompressionZstd
	m, err := OpenMmap(context.Background(), cfg)
	require.NoError(t, err)
	defer m.Close()

	value := make([]byte, 4096)
	require.NoError(t, m.Commit(context.Background(), 2, []core.Delta{core.Upsert([]byte("z"), value)}, 0))
	record, ok, err := m.CdcGet(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value, record.Changes[0].Change.Post)
}

func TestMmapRejectsFrameLargerThanLengthField(t *testing.T) {
	defer func(prev int64) { maxFramePayload = prev }(maxFramePayload)
	maxFramePayload = 256

	path := filepath.Join(t.TempDir(), "segment")
	m := openTestMmap(t, path)
	ctx := context.Background()

	err := m.Commit(ctx, 2, []core.Delta{core.Upsert([]byte("big"), bytes.Repeat([]byte("x"), 1024))}, 0)
	assert.ErrorIs(t, err, core.TxnTooLargeErr)
	_, ok, _ := m.Get([]byte("big"), 2)
	assert.False(t, ok)

	require.NoError(t, m.Commit(ctx, 3, []core.Delta{core.Upsert([]byte("small"), []byte("1"))}, 0))
	require.NoError(t, m.Close())

	// nothing of the rejected commit reached the log
	m = openTestMmap(t, path)
	defer m.Close()
	last, _ := m.LastVersion()
	assert.Equal(t, core.CommitVersion(3), last)
	e, ok, _ := m.Get([]byte("small"), 3)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), e.Value)
	_, ok, _ = m.CdcGet(2)
	assert.False(t, ok)
}
