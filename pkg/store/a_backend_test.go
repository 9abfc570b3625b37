package store

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/codec"
	"tiny_mvcc/pkg/core"
)

type backendFactory func(t *testing.T) Backend

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T) Backend {
			return NewMemory(DefaultMemoryConfig())
		},
		"sqlite": func(t *testing.T) Backend {
			s, err := OpenSqlite(context.Background(), DefaultSqliteConfig(filepath.Join(t.TempDir(), "db.sqlite")))
			require.NoError(t, err)
			return s
		},
		"mmap": func(t *testing.T) Backend {
			cfg := DefaultMmapConfig(filepath.Join(t.TempDir(), "segment"))
			cfg.InitialSize = 4096
			cfg.SyncWrites = false
			m, err := OpenMmap(context.Background(), cfg)
			require.NoError(t, err)
			return m
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b Backend)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			b := factory(t)
			defer func() { assert.NoError(t, b.Close()) }()
			fn(t, b)
		})
	}
}

func commit(t *testing.T, b Backend, version core.CommitVersion, deltas ...core.Delta) {
	t.Helper()
	require.NoError(t, b.Commit(context.Background(), version, deltas, uint64(version)*1000))
}

func TestBackendGetReturnsNewestVisibleVersion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		commit(t, b, 2, core.Upsert([]byte("a"), []byte("v2")))
		commit(t, b, 4, core.Upsert([]byte("a"), []byte("v4")))
		commit(t, b, 6, core.Remove([]byte("a")))

		_, ok, err := b.Get([]byte("a"), 1)
		require.NoError(t, err)
		assert.False(t, ok)

		e, ok, err := b.Get([]byte("a"), 3)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, core.CommitVersion(2), e.Version)
		assert.Equal(t, []byte("v2"), e.Value)

		e, _, _ = b.Get([]byte("a"), 5)
		assert.Equal(t, []byte("v4"), e.Value)

		e, ok, _ = b.Get([]byte("a"), 10)
		require.True(t, ok)
		assert.True(t, e.IsTombstone())

		last, err := b.LastVersion()
		require.NoError(t, err)
		assert.Equal(t, core.CommitVersion(6), last)
	})
}

func TestBackendEmptyValueIsNotTombstone(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		commit(t, b, 2, core.Upsert([]byte("k"), []byte{}))

		e, ok, err := b.Get([]byte("k"), 2)
		require.NoError(t, err)
		require.True(t, ok)
		assert.False(t, e.IsTombstone())
		assert.Len(t, e.Value, 0)
	})
}

func TestBackendScanBatchIsOrderedAndPaged(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		commit(t, b, 2,
			core.Upsert([]byte("a"), []byte("1")),
			core.Upsert([]byte("b"), []byte("1")),
			core.Upsert([]byte("c"), []byte("1")),
			core.Upsert([]byte("d"), []byte("1")))
		commit(t, b, 3, core.Upsert([]byte("b"), []byte("2")), core.Remove([]byte("c")))

		entries, more, err := b.ScanBatch(codec.All(), 3, false, 2)
		require.NoError(t, err)
		assert.True(t, more)
		require.Len(t, entries, 2)
		assert.Equal(t, []byte("a"), entries[0].Key)
		assert.Equal(t, []byte("b"), entries[1].Key)
		assert.Equal(t, []byte("2"), entries[1].Value)

		entries, more, err = b.ScanBatch(codec.All(), 2, true, 10)
		require.NoError(t, err)
		assert.False(t, more)
		require.Len(t, entries, 4)
		assert.Equal(t, []byte("d"), entries[0].Key)
		assert.Equal(t, []byte("a"), entries[3].Key)
		assert.Equal(t, []byte("1"), entries[2].Value)

		r := codec.NewKeyRange(codec.ExcludedBound([]byte("a")), codec.IncludedBound([]byte("c")))
		entries, _, err = b.ScanBatch(r, 3, false, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, []byte("b"), entries[0].Key)
		assert.True(t, entries[1].IsTombstone())
	})
}

func TestBackendIteratorAcrossBatches(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		var deltas []core.Delta
		for i := 0; i < 25; i++ {
			key := codec.NewKeyBuilder().U32(uint32(i)).Build()
			deltas = append(deltas, core.Upsert(key, []byte{byte(i)}))
		}
		commit(t, b, 2, deltas...)
		commit(t, b, 3, core.Remove(codec.NewKeyBuilder().U32(7).Build()))

		entries, err := Collect(NewIterator(b, codec.All(), 3, RangeOptions{BatchSize: 4}))
		require.NoError(t, err)
		require.Len(t, entries, 24)
		for i := 1; i < len(entries); i++ {
			assert.Less(t, codec.EncodedKey(entries[i-1].Key).Compare(entries[i].Key), 0)
		}

		raw, err := Collect(NewIterator(b, codec.All(), 3, RangeOptions{BatchSize: 4, Raw: true, Reverse: true}))
		require.NoError(t, err)
		require.Len(t, raw, 25)
		assert.Equal(t, []byte{24}, raw[0].Value)
	})
}

func TestBackendCdcRecordsCommits(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		commit(t, b, 2, core.Insert([]byte("a"), []byte("1")), core.Remove([]byte("ghost")))
		commit(t, b, 3, core.Upsert([]byte("a"), []byte("2")))
		commit(t, b, 4, core.Remove([]byte("a")))

		record, ok, err := b.CdcGet(2)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(2000), record.Timestamp)
		require.Len(t, record.Changes, 2)
		assert.Equal(t, uint16(1), record.Changes[0].Sequence)
		assert.Equal(t, cdc.ChangeInsert, record.Changes[0].Change.Kind)
		assert.Equal(t, cdc.ChangeDelete, record.Changes[1].Change.Kind)
		assert.Nil(t, record.Changes[1].Change.Pre)

		record, _, _ = b.CdcGet(3)
		assert.Equal(t, cdc.ChangeUpdate, record.Changes[0].Change.Kind)
		assert.Equal(t, []byte("1"), record.Changes[0].Change.Pre)
		assert.Equal(t, []byte("2"), record.Changes[0].Change.Post)

		record, _, _ = b.CdcGet(4)
		assert.Equal(t, []byte("2"), record.Changes[0].Change.Pre)

		count, err := b.CdcCount(2)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		all, err := CollectCdc(NewCdcIterator(b, cdc.VersionRange{Start: cdc.Unbounded(), End: cdc.Unbounded()}, 1))
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, core.CommitVersion(4), all[2].Version)

		_, ok, err = b.CdcGet(5)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestBackendRejectsCommitWithMoreChangesThanCdcSequences(t *testing.T) {
	deltas := make([]core.Delta, cdc.MaxChanges+1)
	for i := range deltas {
		deltas[i] = core.Upsert([]byte("k"+strconv.Itoa(i)), []byte("v"))
	}

	forEachBackend(t, func(t *testing.T, b Backend) {
		err := b.Commit(context.Background(), 2, deltas, 2000)
		assert.ErrorIs(t, err, core.TxnTooLargeErr)

		last, err := b.LastVersion()
		require.NoError(t, err)
		assert.Equal(t, core.CommitVersion(0), last)
		_, ok, err := b.Get([]byte("k0"), 2)
		require.NoError(t, err)
		assert.False(t, ok)

		commit(t, b, 3, deltas[:cdc.MaxChanges]...)
		record, ok, err := b.CdcGet(3)
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, record.Changes, cdc.MaxChanges)
		assert.Equal(t, uint16(cdc.MaxChanges), record.Changes[cdc.MaxChanges-1].Sequence)
	})
}

func TestBackendCompactKeepsVisibleVersions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		commit(t, b, 2, core.Upsert([]byte("a"), []byte("1")), core.Upsert([]byte("b"), []byte("1")))
		commit(t, b, 3, core.Upsert([]byte("a"), []byte("2")), core.Remove([]byte("b")))
		commit(t, b, 5, core.Upsert([]byte("a"), []byte("3")))

		removed, err := b.Compact(context.Background(), 4)
		require.NoError(t, err)
		// a@2 is shadowed by a@3; b@2 and the b@3 tombstone are both unobservable at 4
		assert.Equal(t, 3, removed)

		e, ok, _ := b.Get([]byte("a"), 4)
		require.True(t, ok)
		assert.Equal(t, []byte("2"), e.Value)
		e, _, _ = b.Get([]byte("a"), 5)
		assert.Equal(t, []byte("3"), e.Value)
		_, ok, _ = b.Get([]byte("b"), 4)
		assert.False(t, ok)

		dropped, err := b.CdcDropBefore(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, 1, dropped)
		_, ok, _ = b.CdcGet(2)
		assert.False(t, ok)
		_, ok, _ = b.CdcGet(3)
		assert.True(t, ok)
	})
}

func TestBackendSingleVersion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		single := b.Single()
		require.NoError(t, single.Set([]byte("x"), []byte("1")))
		require.NoError(t, single.Set([]byte("x"), []byte("2")))

		value, ok, err := single.Get([]byte("x"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("2"), value)

		require.NoError(t, single.Remove([]byte("x")))
		ok, err = single.Contains([]byte("x"))
		require.NoError(t, err)
		assert.False(t, ok)

		assert.ErrorIs(t, single.Set(nil, []byte("v")), core.EmptyKeyErr)
	})
}
