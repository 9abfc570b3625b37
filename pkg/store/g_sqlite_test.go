package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny_mvcc/pkg/core"
)

func TestSqliteReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	ctx := context.Background()

	s, err := OpenSqlite(ctx, DefaultSqliteConfig(path), WithSqliteTablePrefix("t_"))
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, 2, []core.Delta{core.Upsert([]byte("a"), []byte("1"))}, 7))
	require.NoError(t, s.Commit(ctx, 3, []core.Delta{core.Remove([]byte("a"))}, 8))
	require.NoError(t, s.Single().Set([]byte("cp"), []byte("3")))
	require.NoError(t, s.Close())

	s, err = OpenSqlite(ctx, DefaultSqliteConfig(path), WithSqliteTablePrefix("t_"))
	require.NoError(t, err)
	defer s.Close()

	last, err := s.LastVersion()
	require.NoError(t, err)
	assert.Equal(t, core.CommitVersion(3), last)

	e, ok, err := s.Get([]byte("a"), 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), e.Value)

	e, _, _ = s.Get([]byte("a"), 3)
	assert.True(t, e.IsTombstone())

	record, ok, err := s.CdcGet(3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(8), record.Timestamp)

	value, ok, _ := s.Single().Get([]byte("cp"))
	assert.True(t, ok)
	assert.Equal(t, []byte("3"), value)
}

func TestSqliteTablePrefixIsolatesStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	ctx := context.Background()

	a, err := OpenSqlite(ctx, DefaultSqliteConfig(path), WithSqliteTablePrefix("a_"))
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSqlite(ctx, DefaultSqliteConfig(path), WithSqliteTablePrefix("b_"))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Commit(ctx, 2, []core.Delta{core.Upsert([]byte("k"), []byte("v"))}, 0))
	_, ok, err := b.Get([]byte("k"), 2)
	require.NoError(t, err)
	assert.False(t, ok)
}
