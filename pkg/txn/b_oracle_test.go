package txn

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny_mvcc/pkg/core"
)

func writes(keys ...string) *ConflictTracker {
	c := NewConflictTracker()
	for _, k := range keys {
		c.MarkWrite([]byte(k))
	}
	return c
}

func TestOracleStartsAfterInitialVersion(t *testing.T) {
	o := NewOracle(0)
	defer o.Stop()

	_, read := o.Begin()
	assert.Equal(t, core.InitialVersion, read)

	version, err := o.NewCommit(read, writes("a"))
	require.NoError(t, err)
	assert.Equal(t, core.CommitVersion(2), version)
	o.DoneCommit(version)
	assert.Equal(t, core.CommitVersion(2), o.DoneUntil())
}

func TestOracleResumesFromLastVersion(t *testing.T) {
	o := NewOracle(41)
	defer o.Stop()

	_, read := o.Begin()
	assert.Equal(t, core.CommitVersion(41), read)
	version, err := o.NewCommit(read, writes("a"))
	require.NoError(t, err)
	assert.Equal(t, core.CommitVersion(42), version)
	o.DoneCommit(version)
}

func TestOracleRejectsReadWriteConflict(t *testing.T) {
	o := NewOracle(0)
	defer o.Stop()

	_, r1 := o.Begin()
	_, r2 := o.Begin()

	v, err := o.NewCommit(r1, writes("hdd"))
	require.NoError(t, err)
	o.DoneCommit(v)

	reader := NewConflictTracker()
	reader.MarkRead([]byte("hdd"))
	reader.MarkWrite([]byte("ssd"))
	_, err = o.NewCommit(r2, reader)
	assert.ErrorIs(t, err, core.TxnConflictErr)
	o.DoneRead(r2)

	// a transaction that began after the commit sees it and does not conflict
	_, r3 := o.Begin()
	v, err = o.NewCommit(r3, reader)
	require.NoError(t, err)
	o.DoneCommit(v)
}

func TestOracleDiscardedCommitDoesNotConflict(t *testing.T) {
	o := NewOracle(0)
	defer o.Stop()

	_, r1 := o.Begin()
	_, r2 := o.Begin()

	failed, err := o.NewCommit(r1, writes("hdd"))
	require.NoError(t, err)
	o.DiscardCommit(failed)
	o.DoneCommit(failed)

	reader := NewConflictTracker()
	reader.MarkRead([]byte("hdd"))
	reader.MarkWrite([]byte("hdd"))
	v, err := o.NewCommit(r2, reader)
	require.NoError(t, err)
	assert.Equal(t, failed+1, v)
	o.DoneCommit(v)
}

func TestOracleVersionsAreUniqueAndVisibleInOrder(t *testing.T) {
	o := NewOracle(0)
	defer o.Stop()

	var mu sync.Mutex
	seen := map[core.CommitVersion]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, read := o.Begin()
			v, err := o.NewCommit(read, NewConflictTracker())
			assert.NoError(t, err)
			assert.Greater(t, v, read)
			mu.Lock()
			seen[v] = true
			mu.Unlock()
			o.DoneCommit(v)
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
	assert.True(t, o.WaitForMarkTimeout(51, time.Second))
	_, read := o.Begin()
	assert.Equal(t, core.CommitVersion(51), read)
	o.DoneRead(read)
}

func TestOracleBeginWaitsForEarlierCommits(t *testing.T) {
	o := NewOracle(0)
	defer o.Stop()

	_, read := o.Begin()
	v, err := o.NewCommit(read, writes("a"))
	require.NoError(t, err)

	began := make(chan core.CommitVersion)
	go func() {
		_, r := o.Begin()
		began <- r
	}()

	select {
	case <-began:
		t.Fatal("begin returned before the commit reached storage")
	case <-time.After(20 * time.Millisecond):
	}
	o.DoneCommit(v)
	assert.Equal(t, v, <-began)
}

func TestOracleForgetsCommitsNoReaderCanConflictWith(t *testing.T) {
	o := NewOracle(0)
	defer o.Stop()

	for i := 0; i < 10; i++ {
		_, read := o.Begin()
		v, err := o.NewCommit(read, writes("k"))
		require.NoError(t, err)
		o.DoneCommit(v)
	}
	assert.True(t, o.readMark.WaitForMarkTimeout(10, time.Second))

	// the next commit prunes everything at or below the last finished read
	_, read := o.Begin()
	v, err := o.NewCommit(read, writes("k"))
	require.NoError(t, err)
	o.DoneCommit(v)

	o.Lock()
	defer o.Unlock()
	assert.LessOrEqual(t, len(o.committed), 2)
}
