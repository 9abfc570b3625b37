package store

import (
	"bytes"

	"github.com/tidwall/btree"

	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/codec"
	"tiny_mvcc/pkg/core"
)

// chainItem is one version-chain element of an in-memory index, ordered by
// key ascending then version descending.
type chainItem interface {
	chainKey() []byte
	chainVersion() core.CommitVersion
	isTombstone() bool
}

func lessChain[T chainItem](a, b T) bool {
	return codec.NewVersionedKey(a.chainKey(), a.chainVersion()).
		Compare(codec.NewVersionedKey(b.chainKey(), b.chainVersion())) < 0
}

type chainTree[T chainItem] struct {
	tr    *btree.BTreeG[T]
	pivot func(key []byte, version core.CommitVersion) T
}

// clone is a lazy copy-on-write snapshot of the index.
func (c chainTree[T]) clone() chainTree[T] {
	return chainTree[T]{tr: c.tr.Copy(), pivot: c.pivot}
}

func (c chainTree[T]) visible(key []byte, version core.CommitVersion) (T, bool) {
	var found T
	var ok bool
	c.tr.Ascend(c.pivot(key, version), func(it T) bool {
		if bytes.Equal(it.chainKey(), key) {
			found, ok = it, true
		}
		return false
	})
	return found, ok
}

// liveBefore returns the value state right before version, for CDC pre-images.
func (c chainTree[T]) liveBefore(key []byte, version core.CommitVersion) (T, bool) {
	it, ok := c.visible(key, version-1)
	if !ok || it.isTombstone() {
		var zero T
		return zero, false
	}
	return it, true
}

func (c chainTree[T]) scan(r codec.KeyRange, version core.CommitVersion, reverse bool, limit int) ([]T, bool) {
	if reverse {
		return c.scanReverse(r, version, limit)
	}
	return c.scanForward(r, version, limit)
}

func (c chainTree[T]) scanForward(r codec.KeyRange, version core.CommitVersion, limit int) ([]T, bool) {
	var out []T
	var resolved []byte
	more := false

	visit := func(it T) bool {
		key := it.chainKey()
		if !r.AfterStart(key) {
			return true
		}
		if !r.BeforeEnd(key) {
			return false
		}
		if resolved != nil && bytes.Equal(key, resolved) {
			return true
		}
		if it.chainVersion() > version {
			return true
		}
		if len(out) == limit {
			more = true
			return false
		}
		out = append(out, it)
		resolved = key
		return true
	}

	if r.Start.Kind == codec.Unbounded {
		c.tr.Scan(visit)
	} else {
		c.tr.Ascend(c.pivot(r.Start.Key, core.MaxVersion), visit)
	}
	return out, more
}

func (c chainTree[T]) scanReverse(r codec.KeyRange, version core.CommitVersion, limit int) ([]T, bool) {
	var out []T
	var current []byte
	var candidate T
	hasCandidate := false
	more := false

	// walking backwards a key's versions arrive oldest first
	flush := func() bool {
		if !hasCandidate {
			return true
		}
		if len(out) == limit {
			more = true
			return false
		}
		out = append(out, candidate)
		hasCandidate = false
		return true
	}

	stopped := false
	visit := func(it T) bool {
		key := it.chainKey()
		if !r.BeforeEnd(key) {
			return true
		}
		if !r.AfterStart(key) {
			return false
		}
		if current == nil || !bytes.Equal(key, current) {
			if !flush() {
				stopped = true
				return false
			}
			current = key
		}
		if it.chainVersion() <= version {
			candidate, hasCandidate = it, true
		}
		return true
	}

	if r.End.Kind == codec.Unbounded {
		c.tr.Reverse(visit)
	} else {
		c.tr.Descend(c.pivot(r.End.Key, core.ZeroVersion), visit)
	}
	if !stopped {
		flush()
	}
	return out, more
}

// compact keeps, per key, every entry at or above below plus the newest one
// under it, unless that one is a tombstone.
func (c chainTree[T]) compact(below core.CommitVersion) int {
	var doomed []T
	var current []byte
	keptBelow := false

	c.tr.Scan(func(it T) bool {
		key := it.chainKey()
		if current == nil || !bytes.Equal(key, current) {
			current = key
			keptBelow = false
		}
		if it.chainVersion() >= below {
			return true
		}
		if !keptBelow {
			keptBelow = true
			if !it.isTombstone() {
				return true
			}
		}
		doomed = append(doomed, it)
		return true
	})

	for _, it := range doomed {
		c.tr.Delete(it)
	}
	return len(doomed)
}

// cdcRow is one change of a Cdc record, ordered by (version, sequence).
type cdcRow interface {
	rowVersion() core.CommitVersion
	rowSequence() uint16
}

func lessCdcRow[T cdcRow](a, b T) bool {
	if a.rowVersion() != b.rowVersion() {
		return a.rowVersion() < b.rowVersion()
	}
	return a.rowSequence() < b.rowSequence()
}

type cdcTree[T cdcRow] struct {
	tr    *btree.BTreeG[T]
	pivot func(version core.CommitVersion) T
}

func (c cdcTree[T]) clone() cdcTree[T] {
	return cdcTree[T]{tr: c.tr.Copy(), pivot: c.pivot}
}

// groups returns up to limit versions of r, each as its rows in sequence order.
func (c cdcTree[T]) groups(r cdc.VersionRange, limit int) ([][]T, bool) {
	if r.IsEmpty() {
		return nil, false
	}
	var out [][]T
	more := false
	hi := r.Hi()
	c.tr.Ascend(c.pivot(r.Lo()), func(it T) bool {
		if it.rowVersion() > hi {
			return false
		}
		if len(out) == 0 || out[len(out)-1][0].rowVersion() != it.rowVersion() {
			if len(out) == limit {
				more = true
				return false
			}
			out = append(out, nil)
		}
		out[len(out)-1] = append(out[len(out)-1], it)
		return true
	})
	return out, more
}

func (c cdcTree[T]) count(version core.CommitVersion) int {
	count := 0
	c.tr.Ascend(c.pivot(version), func(it T) bool {
		if it.rowVersion() != version {
			return false
		}
		count++
		return true
	})
	return count
}

// dropBefore deletes rows below version and returns the number of records removed.
func (c cdcTree[T]) dropBefore(version core.CommitVersion) int {
	var doomed []T
	c.tr.Scan(func(it T) bool {
		if it.rowVersion() >= version {
			return false
		}
		doomed = append(doomed, it)
		return true
	})
	records := 0
	for i, it := range doomed {
		if i == 0 || doomed[i-1].rowVersion() != it.rowVersion() {
			records++
		}
		c.tr.Delete(it)
	}
	return records
}
