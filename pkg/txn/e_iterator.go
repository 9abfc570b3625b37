package txn

import (
	"bytes"

	"tiny_mvcc/pkg/core"
	"tiny_mvcc/pkg/store"
)

// Iterator merges a snapshot range with the pending writes of the same range.
// Pending writes shadow stored entries with the same key.
type Iterator struct {
	base    *store.Iterator
	pending []core.Entry
	pos     int
	reverse bool

	head      core.Entry
	headReady bool
	baseDone  bool

	cur core.Entry
	err error
}

func newIterator(base *store.Iterator, pending []core.Entry, reverse bool) *Iterator {
	return &Iterator{base: base, pending: pending, reverse: reverse}
}

func failedIterator(err error) *Iterator {
	return &Iterator{err: err, baseDone: true}
}

func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	for {
		if !it.headReady && !it.baseDone {
			if it.base.Next() {
				it.head, it.headReady = it.base.Entry(), true
			} else {
				it.baseDone = true
				if err := it.base.Err(); err != nil {
					it.err = err
					return false
				}
			}
		}

		hasPending := it.pos < len(it.pending)
		switch {
		case !it.headReady && !hasPending:
			return false
		case !hasPending:
			it.cur, it.headReady = it.head, false
			return true
		case it.headReady:
			c := bytes.Compare(it.head.Key, it.pending[it.pos].Key)
			if it.reverse {
				c = -c
			}
			if c < 0 {
				it.cur, it.headReady = it.head, false
				return true
			}
			if c == 0 {
				it.headReady = false
			}
		}

		p := it.pending[it.pos]
		it.pos++
		if p.IsTombstone() {
			continue
		}
		it.cur = p
		return true
	}
}

// Entry is the current entry. Pending writes carry core.ZeroVersion.
func (it *Iterator) Entry() core.Entry { return it.cur }

func (it *Iterator) Err() error { return it.err }

func (it *Iterator) Collect() ([]core.Entry, error) {
	var out []core.Entry
	for it.Next() {
		out = append(out, it.Entry())
	}
	return out, it.Err()
}
