package txn

import (
	"bytes"

	"github.com/tidwall/btree"

	"tiny_mvcc/pkg/codec"
)

// maxReadRanges is the number of distinct read ranges kept before the tracker
// treats the transaction as having read everything.
const maxReadRanges = 64

// ConflictTracker records what a transaction read and wrote.
type ConflictTracker struct {
	reads   btree.Set[string]
	writes  btree.Set[string]
	ranges  []codec.KeyRange
	readAll bool
}

func NewConflictTracker() *ConflictTracker {
	return &ConflictTracker{}
}

func (c *ConflictTracker) MarkRead(key []byte) {
	if c.readAll {
		return
	}
	c.reads.Insert(string(key))
}

func (c *ConflictTracker) MarkWrite(key []byte) {
	c.writes.Insert(string(key))
}

func (c *ConflictTracker) MarkRange(r codec.KeyRange) {
	if c.readAll || r.IsEmpty() {
		return
	}
	if r.Start.Kind == codec.Unbounded && r.End.Kind == codec.Unbounded {
		c.MarkReadAll()
		return
	}

	for i := 0; i < len(c.ranges); {
		if !overlaps(c.ranges[i], r) {
			i++
			continue
		}
		r = union(c.ranges[i], r)
		c.ranges = append(c.ranges[:i], c.ranges[i+1:]...)
		i = 0
	}
	c.ranges = append(c.ranges, r)
	if len(c.ranges) > maxReadRanges {
		c.MarkReadAll()
	}
}

func (c *ConflictTracker) MarkReadAll() {
	c.readAll = true
	c.ranges = nil
	c.reads = btree.Set[string]{}
}

func (c *ConflictTracker) ReadAll() bool { return c.readAll }

func (c *ConflictTracker) WriteCount() int { return c.writes.Len() }

// HasConflict reports whether c cannot commit after other did.
func (c *ConflictTracker) HasConflict(other *ConflictTracker) bool {
	if other.writes.Len() == 0 {
		return false
	}
	if c.readAll {
		return true
	}
	if intersects(&c.writes, &other.writes) || intersects(&c.reads, &other.writes) {
		return true
	}
	for _, r := range c.ranges {
		if rangeHasKey(r, &other.writes) {
			return true
		}
	}
	return false
}

func intersects(a, b *btree.Set[string]) bool {
	if a.Len() > b.Len() {
		a, b = b, a
	}
	found := false
	a.Scan(func(key string) bool {
		found = b.Contains(key)
		return !found
	})
	return found
}

func rangeHasKey(r codec.KeyRange, keys *btree.Set[string]) bool {
	found := false
	visit := func(key string) bool {
		k := []byte(key)
		if !r.AfterStart(k) {
			return true
		}
		found = r.BeforeEnd(k)
		return false
	}
	if r.Start.Kind == codec.Unbounded {
		keys.Scan(visit)
	} else {
		keys.Ascend(string(r.Start.Key), visit)
	}
	return found
}

// endsBefore reports whether every key of a sorts before every key of b.
func endsBefore(a, b codec.KeyRange) bool {
	if a.End.Kind == codec.Unbounded || b.Start.Kind == codec.Unbounded {
		return false
	}
	c := bytes.Compare(a.End.Key, b.Start.Key)
	if c != 0 {
		return c < 0
	}
	return a.End.Kind == codec.Excluded || b.Start.Kind == codec.Excluded
}

func overlaps(a, b codec.KeyRange) bool {
	return !endsBefore(a, b) && !endsBefore(b, a)
}

func union(a, b codec.KeyRange) codec.KeyRange {
	out := a
	if lowerStart(b.Start, a.Start) {
		out.Start = b.Start
	}
	if higherEnd(b.End, a.End) {
		out.End = b.End
	}
	return out
}

func lowerStart(a, b codec.Bound) bool {
	switch {
	case a.Kind == codec.Unbounded:
		return b.Kind != codec.Unbounded
	case b.Kind == codec.Unbounded:
		return false
	}
	c := bytes.Compare(a.Key, b.Key)
	return c < 0 || (c == 0 && a.Kind == codec.Included && b.Kind == codec.Excluded)
}

func higherEnd(a, b codec.Bound) bool {
	switch {
	case a.Kind == codec.Unbounded:
		return b.Kind != codec.Unbounded
	case b.Kind == codec.Unbounded:
		return false
	}
	c := bytes.Compare(a.Key, b.Key)
	return c > 0 || (c == 0 && a.Kind == codec.Included && b.Kind == codec.Excluded)
}
