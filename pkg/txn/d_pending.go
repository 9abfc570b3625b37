package txn

import (
	"github.com/tidwall/btree"

	"tiny_mvcc/pkg/codec"
	"tiny_mvcc/pkg/core"
)

// PendingWrites holds the deltas of a command transaction, one per key, in key order.
type PendingWrites struct {
	deltas btree.Map[string, core.Delta]
	size   int
}

func (p *PendingWrites) Put(delta core.Delta) {
	if prev, ok := p.deltas.Set(string(delta.Key), delta); ok {
		p.size -= prev.Size()
	}
	p.size += delta.Size()
}

func (p *PendingWrites) Get(key []byte) (core.Delta, bool) {
	return p.deltas.Get(string(key))
}

// Grow returns the entry count and byte size after putting delta.
func (p *PendingWrites) Grow(delta core.Delta) (int, int) {
	entries, size := p.deltas.Len(), p.size+delta.Size()
	if prev, ok := p.deltas.Get(string(delta.Key)); ok {
		size -= prev.Size()
	} else {
		entries++
	}
	return entries, size
}

func (p *PendingWrites) Len() int  { return p.deltas.Len() }
func (p *PendingWrites) Size() int { return p.size }

func (p *PendingWrites) IsEmpty() bool { return p.deltas.Len() == 0 }

// Deltas returns the pending deltas in key order.
func (p *PendingWrites) Deltas() []core.Delta {
	return p.deltas.Values()
}

// Entries returns the pending writes inside r as uncommitted entries, removals as tombstones.
func (p *PendingWrites) Entries(r codec.KeyRange, reverse bool) []core.Entry {
	var out []core.Entry
	visit := func(_ string, d core.Delta) bool {
		if !r.AfterStart(d.Key) {
			return true
		}
		if !r.BeforeEnd(d.Key) {
			return false
		}
		out = append(out, pendingEntry(d))
		return true
	}
	if r.Start.Kind == codec.Unbounded {
		p.deltas.Scan(visit)
	} else {
		p.deltas.Ascend(string(r.Start.Key), visit)
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func pendingEntry(d core.Delta) core.Entry {
	e := core.Entry{Key: d.Key, Version: core.ZeroVersion}
	if !d.IsRemove() {
		e.Value = d.Value
		if e.Value == nil {
			e.Value = []byte{}
		}
	}
	return e
}
