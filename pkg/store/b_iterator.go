package store

import (
	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/codec"
	"tiny_mvcc/pkg/core"
)

type RangeOptions struct {
	Reverse bool
	// Raw keeps tombstones in the output.
	Raw       bool
	BatchSize int
}

// Iterator walks a key range at a fixed version. Each batch is copied out of
// the backend, so no backend lock is held between calls to Next.
type Iterator struct {
	source    MultiVersion
	r         codec.KeyRange
	version   core.CommitVersion
	opts      RangeOptions
	buf       []core.Entry
	pos       int
	exhausted bool
	cur       core.Entry
	err       error
}

func NewIterator(source MultiVersion, r codec.KeyRange, version core.CommitVersion, opts RangeOptions) *Iterator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Iterator{
		source:    source,
		r:         r,
		version:   version,
		opts:      opts,
		exhausted: r.IsEmpty(),
	}
}

func (it *Iterator) Next() bool {
	for {
		for it.pos < len(it.buf) {
			entry := it.buf[it.pos]
			it.pos++
			if !it.opts.Raw && entry.IsTombstone() {
				continue
			}
			it.cur = entry
			return true
		}
		if it.exhausted || it.err != nil {
			return false
		}
		it.fetch()
	}
}

func (it *Iterator) fetch() {
	entries, more, err := it.source.ScanBatch(it.r, it.version, it.opts.Reverse, it.opts.BatchSize)
	if err != nil {
		it.err = err
		return
	}
	it.buf, it.pos = entries, 0
	if len(entries) == 0 || !more {
		it.exhausted = true
		return
	}
	last := entries[len(entries)-1].Key
	if it.opts.Reverse {
		it.r.End = codec.ExcludedBound(last)
	} else {
		it.r.Start = codec.ExcludedBound(last)
	}
}

func (it *Iterator) Entry() core.Entry { return it.cur }

func (it *Iterator) Err() error { return it.err }

// Collect drains the iterator.
func Collect(it *Iterator) ([]core.Entry, error) {
	var out []core.Entry
	for it.Next() {
		out = append(out, it.Entry())
	}
	return out, it.Err()
}

// CdcIterator walks Cdc records in version order, batch by batch.
type CdcIterator struct {
	source    CdcStorage
	r         cdc.VersionRange
	batchSize int
	buf       []cdc.Cdc
	pos       int
	exhausted bool
	cur       cdc.Cdc
	err       error
}

func NewCdcIterator(source CdcStorage, r cdc.VersionRange, batchSize int) *CdcIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &CdcIterator{source: source, r: r, batchSize: batchSize, exhausted: r.IsEmpty()}
}

func (it *CdcIterator) Next() bool {
	for {
		if it.pos < len(it.buf) {
			it.cur = it.buf[it.pos]
			it.pos++
			return true
		}
		if it.exhausted || it.err != nil {
			return false
		}
		records, more, err := it.source.CdcScanBatch(it.r, it.batchSize)
		if err != nil {
			it.err = err
			return false
		}
		it.buf, it.pos = records, 0
		if len(records) == 0 || !more {
			it.exhausted = true
			continue
		}
		it.r.Start = cdc.Excluded(records[len(records)-1].Version)
	}
}

func (it *CdcIterator) Cdc() cdc.Cdc { return it.cur }

func (it *CdcIterator) Err() error { return it.err }

func CollectCdc(it *CdcIterator) ([]cdc.Cdc, error) {
	var out []cdc.Cdc
	for it.Next() {
		out = append(out, it.Cdc())
	}
	return out, it.Err()
}
