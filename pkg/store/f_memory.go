package store

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/tidwall/btree"

	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/codec"
	"tiny_mvcc/pkg/core"
	"tiny_mvcc/pkg/logger"
)

type memItem struct {
	key     []byte
	version core.CommitVersion
	value   []byte
}

func (it memItem) chainKey() []byte                 { return it.key }
func (it memItem) chainVersion() core.CommitVersion { return it.version }
func (it memItem) isTombstone() bool                { return it.value == nil }

func (it memItem) entry() core.Entry {
	return core.Entry{Key: it.key, Version: it.version, Value: it.value}
}

func memPivot(key []byte, version core.CommitVersion) memItem {
	return memItem{key: key, version: version}
}

type cdcItem struct {
	version   core.CommitVersion
	sequence  uint16
	timestamp uint64
	change    cdc.Change
}

func (it cdcItem) rowVersion() core.CommitVersion { return it.version }
func (it cdcItem) rowSequence() uint16            { return it.sequence }

func cdcPivot(version core.CommitVersion) cdcItem {
	return cdcItem{version: version}
}

// memState is immutable once published. The writer mutates a copy and swaps it in.
type memState struct {
	multi *btree.BTreeG[memItem]
	cdc   *btree.BTreeG[cdcItem]
	last  core.CommitVersion
}

func (s *memState) copy() *memState {
	return &memState{multi: s.multi.Copy(), cdc: s.cdc.Copy(), last: s.last}
}

func (s *memState) chains() chainTree[memItem] {
	return chainTree[memItem]{tr: s.multi, pivot: memPivot}
}

func (s *memState) records() cdcTree[cdcItem] {
	return cdcTree[cdcItem]{tr: s.cdc, pivot: cdcPivot}
}

type MemoryConfig struct {
	QueueSize int
	Logger    *logger.Logger
}

func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{QueueSize: 256}
}

// Memory keeps version chains in a copy-on-write B-tree. Readers load the
// published tree without coordination; every mutation goes through the Executor.
type Memory struct {
	state    atomic.Pointer[memState]
	executor *Executor
	single   *SingleVersion
}

func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.Logger == nil {
		cfg.Logger = logger.Noop()
	}
	m := &Memory{}
	m.state.Store(&memState{
		multi: btree.NewBTreeG(lessChain[memItem]),
		cdc:   btree.NewBTreeG(lessCdcRow[cdcItem]),
	})
	m.single, _ = NewSingleVersion(nil)
	m.executor = NewExecutor(cfg.QueueSize, m.apply, cfg.Logger.WithBackend(string(KindMemory)))
	return m
}

func (m *Memory) Kind() Kind { return KindMemory }

func (m *Memory) Single() *SingleVersion { return m.single }

// Close drains the writer queue and joins the writer goroutine.
func (m *Memory) Close() error {
	m.executor.Stop()
	return nil
}

func (m *Memory) Get(key []byte, version core.CommitVersion) (core.Entry, bool, error) {
	it, ok := m.state.Load().chains().visible(key, version)
	if !ok {
		return core.Entry{}, false, nil
	}
	return it.entry(), true, nil
}

func (m *Memory) ScanBatch(r codec.KeyRange, version core.CommitVersion, reverse bool, limit int) ([]core.Entry, bool, error) {
	items, more := m.state.Load().chains().scan(r, version, reverse, limit)
	out := make([]core.Entry, len(items))
	for i, it := range items {
		out[i] = it.entry()
	}
	return out, more, nil
}

func (m *Memory) Commit(ctx context.Context, version core.CommitVersion, deltas []core.Delta, timestamp uint64) error {
	_, err := m.executor.submit(ctx, ExecutorRequest{
		kind:      commitRequest,
		version:   version,
		deltas:    deltas,
		timestamp: timestamp,
	})
	return err
}

func (m *Memory) Compact(ctx context.Context, below core.CommitVersion) (int, error) {
	return m.executor.submit(ctx, ExecutorRequest{kind: compactRequest, version: below})
}

func (m *Memory) CdcDropBefore(ctx context.Context, version core.CommitVersion) (int, error) {
	return m.executor.submit(ctx, ExecutorRequest{kind: dropCdcRequest, version: version})
}

func (m *Memory) LastVersion() (core.CommitVersion, error) {
	return m.state.Load().last, nil
}

// apply runs on the executor goroutine only.
func (m *Memory) apply(req ExecutorRequest) (int, error) {
	next := m.state.Load().copy()

	var affected int
	var err error
	switch req.kind {
	case commitRequest:
		affected, err = applyCommit(next, req)
	case compactRequest:
		affected = next.chains().compact(req.version)
	case dropCdcRequest:
		affected = next.records().dropBefore(req.version)
	}
	if err != nil {
		return 0, err
	}

	m.state.Store(next)
	return affected, nil
}

func applyCommit(next *memState, req ExecutorRequest) (int, error) {
	chains := next.chains()
	record, err := cdc.Build(req.version, req.timestamp, req.deltas, func(key []byte) ([]byte, bool, error) {
		it, ok := chains.liveBefore(key, req.version)
		return it.value, ok, nil
	})
	if err != nil {
		return 0, err
	}

	for _, delta := range req.deltas {
		item := memItem{key: bytes.Clone(delta.Key), version: req.version}
		if !delta.IsRemove() {
			item.value = nonNil(bytes.Clone(delta.Value))
		}
		next.multi.Set(item)
	}
	for _, change := range record.Changes {
		next.cdc.Set(cdcItem{
			version:   record.Version,
			sequence:  change.Sequence,
			timestamp: record.Timestamp,
			change:    change.Change,
		})
	}
	if req.version > next.last {
		next.last = req.version
	}
	return len(req.deltas), nil
}

func (m *Memory) CdcGet(version core.CommitVersion) (cdc.Cdc, bool, error) {
	records, _, _ := m.CdcScanBatch(cdc.VersionRange{Start: cdc.Included(version), End: cdc.Included(version)}, 1)
	if len(records) == 0 {
		return cdc.Cdc{}, false, nil
	}
	return records[0], true, nil
}

func (m *Memory) CdcScanBatch(r cdc.VersionRange, limit int) ([]cdc.Cdc, bool, error) {
	groups, more := m.state.Load().records().groups(r, limit)
	out := make([]cdc.Cdc, 0, len(groups))
	for _, rows := range groups {
		record := cdc.Cdc{Version: rows[0].version, Timestamp: rows[0].timestamp}
		for _, row := range rows {
			record.Changes = append(record.Changes, cdc.SequencedChange{Sequence: row.sequence, Change: row.change})
		}
		out = append(out, record)
	}
	return out, more, nil
}

func (m *Memory) CdcCount(version core.CommitVersion) (int, error) {
	return m.state.Load().records().count(version), nil
}
