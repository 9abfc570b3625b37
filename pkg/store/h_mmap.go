package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/tidwall/btree"

	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/codec"
	"tiny_mvcc/pkg/core"
	"tiny_mvcc/pkg/logger"
)

var MmapClosedErr = errors.New("mmap segment is closed")

type MmapConfig struct {
	Path        string
	InitialSize int64
	// SyncWrites msyncs the mapping after every frame.
	SyncWrites  bool
	Compression cdc.Compression
	Logger      *logger.Logger
}

func DefaultMmapConfig(path string) MmapConfig {
	return MmapConfig{
		Path:        path,
		InitialSize: defaultSegmentSize,
		SyncWrites:  true,
		Compression: cdc.CompressionLZ4,
	}
}

// mmapValue points at a value inside the mapped segment.
type mmapValue struct {
	key       []byte
	version   core.CommitVersion
	off       int64
	n         int
	tombstone bool
}

func (v mmapValue) chainKey() []byte                 { return v.key }
func (v mmapValue) chainVersion() core.CommitVersion { return v.version }
func (v mmapValue) isTombstone() bool                { return v.tombstone }

func mmapPivot(key []byte, version core.CommitVersion) mmapValue {
	return mmapValue{key: key, version: version}
}

type mmapCdc struct {
	version   core.CommitVersion
	sequence  uint16
	timestamp uint64
	off       int64
	n         int
}

func (c mmapCdc) rowVersion() core.CommitVersion { return c.version }
func (c mmapCdc) rowSequence() uint16            { return c.sequence }

func mmapCdcPivot(version core.CommitVersion) mmapCdc {
	return mmapCdc{version: version}
}

// Mmap is an append-only segment file mapped into memory. Every commit is one
// checksummed frame; the indexes are rebuilt by replaying frames on open.
type Mmap struct {
	cfg    MmapConfig
	mu     sync.RWMutex
	file   *os.File
	data   []byte
	tail   int64
	closed bool

	values  chainTree[mmapValue]
	changes cdcTree[mmapCdc]
	last    core.CommitVersion

	recovering bool
	recovered  map[string][]byte

	codec  *cdc.Codec
	single *SingleVersion
	logger *logger.Logger
}

func OpenMmap(ctx context.Context, cfg MmapConfig) (*Mmap, error) {
	if cfg.InitialSize < segmentHeaderSize+frameHeaderSize {
		cfg.InitialSize = defaultSegmentSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Noop()
	}
	c, err := cdc.NewCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, core.NewIoError(string(KindMmap), "open", err)
	}
	m := &Mmap{
		cfg:       cfg,
		file:      file,
		values:    chainTree[mmapValue]{tr: btree.NewBTreeG(lessChain[mmapValue]), pivot: mmapPivot},
		changes:   cdcTree[mmapCdc]{tr: btree.NewBTreeG(lessCdcRow[mmapCdc]), pivot: mmapCdcPivot},
		recovered: map[string][]byte{},
		codec:     c,
		logger:    cfg.Logger.WithBackend(string(KindMmap)),
	}
	if err := m.open(ctx); err != nil {
		if m.data != nil {
			_ = unmapFile(m.data)
		}
		_ = file.Close()
		return nil, err
	}
	if m.single, err = NewSingleVersion(m); err != nil {
		_ = m.Close()
		return nil, err
	}
	m.recovered = nil
	return m, nil
}

func (m *Mmap) open(ctx context.Context) error {
	info, err := m.file.Stat()
	if err != nil {
		return core.NewIoError(string(KindMmap), "stat", err)
	}

	size := info.Size()
	fresh := size == 0
	if fresh {
		size = alignToPage(m.cfg.InitialSize)
		if err := m.file.Truncate(size); err != nil {
			return core.NewIoError(string(KindMmap), "truncate", err)
		}
	}
	if m.data, err = mapFile(m.file, int(size)); err != nil {
		return core.NewIoError(string(KindMmap), "mmap", err)
	}
	if fresh {
		copy(m.data, encodeSegmentHeader())
		m.tail = segmentHeaderSize
		return nil
	}

	frames, err := m.replay()
	m.logger.LogRecovery(ctx, m.cfg.Path, frames, uint64(m.last), err)
	return err
}

func (m *Mmap) replay() (int, error) {
	if err := checkSegmentHeader(m.data); err != nil {
		return 0, err
	}
	m.recovering = true
	defer func() { m.recovering = false }()

	frames := 0
	off := int64(segmentHeaderSize)
	for {
		payload, ok := readFrame(m.data, off)
		if !ok {
			break
		}
		if err := m.applyFrame(off+frameHeaderSize, payload); err != nil {
			return frames, fmt.Errorf("frame at %d: %w: %v", off, core.CorruptedSegmentErr, err)
		}
		off += frameHeaderSize + int64(len(payload))
		frames++
	}
	m.tail = off
	// anything past the last valid frame is a torn write
	clear(m.data[off:])
	return frames, nil
}

// applyFrame indexes the records of a frame whose payload starts at base.
func (m *Mmap) applyFrame(base int64, payload []byte) error {
	r := &frameReader{payload: payload, base: base}
	for !r.done() {
		switch recordKind(r.u8()) {
		case recMulti:
			versioned := r.bytes()
			tombstone := r.u8() == 1
			off, n := r.span()
			if r.err != nil {
				break
			}
			key, version, err := codec.DecodeVersionedKey(versioned)
			if err != nil {
				return err
			}
			m.values.tr.Set(mmapValue{key: key, version: version, off: off, n: n, tombstone: tombstone})
			if version > m.last {
				m.last = version
			}
		case recCdc:
			version := core.CommitVersion(r.u64())
			seq := r.u16()
			ts := r.u64()
			off, n := r.span()
			if r.err != nil {
				break
			}
			m.changes.tr.Set(mmapCdc{version: version, sequence: seq, timestamp: ts, off: off, n: n})
		case recSingleSet:
			key := r.bytes()
			value := r.bytes()
			if m.recovering && r.err == nil {
				m.recovered[string(key)] = value
			}
		case recSingleRemove:
			key := r.bytes()
			if m.recovering && r.err == nil {
				delete(m.recovered, string(key))
			}
		case recCompact:
			m.values.compact(core.CommitVersion(r.u64()))
		case recCdcDrop:
			m.changes.dropBefore(core.CommitVersion(r.u64()))
		default:
			return fmt.Errorf("unknown record kind at %d", base+int64(r.pos)-1)
		}
	}
	return r.err
}

// appendFrame writes the payload at the tail and indexes it. Callers hold mu.
func (m *Mmap) appendFrame(payload []byte) error {
	if m.closed {
		return MmapClosedErr
	}
	frame, err := encodeFrame(payload)
	if err != nil {
		return err
	}
	if err := m.ensureCapacity(int64(len(frame))); err != nil {
		return err
	}
	start := m.tail
	copy(m.data[start:], frame)
	if m.cfg.SyncWrites {
		if err := syncMapping(m.data); err != nil {
			clear(m.data[start : start+int64(len(frame))])
			return core.NewIoError(string(KindMmap), "msync", err)
		}
	}
	m.tail += int64(len(frame))
	return m.applyFrame(start+frameHeaderSize, payload)
}

func (m *Mmap) ensureCapacity(need int64) error {
	if m.tail+need <= int64(len(m.data)) {
		return nil
	}
	size := int64(len(m.data)) * 2
	for size < m.tail+need {
		size *= 2
	}
	size = alignToPage(size)

	if err := unmapFile(m.data); err != nil {
		return core.NewIoError(string(KindMmap), "munmap", err)
	}
	m.data = nil
	if err := m.file.Truncate(size); err != nil {
		m.closed = true
		return core.NewIoError(string(KindMmap), "truncate", err)
	}
	data, err := mapFile(m.file, int(size))
	if err != nil {
		m.closed = true
		return core.NewIoError(string(KindMmap), "mmap", err)
	}
	m.data = data
	return nil
}

func alignToPage(size int64) int64 {
	page := int64(os.Getpagesize())
	return (size + page - 1) / page * page
}

func (m *Mmap) Kind() Kind { return KindMmap }

func (m *Mmap) Single() *SingleVersion { return m.single }

func (m *Mmap) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	if m.data != nil {
		errs = append(errs, syncMapping(m.data), unmapFile(m.data))
		m.data = nil
	}
	errs = append(errs, m.file.Close())
	return core.NewIoError(string(KindMmap), "close", errors.Join(errs...))
}

func (m *Mmap) read(off int64, n int) []byte {
	return bytes.Clone(m.data[off : off+int64(n)])
}

func (m *Mmap) entry(v mmapValue) core.Entry {
	e := core.Entry{Key: bytes.Clone(v.key), Version: v.version}
	if !v.tombstone {
		e.Value = nonNil(m.read(v.off, v.n))
	}
	return e
}

func (m *Mmap) Get(key []byte, version core.CommitVersion) (core.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return core.Entry{}, false, MmapClosedErr
	}
	v, ok := m.values.visible(key, version)
	if !ok {
		return core.Entry{}, false, nil
	}
	return m.entry(v), true, nil
}

func (m *Mmap) ScanBatch(r codec.KeyRange, version core.CommitVersion, reverse bool, limit int) ([]core.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, MmapClosedErr
	}
	items, more := m.values.scan(r, version, reverse, limit)
	out := make([]core.Entry, len(items))
	for i, v := range items {
		out[i] = m.entry(v)
	}
	return out, more, nil
}

func (m *Mmap) Commit(ctx context.Context, version core.CommitVersion, deltas []core.Delta, timestamp uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return MmapClosedErr
	}

	record, err := cdc.Build(version, timestamp, deltas, func(key []byte) ([]byte, bool, error) {
		v, ok := m.values.liveBefore(key, version)
		if !ok {
			return nil, false, nil
		}
		return m.read(v.off, v.n), true, nil
	})
	if err != nil {
		return err
	}

	var frame frameBuilder
	for _, delta := range deltas {
		if delta.IsRemove() {
			frame.multi(delta.Key, version, nil)
		} else {
			frame.multi(delta.Key, version, nonNil(delta.Value))
		}
	}
	for _, change := range record.Changes {
		payload, err := m.codec.EncodeChange(change.Change)
		if err != nil {
			return err
		}
		frame.cdc(version, change.Sequence, timestamp, payload)
	}
	return m.appendFrame(frame.buf)
}

func (m *Mmap) Compact(ctx context.Context, below core.CommitVersion) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// count first: replaying the marker below performs the removal
	removed := m.values.clone().compact(below)
	var frame frameBuilder
	frame.marker(recCompact, below)
	if err := m.appendFrame(frame.buf); err != nil {
		return 0, err
	}
	return removed, nil
}

func (m *Mmap) CdcDropBefore(ctx context.Context, version core.CommitVersion) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.changes.clone().dropBefore(version)
	var frame frameBuilder
	frame.marker(recCdcDrop, version)
	if err := m.appendFrame(frame.buf); err != nil {
		return 0, err
	}
	return removed, nil
}

func (m *Mmap) LastVersion() (core.CommitVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, nil
}

func (m *Mmap) CdcGet(version core.CommitVersion) (cdc.Cdc, bool, error) {
	records, _, err := m.CdcScanBatch(cdc.VersionRange{Start: cdc.Included(version), End: cdc.Included(version)}, 1)
	if err != nil || len(records) == 0 {
		return cdc.Cdc{}, false, err
	}
	return records[0], true, nil
}

func (m *Mmap) CdcScanBatch(r cdc.VersionRange, limit int) ([]cdc.Cdc, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, MmapClosedErr
	}

	groups, more := m.changes.groups(r, limit)
	out := make([]cdc.Cdc, 0, len(groups))
	for _, rows := range groups {
		record := cdc.Cdc{Version: rows[0].version, Timestamp: rows[0].timestamp}
		for _, row := range rows {
			change, err := m.codec.DecodeChange(m.read(row.off, row.n))
			if err != nil {
				return nil, false, core.NewIoError(string(KindMmap), "cdc decode", err)
			}
			record.Changes = append(record.Changes, cdc.SequencedChange{Sequence: row.sequence, Change: change})
		}
		out = append(out, record)
	}
	return out, more, nil
}

func (m *Mmap) CdcCount(version core.CommitVersion) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changes.count(version), nil
}

func (m *Mmap) LoadSingle() ([]core.Pair[[]byte, []byte], error) {
	out := make([]core.Pair[[]byte, []byte], 0, len(m.recovered))
	for key, value := range m.recovered {
		out = append(out, core.Pair[[]byte, []byte]{Key: []byte(key), Val: value})
	}
	return out, nil
}

func (m *Mmap) PersistSingle(key, value []byte, remove bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var frame frameBuilder
	if remove {
		frame.singleRemove(key)
	} else {
		frame.singleSet(key, value)
	}
	return m.appendFrame(frame.buf)
}
