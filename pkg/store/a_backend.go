package store

import (
	"context"

	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/codec"
	"tiny_mvcc/pkg/core"
)

// DefaultBatchSize is the number of entries fetched per internal range request.
const DefaultBatchSize = 1024

type Kind string

const (
	KindMemory Kind = "memory"
	KindSqlite Kind = "sqlite"
	KindMmap   Kind = "mmap"
)

// MultiVersion stores version chains.
type MultiVersion interface {
	// Get returns the newest entry of key at or below version; the entry may be a tombstone.
	Get(key []byte, version core.CommitVersion) (core.Entry, bool, error)

	// ScanBatch returns up to limit entries of r, one per key, each the newest at
	// or below version (tombstones included), in key order or reverse key order.
	// more reports whether r holds further keys after the batch.
	ScanBatch(r codec.KeyRange, version core.CommitVersion, reverse bool, limit int) (entries []core.Entry, more bool, err error)

	// Commit applies deltas at version and appends their Cdc record, all or nothing.
	Commit(ctx context.Context, version core.CommitVersion, deltas []core.Delta, timestamp uint64) error

	// Compact removes entries strictly below the given version that no read at
	// or above it can observe, and returns how many were removed.
	Compact(ctx context.Context, below core.CommitVersion) (int, error)

	// LastVersion is the highest version ever committed, 0 for an empty store.
	LastVersion() (core.CommitVersion, error)
}

// CdcStorage stores Cdc records keyed by (version, sequence).
type CdcStorage interface {
	CdcGet(version core.CommitVersion) (cdc.Cdc, bool, error)

	// CdcScanBatch returns up to limit records of r in version order.
	CdcScanBatch(r cdc.VersionRange, limit int) (records []cdc.Cdc, more bool, err error)

	// CdcCount is the number of changes recorded at version.
	CdcCount(version core.CommitVersion) (int, error)

	// CdcDropBefore removes every record strictly below version.
	CdcDropBefore(ctx context.Context, version core.CommitVersion) (int, error)
}

// Backend is one storage engine. A database uses exactly one for its lifetime.
type Backend interface {
	MultiVersion
	CdcStorage
	Kind() Kind
	Single() *SingleVersion
	Close() error
}
