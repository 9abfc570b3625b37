package cdc

import (
	"tiny_mvcc/pkg/codec"
	"tiny_mvcc/pkg/core"
)

type ChangeKind uint8

const (
	ChangeInsert ChangeKind = iota + 1
	ChangeUpdate
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	}
	return "unknown"
}

// Change is one logical key change. Insert carries Post, Update carries Pre
// and Post, Delete carries Pre (nil when nothing was live).
type Change struct {
	Kind ChangeKind
	Key  []byte
	Pre  []byte
	Post []byte
}

type SequencedChange struct {
	Sequence uint16
	Change   Change
}

// Cdc is the change record of one committed transaction.
type Cdc struct {
	Version core.CommitVersion
	// Timestamp is the commit wall-clock time in unix milliseconds.
	Timestamp uint64
	Changes   []SequencedChange
}

// Bound limits a version range. Kind reuses the key range bound kinds.
type Bound struct {
	Kind    codec.BoundKind
	Version core.CommitVersion
}

func Included(v core.CommitVersion) Bound { return Bound{Kind: codec.Included, Version: v} }
func Excluded(v core.CommitVersion) Bound { return Bound{Kind: codec.Excluded, Version: v} }
func Unbounded() Bound                    { return Bound{Kind: codec.Unbounded} }

// VersionRange selects Cdc records by commit version.
type VersionRange struct {
	Start Bound
	End   Bound
}

// Lo and Hi return the inclusive version interval covered by the range.
func (r VersionRange) Lo() core.CommitVersion {
	switch r.Start.Kind {
	case codec.Included:
		return r.Start.Version
	case codec.Excluded:
		if r.Start.Version == core.MaxVersion {
			return core.MaxVersion
		}
		return r.Start.Version + 1
	}
	return core.ZeroVersion
}

func (r VersionRange) Hi() core.CommitVersion {
	switch r.End.Kind {
	case codec.Included:
		return r.End.Version
	case codec.Excluded:
		if r.End.Version == 0 {
			return 0
		}
		return r.End.Version - 1
	}
	return core.MaxVersion
}

func (r VersionRange) IsEmpty() bool {
	if r.End.Kind == codec.Excluded && r.End.Version == 0 {
		return true
	}
	if r.Start.Kind == codec.Excluded && r.Start.Version == core.MaxVersion {
		return true
	}
	return r.Lo() > r.Hi()
}

func (r VersionRange) Contains(v core.CommitVersion) bool {
	return !r.IsEmpty() && v >= r.Lo() && v <= r.Hi()
}
