package cdc

import (
	"fmt"
	"math"

	"tiny_mvcc/pkg/core"
)

// MaxChanges is the most changes one record can sequence.
const MaxChanges = math.MaxUint16

// PreImageFunc returns the value visible right before the commit being built.
type PreImageFunc func(key []byte) (value []byte, found bool, err error)

// Build turns the deltas of one commit into its Cdc record. Sequences start at 1
// and follow the delta order.
func Build(version core.CommitVersion, timestamp uint64, deltas []core.Delta, pre PreImageFunc) (Cdc, error) {
	if len(deltas) > MaxChanges {
		return Cdc{}, fmt.Errorf("%w: %d changes at version %d", core.TxnTooLargeErr, len(deltas), version)
	}
	record := Cdc{
		Version:   version,
		Timestamp: timestamp,
		Changes:   make([]SequencedChange, 0, len(deltas)),
	}

	for i, delta := range deltas {
		previous, found, err := pre(delta.Key)
		if err != nil {
			return Cdc{}, err
		}

		change := Change{Key: delta.Key}
		switch {
		case delta.IsRemove():
			change.Kind = ChangeDelete
			if found {
				change.Pre = previous
			}
		case found:
			change.Kind = ChangeUpdate
			change.Pre = previous
			change.Post = delta.Value
		default:
			change.Kind = ChangeInsert
			change.Post = delta.Value
		}

		record.Changes = append(record.Changes, SequencedChange{
			Sequence: uint16(i + 1),
			Change:   change,
		})
	}
	return record, nil
}
