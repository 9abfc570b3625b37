package core

type DeltaKind uint8

const (
	DeltaInsert DeltaKind = iota + 1
	DeltaUpdate
	DeltaUpsert
	DeltaRemove
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaInsert:
		return "insert"
	case DeltaUpdate:
		return "update"
	case DeltaUpsert:
		return "upsert"
	case DeltaRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Delta is a mutation carried by a command transaction until commit.
type Delta struct {
	Kind  DeltaKind
	Key   []byte
	Value []byte
}

func Insert(key, value []byte) Delta { return Delta{Kind: DeltaInsert, Key: key, Value: value} }
func Update(key, value []byte) Delta { return Delta{Kind: DeltaUpdate, Key: key, Value: value} }
func Upsert(key, value []byte) Delta { return Delta{Kind: DeltaUpsert, Key: key, Value: value} }
func Remove(key []byte) Delta        { return Delta{Kind: DeltaRemove, Key: key} }

// IsRemove reports whether the delta produces a tombstone.
func (d Delta) IsRemove() bool {
	return d.Kind == DeltaRemove
}

// Size is the number of bytes the delta adds to a transaction.
func (d Delta) Size() int {
	return len(d.Key) + len(d.Value)
}
