package core

// Entry is one element of a version chain. A nil Value is a tombstone.
type Entry struct {
	Key     []byte
	Version CommitVersion
	Value   []byte
}

func (e Entry) IsTombstone() bool {
	return e.Value == nil
}

// Pair is a generic key/value holder.
type Pair[K any, V any] struct {
	Key K
	Val V
}
