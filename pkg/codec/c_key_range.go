package codec

import "bytes"

type BoundKind uint8

const (
	Unbounded BoundKind = iota
	Included
	Excluded
)

type Bound struct {
	Kind BoundKind
	Key  []byte
}

func IncludedBound(key []byte) Bound { return Bound{Kind: Included, Key: key} }
func ExcludedBound(key []byte) Bound { return Bound{Kind: Excluded, Key: key} }
func UnboundedBound() Bound          { return Bound{Kind: Unbounded} }

type KeyRange struct {
	Start Bound
	End   Bound
}

func NewKeyRange(start, end Bound) KeyRange {
	return KeyRange{Start: start, End: end}
}

// All covers every key.
func All() KeyRange {
	return KeyRange{Start: UnboundedBound(), End: UnboundedBound()}
}

// Prefix covers every key starting with prefix.
func Prefix(prefix []byte) KeyRange {
	start := IncludedBound(append([]byte(nil), prefix...))
	if end, ok := prefixEnd(prefix); ok {
		return KeyRange{Start: start, End: ExcludedBound(end)}
	}
	return KeyRange{Start: start, End: UnboundedBound()}
}

// prefixEnd returns the smallest key greater than every key with the prefix.
func prefixEnd(prefix []byte) ([]byte, bool) {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1], true
		}
	}
	return nil, false
}

func (r KeyRange) AfterStart(key []byte) bool {
	switch r.Start.Kind {
	case Included:
		return bytes.Compare(key, r.Start.Key) >= 0
	case Excluded:
		return bytes.Compare(key, r.Start.Key) > 0
	}
	return true
}

func (r KeyRange) BeforeEnd(key []byte) bool {
	switch r.End.Kind {
	case Included:
		return bytes.Compare(key, r.End.Key) <= 0
	case Excluded:
		return bytes.Compare(key, r.End.Key) < 0
	}
	return true
}

func (r KeyRange) Contains(key []byte) bool {
	return r.AfterStart(key) && r.BeforeEnd(key)
}

// IsEmpty reports ranges that can never contain a key.
func (r KeyRange) IsEmpty() bool {
	if r.Start.Kind == Unbounded || r.End.Kind == Unbounded {
		return false
	}
	c := bytes.Compare(r.Start.Key, r.End.Key)
	if c > 0 {
		return true
	}
	return c == 0 && (r.Start.Kind == Excluded || r.End.Kind == Excluded)
}
