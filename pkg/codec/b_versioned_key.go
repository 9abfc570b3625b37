package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"tiny_mvcc/pkg/core"
)

// EncodedKey is an order-preserving key produced by KeyBuilder or any other
// byte-comparable encoding.
type EncodedKey []byte

func (k EncodedKey) String() string {
	return hex.EncodeToString(k)
}

func (k EncodedKey) Compare(other EncodedKey) int {
	return bytes.Compare(k, other)
}

const VersionSuffixLen = 8

// EncodeVersionedKey appends the inverted big-endian version to the base key.
// Within one base key the newest version sorts first.
func EncodeVersionedKey(key []byte, version core.CommitVersion) []byte {
	out := make([]byte, 0, len(key)+VersionSuffixLen)
	out = append(out, key...)
	return AppendVersionSuffix(out, version)
}

func AppendVersionSuffix(dst []byte, version core.CommitVersion) []byte {
	return binary.BigEndian.AppendUint64(dst, ^uint64(version))
}

func DecodeVersionSuffix(suffix []byte) core.CommitVersion {
	return core.CommitVersion(^binary.BigEndian.Uint64(suffix))
}

func DecodeVersionedKey(versioned []byte) ([]byte, core.CommitVersion, error) {
	if len(versioned) < VersionSuffixLen {
		return nil, 0, MalformedKeyErr
	}
	n := len(versioned) - VersionSuffixLen
	return versioned[:n], DecodeVersionSuffix(versioned[n:]), nil
}

// VersionedKey is the decoded form used by in-memory indexes.
type VersionedKey struct {
	Key     []byte
	Version core.CommitVersion
}

func NewVersionedKey(key []byte, version core.CommitVersion) VersionedKey {
	return VersionedKey{Key: key, Version: version}
}

// Compare orders by key ascending, then version descending.
func (vk VersionedKey) Compare(other VersionedKey) int {
	if c := bytes.Compare(vk.Key, other.Key); c != 0 {
		return c
	}
	switch {
	case vk.Version > other.Version:
		return -1
	case vk.Version < other.Version:
		return 1
	}
	return 0
}

func (vk VersionedKey) Encode() []byte {
	return EncodeVersionedKey(vk.Key, vk.Version)
}

func CompareVersionedKeys(a, b []byte) int {
	ka, va, errA := DecodeVersionedKey(a)
	kb, vb, errB := DecodeVersionedKey(b)
	if errA != nil || errB != nil {
		return bytes.Compare(a, b)
	}
	return VersionedKey{ka, va}.Compare(VersionedKey{kb, vb})
}
