package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny_mvcc/pkg/core"
)

func TestNewestVersionSortsFirstWithinAKey(t *testing.T) {
	v2 := EncodeVersionedKey([]byte("a"), 2)
	v3 := EncodeVersionedKey([]byte("a"), 3)
	assert.Negative(t, bytes.Compare(v3, v2))
	assert.Negative(t, CompareVersionedKeys(v3, v2))
}

func TestVersionedKeyLayoutIsBaseKeyThenInvertedVersion(t *testing.T) {
	encoded := EncodeVersionedKey([]byte{0x61}, 1)
	assert.Equal(t, []byte{0x61, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe}, encoded)

	key, version, err := DecodeVersionedKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), key)
	assert.Equal(t, core.CommitVersion(1), version)
}

func TestCompareOrdersKeysBeforeVersions(t *testing.T) {
	a := NewVersionedKey([]byte("a"), 1)
	b := NewVersionedKey([]byte("b"), 100)
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, NewVersionedKey([]byte("a"), 1).Compare(NewVersionedKey([]byte("a"), 5)))
	assert.Equal(t, 0, a.Compare(NewVersionedKey([]byte("a"), 1)))
}

func TestPrefixRange(t *testing.T) {
	r := Prefix([]byte("ab"))
	assert.True(t, r.Contains([]byte("ab")))
	assert.True(t, r.Contains([]byte("abzzz")))
	assert.False(t, r.Contains([]byte("ac")))
	assert.False(t, r.Contains([]byte("aa")))

	open := Prefix([]byte{0xff, 0xff})
	assert.Equal(t, Unbounded, open.End.Kind)
	assert.True(t, open.Contains([]byte{0xff, 0xff, 0x01}))
}

func TestEmptyRanges(t *testing.T) {
	assert.True(t, NewKeyRange(IncludedBound([]byte("b")), IncludedBound([]byte("a"))).IsEmpty())
	assert.True(t, NewKeyRange(ExcludedBound([]byte("a")), IncludedBound([]byte("a"))).IsEmpty())
	assert.False(t, NewKeyRange(IncludedBound([]byte("a")), IncludedBound([]byte("a"))).IsEmpty())
	assert.False(t, All().IsEmpty())
}
