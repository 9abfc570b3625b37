package codec

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedIntegersKeepTheirOrder(t *testing.T) {
	values := []int64{math.MinInt64, -1000, -1, 0, 1, 42, math.MaxInt64}
	var encoded [][]byte
	for _, v := range values {
		encoded = append(encoded, AppendI64(nil, v))
	}
	assert.True(t, sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	}))
}

func TestFloatsKeepTheirOrder(t *testing.T) {
	values := []float64{math.Inf(-1), -12.5, -0.25, 0, 0.25, 3.75, math.Inf(1)}
	for i := 1; i < len(values); i++ {
		assert.Negative(t, bytes.Compare(AppendF64(nil, values[i-1]), AppendF64(nil, values[i])))
	}
}

func TestBytesPrefixSortsFirst(t *testing.T) {
	a := AppendBytes(nil, []byte("ab"))
	b := AppendBytes(nil, []byte("ab\x00"))
	c := AppendBytes(nil, []byte("abc"))
	assert.Negative(t, bytes.Compare(a, b))
	assert.Negative(t, bytes.Compare(b, c))
}

func TestDescendingComponentReversesOrder(t *testing.T) {
	k1 := NewKeyBuilder().U8(1).Desc().U64(10).Build()
	k2 := NewKeyBuilder().U8(1).Desc().U64(20).Build()
	assert.Negative(t, bytes.Compare(k2, k1))

	s1 := NewKeyBuilder().Desc().String("apple").Build()
	s2 := NewKeyBuilder().Desc().String("banana").Build()
	assert.Negative(t, bytes.Compare(s2, s1))
	// descending bytes escape 0xff as 0xff 0x00 and end with 0xff 0xff
	assert.Equal(t, []byte{0xff, 0x00, 0xfe, 0xff, 0xff}, []byte(NewKeyBuilder().Desc().Bytes([]byte{0x00, 0x01}).Build()))
}

func TestKeyReaderRoundTripsComposite(t *testing.T) {
	key := NewKeyBuilder().
		U8(7).
		String("user\x00name").
		Desc().I64(-42).
		F64(1.5).
		Desc().Bytes([]byte{0x00, 0xff, 0x10}).
		Bool(true).
		Build()

	r := NewKeyReader(key)
	assert.Equal(t, uint8(7), r.U8())
	assert.Equal(t, "user\x00name", r.String())
	assert.Equal(t, int64(-42), r.Desc().I64())
	assert.Equal(t, 1.5, r.F64())
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, r.Desc().Bytes())
	assert.True(t, r.Bool())
	require.NoError(t, r.Err())
	assert.Empty(t, r.Remaining())
}

func TestKeyReaderReportsTruncation(t *testing.T) {
	r := NewKeyReader([]byte{0x01, 0x02})
	_ = r.U64()
	assert.ErrorIs(t, r.Err(), MalformedKeyErr)

	r = NewKeyReader([]byte("abc"))
	_ = r.Bytes()
	assert.ErrorIs(t, r.Err(), MalformedKeyErr)
}
