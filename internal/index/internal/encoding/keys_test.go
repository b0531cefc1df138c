package encoding

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeInt64_Order(t *testing.T) {
	values := []int64{math.MinInt64, -1000, -1, 0, 1, 42, 1000, math.MaxInt64}
	for i := 1; i < len(values); i++ {
		assert.Less(t, EncodeInt64(values[i-1]), EncodeInt64(values[i]), "%d < %d", values[i-1], values[i])
	}
	for _, v := range values {
		assert.Equal(t, v, DecodeInt64(EncodeInt64(v)))
	}
}

func TestEncodeFloat64_Order(t *testing.T) {
	values := []float64{math.Inf(-1), -1e10, -1.5, -math.SmallestNonzeroFloat64, 0, 0.25, 1.5, 1e10, math.Inf(1)}
	for i := 1; i < len(values); i++ {
		assert.Less(t, EncodeFloat64(values[i-1]), EncodeFloat64(values[i]), "%g < %g", values[i-1], values[i])
	}
	for _, v := range values {
		assert.Equal(t, v, DecodeFloat64(EncodeFloat64(v)))
	}
}

func TestEncodeFloat64_NegativeZero(t *testing.T) {
	negZero := math.Copysign(0, -1)
	assert.Equal(t, EncodeFloat64(0), EncodeFloat64(negZero))
	assert.Less(t, EncodeFloat64(-math.SmallestNonzeroFloat64), EncodeFloat64(negZero))
	assert.Less(t, EncodeFloat64(math.Inf(-1)), EncodeFloat64(negZero))
	assert.Less(t, EncodeFloat64(negZero), EncodeFloat64(math.SmallestNonzeroFloat64))
}

func TestTermKey_PrefixIsolation(t *testing.T) {
	// The posting of "ab" must not fall under the prefix of "a".
	a := TermPrefix("name", "a")
	ab := TermKey("name", "ab", "doc1")
	assert.False(t, bytes.HasPrefix(ab, a))

	own := TermKey("name", "a", "doc1")
	assert.True(t, bytes.HasPrefix(own, a))
	assert.Equal(t, "doc1", string(own[len(a):]))
}

func TestTermKey_FieldEscaping(t *testing.T) {
	// A slash in a field name cannot leak into another field's range.
	k := TermKey("a/b", "x", "id")
	assert.False(t, bytes.HasPrefix(k, []byte("trm/a/")))
	assert.True(t, bytes.HasPrefix(k, []byte("trm/a%2Fb/")))
}

func TestRawKey(t *testing.T) {
	key := RawKey("name", "john\x00doe", "d1")
	assert.True(t, bytes.HasPrefix(key, RawPrefix("name", "john")))
	assert.True(t, bytes.HasPrefix(key, RawPrefix("name", "john\x00")))
	assert.False(t, bytes.HasPrefix(key, RawPrefix("name", "johnny")))

	id, err := RawIDFromKey("name", key)
	require.NoError(t, err)
	assert.Equal(t, "d1", id)

	_, err = RawIDFromKey("name", []byte("raw/"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestRawKey_SortOrder(t *testing.T) {
	values := []string{"b", "ab", "a", "a\x00", "abc"}
	keys := make([][]byte, len(values))
	for i, v := range values {
		keys[i] = RawKey("f", v, "x")
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	var got []string
	for _, k := range keys {
		v, _, err := SplitTerminated(k[len("raw/f/"):])
		require.NoError(t, err)
		got = append(got, v)
	}
	if diff := cmp.Diff([]string{"a", "a\x00", "ab", "abc", "b"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitTerminated_Invalid(t *testing.T) {
	for _, b := range [][]byte{{'a'}, {'a', 0x00}, {0x00, 0x02}} {
		_, _, err := SplitTerminated(b)
		assert.ErrorIs(t, err, ErrInvalidKey, "%q", b)
	}
}

func TestNumKeys(t *testing.T) {
	lo := IntKey("age", -5, "a")
	hi := IntKey("age", 7, "a")
	assert.Less(t, bytes.Compare(lo, hi), 0)

	p := NumPrefix("age", KindInt)
	u, id, err := SplitNum(hi[len(p):])
	require.NoError(t, err)
	assert.Equal(t, int64(7), DecodeInt64(u))
	assert.Equal(t, "a", id)

	f := FloatKey("age", 7, "a")
	assert.False(t, bytes.HasPrefix(f, p))

	_, _, err = SplitNum([]byte{1, 2})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("doc0"), PrefixUpperBound([]byte("doc/")))
	assert.Equal(t, []byte{0x01}, PrefixUpperBound([]byte{0x00, 0xff}))
	assert.Nil(t, PrefixUpperBound([]byte{0xff, 0xff}))
}

func TestKeyList(t *testing.T) {
	var buf []byte
	buf = AppendKeyList(buf, []byte("trm/name/john\x00\x00a"))
	buf = AppendKeyList(buf, []byte("num/age/i12345678a"))

	keys, err := DecodeKeyList(buf)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "num/age/i12345678a", string(keys[1]))

	_, err = DecodeKeyList([]byte{0x05, 'a'})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestDocKeys(t *testing.T) {
	assert.Equal(t, "a1", DocIDFromKey(DocKey("a1")))
	assert.Equal(t, "fld/a1", string(FieldsKey("a1")))
	assert.Equal(t, "meta/lastrev", string(LastRevisionKey()))
}
