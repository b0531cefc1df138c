// Package encoding builds the pebble keys of the document index.
//
// Key layout:
//
//	doc/{id}                                   -> [blake3:32B][rev:8B][body]
//	fld/{id}                                   -> posting keys owned by the document
//	trm/{field}/{term}\x00\x00{id}             -> analyzed tokens and keywords
//	raw/{field}/{value}\x00\x00{id}            -> whole normalized text, for prefixes
//	num/{field}/{kind:1B}{value:8B}{id}        -> integers and floats
//	meta/lastrev                               -> highest committed revision
//
// Field names are path escaped. Terms and values use an escaped null
// terminator so that prefix scans and lexicographic order stay correct:
//   - Escape 0x00 bytes as 0x00 0x01
//   - Terminate with 0x00 0x00
//
// Numbers are stored big-endian with the sign bit flipped (floats with all
// bits flipped when negative) so byte order equals numeric order.
package encoding

import (
	"encoding/binary"
	"errors"
	"math"
	"net/url"
)

const (
	prefixDoc    = "doc/"
	prefixFields = "fld/"
	prefixTerm   = "trm/"
	prefixRaw    = "raw/"
	prefixNum    = "num/"
	prefixMeta   = "meta/"

	keyLastRevision = prefixMeta + "lastrev"
)

// Numeric kinds.
const (
	KindInt   byte = 'i'
	KindFloat byte = 'f'
)

var ErrInvalidKey = errors.New("invalid index key")

// DocPrefix covers every stored document.
func DocPrefix() []byte {
	return []byte(prefixDoc)
}

func DocKey(id string) []byte {
	return append([]byte(prefixDoc), id...)
}

// DocIDFromKey returns the id of a doc/ key.
func DocIDFromKey(key []byte) string {
	return string(key[len(prefixDoc):])
}

func FieldsKey(id string) []byte {
	return append([]byte(prefixFields), id...)
}

func LastRevisionKey() []byte {
	return []byte(keyLastRevision)
}

func fieldPrefix(ns, field string) []byte {
	buf := make([]byte, 0, len(ns)+len(field)+1)
	buf = append(buf, ns...)
	buf = append(buf, url.PathEscape(field)...)
	return append(buf, '/')
}

// TermPrefix covers every posting of term in field.
func TermPrefix(field, term string) []byte {
	return appendTerminated(fieldPrefix(prefixTerm, field), term)
}

// TermKey is the posting of term in field for document id.
func TermKey(field, term, id string) []byte {
	return append(TermPrefix(field, term), id...)
}

// RawPrefix covers every raw value of field starting with prefix.
func RawPrefix(field, prefix string) []byte {
	return appendEscaped(fieldPrefix(prefixRaw, field), prefix)
}

func RawKey(field, value, id string) []byte {
	return append(appendTerminated(fieldPrefix(prefixRaw, field), value), id...)
}

// RawIDFromKey extracts the document id from a raw key of field.
func RawIDFromKey(field string, key []byte) (string, error) {
	p := fieldPrefix(prefixRaw, field)
	if len(key) < len(p) {
		return "", ErrInvalidKey
	}
	_, rest, err := SplitTerminated(key[len(p):])
	if err != nil {
		return "", err
	}
	return string(rest), nil
}

// NumPrefix covers every numeric posting of field with the given kind.
func NumPrefix(field string, kind byte) []byte {
	return append(fieldPrefix(prefixNum, field), kind)
}

func IntKey(field string, v int64, id string) []byte {
	buf := NumPrefix(field, KindInt)
	buf = binary.BigEndian.AppendUint64(buf, EncodeInt64(v))
	return append(buf, id...)
}

func FloatKey(field string, v float64, id string) []byte {
	buf := NumPrefix(field, KindFloat)
	buf = binary.BigEndian.AppendUint64(buf, EncodeFloat64(v))
	return append(buf, id...)
}

// SplitNum splits the remainder of a numeric key after NumPrefix into the
// encoded value and the document id.
func SplitNum(rest []byte) (uint64, string, error) {
	if len(rest) < 8 {
		return 0, "", ErrInvalidKey
	}
	return binary.BigEndian.Uint64(rest[:8]), string(rest[8:]), nil
}

// EncodeInt64 maps v to an unsigned value with the same order.
func EncodeInt64(v int64) uint64 {
	return uint64(v) ^ (1 << 63)
}

func DecodeInt64(u uint64) int64 {
	return int64(u ^ (1 << 63))
}

// EncodeFloat64 encodes a float64 in a sortable format.
// Positive numbers: flip sign bit
// Negative numbers: flip all bits
// This ensures: -Inf < negative < 0 < positive < +Inf, NaN at end
// -0 encodes as 0.
func EncodeFloat64(v float64) uint64 {
	if v == 0 {
		v = 0
	}
	bits := math.Float64bits(v)
	if !math.Signbit(v) {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return bits
}

func DecodeFloat64(u uint64) float64 {
	if u&(1<<63) != 0 {
		return math.Float64frombits(u ^ (1 << 63))
	}
	return math.Float64frombits(^u)
}

func appendEscaped(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			buf = append(buf, 0x00, 0x01)
		} else {
			buf = append(buf, s[i])
		}
	}
	return buf
}

func appendTerminated(buf []byte, s string) []byte {
	return append(appendEscaped(buf, s), 0x00, 0x00)
}

// SplitTerminated decodes an escaped, null terminated string at the start of
// b and returns it together with the bytes following the terminator.
func SplitTerminated(b []byte) (string, []byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != 0x00 {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			return "", nil, ErrInvalidKey
		}
		switch b[i+1] {
		case 0x00:
			return string(out), b[i+2:], nil
		case 0x01:
			out = append(out, 0x00)
			i++
		default:
			return "", nil, ErrInvalidKey
		}
	}
	return "", nil, ErrInvalidKey
}

// PrefixUpperBound returns the smallest key greater than every key starting
// with prefix, or nil when no such key exists.
func PrefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

// AppendKeyList appends key to a length-prefixed key list.
func AppendKeyList(buf []byte, key []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(key)))
	return append(buf, key...)
}

// DecodeKeyList decodes a list built with AppendKeyList.
func DecodeKeyList(buf []byte) ([][]byte, error) {
	var keys [][]byte
	for len(buf) > 0 {
		n, size := binary.Uvarint(buf)
		if size <= 0 || uint64(len(buf)-size) < n {
			return nil, ErrInvalidKey
		}
		buf = buf[size:]
		key := make([]byte, n)
		copy(key, buf[:n])
		keys = append(keys, key)
		buf = buf[n:]
	}
	return keys, nil
}
