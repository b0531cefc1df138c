package model

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"regexp"
	"strings"
)

// Reserved document fields.
const (
	FieldID      = "_id"
	FieldRev     = "_rev"
	FieldIndex   = "_index"
	FieldDeleted = "_deleted"
)

var (
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]{1,64}$`)
)

// CheckID reports whether id is a valid document id.
func CheckID(id string) bool {
	return idRegex.MatchString(id)
}

// CheckBase reports whether name can be used as a base name. Base names are
// also directory names, so the dot entries and names starting with an
// underscore (reserved for endpoints) are refused.
func CheckBase(name string) bool {
	if name == "." || name == ".." || strings.HasPrefix(name, "_") {
		return false
	}
	return idRegex.MatchString(name)
}

// User facing document type ("box"), represents a JSON object.
//
//	"_id" field is reserved for the document id.
//	"_rev" field carries the expected revision on input and the stored one on output.
//	"_index" field lists the fields indexed for search.
//	"_deleted" field marks a delete in a write request.
type Document map[string]any

// Decode reads a single JSON object, keeping numbers as json.Number so
// integers and floats stay distinguishable.
func Decode(r io.Reader) (Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (doc Document) ID() string {
	if id, ok := doc[FieldID].(string); ok {
		return id
	}
	return ""
}

func (doc Document) HasKey(key string) bool {
	_, exists := doc[key]
	return exists
}

// Revision returns the "_rev" field as an integer.
func (doc Document) Revision() (int64, error) {
	v, ok := doc[FieldRev]
	if !ok {
		return 0, &ValidationError{Field: FieldRev, Message: "missing mandatory field"}
	}
	rev, ok := AsInt(v)
	if !ok || rev < 0 {
		return 0, &ValidationError{Field: FieldRev, Message: "must be a non-negative integer"}
	}
	return rev, nil
}

// IndexFields returns the field names listed in "_index".
func (doc Document) IndexFields() ([]string, error) {
	v, ok := doc[FieldIndex]
	if !ok || v == nil {
		return nil, nil
	}

	var fields []string
	switch list := v.(type) {
	case []string:
		fields = list
	case []any:
		fields = make([]string, 0, len(list))
		for _, item := range list {
			name, ok := item.(string)
			if !ok {
				return nil, &ValidationError{Field: FieldIndex, Message: "must be a list of field names"}
			}
			fields = append(fields, name)
		}
	default:
		return nil, &ValidationError{Field: FieldIndex, Message: "must be a list of field names"}
	}

	for _, name := range fields {
		if name == "" || strings.HasPrefix(name, "_") {
			return nil, &ValidationError{Field: FieldIndex, Message: fmt.Sprintf("cannot index field %q", name)}
		}
	}
	return fields, nil
}

func (doc Document) IsDeleted() bool {
	if deleted, ok := doc[FieldDeleted].(bool); ok && deleted {
		return true
	}
	return false
}

// Clone returns a shallow copy of the document.
func (doc Document) Clone() Document {
	if doc == nil {
		return nil
	}
	return maps.Clone(doc)
}

// Kind classifies a document value for indexing and querying.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindMap
	KindList
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// KindOf returns the kind of a decoded JSON value.
func KindOf(v any) Kind {
	switch val := v.(type) {
	case nil:
		return KindNull
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return KindInt
	case float32, float64:
		return KindFloat
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return KindInt
		}
		return KindFloat
	case bool:
		return KindBool
	case string:
		return KindString
	case map[string]any, Document:
		return KindMap
	case []any, []string:
		return KindList
	default:
		return KindUnknown
	}
}

// AsInt converts an integral value to int64. Floats are accepted only when
// they hold a whole number, as produced by decoders without UseNumber.
func AsInt(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case json.Number:
		n, err := val.Int64()
		return n, err == nil
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val), true
		}
	}
	return 0, false
}

// AsFloat converts any numeric value to float64.
func AsFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	}
	if n, ok := AsInt(v); ok {
		return float64(n), true
	}
	return 0, false
}
