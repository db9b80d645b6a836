package types

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Record is a structured document stored in a collection.
// Records use JSON document semantics: numbers are float64, nested objects
// are map[string]any and arrays are []any once normalized.
type Record map[string]any

// Normalize returns a deep copy of the record in its stored form.
// The copy is produced by a JSON round trip, so the result is exactly what
// a later read returns for the same value.
func Normalize(r Record) (Record, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}
	// encoding/json rewrites invalid bytes as U+FFFD
	if !ValidText(map[string]any(r)) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidRecord)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return DecodeRecord(data)
}

// ValidText reports whether every string in v, map keys included, is valid
// UTF-8.
func ValidText(v any) bool {
	switch val := v.(type) {
	case string:
		return utf8.ValidString(val)
	case Record:
		return ValidText(map[string]any(val))
	case map[string]any:
		for k, inner := range val {
			if !utf8.ValidString(k) || !ValidText(inner) {
				return false
			}
		}
	case []any:
		for _, inner := range val {
			if !ValidText(inner) {
				return false
			}
		}
	case []string:
		for _, inner := range val {
			if !utf8.ValidString(inner) {
				return false
			}
		}
	}
	return true
}

// DecodeRecord parses a stored JSON record.
func DecodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: record is not an object", ErrInvalidRecord)
	}
	return rec, nil
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]any(r)).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case Record:
		return Record(cloneValue(map[string]any(val)).(map[string]any))
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return val
	}
}

// NormalizeValue converts a scalar predicate or key value into its stored
// form. Integer and float kinds become float64; other values pass through.
func NormalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	default:
		return v
	}
}

// Query describes a filtered, ordered read over one collection.
type Query struct {
	// Predicates are combined with logical AND. An empty set matches
	// every record.
	Predicates []Predicate

	// Sort orders the result. Without it results come back in primary
	// key order.
	Sort []SortClause

	// Offset skips the first n results. Zero or negative means none.
	Offset int

	// Limit caps the result size. Zero or negative means no limit.
	Limit int
}

// SortClause represents a single ordering term.
type SortClause struct {
	Field      string
	Descending bool
}

// Mode declares whether a transaction may write.
type Mode int

const (
	// ReadOnly transactions observe a snapshot and never block each other.
	ReadOnly Mode = iota
	// ReadWrite transactions are serialized against overlapping writers.
	ReadWrite
)

// String returns the string representation of the Mode
func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	default:
		return "unknown"
	}
}

// FromStruct converts a JSON-tagged value into a normalized record.
func FromStruct(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return DecodeRecord(data)
}

// Decode converts a record into a JSON-tagged value of type T.
func Decode[T any](r Record) (T, error) {
	var out T
	data, err := json.Marshal(r)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return out, nil
}

// DecodeAll converts every record into a value of type T.
func DecodeAll[T any](recs []Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		v, err := Decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
