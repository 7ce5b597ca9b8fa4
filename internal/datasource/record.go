package datasource

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
)

// Record is one result row: column name to scalar value, in the column order
// reported by the driver. Setting an existing key replaces its value and
// keeps its position.
type Record struct {
	keys   []string
	values map[string]any
}

// Field is a single key/value pair.
type Field struct {
	Key   string
	Value any
}

// NewRecord returns an empty record sized for n columns.
func NewRecord(n int) Record {
	return Record{keys: make([]string, 0, n), values: make(map[string]any, n)}
}

// Set stores v under key.
func (r *Record) Set(key string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns the value stored under key.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the column names in order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of columns.
func (r Record) Len() int {
	return len(r.keys)
}

// Each calls fn for every column in order.
func (r Record) Each(fn func(key string, v any)) {
	for _, k := range r.keys {
		fn(k, r.values[k])
	}
}

// Map returns an unordered copy of the record.
func (r Record) Map() map[string]any {
	out := make(map[string]any, len(r.keys))
	for _, k := range r.keys {
		out[k] = r.values[k]
	}
	return out
}

// String returns the value under key formatted as text; NULL and missing
// columns yield "".
func (r Record) String(key string) string {
	v, ok := r.values[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// MarshalJSON encodes the record as a JSON object with keys in column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.encodeInto(&buf, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeInto writes the record as an object, emitting the prefix pairs first.
func (r Record) encodeInto(buf *bytes.Buffer, prefix []Field) error {
	buf.WriteByte('{')
	first := true
	write := func(k string, v any) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode column %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		return nil
	}
	for _, f := range prefix {
		if err := write(f.Key, f.Value); err != nil {
			return err
		}
	}
	for _, k := range r.keys {
		if err := write(k, r.values[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// MarshalWithPrefix encodes the record preceded by the given fields.
// Used to tag rows with their origin without copying them.
func (r Record) MarshalWithPrefix(fields ...Field) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.encodeInto(&buf, fields); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
