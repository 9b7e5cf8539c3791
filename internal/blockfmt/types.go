// Package blockfmt decodes the simulator's block-structured text dump.
//
// The format is a human-readable debug dump, not a schema:
//
//	TANK: {
//		mix temp: fuel 398.105682K
//		least-mols: [3.2 | 4.5 | 6.7];
//	}
//
// Named blocks hold "key: value" entries; a value is either a scalar string or
// a bracketed, pipe-separated array. There is no escaping for ':', '|', '[',
// ']', '{' or '}' inside values, so the parser stays permissive: unknown line
// shapes are ignored and unknown keys are stored as opaque strings. Only the
// field extraction rules care about individual value formats.
package blockfmt

import (
	"bytes"
	"encoding/json"
)

// Value is one entry value: a scalar string or an ordered array of strings.
type Value struct {
	scalar string
	items  []string
	array  bool
}

// Scalar returns a scalar value holding s verbatim.
func Scalar(s string) Value {
	return Value{scalar: s}
}

// Array returns an array value holding items in order.
func Array(items ...string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{items: items, array: true}
}

// IsArray reports whether the value came from a bracketed array.
func (v Value) IsArray() bool { return v.array }

// Text returns the scalar text. It is empty for arrays.
func (v Value) Text() string { return v.scalar }

// Items returns the array elements. It is nil for scalars.
func (v Value) Items() []string { return v.items }

// MarshalJSON encodes scalars as strings and arrays as string arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.array {
		return json.Marshal(v.items)
	}
	return json.Marshal(v.scalar)
}

// Record is the ordered key/value content of one block.
// Setting an existing key replaces its value and keeps its position.
type Record struct {
	keys   []string
	values map[string]Value
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]Value)}
}

// Set stores v under key, overwriting any earlier value.
func (r *Record) Set(key string, v Value) {
	if _, exists := r.values[key]; !exists {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (Value, bool) {
	v, ok := r.values[key]
	return v, ok
}

// At returns the i-th entry in insertion order.
func (r *Record) At(i int) (key string, v Value, ok bool) {
	if i < 0 || i >= len(r.keys) {
		return "", Value{}, false
	}
	key = r.keys[i]
	return key, r.values[key], true
}

// Keys returns the entry keys in insertion order.
func (r *Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of entries.
func (r *Record) Len() int { return len(r.keys) }

// MarshalJSON encodes the record as a JSON object in insertion order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ResultSet maps block names to records for one decoding session.
// A later block with an existing name replaces the earlier record.
type ResultSet struct {
	names  []string
	blocks map[string]*Record
}

// NewResultSet returns an empty result set.
func NewResultSet() *ResultSet {
	return &ResultSet{blocks: make(map[string]*Record)}
}

// Open inserts a fresh, empty record under name and returns it.
func (s *ResultSet) Open(name string) *Record {
	if _, exists := s.blocks[name]; !exists {
		s.names = append(s.names, name)
	}
	rec := NewRecord()
	s.blocks[name] = rec
	return rec
}

// Block returns the record stored under name.
func (s *ResultSet) Block(name string) (*Record, bool) {
	rec, ok := s.blocks[name]
	return rec, ok
}

// Names returns the block names in first-seen order.
func (s *ResultSet) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of blocks.
func (s *ResultSet) Len() int { return len(s.names) }

// MarshalJSON encodes the result set as a JSON object in block order.
func (s *ResultSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := s.blocks[name].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
