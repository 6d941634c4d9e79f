// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package cq4core

import "fmt"

// Kind distinguishes whether an excerpt carried application data or
// producer metadata.
type Kind int

const (
	// Data marks an ordinary application excerpt.
	Data Kind = iota
	// Metadata marks a metadata excerpt, skipped by default iteration.
	Metadata
)

func (k Kind) String() string {
	if k == Metadata {
		return "METADATA"
	}
	return "DATA"
}

// ValueTag identifies which arm of Value is populated.
type ValueTag int

const (
	TagNull ValueTag = iota
	TagBool
	TagInt64
	TagUInt64
	TagFloat64
	TagText
	TagBytes
	TagTimestamp
	TagUUID
	TagList
	TagMap
	TagSet
	TagNested
)

// Value is the tagged union every decoded field value is stored in. Only
// the field matching Tag is meaningful.
type Value struct {
	Tag       ValueTag
	Bool      bool
	Int64     int64
	UInt64    uint64
	Float64   float64
	Text      string
	Bytes     []byte
	EpochNano int64 // TagTimestamp
	UUID      [16]byte
	List      []Value
	// MapEntry preserves insertion order; a plain Go map cannot.
	Map    []MapEntry
	Set    []Value
	Nested *Message
}

// MapEntry is one key/value pair of a Map value, in on-disk order.
type MapEntry struct {
	Key   Value
	Value Value
}

func NullValue() Value                 { return Value{Tag: TagNull} }
func BoolValue(b bool) Value           { return Value{Tag: TagBool, Bool: b} }
func Int64Value(v int64) Value         { return Value{Tag: TagInt64, Int64: v} }
func UInt64Value(v uint64) Value       { return Value{Tag: TagUInt64, UInt64: v} }
func Float64Value(v float64) Value     { return Value{Tag: TagFloat64, Float64: v} }
func TextValue(s string) Value         { return Value{Tag: TagText, Text: s} }
func BytesValue(b []byte) Value        { return Value{Tag: TagBytes, Bytes: append([]byte(nil), b...)} }
func TimestampValue(nanos int64) Value { return Value{Tag: TagTimestamp, EpochNano: nanos} }
func UUIDValue(v [16]byte) Value       { return Value{Tag: TagUUID, UUID: v} }
func ListValue(v []Value) Value        { return Value{Tag: TagList, List: v} }
func SetValue(v []Value) Value         { return Value{Tag: TagSet, Set: v} }
func MapValue(v []MapEntry) Value      { return Value{Tag: TagMap, Map: v} }
func NestedValue(m *Message) Value     { return Value{Tag: TagNested, Nested: m} }

// Field is one named value within a Message, in on-disk order.
type Field struct {
	Name         string
	Value        Value
	DeclaredType string
}

// Message is the decoder's sole output unit. Field order is significant
// and is preserved through export.
type Message struct {
	Index          int64
	AbsoluteOffset int64
	Kind           Kind
	TypeName       string
	Fields         []Field

	// SchemaName records which registry entry drove a schema-based
	// decode. Empty for self-describing wire documents.
	SchemaName string

	// DecodeError is non-nil only in non-strict mode, when decoding
	// failed partway through; Fields holds everything decoded up to the
	// failure point.
	DecodeError *Error

	// Warnings collects recoverable, non-fatal conditions observed while
	// decoding (e.g. one entry per unknown compact-tagged field id).
	Warnings []string
}

// fieldSet tracks name usage within a single message level so duplicate
// names can be suffixed "#N" starting at 2, per the field-name-uniqueness
// invariant.
type fieldSet struct {
	counts map[string]int
}

func newFieldSet() *fieldSet { return &fieldSet{counts: make(map[string]int)} }

// Next returns the name to actually store for a freshly-seen occurrence of
// name, disambiguating repeats.
func (s *fieldSet) Next(name string) string {
	n := s.counts[name]
	s.counts[name] = n + 1
	if n == 0 {
		return name
	}
	return fmt.Sprintf("%s#%d", name, n+1)
}

// appendField adds a field to m, applying fieldSet-driven dedup.
func (m *Message) appendField(fs *fieldSet, name string, v Value, declaredType string) {
	m.Fields = append(m.Fields, Field{Name: fs.Next(name), Value: v, DeclaredType: declaredType})
}
