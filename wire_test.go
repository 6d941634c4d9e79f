// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package cq4core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleMessage() *Message {
	return &Message{
		TypeName: "trade.Order",
		Fields: []Field{
			{Name: "symbol", Value: TextValue("AAPL"), DeclaredType: "string"},
			{Name: "qty", Value: Int64Value(-42), DeclaredType: "int64"},
			{Name: "price", Value: Float64Value(123.5), DeclaredType: "float64"},
			{Name: "active", Value: BoolValue(true), DeclaredType: "bool"},
			{Name: "tags", Value: ListValue([]Value{TextValue("a"), TextValue("b")}), DeclaredType: "list"},
			{Name: "meta", Value: NestedValue(&Message{
				Fields: []Field{
					{Name: "venue", Value: TextValue("NASDAQ"), DeclaredType: "string"},
				},
			}), DeclaredType: "object"},
		},
	}
}

// TestWireDecodeEncodeIdempotent exercises property #4: decode -> encode
// -> decode yields a field-equivalent Message.
func TestWireDecodeEncodeIdempotent(t *testing.T) {
	original := sampleMessage()
	encoded := EncodeDocument(original)

	wr := NewWireReader(DefaultMaxNestingDepth, true)
	decoded, err := wr.ReadDocument(encoded)
	require.NoError(t, err)
	require.Equal(t, original.TypeName, decoded.TypeName)
	require.Len(t, decoded.Fields, len(original.Fields))

	roundTripped := EncodeDocument(decoded)
	redecoded, err := wr.ReadDocument(roundTripped)
	require.NoError(t, err)
	require.Equal(t, decoded.TypeName, redecoded.TypeName)
	for i := range decoded.Fields {
		require.Equal(t, decoded.Fields[i].Name, redecoded.Fields[i].Name)
		require.Equal(t, decoded.Fields[i].Value.Tag, redecoded.Fields[i].Value.Tag)
	}
}

func TestWireFieldNameDedup(t *testing.T) {
	var buf []byte
	buf = encodeFieldName(buf, "x")
	buf = encodeValue(buf, Int64Value(1))
	buf = encodeFieldName(buf, "x")
	buf = encodeValue(buf, Int64Value(2))
	buf = encodeFieldName(buf, "x")
	buf = encodeValue(buf, Int64Value(3))

	wr := NewWireReader(DefaultMaxNestingDepth, true)
	msg, err := wr.ReadDocument(buf)
	require.NoError(t, err)
	require.Len(t, msg.Fields, 3)
	require.Equal(t, "x", msg.Fields[0].Name)
	require.Equal(t, "x#2", msg.Fields[1].Name)
	require.Equal(t, "x#3", msg.Fields[2].Name)
}

// TestWireDepthExceeded exercises property #7: nesting beyond the
// configured ceiling is rejected, not silently truncated.
func TestWireDepthExceeded(t *testing.T) {
	inner := &Message{Fields: []Field{{Name: "leaf", Value: Int64Value(1), DeclaredType: "int64"}}}
	for i := 0; i < 5; i++ {
		inner = &Message{Fields: []Field{{Name: "nested", Value: NestedValue(inner), DeclaredType: "object"}}}
	}
	encoded := EncodeDocument(inner)

	wr := NewWireReader(3, true)
	_, err := wr.ReadDocument(encoded)
	require.ErrorIs(t, err, ErrDepthExceeded)

	wr2 := NewWireReader(DefaultMaxNestingDepth, true)
	_, err = wr2.ReadDocument(encoded)
	require.NoError(t, err)
}

func TestWireUnknownTypeCode(t *testing.T) {
	buf := []byte{0xFF}
	wr := NewWireReader(DefaultMaxNestingDepth, true)
	_, err := wr.ReadDocument(buf)
	var utc *UnknownTypeCode
	require.ErrorAs(t, err, &utc)
}

func TestWireInvalidUTF8String(t *testing.T) {
	var buf []byte
	buf = append(buf, codeStringLen8)
	buf = append(buf, 2, 0xFF, 0xFE)
	wr := NewWireReader(DefaultMaxNestingDepth, true)
	_, err := wr.ReadDocument(buf)
	require.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestWireUntaggedAnonymousFraming(t *testing.T) {
	var buf []byte
	buf = encodeValue(buf, Int64Value(7))
	buf = encodeValue(buf, TextValue("hi"))

	wr := NewWireReader(DefaultMaxNestingDepth, true)
	msg, err := wr.ReadDocument(buf)
	require.NoError(t, err)
	require.Len(t, msg.Fields, 2)
	require.Equal(t, "_0", msg.Fields[0].Name)
	require.Equal(t, "_1", msg.Fields[1].Name)
}

// TestWireStrictUnknownTypeCodeFatal exercises §7: in strict mode a
// decode failure aborts the document outright.
func TestWireStrictUnknownTypeCodeFatal(t *testing.T) {
	var buf []byte
	buf = encodeFieldName(buf, "a")
	buf = encodeValue(buf, Int64Value(1))
	buf = encodeFieldName(buf, "b")
	buf = append(buf, 0xFF)

	wr := NewWireReader(DefaultMaxNestingDepth, true)
	_, err := wr.ReadDocument(buf)
	var utc *UnknownTypeCode
	require.ErrorAs(t, err, &utc)
}

// TestWireNonStrictUnknownTypeCodeAttachesPartialMessage exercises §7: in
// non-strict mode the same failure instead yields the fields already
// decoded plus a DecodeError, with iteration able to continue.
func TestWireNonStrictUnknownTypeCodeAttachesPartialMessage(t *testing.T) {
	var buf []byte
	buf = encodeFieldName(buf, "a")
	buf = encodeValue(buf, Int64Value(1))
	buf = encodeFieldName(buf, "b")
	buf = append(buf, 0xFF)

	wr := NewWireReader(DefaultMaxNestingDepth, false)
	msg, err := wr.ReadDocument(buf)
	require.NoError(t, err)
	require.Error(t, msg.DecodeError)
	require.Len(t, msg.Fields, 1)
	require.Equal(t, "a", msg.Fields[0].Name)
}

func TestTimestampUnitNormalization(t *testing.T) {
	var buf []byte
	buf = append(buf, codeTimestampMillis)
	buf = appendUint(buf, 1000, 8)
	wr := NewWireReader(DefaultMaxNestingDepth, true)
	v, _, err := wr.readValue(&wireCursor{buf: buf}, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000_000), v.EpochNano)
}
