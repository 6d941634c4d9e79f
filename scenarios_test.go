// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package cq4core

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func orderDoc(id, qty int64) []byte {
	return EncodeDocument(&Message{
		TypeName: "Order",
		Fields: []Field{
			{Name: "id", Value: Int64Value(id), DeclaredType: "int64"},
			{Name: "qty", Value: Int64Value(qty), DeclaredType: "int64"},
		},
	})
}

// TestScenarioThreeDataExcerpts mirrors the documented three-excerpt file:
// indices are contiguous starting at start_index and every Order document
// round-trips its id/qty fields in order.
func TestScenarioThreeDataExcerpts(t *testing.T) {
	data := buildCQ4([]struct {
		payload []byte
		meta    bool
	}{
		{payload: orderDoc(1, 10)},
		{payload: orderDoc(2, 10)},
		{payload: orderDoc(3, 10)},
	})

	session, err := OpenBytes(data, nil)
	require.NoError(t, err)
	defer session.Close()

	it := session.Iter(false)
	wantIDs := []int64{1, 2, 3}
	for i, want := range wantIDs {
		ex, ok := it.Next()
		require.True(t, ok)
		require.Equal(t, int64(100+i), ex.Index)
		msg, err := session.Decode(ex)
		require.NoError(t, err)
		require.Equal(t, "Order", msg.TypeName)
		require.Equal(t, want, msg.Fields[0].Value.Int64)
		require.Equal(t, int64(10), msg.Fields[1].Value.Int64)
	}
	_, ok := it.Next()
	require.False(t, ok)
}

// TestScenarioPaddingBetweenExcerptsDoesNotAdvanceIndex mirrors a file with
// one padding excerpt sandwiched between two data excerpts: default
// iteration yields 2 contiguous indices, skipping the pad.
func TestScenarioPaddingBetweenExcerptsDoesNotAdvanceIndex(t *testing.T) {
	header := EncodeDocument(&Message{Fields: []Field{
		{Name: "startIndex", Value: Int64Value(100), DeclaredType: "int64"},
		{Name: "epoch", Value: Int64Value(0), DeclaredType: "int64"},
		{Name: "sourceId", Value: Int64Value(1), DeclaredType: "int64"},
		{Name: "rollCycle", Value: TextValue("DAILY"), DeclaredType: "string"},
	}})
	buf := []byte(cq4HeaderSignature)
	buf = appendExcerptWord(buf, uint32(len(header)), true, false, false)
	buf = append(buf, header...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	buf = appendExcerpt(buf, orderDoc(1, 10), false)
	pad := make([]byte, 8)
	buf = appendExcerptWord(buf, uint32(len(pad)), true, false, true)
	buf = append(buf, pad...)
	buf = appendExcerpt(buf, orderDoc(2, 10), false)

	session, err := OpenBytes(buf, nil)
	require.NoError(t, err)
	defer session.Close()

	it := session.Iter(false)
	ex1, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, int64(100), ex1.Index)
	ex2, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, int64(101), ex2.Index)
	_, ok = it.Next()
	require.False(t, ok)
}

// TestScenarioCompactTaggedWorkedExample decodes the compact-tagged
// protocol's field headers against the canonical type-nibble definitions:
// type 3 is a raw signed i8 (not a zigzag varint), per the type_nibble
// table — so value byte 0x04 decodes to the literal value 4, not its
// zigzag-decoded counterpart. Header 0x13 is delta 1 (id 1) type i8,
// header 0x18 is delta 1 (id 2) type string, and 0x0E is the stop nibble.
func TestScenarioCompactTaggedWorkedExample(t *testing.T) {
	buf := []byte{0x13, 0x04, 0x18, 0x03}
	buf = append(buf, "abc"...)
	buf = append(buf, 0x0E)

	registry := NewSchemaRegistry()
	schema := &SchemaDef{
		ClassName: "x.Rec",
		Fields: []FieldDef{
			{Name: "a", DeclaredType: "i32", FieldID: 1, HasID: true},
			{Name: "s", DeclaredType: "string", FieldID: 2, HasID: true},
		},
	}
	require.NoError(t, registry.Register(schema))
	require.NoError(t, registry.Freeze())

	dec := NewCompactTaggedDecoder(registry, false)
	msg, err := dec.Decode(buf, "x.Rec")
	require.NoError(t, err)
	require.Empty(t, msg.Warnings)
	require.Len(t, msg.Fields, 2)
	require.Equal(t, "a", msg.Fields[0].Name)
	require.Equal(t, int64(4), msg.Fields[0].Value.Int64)
	require.Equal(t, "s", msg.Fields[1].Name)
	require.Equal(t, "abc", msg.Fields[1].Value.Text)
}

// TestScenarioSBETemplateSelection mirrors an SBE payload with a message
// header selecting template 7, whose schema declares a single int32 field.
func TestScenarioSBETemplateSelection(t *testing.T) {
	registry := NewSchemaRegistry()
	def := &SchemaDef{
		ClassName:   "x.ClassX",
		HasTemplate: true,
		TemplateID:  7,
		Fields:      []FieldDef{{Name: "a", DeclaredType: "int"}},
	}
	require.NoError(t, registry.Register(def))
	require.NoError(t, registry.Freeze())

	hdr := make([]byte, sbeHeaderSize)
	binary.LittleEndian.PutUint16(hdr[0:2], 8)
	binary.LittleEndian.PutUint16(hdr[2:4], 7)
	binary.LittleEndian.PutUint16(hdr[4:6], 0)
	binary.LittleEndian.PutUint16(hdr[6:8], 0)
	body := []byte{0x07, 0x00, 0x00, 0x0A}
	payload := append(hdr, body...)

	dec := NewSBEDecoder(registry, true)
	msg, err := dec.Decode(payload, nil)
	require.NoError(t, err)
	require.Equal(t, int64(0x0A000007), msg.Fields[0].Value.Int64)
}

// TestScenarioFieldNameRefDedup mirrors a document that names a field once
// then re-references that name via codeFieldNameRef: the second occurrence
// collides and is suffixed, per the duplicate-name resolution rule.
func TestScenarioFieldNameRefDedup(t *testing.T) {
	var buf []byte
	buf = append(buf, codeFieldNameLong)
	buf = encodeStopBitUnsigned(buf, uint64(len("customerId")))
	buf = append(buf, "customerId"...)
	buf = encodeValue(buf, Int64Value(1))

	buf = append(buf, codeFieldNameRef)
	buf = encodeStopBitUnsigned(buf, 0)
	buf = encodeValue(buf, Int64Value(2))

	wr := NewWireReader(DefaultMaxNestingDepth, true)
	msg, err := wr.ReadDocument(buf)
	require.NoError(t, err)
	require.Len(t, msg.Fields, 2)
	require.Equal(t, "customerId", msg.Fields[0].Name)
	require.Equal(t, "customerId#2", msg.Fields[1].Name)
}

// TestScenarioNonExistentFileReturnsIoError mirrors opening a path that
// does not exist at all.
func TestScenarioNonExistentFileReturnsIoError(t *testing.T) {
	_, err := Open("/nonexistent/path/does-not-exist.cq4", nil)
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, KindIO, derr.Kind)
}

// TestScenarioBadSignatureReturnsFormatErrorBeforeInspection mirrors
// opening a file whose header signature is wrong.
func TestScenarioBadSignatureReturnsFormatErrorBeforeInspection(t *testing.T) {
	_, err := OpenBytes([]byte("NOPE0000"), nil)
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, KindFormat, derr.Kind)
}
