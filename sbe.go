// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package cq4core

import (
	"math"
)

// sbeHeaderSize is the fixed size of the optional SBE message header:
// block_length(u16) + template_id(u16) + schema_id(u16) + version(u16).
const sbeHeaderSize = 8

// SBEDecoder decodes fixed-width, declared-order, native little-endian
// messages per §4.6, driven entirely by a SchemaDef's field list.
type SBEDecoder struct {
	registry *SchemaRegistry
	strict   bool
}

// NewSBEDecoder builds a decoder bound to registry, used to resolve a
// template id to its schema when the payload carries an SBE header.
// strict controls whether a field decode failure aborts the message
// (true) or is attached to a partial Message as DecodeError (false),
// mirroring CompactTaggedDecoder's contract.
func NewSBEDecoder(registry *SchemaRegistry, strict bool) *SBEDecoder {
	return &SBEDecoder{registry: registry, strict: strict}
}

// sbeHeader is the parsed form of the optional leading message header.
type sbeHeader struct {
	BlockLength uint16
	TemplateID  uint16
	SchemaID    uint16
	Version     uint16
}

func readSBEHeader(buf []byte) (sbeHeader, error) {
	if len(buf) < sbeHeaderSize {
		return sbeHeader{}, ErrTruncated
	}
	return sbeHeader{
		BlockLength: leU16(buf[0:2]),
		TemplateID:  leU16(buf[2:4]),
		SchemaID:    leU16(buf[4:6]),
		Version:     leU16(buf[6:8]),
	}, nil
}

func leU16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Decode decodes payload as def's fixed layout. When def is nil, the
// payload is assumed to begin with an SBE header whose template_id
// selects the schema via the decoder's registry. On a decode failure,
// strict mode returns the error directly; non-strict mode attaches the
// error to whatever fields were already decoded as Message.DecodeError
// and returns it with a nil error, per §7's partial-decode contract.
func (d *SBEDecoder) Decode(payload []byte, def *SchemaDef) (*Message, error) {
	msg, err := d.decode(payload, def)
	if err != nil {
		if d.strict {
			return nil, err
		}
		if msg == nil {
			msg = &Message{}
		}
		msg.DecodeError = newErr(KindDecode, 0, 0, "", "SBE decode failed", err)
		return msg, nil
	}
	return msg, nil
}

func (d *SBEDecoder) decode(payload []byte, def *SchemaDef) (*Message, error) {
	buf := payload
	var hdr sbeHeader
	haveHeader := false

	if def == nil || def.HasSBEHeader {
		h, err := readSBEHeader(buf)
		if err != nil {
			return nil, newErr(KindFormat, 0, 0, "", "truncated SBE header", err)
		}
		hdr = h
		haveHeader = true
	}

	if def == nil {
		found, ok := d.registry.ByTemplateID(hdr.TemplateID)
		if !ok {
			return nil, &UnknownTemplate{ID: hdr.TemplateID}
		}
		def = found
	}

	if haveHeader {
		buf = buf[sbeHeaderSize:]
	}

	msg := &Message{SchemaName: def.ClassName, TypeName: def.ClassName}
	fs := newFieldSet()
	offset := 0

	for _, fd := range def.Fields {
		off := offset
		if fd.HasSBE {
			off = fd.SBEOffset
		}
		v, width, err := decodeSBEField(buf, off, &fd)
		if err != nil {
			return msg, newErr(KindDecode, 0, int64(off), fd.Name, "SBE field decode failed", err)
		}
		msg.appendField(fs, fd.Name, v, fd.DeclaredType)
		if !fd.HasSBE {
			offset += width
		}
	}
	return msg, nil
}

// decodeSBEField reads one field at byteOffset within buf, returning the
// value and the field's width (used to advance an implicit cursor when no
// explicit SBEOffset/SBELength is given).
func decodeSBEField(buf []byte, byteOffset int, fd *FieldDef) (Value, int, error) {
	width := sbeFixedWidth(fd.DeclaredType)
	if fd.HasSBE && fd.SBELength > 0 {
		width = fd.SBELength
	}

	switch fd.DeclaredType {
	case "bool", "boolean":
		b, err := sliceAt(buf, byteOffset, 1)
		if err != nil {
			return Value{}, 0, &PayloadTooShort{FieldName: fd.Name}
		}
		return BoolValue(b[0] != 0), 1, nil
	case "byte", "int8":
		b, err := sliceAt(buf, byteOffset, 1)
		if err != nil {
			return Value{}, 0, &PayloadTooShort{FieldName: fd.Name}
		}
		return Int64Value(int64(int8(b[0]))), 1, nil
	case "short", "int16":
		b, err := sliceAt(buf, byteOffset, 2)
		if err != nil {
			return Value{}, 0, &PayloadTooShort{FieldName: fd.Name}
		}
		return Int64Value(int64(int16(leU16(b)))), 2, nil
	case "int", "int32":
		b, err := sliceAt(buf, byteOffset, 4)
		if err != nil {
			return Value{}, 0, &PayloadTooShort{FieldName: fd.Name}
		}
		return Int64Value(int64(int32(leU32(b)))), 4, nil
	case "long", "int64":
		b, err := sliceAt(buf, byteOffset, 8)
		if err != nil {
			return Value{}, 0, &PayloadTooShort{FieldName: fd.Name}
		}
		return Int64Value(int64(leU64(b))), 8, nil
	case "char", "uint16":
		b, err := sliceAt(buf, byteOffset, 2)
		if err != nil {
			return Value{}, 0, &PayloadTooShort{FieldName: fd.Name}
		}
		return UInt64Value(uint64(leU16(b))), 2, nil
	case "uint32":
		b, err := sliceAt(buf, byteOffset, 4)
		if err != nil {
			return Value{}, 0, &PayloadTooShort{FieldName: fd.Name}
		}
		return UInt64Value(uint64(leU32(b))), 4, nil
	case "uint64":
		b, err := sliceAt(buf, byteOffset, 8)
		if err != nil {
			return Value{}, 0, &PayloadTooShort{FieldName: fd.Name}
		}
		return UInt64Value(leU64(b)), 8, nil
	case "float":
		b, err := sliceAt(buf, byteOffset, 4)
		if err != nil {
			return Value{}, 0, &PayloadTooShort{FieldName: fd.Name}
		}
		return Float64Value(float64(math.Float32frombits(leU32(b)))), 4, nil
	case "double":
		b, err := sliceAt(buf, byteOffset, 8)
		if err != nil {
			return Value{}, 0, &PayloadTooShort{FieldName: fd.Name}
		}
		return Float64Value(math.Float64frombits(leU64(b))), 8, nil
	case "String", "string":
		return decodeSBEString(buf, byteOffset, fd)
	default:
		// Unrecognized declared type: treat as an opaque fixed-width byte
		// blob sized by the explicit SBELength, since the wire has no type
		// tag of its own to fall back on.
		if width <= 0 {
			return Value{}, 0, &PayloadTooShort{FieldName: fd.Name}
		}
		b, err := sliceAt(buf, byteOffset, width)
		if err != nil {
			return Value{}, 0, &PayloadTooShort{FieldName: fd.Name}
		}
		return BytesValue(b), width, nil
	}
}

// decodeSBEString reads a length-prefixed string when no explicit
// SBELength is given (a 16-bit little-endian length followed by the
// bytes), or a fixed-width, NUL-padded char array when one is.
func decodeSBEString(buf []byte, byteOffset int, fd *FieldDef) (Value, int, error) {
	if fd.HasSBE && fd.SBELength > 0 {
		b, err := sliceAt(buf, byteOffset, fd.SBELength)
		if err != nil {
			return Value{}, 0, &PayloadTooShort{FieldName: fd.Name}
		}
		n := 0
		for n < len(b) && b[n] != 0 {
			n++
		}
		return TextValue(string(b[:n])), fd.SBELength, nil
	}
	lb, err := sliceAt(buf, byteOffset, 2)
	if err != nil {
		return Value{}, 0, &PayloadTooShort{FieldName: fd.Name}
	}
	n := int(leU16(lb))
	sb, err := sliceAt(buf, byteOffset+2, n)
	if err != nil {
		return Value{}, 0, &PayloadTooShort{FieldName: fd.Name}
	}
	return TextValue(string(sb)), 2 + n, nil
}

func sliceAt(buf []byte, offset, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset+n > len(buf) {
		return nil, ErrTruncated
	}
	return buf[offset : offset+n], nil
}

// sbeFixedWidth returns the natural width of a primitive SBE type, or 0
// for variable-length/unrecognized types whose width must come from an
// explicit SBELength annotation.
func sbeFixedWidth(declaredType string) int {
	switch declaredType {
	case "bool", "boolean", "byte", "int8":
		return 1
	case "short", "int16", "char", "uint16":
		return 2
	case "int", "int32", "uint32", "float":
		return 4
	case "long", "int64", "uint64", "double":
		return 8
	default:
		return 0
	}
}
