// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package cq4core

import (
	"fmt"
	"math"
	"unicode/utf8"
)

// Compact tagged protocol per-field header: high nibble is the field-id
// delta (0 means "a zigzag varint id follows"), low nibble is the type.
const (
	ctBoolTrue  = 1
	ctBoolFalse = 2
	ctI8        = 3
	ctI16       = 4
	ctI32       = 5
	ctI64       = 6
	ctF64       = 7
	ctString    = 8
	ctBinary    = 9
	ctList      = 10
	ctSet       = 11
	ctMap       = 12
	ctStruct    = 13
	ctStop      = 14
)

// ctCursor is the compact-tagged protocol's byte cursor; unlike
// wireCursor it has no name-intern table, since fields are addressed by
// numeric id rather than by name.
type ctCursor struct {
	buf []byte
	pos int
}

func (c *ctCursor) readByte() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, ErrTruncated
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *ctCursor) readN(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, ErrTruncated
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *ctCursor) readUint(width int) (uint64, error) {
	b, err := c.readN(width)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

func (c *ctCursor) stopBitReader() *stopBitReader {
	return &stopBitReader{buf: c.buf, pos: c.pos}
}

func (c *ctCursor) adopt(r *stopBitReader) { c.pos = r.pos }

// CompactTaggedDecoder decodes the zigzag-varint, field-id-tagged protocol
// of §4.7 against a SchemaRegistry.
type CompactTaggedDecoder struct {
	registry *SchemaRegistry
	strict   bool
}

// NewCompactTaggedDecoder builds a decoder bound to registry. strict
// controls whether an unknown field id aborts the document (true) or is
// skipped with a recorded warning (false).
func NewCompactTaggedDecoder(registry *SchemaRegistry, strict bool) *CompactTaggedDecoder {
	return &CompactTaggedDecoder{registry: registry, strict: strict}
}

// Decode parses payload as an instance of className (the registry's
// top-level schema for this message type).
func (d *CompactTaggedDecoder) Decode(payload []byte, className string) (*Message, error) {
	c := &ctCursor{buf: payload}
	msg, warnings, err := d.decodeStruct(c, className)
	if err != nil {
		if !d.strict {
			if msg == nil {
				msg = &Message{}
			}
			msg.DecodeError = newErr(KindDecode, 0, int64(c.pos), "", "compact-tagged decode failed", err)
			msg.Warnings = warnings
			return msg, nil
		}
		return nil, err
	}
	msg.SchemaName = className
	msg.TypeName = className
	msg.Warnings = warnings
	return msg, nil
}

// decodeStruct reads fields until the stop nibble, for className (which
// may be "" when the enclosing context has no schema for this struct —
// every field is then necessarily unknown and gets structurally skipped,
// which the wire framing supports without any schema knowledge).
func (d *CompactTaggedDecoder) decodeStruct(c *ctCursor, className string) (*Message, []string, error) {
	msg := &Message{}
	fs := newFieldSet()
	var warnings []string
	prevID := 0

	for {
		header, err := c.readByte()
		if err != nil {
			return msg, warnings, err
		}
		typeNibble := header & 0x0F
		delta := (header >> 4) & 0x0F

		if typeNibble == ctStop {
			return msg, warnings, nil
		}

		var id int
		if delta != 0 {
			id = prevID + int(delta)
		} else {
			sbr := c.stopBitReader()
			v, err := sbr.ReadSignedZigzag()
			if err != nil {
				return msg, warnings, err
			}
			c.adopt(sbr)
			id = int(v)
		}
		prevID = id

		var fd *FieldDef
		var ok bool
		if className != "" && d.registry != nil {
			fd, ok = d.registry.FieldByID(className, id)
		}

		value, err := d.decodeValueByNibble(c, typeNibble, fd)
		if err != nil {
			return msg, warnings, err
		}

		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown field id %d", id))
			if d.strict {
				return msg, warnings, &UnknownFieldID{ID: id}
			}
			continue
		}
		msg.appendField(fs, fd.Name, value, fd.DeclaredType)
	}
}

func (d *CompactTaggedDecoder) decodeValueByNibble(c *ctCursor, nibble byte, fd *FieldDef) (Value, error) {
	switch nibble {
	case ctBoolTrue:
		return BoolValue(true), nil
	case ctBoolFalse:
		return BoolValue(false), nil
	case ctI8:
		b, err := c.readByte()
		if err != nil {
			return Value{}, err
		}
		return Int64Value(int64(int8(b))), nil
	case ctI16, ctI32, ctI64:
		sbr := c.stopBitReader()
		v, err := sbr.ReadSignedZigzag()
		if err != nil {
			return Value{}, err
		}
		c.adopt(sbr)
		return Int64Value(v), nil
	case ctF64:
		u, err := c.readUint(8)
		if err != nil {
			return Value{}, err
		}
		return Float64Value(math.Float64frombits(u)), nil
	case ctString:
		sbr := c.stopBitReader()
		n, err := sbr.ReadUnsigned()
		if err != nil {
			return Value{}, err
		}
		c.adopt(sbr)
		raw, err := c.readN(int(n))
		if err != nil {
			return Value{}, err
		}
		if !utf8.Valid(raw) {
			return Value{}, ErrInvalidUTF8
		}
		return TextValue(string(raw)), nil
	case ctBinary:
		sbr := c.stopBitReader()
		n, err := sbr.ReadUnsigned()
		if err != nil {
			return Value{}, err
		}
		c.adopt(sbr)
		raw, err := c.readN(int(n))
		if err != nil {
			return Value{}, err
		}
		return BytesValue(raw), nil
	case ctList, ctSet:
		elems, err := d.decodeListFraming(c)
		if err != nil {
			return Value{}, err
		}
		if nibble == ctSet {
			return SetValue(elems), nil
		}
		return ListValue(elems), nil
	case ctMap:
		entries, err := d.decodeMapFraming(c)
		if err != nil {
			return Value{}, err
		}
		return MapValue(entries), nil
	case ctStruct:
		nestedClass := ""
		if fd != nil {
			nestedClass = fd.DeclaredType
		}
		nested, _, err := d.decodeStruct(c, nestedClass)
		if err != nil {
			return Value{}, err
		}
		return NestedValue(nested), nil
	default:
		return Value{}, ErrMalformedHeader
	}
}

func (d *CompactTaggedDecoder) decodeListFraming(c *ctCursor) ([]Value, error) {
	header, err := c.readByte()
	if err != nil {
		return nil, err
	}
	size := int((header >> 4) & 0x0F)
	elemType := header & 0x0F
	if size == 15 {
		sbr := c.stopBitReader()
		n, err := sbr.ReadUnsigned()
		if err != nil {
			return nil, err
		}
		c.adopt(sbr)
		size = int(n)
	}
	elems := make([]Value, 0, size)
	for i := 0; i < size; i++ {
		v, err := d.decodeValueByNibble(c, elemType, nil)
		if err != nil {
			return nil, err
		}
		elems = append(elems, v)
	}
	return elems, nil
}

func (d *CompactTaggedDecoder) decodeMapFraming(c *ctCursor) ([]MapEntry, error) {
	header, err := c.readByte()
	if err != nil {
		return nil, err
	}
	keyType := (header >> 4) & 0x0F
	valType := header & 0x0F
	sbr := c.stopBitReader()
	n, err := sbr.ReadUnsigned()
	if err != nil {
		return nil, err
	}
	c.adopt(sbr)
	entries := make([]MapEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		k, err := d.decodeValueByNibble(c, keyType, nil)
		if err != nil {
			return nil, err
		}
		v, err := d.decodeValueByNibble(c, valType, nil)
		if err != nil {
			return nil, err
		}
		entries = append(entries, MapEntry{Key: k, Value: v})
	}
	return entries, nil
}
