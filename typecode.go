// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package cq4core

// typeCategory groups the closed set of wire type codes into the families
// the WireReader state machine branches on.
type typeCategory int

const (
	catFieldName typeCategory = iota
	catPrimitive
	catString
	catTime
	catIdentifier
	catContainer
	catAlignment
)

// Wire type codes. The set is closed: any byte not listed here is a
// decode-time UnknownTypeCode error, never a silent skip.
const (
	codeNull        byte = 0x00
	codeBoolFalse   byte = 0x01
	codeBoolTrue    byte = 0x02
	codeInt8        byte = 0x03
	codeInt16       byte = 0x04
	codeInt32       byte = 0x05
	codeInt64       byte = 0x06
	codeUint8       byte = 0x07
	codeUint16      byte = 0x08
	codeUint32      byte = 0x09
	codeUint64      byte = 0x0A
	codeFloat32     byte = 0x0B
	codeFloat64     byte = 0x0C
	codeStringLen8  byte = 0x0D
	codeStringLen16 byte = 0x0E
	codeStringStop  byte = 0x0F

	codeTimestampNanos byte = 0x10
	codeTimestampMillis byte = 0x11
	codeTimestampMicros byte = 0x12
	codeDate           byte = 0x13
	codeLocalDateTime  byte = 0x14
	codeZonedDateTime  byte = 0x15
	codeDuration       byte = 0x16

	codeUUID       byte = 0x17
	codeTypePrefix byte = 0x18

	codeSequenceStart byte = 0x19
	codeSequenceEnd   byte = 0x1A
	codeTypeLiteral   byte = 0x1B
	codeEventName     byte = 0x1C
	codeComment       byte = 0x1D
	codeHint          byte = 0x1E
	codeEventObject   byte = 0x1F

	codeFieldNameShort byte = 0x20
	codeFieldNameLong  byte = 0x21
	codeFieldNameRef   byte = 0x22

	codeBytesLen8  byte = 0x23
	codeBytesLen16 byte = 0x24
	codeBytesStop  byte = 0x25

	codePadding byte = 0x26
)

// typeCodeInfo is the per-code metadata the WireReader consults.
type typeCodeInfo struct {
	category typeCategory
	name     string
}

var typeCodeTable = map[byte]typeCodeInfo{
	codeNull:      {catPrimitive, "null"},
	codeBoolFalse: {catPrimitive, "bool_false"},
	codeBoolTrue:  {catPrimitive, "bool_true"},
	codeInt8:      {catPrimitive, "int8"},
	codeInt16:     {catPrimitive, "int16"},
	codeInt32:     {catPrimitive, "int32"},
	codeInt64:     {catPrimitive, "int64"},
	codeUint8:     {catPrimitive, "uint8"},
	codeUint16:    {catPrimitive, "uint16"},
	codeUint32:    {catPrimitive, "uint32"},
	codeUint64:    {catPrimitive, "uint64"},
	codeFloat32:   {catPrimitive, "float32"},
	codeFloat64:   {catPrimitive, "float64"},

	codeStringLen8:  {catString, "string_len8"},
	codeStringLen16: {catString, "string_len16"},
	codeStringStop:  {catString, "string_stopbit"},

	codeTimestampNanos:  {catTime, "timestamp_nanos"},
	codeTimestampMillis: {catTime, "timestamp_millis"},
	codeTimestampMicros: {catTime, "timestamp_micros"},
	codeDate:            {catTime, "date"},
	codeLocalDateTime:   {catTime, "local_date_time"},
	codeZonedDateTime:   {catTime, "zoned_date_time"},
	codeDuration:        {catTime, "duration"},

	codeUUID:       {catIdentifier, "uuid"},
	codeTypePrefix: {catIdentifier, "type_prefix"},

	codeSequenceStart: {catContainer, "sequence_start"},
	codeSequenceEnd:   {catContainer, "sequence_end"},
	codeTypeLiteral:   {catContainer, "type_literal"},
	codeEventName:     {catContainer, "event_name"},
	codeComment:       {catContainer, "comment"},
	codeHint:          {catContainer, "hint"},
	codeEventObject:   {catContainer, "event_object"},

	codeFieldNameShort: {catFieldName, "field_name_short"},
	codeFieldNameLong:  {catFieldName, "field_name_long"},
	codeFieldNameRef:   {catFieldName, "field_name_ref"},

	codeBytesLen8:  {catString, "bytes_len8"},
	codeBytesLen16: {catString, "bytes_len16"},
	codeBytesStop:  {catString, "bytes_stopbit"},

	codePadding: {catAlignment, "padding"},
}

// lookupTypeCode returns the metadata for b, or ok=false if b falls
// outside the closed set — the caller must treat that as fatal.
func lookupTypeCode(b byte) (typeCodeInfo, bool) {
	info, ok := typeCodeTable[b]
	return info, ok
}

func isFieldNameCode(b byte) bool {
	info, ok := typeCodeTable[b]
	return ok && info.category == catFieldName
}
