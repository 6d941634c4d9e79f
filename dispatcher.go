// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package cq4core

// DecoderDispatcher picks the right decoder for an excerpt payload,
// either by sniffing the self-describing wire's type-code framing or by
// falling back to a schema-registry-driven encoding, per §4.8.
type DecoderDispatcher struct {
	registry *SchemaRegistry
	override EncodingHint
	maxDepth int
	strict   bool

	wire    *WireReader
	sbe     *SBEDecoder
	compact *CompactTaggedDecoder
}

// NewDecoderDispatcher builds a dispatcher. registry may be nil, in which
// case only the self-describing wire encoding is reachable. override
// forces a single encoding for every payload instead of sniffing.
func NewDecoderDispatcher(registry *SchemaRegistry, override EncodingHint, maxDepth int, strict bool) *DecoderDispatcher {
	if registry == nil {
		registry = NewSchemaRegistry()
	}
	return &DecoderDispatcher{
		registry: registry,
		override: override,
		maxDepth: maxDepth,
		strict:   strict,
		wire:     NewWireReader(maxDepth, strict),
		sbe:      NewSBEDecoder(registry, strict),
		compact:  NewCompactTaggedDecoder(registry, strict),
	}
}

// Decode routes payload to the encoding the session was configured for
// (or sniffed), returning a Message.
func (d *DecoderDispatcher) Decode(payload []byte) (*Message, error) {
	switch d.override {
	case EncodingSelfDescribingWire:
		return d.wire.ReadDocument(payload)
	case EncodingSBE:
		return d.sbe.Decode(payload, nil)
	case EncodingCompactTagged:
		return d.decodeCompactTagged(payload)
	}

	if looksLikeWireDocument(payload) {
		return d.wire.ReadDocument(payload)
	}

	switch d.registry.DefaultEncoding() {
	case EncodingSBE:
		return d.sbe.Decode(payload, nil)
	case EncodingCompactTagged:
		return d.decodeCompactTagged(payload)
	default:
		return d.wire.ReadDocument(payload)
	}
}

func (d *DecoderDispatcher) decodeCompactTagged(payload []byte) (*Message, error) {
	className, ok := d.registry.SoleTopLevelClass()
	if !ok {
		return nil, newErr(KindSchema, 0, 0, "", "compact-tagged decoding requires exactly one registered top-level schema when no override class is given", nil)
	}
	return d.compact.Decode(payload, className)
}

// looksLikeWireDocument reports whether payload's first byte is one of
// the self-describing wire's framing codes: a field name (tagged
// framing) or a type-prefix/event-name/event-object code that an
// untagged document's first value could legitimately start with, giving
// the sniff enough signal without decoding.
func looksLikeWireDocument(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	b := payload[0]
	if isFieldNameCode(b) {
		return true
	}
	switch b {
	case codeEventName, codeEventObject, codeTypeLiteral, codeTypePrefix, codeComment, codeHint:
		return true
	}
	return false
}
