// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package cq4core

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// EncodingHint names which decoder a schema (or the whole session, via
// Options.EncodingOverride) should use.
type EncodingHint int

const (
	// EncodingAuto lets the DecoderDispatcher sniff the payload.
	EncodingAuto EncodingHint = iota
	EncodingSelfDescribingWire
	EncodingSBE
	EncodingCompactTagged
)

func (e EncodingHint) String() string {
	switch e {
	case EncodingSelfDescribingWire:
		return "self_describing_wire"
	case EncodingSBE:
		return "sbe"
	case EncodingCompactTagged:
		return "compact_tagged"
	default:
		return "auto"
	}
}

// FieldDef is one field of a SchemaDef, carrying every hint the different
// decoders may need: a compact-tagged field id, or an SBE fixed
// offset/length, both optional.
type FieldDef struct {
	Name         string
	DeclaredType string

	// FieldID is required for CompactTaggedDecoder, optional for SBE
	// (order suffices there), ignored by the self-describing wire.
	FieldID int
	HasID   bool

	// SBE layout hints, set from @SbeField(offset=N, length=M).
	SBEOffset int
	SBELength int
	HasSBE    bool

	Annotations map[string]bool
}

// SchemaDef is the neutral representation of one typed message schema.
type SchemaDef struct {
	ClassName string
	Fields    []FieldDef
	Inner     []*SchemaDef

	Encoding EncodingHint

	// HasSBEHeader marks a schema whose wire form is preceded by the
	// optional 8-byte SBE message header (block_length/template_id/
	// schema_id/version).
	HasSBEHeader bool
	TemplateID   uint16
	HasTemplate  bool

	// fromSource records provenance for directory-scan collision
	// resolution (source always wins over bytecode).
	fromSource bool
}

// structuralDigest returns an xxhash of the schema's field name/type/id
// sequence, used by SchemaRegistry to recognize when two differently
// formatted sources describe the same shape without a full re-parse.
func (d *SchemaDef) structuralDigest() uint64 {
	h := xxhash.New()
	h.WriteString(d.ClassName)
	for _, f := range d.Fields {
		h.WriteString(f.Name)
		h.WriteString(f.DeclaredType)
		if f.HasID {
			h.Write([]byte{byte(f.FieldID), byte(f.FieldID >> 8)})
		}
	}
	return h.Sum64()
}

// SchemaRegistry maps class names to SchemaDef and, per class, field ids
// to FieldDef. It is mutable during Load, immutable after Freeze.
type SchemaRegistry struct {
	byName       map[string]*SchemaDef
	byTemplateID map[uint16]*SchemaDef
	byFieldID    map[string]map[int]*FieldDef
	digests      map[uint64]string
	defaultEnc   EncodingHint
	topLevel     []string
	frozen       bool
}

// NewSchemaRegistry returns an empty, unfrozen registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		byName:       make(map[string]*SchemaDef),
		byTemplateID: make(map[uint16]*SchemaDef),
		digests:      make(map[uint64]string),
	}
}

// Register adds or replaces def in the registry, applying the
// source-wins-over-bytecode collision rule. Returns a SchemaError if the
// registry is already frozen.
func (r *SchemaRegistry) Register(def *SchemaDef) error {
	if r.frozen {
		return newErr(KindSchema, 0, -1, def.ClassName, "cannot register into a frozen registry", nil)
	}
	if _, ok := r.byName[def.ClassName]; !ok {
		r.topLevel = append(r.topLevel, def.ClassName)
	}
	return r.register(def)
}

func (r *SchemaRegistry) register(def *SchemaDef) error {
	if existing, ok := r.byName[def.ClassName]; ok {
		if existing.fromSource && !def.fromSource {
			// Bytecode arriving after source for the same class: source
			// wins, keep the existing definition.
			return nil
		}
	}
	r.byName[def.ClassName] = def
	r.digests[def.structuralDigest()] = def.ClassName
	if def.HasTemplate {
		r.byTemplateID[def.TemplateID] = def
	}
	for _, inner := range def.Inner {
		if err := r.register(inner); err != nil {
			return err
		}
	}
	return nil
}

// SoleTopLevelClass returns the class name of the only top-level schema
// Register was called with directly, for sessions decoding a compact
// tagged stream that carries no in-band type tag of its own. ok is false
// when zero or more than one top-level schema is registered.
func (r *SchemaRegistry) SoleTopLevelClass() (string, bool) {
	if len(r.topLevel) != 1 {
		return "", false
	}
	return r.topLevel[0], true
}

// SeenDigest reports whether a schema with the same structural digest as
// def has already been registered, and under which class name — used by
// directory scans to skip redundant reparsing of equivalent shapes.
func (r *SchemaRegistry) SeenDigest(def *SchemaDef) (string, bool) {
	name, ok := r.digests[def.structuralDigest()]
	return name, ok
}

// SetDefaultEncoding records the encoding a payload should use when no
// per-schema hint and no sniffable framing byte determines it.
func (r *SchemaRegistry) SetDefaultEncoding(e EncodingHint) { r.defaultEnc = e }

// DefaultEncoding returns the registry-wide fallback encoding.
func (r *SchemaRegistry) DefaultEncoding() EncodingHint { return r.defaultEnc }

// Freeze finalizes the registry, building the field-id secondary index.
// After Freeze, Register returns an error and Query/FieldByID become safe
// to call concurrently from multiple reader sessions.
func (r *SchemaRegistry) Freeze() error {
	if r.frozen {
		return nil
	}
	r.byFieldID = make(map[string]map[int]*FieldDef)
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := r.byName[name]
		idx := make(map[int]*FieldDef)
		for i := range def.Fields {
			f := &def.Fields[i]
			if f.HasID {
				if _, dup := idx[f.FieldID]; dup {
					return newErr(KindSchema, 0, -1, name, "duplicate field id within class", nil)
				}
				idx[f.FieldID] = f
			}
		}
		r.byFieldID[name] = idx
	}
	r.frozen = true
	return nil
}

// Frozen reports whether Freeze has been called.
func (r *SchemaRegistry) Frozen() bool { return r.frozen }

// Query looks up a schema by class name.
func (r *SchemaRegistry) Query(className string) (*SchemaDef, bool) {
	d, ok := r.byName[className]
	return d, ok
}

// ByTemplateID looks up a schema by its SBE template id.
func (r *SchemaRegistry) ByTemplateID(id uint16) (*SchemaDef, bool) {
	d, ok := r.byTemplateID[id]
	return d, ok
}

// FieldByID looks up a field within className by its compact-tagged field
// id. Returns ok=false when the class or field id is unknown.
func (r *SchemaRegistry) FieldByID(className string, id int) (*FieldDef, bool) {
	cls, ok := r.byFieldID[className]
	if !ok {
		return nil, false
	}
	f, ok := cls[id]
	return f, ok
}
