// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package cq4core

import (
	"encoding/binary"
	"path/filepath"

	"golang.org/x/text/encoding/unicode"
)

// Compiled class-file format constants (JVM spec §4.1, §4.4).
const (
	classMagic = 0xCAFEBABE

	cpUTF8               = 1
	cpInteger            = 3
	cpFloat              = 4
	cpLong               = 5
	cpDouble             = 6
	cpClass              = 7
	cpString             = 8
	cpFieldref           = 9
	cpMethodref          = 10
	cpInterfaceMethodref = 11
	cpNameAndType        = 12
	cpMethodHandle       = 15
	cpMethodType         = 16
	cpDynamic            = 17
	cpInvokeDynamic      = 18
	cpModule             = 19
	cpPackage            = 20

	accStatic    = 0x0008
	accTransient = 0x0080
	accSynthetic = 0x1000
)

// cpEntry is one constant-pool slot, holding only what bytecodeparser
// needs (UTF-8 strings and resolved integer constants); other tags are
// skipped by size but not interpreted.
type cpEntry struct {
	tag     byte
	utf8    string
	intVal  int32
	idx1    uint16
	idx2    uint16
	isWide  bool // Long/Double occupy two pool slots
}

type classCursor struct {
	buf []byte
	pos int
}

func (c *classCursor) u1() (byte, error) {
	if c.pos+1 > len(c.buf) {
		return 0, ErrTruncated
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *classCursor) u2() (uint16, error) {
	if c.pos+2 > len(c.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *classCursor) u4() (uint32, error) {
	if c.pos+4 > len(c.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *classCursor) skip(n int) error {
	if c.pos+n > len(c.buf) {
		return ErrTruncated
	}
	c.pos += n
	return nil
}

func (c *classCursor) bytes(n int) ([]byte, error) {
	if c.pos+n > len(c.buf) {
		return nil, ErrTruncated
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// ParseClassBytecode extracts a SchemaDef from one compiled .class file's
// bytes, plus the names of any inner classes it references (so a
// directory-mode caller can load the sibling .class files).
func ParseClassBytecode(data []byte) (*SchemaDef, []string, error) {
	c := &classCursor{buf: data}
	magic, err := c.u4()
	if err != nil || magic != classMagic {
		return nil, nil, newErr(KindSchema, 0, -1, "", "not a compiled class file", ErrMalformedHeader)
	}
	if _, err := c.u2(); err != nil { // minor_version
		return nil, nil, err
	}
	if _, err := c.u2(); err != nil { // major_version
		return nil, nil, err
	}

	pool, err := readConstantPool(c)
	if err != nil {
		return nil, nil, err
	}

	if _, err := c.u2(); err != nil { // access_flags
		return nil, nil, err
	}
	thisClass, err := c.u2()
	if err != nil {
		return nil, nil, err
	}
	if _, err := c.u2(); err != nil { // super_class
		return nil, nil, err
	}

	ifaceCount, err := c.u2()
	if err != nil {
		return nil, nil, err
	}
	if err := c.skip(int(ifaceCount) * 2); err != nil {
		return nil, nil, err
	}

	def := &SchemaDef{ClassName: resolveClassName(pool, thisClass)}

	fieldsCount, err := c.u2()
	if err != nil {
		return nil, nil, err
	}
	for i := 0; i < int(fieldsCount); i++ {
		fd, err := readFieldInfo(c, pool)
		if err != nil {
			return nil, nil, err
		}
		if fd != nil {
			def.Fields = append(def.Fields, *fd)
		}
	}
	assignCompactTaggedIDs(def)

	methodsCount, err := c.u2()
	if err != nil {
		return nil, nil, err
	}
	for i := 0; i < int(methodsCount); i++ {
		if err := skipMemberAttributes(c); err != nil {
			return nil, nil, err
		}
	}

	var innerNames []string
	classAttrCount, err := c.u2()
	if err != nil {
		return nil, nil, err
	}
	for i := 0; i < int(classAttrCount); i++ {
		nameIdx, err := c.u2()
		if err != nil {
			return nil, nil, err
		}
		length, err := c.u4()
		if err != nil {
			return nil, nil, err
		}
		body, err := c.bytes(int(length))
		if err != nil {
			return nil, nil, err
		}
		if attrName(pool, nameIdx) == "InnerClasses" {
			innerNames = parseInnerClasses(body, pool, def.ClassName)
		}
	}

	return def, innerNames, nil
}

func readConstantPool(c *classCursor) ([]cpEntry, error) {
	count, err := c.u2()
	if err != nil {
		return nil, err
	}
	pool := make([]cpEntry, count) // 1-based; pool[0] unused
	for i := 1; i < int(count); i++ {
		tag, err := c.u1()
		if err != nil {
			return nil, err
		}
		e := cpEntry{tag: tag}
		switch tag {
		case cpUTF8:
			length, err := c.u2()
			if err != nil {
				return nil, err
			}
			raw, err := c.bytes(int(length))
			if err != nil {
				return nil, err
			}
			s, err := modifiedUTF8ToUTF8(raw)
			if err != nil {
				return nil, err
			}
			e.utf8 = s
		case cpInteger:
			v, err := c.u4()
			if err != nil {
				return nil, err
			}
			e.intVal = int32(v)
		case cpFloat:
			if _, err := c.u4(); err != nil {
				return nil, err
			}
		case cpLong, cpDouble:
			if err := c.skip(8); err != nil {
				return nil, err
			}
			e.isWide = true
		case cpClass, cpString, cpMethodType, cpModule, cpPackage:
			idx, err := c.u2()
			if err != nil {
				return nil, err
			}
			e.idx1 = idx
		case cpFieldref, cpMethodref, cpInterfaceMethodref, cpNameAndType, cpDynamic, cpInvokeDynamic:
			idx1, err := c.u2()
			if err != nil {
				return nil, err
			}
			idx2, err := c.u2()
			if err != nil {
				return nil, err
			}
			e.idx1, e.idx2 = idx1, idx2
		case cpMethodHandle:
			if _, err := c.u1(); err != nil {
				return nil, err
			}
			idx, err := c.u2()
			if err != nil {
				return nil, err
			}
			e.idx1 = idx
		default:
			return nil, newErr(KindSchema, c.pos, -1, "", "unknown constant pool tag", ErrMalformedHeader)
		}
		pool[i] = e
		if e.isWide {
			i++ // Long/Double entries occupy two consecutive pool indices.
		}
	}
	return pool, nil
}

func resolveClassName(pool []cpEntry, classIdx uint16) string {
	if int(classIdx) >= len(pool) {
		return ""
	}
	nameIdx := pool[classIdx].idx1
	if int(nameIdx) >= len(pool) {
		return ""
	}
	name := pool[nameIdx].utf8
	// Internal form uses '/' as the package separator; normalize to the
	// dotted form ClassDefinitionParser produces from source.
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			out[i] = '.'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}

func attrName(pool []cpEntry, idx uint16) string {
	if int(idx) >= len(pool) {
		return ""
	}
	return pool[idx].utf8
}

func readFieldInfo(c *classCursor, pool []cpEntry) (*FieldDef, error) {
	accessFlags, err := c.u2()
	if err != nil {
		return nil, err
	}
	nameIdx, err := c.u2()
	if err != nil {
		return nil, err
	}
	descIdx, err := c.u2()
	if err != nil {
		return nil, err
	}
	attrCount, err := c.u2()
	if err != nil {
		return nil, err
	}

	fd := &FieldDef{
		Name:         attrName(pool, nameIdx),
		DeclaredType: descriptorToType(attrName(pool, descIdx)),
		Annotations:  make(map[string]bool),
	}
	excluded := accessFlags&(accStatic|accTransient|accSynthetic) != 0

	for i := 0; i < int(attrCount); i++ {
		aNameIdx, err := c.u2()
		if err != nil {
			return nil, err
		}
		length, err := c.u4()
		if err != nil {
			return nil, err
		}
		body, err := c.bytes(int(length))
		if err != nil {
			return nil, err
		}
		name := attrName(pool, aNameIdx)
		if name == "RuntimeVisibleAnnotations" || name == "RuntimeInvisibleAnnotations" {
			applyAnnotationAttribute(body, pool, fd)
		}
	}

	if excluded {
		return nil, nil
	}
	return fd, nil
}

// descriptorToType turns a JVM field descriptor (e.g. "I", "Ljava/lang/
// String;") into the same declared-type spelling the source parser would
// have produced, so both paths feed SchemaRegistry consistently.
func descriptorToType(desc string) string {
	if desc == "" {
		return ""
	}
	switch desc[0] {
	case 'I':
		return "int"
	case 'J':
		return "long"
	case 'D':
		return "double"
	case 'F':
		return "float"
	case 'Z':
		return "boolean"
	case 'B':
		return "byte"
	case 'S':
		return "short"
	case 'C':
		return "char"
	case '[':
		return descriptorToType(desc[1:]) + "[]"
	case 'L':
		inner := desc[1 : len(desc)-1]
		out := make([]byte, len(inner))
		for i := range inner {
			if inner[i] == '/' {
				out[i] = '.'
			} else {
				out[i] = inner[i]
			}
		}
		return string(out)
	default:
		return desc
	}
}

// applyAnnotationAttribute reads a minimal subset of the JVM annotation
// attribute structure: enough to pull integer-valued "id", "offset" and
// "length" element-value pairs out of @XField/@SbeField-shaped
// annotations, which is all the schema model needs.
func applyAnnotationAttribute(body []byte, pool []cpEntry, fd *FieldDef) {
	c := &classCursor{buf: body}
	numAnns, err := c.u2()
	if err != nil {
		return
	}
	for i := 0; i < int(numAnns); i++ {
		typeIdx, err := c.u2()
		if err != nil {
			return
		}
		annType := descriptorToType(attrName(pool, typeIdx))
		short := lastSegment(annType)
		numPairs, err := c.u2()
		if err != nil {
			return
		}
		values := make(map[string]int)
		for j := 0; j < int(numPairs); j++ {
			elemNameIdx, err := c.u2()
			if err != nil {
				return
			}
			elemName := attrName(pool, elemNameIdx)
			tag, err := c.u1()
			if err != nil {
				return
			}
			if tag == 'I' {
				constIdx, err := c.u2()
				if err != nil {
					return
				}
				if int(constIdx) < len(pool) {
					values[elemName] = int(pool[constIdx].intVal)
				}
				continue
			}
			// Non-integer element values (strings, enums, nested
			// annotations, arrays) aren't needed for id/offset/length
			// hints: enum-valued entries ('e') carry two pool indices and
			// are skipped by 4 bytes, every other tag by the 2 bytes of a
			// single index.
			if tag == 'e' {
				c.skip(4)
			} else {
				c.skip(2)
			}
		}
		if short == "XField" {
			if id, ok := values["id"]; ok {
				fd.FieldID = id
				fd.HasID = true
			}
			fd.Annotations["XField"] = true
		}
		if short == "SbeField" {
			fd.HasSBE = true
			fd.SBEOffset = values["offset"]
			fd.SBELength = values["length"]
			fd.Annotations["SbeField"] = true
		}
	}
}

func lastSegment(s string) string {
	idx := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s
	}
	return s[idx+1:]
}

func skipMemberAttributes(c *classCursor) error {
	if _, err := c.u2(); err != nil { // access_flags
		return err
	}
	if _, err := c.u2(); err != nil { // name_index
		return err
	}
	if _, err := c.u2(); err != nil { // descriptor_index
		return err
	}
	attrCount, err := c.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(attrCount); i++ {
		if _, err := c.u2(); err != nil {
			return err
		}
		length, err := c.u4()
		if err != nil {
			return err
		}
		if err := c.skip(int(length)); err != nil {
			return err
		}
	}
	return nil
}

func parseInnerClasses(body []byte, pool []cpEntry, outerName string) []string {
	c := &classCursor{buf: body}
	n, err := c.u2()
	if err != nil {
		return nil
	}
	var names []string
	for i := 0; i < int(n); i++ {
		innerClassIdx, err := c.u2()
		if err != nil {
			break
		}
		if _, err := c.u2(); err != nil { // outer_class_info_index
			break
		}
		if _, err := c.u2(); err != nil { // inner_name_index
			break
		}
		if _, err := c.u2(); err != nil { // inner_class_access_flags
			break
		}
		name := resolveClassName(pool, innerClassIdx)
		if name != "" && name != outerName {
			names = append(names, name)
		}
	}
	return names
}

// modifiedUTF8ToUTF8 decodes the JVM's Modified UTF-8 constant-pool string
// encoding (CESU-8-like: NUL as 0xC0 0x80, supplementary characters as
// surrogate pairs each spelled as an independent 3-byte sequence) into a
// standard Go string, reusing the teacher's UTF-16-transform approach
// (golang.org/x/text/encoding/unicode) generalized from little-endian to
// the big-endian code units this format decodes to.
func modifiedUTF8ToUTF8(raw []byte) (string, error) {
	var units []uint16
	i := 0
	for i < len(raw) {
		b0 := raw[i]
		switch {
		case b0&0x80 == 0:
			units = append(units, uint16(b0))
			i++
		case b0&0xE0 == 0xC0 && i+1 < len(raw):
			b1 := raw[i+1]
			units = append(units, uint16(b0&0x1F)<<6|uint16(b1&0x3F))
			i += 2
		case b0&0xF0 == 0xE0 && i+2 < len(raw):
			b1, b2 := raw[i+1], raw[i+2]
			units = append(units, uint16(b0&0x0F)<<12|uint16(b1&0x3F)<<6|uint16(b2&0x3F))
			i += 3
		default:
			return "", ErrInvalidUTF8
		}
	}
	be := make([]byte, len(units)*2)
	for idx, u := range units {
		binary.BigEndian.PutUint16(be[idx*2:], u)
	}
	dec := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	out, err := dec.Bytes(be)
	if err != nil {
		return "", ErrInvalidUTF8
	}
	return string(out), nil
}

// LoadBytecodeSiblings reads, from dir only, the sibling .class files
// named by an InnerClasses attribute, returning their parsed
// SchemaDefs keyed by class name. Missing siblings are simply absent from
// the result (not an error): bytecode without its nested classes is still
// usable for the fields it does declare.
func LoadBytecodeSiblings(dir string, innerNames []string, readFile func(string) ([]byte, error)) map[string]*SchemaDef {
	out := make(map[string]*SchemaDef)
	for _, name := range innerNames {
		simple := lastSegment(name)
		path := filepath.Join(dir, simple+".class")
		data, err := readFile(path)
		if err != nil {
			continue
		}
		def, _, err := ParseClassBytecode(data)
		if err != nil {
			continue
		}
		out[def.ClassName] = def
	}
	return out
}
