// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package cq4core

import (
	"regexp"
	"strconv"
	"strings"
)

// compactTaggedMarker and sbeMarker are substrings of fully-qualified
// import names that identify the two schema-driven encodings; any other
// import leaves a class on the self-describing wire default (§4.5's
// encoding detection order).
const (
	compactTaggedMarker = "compacttagged"
	sbeMarker            = "sbe"
)

var (
	importRe     = regexp.MustCompile(`^\s*import\s+([\w.]+)\s*;`)
	classDeclRe  = regexp.MustCompile(`\b(?:class|interface)\s+(\w+)(?:\s+extends\s+([\w.]+))?`)
	annotationRe = regexp.MustCompile(`@(\w+)\s*\(([^)]*)\)`)
	fieldDeclRe  = regexp.MustCompile(`^([\w.<>\[\],\s]+?)\s+(\w+)\s*(?:=.*)?;\s*$`)
	methodSigRe  = regexp.MustCompile(`\w+\s*\([^;{]*\)\s*(?:throws\s+[\w.,\s]+)?\s*\{`)
)

// modifiers that exclude a field declaration from the schema, per §4.5.
var excludedModifiers = map[string]bool{
	"static": true, "transient": true, "synthetic": true,
}

// ParseClassSource extracts SchemaDefs from Java-family class-definition
// source text. Package/import statements, extends clauses, nested
// (inner/static-nested) classes, field declarations, and method bodies
// (skipped by brace matching) are all recognized.
func ParseClassSource(src string) ([]*SchemaDef, []string, error) {
	lines := splitStatements(stripCommentsAndLiterals(src))

	var imports []string
	for _, l := range lines {
		if m := importRe.FindStringSubmatch(l); m != nil {
			imports = append(imports, m[1])
		}
	}

	p := &classSourceParser{lines: lines, imports: imports}
	defs, err := p.parseTopLevel()
	if err != nil {
		return nil, imports, err
	}
	enc := detectEncodingFromImports(imports)
	assignDefaultEncoding(defs, enc, imports)
	return defs, imports, nil
}

func detectEncodingFromImports(imports []string) EncodingHint {
	for _, imp := range imports {
		low := strings.ToLower(imp)
		if strings.Contains(low, compactTaggedMarker) {
			return EncodingCompactTagged
		}
	}
	for _, imp := range imports {
		if strings.Contains(strings.ToLower(imp), sbeMarker) {
			return EncodingSBE
		}
	}
	return EncodingSelfDescribingWire
}

// assignDefaultEncoding sets each schema's Encoding, letting an explicit
// @SbeField annotation on any field escalate an otherwise-wire class to
// SBE even without a matching import (§4.5 rule 2's "OR any @SbeField
// annotation" clause).
func assignDefaultEncoding(defs []*SchemaDef, base EncodingHint, imports []string) {
	for _, d := range defs {
		enc := base
		if enc == EncodingSelfDescribingWire {
			for _, f := range d.Fields {
				if f.HasSBE {
					enc = EncodingSBE
					break
				}
			}
		}
		d.Encoding = enc
		assignDefaultEncoding(d.Inner, base, imports)
	}
}

// stripCommentsAndLiterals blanks out // and /* */ comments and the
// contents of string/char literals so brace counting and field-pattern
// matching never trip over stray braces or semicolons inside them.
func stripCommentsAndLiterals(src string) string {
	var out strings.Builder
	n := len(src)
	for i := 0; i < n; i++ {
		c := src[i]
		switch {
		case c == '/' && i+1 < n && src[i+1] == '/':
			for i < n && src[i] != '\n' {
				i++
			}
			out.WriteByte('\n')
		case c == '/' && i+1 < n && src[i+1] == '*':
			i += 2
			for i+1 < n && !(src[i] == '*' && src[i+1] == '/') {
				if src[i] == '\n' {
					out.WriteByte('\n')
				}
				i++
			}
			i++
		case c == '"':
			out.WriteByte('"')
			i++
			for i < n && src[i] != '"' {
				if src[i] == '\\' {
					i++
				}
				i++
			}
			out.WriteByte('"')
		case c == '\'':
			out.WriteByte('\'')
			i++
			for i < n && src[i] != '\'' {
				if src[i] == '\\' {
					i++
				}
				i++
			}
			out.WriteByte('\'')
		default:
			out.WriteByte(c)
		}
	}
	return out.String()
}

// splitStatements re-tokenizes the cleaned source into one "line" per
// logical unit useful to the parser: import statements, annotations,
// class/method openers, field declarations, and brace/semicolon
// punctuation, each kept as its own entry so the line-oriented regexes
// above can match whole declarations regardless of original formatting.
func splitStatements(src string) []string {
	var lines []string
	var cur strings.Builder
	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}
	for _, r := range src {
		cur.WriteRune(r)
		switch r {
		case ';', '{', '}':
			flush()
		}
	}
	flush()
	leadingAnnotation := regexp.MustCompile(`^@\w+(?:\s*\([^)]*\))?`)
	var out []string
	for _, l := range lines {
		for loc := leadingAnnotation.FindStringIndex(l); loc != nil; loc = leadingAnnotation.FindStringIndex(l) {
			out = append(out, l[:loc[1]])
			l = strings.TrimSpace(l[loc[1]:])
		}
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

type classSourceParser struct {
	lines   []string
	imports []string
	pos     int
}

func (p *classSourceParser) parseTopLevel() ([]*SchemaDef, error) {
	var defs []*SchemaDef
	var pendingAnnotations []annotation
	for p.pos < len(p.lines) {
		line := p.lines[p.pos]
		switch {
		case strings.HasSuffix(line, "}"):
			p.pos++
		case isAnnotationLine(line):
			pendingAnnotations = append(pendingAnnotations, parseAnnotations(line)...)
			p.pos++
		case classDeclRe.MatchString(line) && strings.HasSuffix(line, "{"):
			def, err := p.parseClassBody(line)
			if err != nil {
				return nil, err
			}
			defs = append(defs, def)
			pendingAnnotations = nil
		default:
			p.pos++
		}
	}
	return defs, nil
}

type annotation struct {
	name string
	args map[string]string
}

func isAnnotationLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "@")
}

func parseAnnotations(line string) []annotation {
	var out []annotation
	for _, m := range annotationRe.FindAllStringSubmatch(line, -1) {
		out = append(out, annotation{name: m[1], args: parseAnnotationArgs(m[2])})
	}
	return out
}

func parseAnnotationArgs(s string) map[string]string {
	args := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			if v := strings.TrimSpace(part); v != "" {
				args["value"] = v
			}
			continue
		}
		args[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return args
}

// parseClassBody consumes lines starting at the class declaration header
// (already matched in line) through its matching closing brace, building
// one SchemaDef. Nested class declarations recurse into Inner.
func (p *classSourceParser) parseClassBody(header string) (*SchemaDef, error) {
	m := classDeclRe.FindStringSubmatch(header)
	def := &SchemaDef{ClassName: m[1], fromSource: true}
	p.pos++ // consume the header line itself

	var pendingAnnotations []annotation
	depth := 1
	for p.pos < len(p.lines) && depth > 0 {
		line := p.lines[p.pos]

		switch {
		case line == "}":
			depth--
			p.pos++

		case isAnnotationLine(line):
			pendingAnnotations = append(pendingAnnotations, parseAnnotations(line)...)
			p.pos++

		case classDeclRe.MatchString(line) && strings.HasSuffix(line, "{"):
			inner, err := p.parseClassBody(line)
			if err != nil {
				return nil, err
			}
			def.Inner = append(def.Inner, inner)
			pendingAnnotations = nil

		case methodSigRe.MatchString(line):
			p.skipBlock()
			pendingAnnotations = nil

		case strings.HasSuffix(line, "{"):
			// Some other brace-opening construct (static initializer,
			// anonymous block): skip its body without treating it as a
			// field or class.
			p.skipBlock()
			pendingAnnotations = nil

		case strings.HasSuffix(line, ";"):
			if fd, ok := parseFieldDecl(line, pendingAnnotations); ok {
				def.Fields = append(def.Fields, fd)
			}
			pendingAnnotations = nil
			p.pos++

		default:
			p.pos++
		}
	}

	assignCompactTaggedIDs(def)
	return def, nil
}

// skipBlock advances past a brace-delimited block whose opener was the
// current line, by brace-matching rather than interpreting its contents.
func (p *classSourceParser) skipBlock() {
	depth := 1
	p.pos++
	for p.pos < len(p.lines) && depth > 0 {
		switch p.lines[p.pos] {
		case "}":
			depth--
		default:
			if strings.HasSuffix(p.lines[p.pos], "{") {
				depth++
			}
		}
		p.pos++
	}
}

func parseFieldDecl(line string, anns []annotation) (FieldDef, bool) {
	m := fieldDeclRe.FindStringSubmatch(line)
	if m == nil {
		return FieldDef{}, false
	}
	typeAndMods := strings.Fields(m[1])
	if len(typeAndMods) == 0 {
		return FieldDef{}, false
	}
	for _, tok := range typeAndMods[:len(typeAndMods)-1] {
		if excludedModifiers[tok] {
			return FieldDef{}, false
		}
	}
	declaredType := typeAndMods[len(typeAndMods)-1]
	name := m[2]

	fd := FieldDef{Name: name, DeclaredType: declaredType, Annotations: make(map[string]bool)}
	for _, a := range anns {
		fd.Annotations[a.name] = true
		switch a.name {
		case "XField":
			if id, err := strconv.Atoi(a.args["id"]); err == nil {
				fd.FieldID = id
				fd.HasID = true
			}
		case "SbeField":
			fd.HasSBE = true
			if off, err := strconv.Atoi(a.args["offset"]); err == nil {
				fd.SBEOffset = off
			}
			if ln, err := strconv.Atoi(a.args["length"]); err == nil {
				fd.SBELength = ln
			}
		}
	}
	return fd, true
}

// assignCompactTaggedIDs fills in source-order ids (starting at 1) for
// fields that carry no explicit @XField(id=N), per §4.5.
func assignCompactTaggedIDs(def *SchemaDef) {
	next := 1
	used := make(map[int]bool)
	for i := range def.Fields {
		if def.Fields[i].HasID {
			used[def.Fields[i].FieldID] = true
		}
	}
	for i := range def.Fields {
		if def.Fields[i].HasID {
			continue
		}
		for used[next] {
			next++
		}
		def.Fields[i].FieldID = next
		def.Fields[i].HasID = true
		used[next] = true
		next++
	}
}
