// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package cq4core

import (
	"encoding/binary"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/chanchunyinjohnny/cq4core/log"
)

// CQ4 file header layout. A .cq4/.cq4t file begins with a fixed-signature
// self-describing document; the core verifies the signature and extracts
// the roll-cycle metadata it needs (start index, epoch, source id) while
// skipping the index-to-index offset table, which random access never
// requires here.
const (
	cq4HeaderSignature = "CQ4T"
	cq4HeaderMinSize   = 4

	// excerptHeaderSize is the 4-byte length-and-flag word preceding every
	// excerpt payload.
	excerptHeaderSize = 4

	flagReady    = uint32(1) << 31
	flagMetadata = uint32(1) << 30
	flagPadding  = uint32(1) << 29
	lengthMask   = uint32(0x3FFFFFFF)
)

// QueueInfo carries the roll-cycle metadata extracted from a CQ4 header
// document, refined by the companion .cq4t metadata file when present.
type QueueInfo struct {
	StartIndex int64
	RollCycle  string
	Epoch      int64
	SourceID   int64
}

// Options configures a ReaderSession, mirroring the teacher's Options/File
// split: a value type passed once at construction, immutable thereafter.
type Options struct {
	// EncodingOverride forces a decoder choice instead of auto-detection.
	// Zero value is "auto".
	EncodingOverride EncodingHint

	// MaxNestingDepth bounds self-describing document recursion. Zero
	// means DefaultMaxNestingDepth.
	MaxNestingDepth int

	// IncludeMetadata, when true, makes Iter yield metadata excerpts too.
	IncludeMetadata bool

	// Strict, when true, makes unknown type codes and unknown field ids
	// fatal instead of recoverable.
	Strict bool

	// Registry optionally supplies pre-loaded schemas for SBE / compact
	// tagged decoding. Nil means only the self-describing wire is usable.
	Registry *SchemaRegistry

	// Logger receives load-time diagnostics (companion metadata file
	// failures). The core never logs on the per-excerpt decode path (see
	// §7). A nil Logger gets a no-op helper.
	Logger log.Logger
}

func (o *Options) logger() *log.Helper {
	if o == nil || o.Logger == nil {
		return log.NewHelper(nil)
	}
	return log.NewHelper(o.Logger)
}

func (o *Options) maxDepth() int {
	if o == nil || o.MaxNestingDepth <= 0 {
		return DefaultMaxNestingDepth
	}
	return o.MaxNestingDepth
}

// ReaderSession owns one memory-mapped CQ4 file and one cursor. It is not
// safe for concurrent use; open independent sessions for concurrent
// iteration over the same file (§5).
type ReaderSession struct {
	f       *os.File
	data    mmap.MMap
	rawData []byte
	size    int64
	opts    *Options
	info    QueueInfo
	closed  bool

	dispatcher *DecoderDispatcher
	logger     *log.Helper
}

// Open memory-maps path and parses its header document. A companion
// ".cq4t" metadata file, if present alongside path, is opened too and
// merged into QueueInfo; its absence is not an error (§6).
func Open(path string, opts *Options) (*ReaderSession, error) {
	if opts == nil {
		opts = &Options{}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, newErr(KindIO, 0, -1, "", "cannot open CQ4 file", err)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, newErr(KindIO, 0, -1, "", "cannot memory-map CQ4 file", err)
	}

	s := &ReaderSession{
		f:      f,
		data:   data,
		size:   int64(len(data)),
		opts:   opts,
		logger: opts.logger(),
	}

	info, err := s.parseHeader(s.data)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.info = info

	if metaPath := metadataSiblingPath(path); metaPath != "" {
		if metaInfo, ok := s.tryParseMetadataFile(metaPath); ok {
			// StartIndex stays the data file's own; the other fields are
			// taken from the metadata file wherever it sets them.
			if metaInfo.RollCycle != "" {
				s.info.RollCycle = metaInfo.RollCycle
			}
			if metaInfo.Epoch != 0 {
				s.info.Epoch = metaInfo.Epoch
			}
			if metaInfo.SourceID != 0 {
				s.info.SourceID = metaInfo.SourceID
			}
		}
	}

	s.dispatcher = NewDecoderDispatcher(opts.Registry, opts.EncodingOverride, opts.maxDepth(), opts.Strict)
	return s, nil
}

// OpenBytes builds a ReaderSession over an in-memory buffer instead of a
// mapped file, for tests and embedding callers.
func OpenBytes(data []byte, opts *Options) (*ReaderSession, error) {
	if opts == nil {
		opts = &Options{}
	}
	s := &ReaderSession{size: int64(len(data)), opts: opts, logger: opts.logger()}
	info, err := s.parseHeader(data)
	if err != nil {
		return nil, err
	}
	s.info = info
	s.rawData = data
	s.dispatcher = NewDecoderDispatcher(opts.Registry, opts.EncodingOverride, opts.maxDepth(), opts.Strict)
	return s, nil
}

func (s *ReaderSession) bytes() []byte {
	if s.data != nil {
		return s.data
	}
	return s.rawData
}

func metadataSiblingPath(dataPath string) string {
	n := len(dataPath)
	if n >= 4 && dataPath[n-4:] == ".cq4" {
		return dataPath[:n-4] + ".cq4t"
	}
	return ""
}

func (s *ReaderSession) tryParseMetadataFile(path string) (QueueInfo, bool) {
	f, err := os.Open(path)
	if err != nil {
		return QueueInfo{}, false
	}
	defer f.Close()
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return QueueInfo{}, false
	}
	defer data.Unmap()

	raw, err := decompressMetadataBlob(data)
	if err != nil {
		s.logger.Errorf("metadata decompression failed for %s: %v", path, err)
		return QueueInfo{}, false
	}

	info, err := s.parseHeader(raw)
	if err != nil {
		s.logger.Errorf("metadata header parse failed for %s: %v", path, err)
		return QueueInfo{}, false
	}
	return info, true
}

// parseHeader verifies the fixed signature at offset 0 of buf and decodes
// the header document's roll-cycle fields via the self-describing wire.
func (s *ReaderSession) parseHeader(buf []byte) (QueueInfo, error) {
	if len(buf) < cq4HeaderMinSize {
		return QueueInfo{}, newErr(KindFormat, 0, -1, "", "file too small for CQ4 header", ErrUnreadableHeader)
	}
	if string(buf[:len(cq4HeaderSignature)]) != cq4HeaderSignature {
		return QueueInfo{}, newErr(KindFormat, 0, -1, "", "CQ4 header signature mismatch", ErrUnreadableHeader)
	}

	headerLen, _, _, ready, err := readExcerptHeaderWord(buf, int64(len(cq4HeaderSignature)))
	if err != nil || !ready {
		// A queue with no header document yet (freshly rolled, empty)
		// still has a valid signature; fall back to zero-value info.
		return QueueInfo{}, nil
	}
	start := int64(len(cq4HeaderSignature)) + excerptHeaderSize
	end := start + int64(headerLen)
	if end > int64(len(buf)) {
		return QueueInfo{}, newErr(KindFormat, start, -1, "", "CQ4 header document truncated", ErrUnreadableHeader)
	}

	wr := NewWireReader(DefaultMaxNestingDepth, true)
	doc, err := wr.ReadDocument(buf[start:end])
	if err != nil {
		return QueueInfo{}, newErr(KindFormat, start, 0, "", "CQ4 header document malformed", err)
	}

	info := QueueInfo{RollCycle: "DAILY"}
	for _, f := range doc.Fields {
		switch f.Name {
		case "startIndex", "firstIndex":
			info.StartIndex = asInt64(f.Value)
		case "epoch":
			info.Epoch = asInt64(f.Value)
		case "sourceId":
			info.SourceID = asInt64(f.Value)
		case "rollCycle":
			if f.Value.Tag == TagText {
				info.RollCycle = f.Value.Text
			}
		}
	}
	return info, nil
}

func asInt64(v Value) int64 {
	switch v.Tag {
	case TagInt64:
		return v.Int64
	case TagUInt64:
		return int64(v.UInt64)
	default:
		return 0
	}
}

// readExcerptHeaderWord decodes the 4-byte length-and-flag word at
// byteOffset, returning (payloadLen, isMetadata, isPadding, ready).
func readExcerptHeaderWord(buf []byte, byteOffset int64) (uint32, bool, bool, bool, error) {
	if byteOffset < 0 || byteOffset+excerptHeaderSize > int64(len(buf)) {
		return 0, false, false, false, ErrOutsideBoundary
	}
	word := binary.LittleEndian.Uint32(buf[byteOffset : byteOffset+4])
	ready := word&flagReady != 0
	isMeta := word&flagMetadata != 0
	isPad := word&flagPadding != 0
	length := word & lengthMask
	return length, isMeta, isPad, ready, nil
}

// roundUp4 rounds n up to the next multiple of 4, as the excerpt alignment
// rule requires.
func roundUp4(n int64) int64 {
	return (n + 3) &^ 3
}

// isAllZero reports whether every byte of b is zero, used to validate
// padding excerpts in strict mode.
func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Excerpt is one yielded element of Iter: an index, absolute file offset,
// kind, and the raw payload slice (borrowed; copy before the session is
// closed if it must outlive the call).
type Excerpt struct {
	Index          int64
	AbsoluteOffset int64
	Kind           Kind
	Payload        []byte
}

// Iter walks the excerpts in file order starting right after the header
// document, applying alignment and padding rules, through a pull-based
// ExcerptIterator driven by repeated calls to Next.
func (s *ReaderSession) Iter(includeMetadata bool) *ExcerptIterator {
	start := int64(len(cq4HeaderSignature))
	if hdrLen, _, _, ready, err := readExcerptHeaderWord(s.bytes(), start); err == nil && ready {
		start += excerptHeaderSize + roundUp4(int64(hdrLen))
	}
	return &ExcerptIterator{
		session:         s,
		pos:             start,
		nextIndex:       s.info.StartIndex,
		includeMetadata: includeMetadata,
	}
}

// ExcerptIterator is the pull-based cursor Iter returns.
type ExcerptIterator struct {
	session         *ReaderSession
	pos             int64
	nextIndex       int64
	includeMetadata bool
	done            bool
	err             error
}

// Next advances the iterator, returning (excerpt, true) or a zero value and
// false at end of stream or on error (check Err after a false return).
func (it *ExcerptIterator) Next() (Excerpt, bool) {
	for {
		if it.session.closed {
			it.err = ErrSessionClosed
			it.done = true
			return Excerpt{}, false
		}
		if it.done {
			return Excerpt{}, false
		}
		buf := it.session.bytes()
		length, isMeta, isPad, ready, err := readExcerptHeaderWord(buf, it.pos)
		if err != nil {
			// Ran past EOF mid-iteration: either a clean end (no more
			// header fits) or genuine misalignment; treat both as a
			// clean stop per §4.4's "terminate cleanly" framing, unless
			// we're strictly inside the mapped region with room for a
			// header but garbage flags, which the length-mask boundary
			// check above already screens for structurally.
			it.done = true
			return Excerpt{}, false
		}
		if !ready {
			it.done = true
			return Excerpt{}, false
		}

		payloadStart := it.pos + excerptHeaderSize
		payloadEnd := payloadStart + int64(length)
		if payloadEnd > int64(len(buf)) {
			it.err = newErr(KindFormat, it.pos, -1, "", "excerpt length drives cursor past EOF", ErrMisalignedExcerpt)
			it.done = true
			return Excerpt{}, false
		}

		if isPad {
			if it.session.opts != nil && it.session.opts.Strict && !isAllZero(buf[payloadStart:payloadEnd]) {
				it.err = newErr(KindFormat, it.pos, -1, "", "non-zero padding bytes", nil)
				it.done = true
				return Excerpt{}, false
			}
			it.pos = payloadStart + roundUp4(int64(length))
			continue
		}

		kind := Data
		if isMeta {
			kind = Metadata
		}

		var idx int64
		if kind == Data {
			idx = it.nextIndex
			it.nextIndex++
		}

		ex := Excerpt{
			Index:          idx,
			AbsoluteOffset: it.pos,
			Kind:           kind,
			Payload:        buf[payloadStart:payloadEnd],
		}
		it.pos = payloadStart + roundUp4(int64(length))

		if kind == Metadata && !it.includeMetadata {
			continue
		}
		return ex, true
	}
}

// Err returns the error, if any, that stopped iteration early.
func (it *ExcerptIterator) Err() error { return it.err }

// Decode runs the DecoderDispatcher over one excerpt's payload, producing
// a Message. It is a convenience wrapper most callers will use instead of
// driving WireReader/SBEDecoder/CompactTaggedDecoder directly.
func (s *ReaderSession) Decode(ex Excerpt) (*Message, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	msg, err := s.dispatcher.Decode(ex.Payload)
	if msg != nil {
		msg.Index = ex.Index
		msg.AbsoluteOffset = ex.AbsoluteOffset
		msg.Kind = ex.Kind
	}
	return msg, err
}

// QueueInfo returns the roll-cycle metadata extracted at Open time.
func (s *ReaderSession) QueueInfo() QueueInfo { return s.info }

// Close drops the memory mapping. Afterwards Decode, and Next on any
// iterator of the session, return ErrSessionClosed; a repeated Close
// returns nil.
func (s *ReaderSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.data != nil {
		err = s.data.Unmap()
	}
	if s.f != nil {
		if cerr := s.f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
