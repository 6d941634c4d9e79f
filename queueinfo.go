// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package cq4core

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression magic prefixes some CQ4 metadata-file producers write ahead
// of the framed header document, analogous to the magic-byte sniffing the
// teacher repo does for its own container signatures.
var (
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	lz4Magic  = []byte{0x04, 0x22, 0x4D, 0x18}
)

// decompressMetadataBlob transparently inflates a .cq4t metadata blob
// when it starts with a recognized zstd or lz4 frame magic, otherwise
// returns it unchanged. Metadata files are small enough that decoding the
// whole thing up front, rather than streaming, keeps this simple.
func decompressMetadataBlob(raw []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(raw, zstdMagic):
		dec, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return io.ReadAll(dec)
	case bytes.HasPrefix(raw, lz4Magic):
		r := lz4.NewReader(bytes.NewReader(raw))
		return io.ReadAll(r)
	default:
		return raw, nil
	}
}
