// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package cq4core

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"
)

func TestDecompressMetadataBlobPassthrough(t *testing.T) {
	raw := []byte("not compressed, just a framed header document")
	out, err := decompressMetadataBlob(raw)
	require.NoError(t, err)
	require.Equal(t, raw, out)
}

// TestDecompressMetadataBlobZstdRoundTrip exercises the zstd-compressed
// .cq4t metadata round trip named explicitly as a property to cover.
func TestDecompressMetadataBlobZstdRoundTrip(t *testing.T) {
	want := EncodeDocument(&Message{Fields: []Field{
		{Name: "rollCycle", Value: TextValue("DAILY"), DeclaredType: "string"},
	}})

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(want)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out, err := decompressMetadataBlob(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, want, out)
}

func TestDecompressMetadataBlobLZ4RoundTrip(t *testing.T) {
	want := EncodeDocument(&Message{Fields: []Field{
		{Name: "sourceId", Value: Int64Value(1), DeclaredType: "int64"},
	}})

	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, err := w.Write(want)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out, err := decompressMetadataBlob(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, want, out)
}
