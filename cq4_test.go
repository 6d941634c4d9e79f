// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package cq4core

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func appendExcerptWord(buf []byte, length uint32, ready, meta, pad bool) []byte {
	word := length & lengthMask
	if ready {
		word |= flagReady
	}
	if meta {
		word |= flagMetadata
	}
	if pad {
		word |= flagPadding
	}
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], word)
	return append(buf, w[:]...)
}

func appendExcerpt(buf []byte, payload []byte, meta bool) []byte {
	buf = appendExcerptWord(buf, uint32(len(payload)), true, meta, false)
	buf = append(buf, payload...)
	for int64(len(payload))%4 != 0 {
		buf = append(buf, 0)
		payload = append(payload, 0)
	}
	return buf
}

func buildCQ4(excerpts []struct {
	payload []byte
	meta    bool
}) []byte {
	header := EncodeDocument(&Message{Fields: []Field{
		{Name: "startIndex", Value: Int64Value(100), DeclaredType: "int64"},
		{Name: "epoch", Value: Int64Value(0), DeclaredType: "int64"},
		{Name: "sourceId", Value: Int64Value(1), DeclaredType: "int64"},
		{Name: "rollCycle", Value: TextValue("DAILY"), DeclaredType: "string"},
	}})

	buf := []byte(cq4HeaderSignature)
	buf = appendExcerptWord(buf, uint32(len(header)), true, false, false)
	buf = append(buf, header...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}

	for _, ex := range excerpts {
		buf = appendExcerpt(buf, ex.payload, ex.meta)
	}
	return buf
}

func TestCQ4HeaderAndIndexContiguity(t *testing.T) {
	order1 := EncodeDocument(&Message{Fields: []Field{{Name: "symbol", Value: TextValue("AAPL"), DeclaredType: "string"}}})
	order2 := EncodeDocument(&Message{Fields: []Field{{Name: "symbol", Value: TextValue("MSFT"), DeclaredType: "string"}}})

	data := buildCQ4([]struct {
		payload []byte
		meta    bool
	}{
		{payload: order1},
		{payload: order2},
	})

	session, err := OpenBytes(data, nil)
	require.NoError(t, err)
	defer session.Close()

	info := session.QueueInfo()
	require.Equal(t, int64(100), info.StartIndex)
	require.Equal(t, "DAILY", info.RollCycle)

	it := session.Iter(false)
	ex1, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, int64(100), ex1.Index)

	ex2, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, int64(101), ex2.Index)

	_, ok = it.Next()
	require.False(t, ok)
	require.NoError(t, it.Err())

	msg1, err := session.Decode(ex1)
	require.NoError(t, err)
	require.Equal(t, "AAPL", msg1.Fields[0].Value.Text)
}

func TestCQ4MetadataExcludedByDefault(t *testing.T) {
	data := buildCQ4([]struct {
		payload []byte
		meta    bool
	}{
		{payload: EncodeDocument(&Message{}), meta: true},
		{payload: EncodeDocument(&Message{Fields: []Field{{Name: "a", Value: Int64Value(1), DeclaredType: "int64"}}})},
	})

	session, err := OpenBytes(data, nil)
	require.NoError(t, err)
	defer session.Close()

	it := session.Iter(false)
	ex, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, Data, ex.Kind)
	require.Equal(t, int64(100), ex.Index)
	_, ok = it.Next()
	require.False(t, ok)

	session2, err := OpenBytes(data, nil)
	require.NoError(t, err)
	defer session2.Close()
	it2 := session2.Iter(true)
	first, ok := it2.Next()
	require.True(t, ok)
	require.Equal(t, Metadata, first.Kind)
	require.Equal(t, int64(0), first.Index)
}

func TestCQ4UnreadableHeaderSignature(t *testing.T) {
	_, err := OpenBytes([]byte("XXXX"), nil)
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, KindFormat, derr.Kind)
}

func TestCQ4SessionClosedAfterClose(t *testing.T) {
	data := buildCQ4([]struct {
		payload []byte
		meta    bool
	}{{payload: EncodeDocument(&Message{})}})
	session, err := OpenBytes(data, nil)
	require.NoError(t, err)
	require.NoError(t, session.Close())
	require.NoError(t, session.Close()) // idempotent

	it := session.Iter(false)
	_, ok := it.Next()
	require.False(t, ok)
	require.ErrorIs(t, it.Err(), ErrSessionClosed)

	_, err = session.Decode(Excerpt{})
	require.ErrorIs(t, err, ErrSessionClosed)
}
