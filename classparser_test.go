// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

package cq4core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseClassSourceFieldsAndIDs(t *testing.T) {
	src := `
package orders;

public class Order {
    @XField(id=5)
    long id;
    String symbol;
    transient int scratch;
    static int counter;

    void touch() {
        int local = 1;
        if (local > 0) {
            local++;
        }
    }
}
`
	defs, imports, err := ParseClassSource(src)
	require.NoError(t, err)
	require.Empty(t, imports)
	require.Len(t, defs, 1)

	def := defs[0]
	require.Equal(t, "Order", def.ClassName)
	require.Len(t, def.Fields, 2) // scratch and counter excluded

	byName := map[string]FieldDef{}
	for _, f := range def.Fields {
		byName[f.Name] = f
	}
	require.Equal(t, 5, byName["id"].FieldID)
	require.NotEqual(t, 5, byName["symbol"].FieldID) // auto-assigned, skipping 5
}

func TestParseClassSourceNestedClass(t *testing.T) {
	src := `
public class Outer {
    long a;
    public static class Inner {
        String b;
    }
}
`
	defs, _, err := ParseClassSource(src)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Len(t, defs[0].Inner, 1)
	require.Equal(t, "Inner", defs[0].Inner[0].ClassName)
	require.Equal(t, "b", defs[0].Inner[0].Fields[0].Name)
}

func TestParseClassSourceSbeAnnotationEscalatesEncoding(t *testing.T) {
	src := `
public class Quote {
    @SbeField(offset=0, length=8)
    long price;
}
`
	defs, _, err := ParseClassSource(src)
	require.NoError(t, err)
	require.Equal(t, EncodingSBE, defs[0].Encoding)
	require.True(t, defs[0].Fields[0].HasSBE)
	require.Equal(t, 0, defs[0].Fields[0].SBEOffset)
	require.Equal(t, 8, defs[0].Fields[0].SBELength)
}

func TestParseClassSourceCompactTaggedImportDetection(t *testing.T) {
	src := `
package orders;
import com.example.compacttagged.Codec;

public class Order {
    long id;
}
`
	defs, _, err := ParseClassSource(src)
	require.NoError(t, err)
	require.Equal(t, EncodingCompactTagged, defs[0].Encoding)
}

func TestParseClassSourceStripsCommentsAndLiterals(t *testing.T) {
	src := `
public class Weird {
    // a field named like a keyword: class
    String note = "contains; a semicolon and a { brace";
    /* block comment with a }
       fake closing brace */
    long id;
}
`
	defs, _, err := ParseClassSource(src)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	names := []string{}
	for _, f := range defs[0].Fields {
		names = append(names, f.Name)
	}
	require.ElementsMatch(t, []string{"note", "id"}, names)
}
