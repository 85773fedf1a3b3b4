package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{"SD":{"b.txt":{"type":"file","size":10,"lastModified":"2024-1-2 3:4:5"},` +
	`"docs":{"a.md":{"type": "file", "size": 3, "lastModified": "t"}},"empty":{}}}`

func TestParsePreservesOrder(t *testing.T) {
	tr, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Equal(t, 1, tr.Len())

	sd, ok := tr.Get("SD")
	require.True(t, ok)
	require.True(t, sd.IsDir())

	names := []string{}
	for _, e := range sd.Dir.Entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"b.txt", "docs", "empty"}, names)

	b, _ := sd.Dir.Get("b.txt")
	require.NotNil(t, b.File)
	assert.Equal(t, int64(10), b.File.Size)
	assert.Equal(t, "2024-1-2 3:4:5", b.File.LastModified)

	empty, _ := sd.Dir.Get("empty")
	require.True(t, empty.IsDir())
	assert.Equal(t, 0, empty.Dir.Len())
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"truncated": `{"SD":{`,
		"trailing":  `{"a":{}} {}`,
		"array":     `[1,2]`,
		"null":      `null`,
		"string":    `"SD"`,
		"syntax":    `{"a": nope}`,
		"empty":     ``,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestFileWithoutTypeMarker(t *testing.T) {
	tr, err := Parse([]byte(`{"a":{"size":10,"lastModified":"t"},"d":{"size":{}}}`))
	require.NoError(t, err)

	a, ok := tr.Get("a")
	require.True(t, ok)
	require.NotNil(t, a.File)
	assert.Equal(t, int64(10), a.File.Size)
	assert.Equal(t, "t", a.File.LastModified)

	d, _ := tr.Get("d")
	assert.True(t, d.IsDir(), "a size holding an object is a folder entry")
}

func TestUnusualValuesStillParse(t *testing.T) {
	doc := `{"n":1,"s":"x","l":[1],"z":null,` +
		`"f":{"type":"file","size":10.7,"lastModified":5},` +
		`"e":{"type":"file","size":2e3},` +
		`"q":{"type":"file","size":"42","lastModified":null},` +
		`"bad":{"type":"file","size":"big","extra":true},` +
		`"dir":{"type":"dir","k":1}}`
	tr, err := Parse([]byte(doc))
	require.NoError(t, err)

	names := []string{}
	for _, e := range tr.Entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"f", "e", "q", "bad", "dir"}, names)

	sizes := map[string]int64{"f": 10, "e": 2000, "q": 42, "bad": 0}
	for name, want := range sizes {
		e, _ := tr.Get(name)
		require.NotNil(t, e.File, name)
		assert.Equal(t, want, e.File.Size, name)
	}
	f, _ := tr.Get("f")
	assert.Equal(t, "5", f.File.LastModified)
	q, _ := tr.Get("q")
	assert.Empty(t, q.File.LastModified)

	dir, _ := tr.Get("dir")
	require.True(t, dir.IsDir())
	assert.Equal(t, 0, dir.Dir.Len())
}

func TestTypeKeyOnDirectoryIsNotAFile(t *testing.T) {
	tr, err := Parse([]byte(`{"d":{"type":{"x":{}}}}`))
	require.NoError(t, err)

	d, _ := tr.Get("d")
	require.True(t, d.IsDir())
	child, ok := d.Dir.Get("type")
	require.True(t, ok)
	assert.True(t, child.IsDir())
}

func TestDuplicateNameReplacesInPlace(t *testing.T) {
	tr, err := Parse([]byte(`{"a":{},"b":{},"a":{"type":"file","size":1,"lastModified":"t"}}`))
	require.NoError(t, err)
	require.Equal(t, 2, tr.Len())
	assert.Equal(t, "a", tr.Entries[0].Name)
	assert.NotNil(t, tr.Entries[0].File)
}

func TestMarshalMatchesWireShape(t *testing.T) {
	tr, err := Parse([]byte(sample))
	require.NoError(t, err)

	out, err := json.Marshal(tr)
	require.NoError(t, err)

	again, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, tr, again)
	assert.Contains(t, string(out), `"b.txt":{"type":"file","size":10`)
}
