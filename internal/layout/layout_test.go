package layout

import (
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *Table {
	return &Table{
		Types: map[string]Entry{
			"%struct.point": {Size: 64, Hash: "abc", FuzzFriendly: true},
			"%struct.ctx":   {Size: 128, Hash: "def", FuzzFriendly: false},
		},
		Structs: map[string]string{
			"Point":  "%struct.point",
			"Ctx":    "%struct.ctx",
			"Opaque": "%struct.opaque",
			"Mode":   "%enum.mode",
			"Handle": "%struct.h*",
		},
		Incomplete: []string{"%struct.opaque"},
		Enums:      []string{"Mode"},
	}
}

func sampleLayout(t *testing.T) *DataLayout {
	t.Helper()
	dl := New()
	require.NoError(t, dl.Setup(sampleTable(), []Use{
		{Token: "Point *", Flag: "ref", Size: 64},
		{Token: "Ctx **", Flag: "ref", Size: 64},
		{Token: "Opaque *", Flag: "ref", Size: 64},
		{Token: "Mode", Flag: "val", Size: 32},
		{Token: "int (*)(void *)", Flag: "fun", Size: 64},
	}))
	return dl
}

func TestInferTypeSize(t *testing.T) {
	cases := map[string]int{
		"char*":              64,
		"int":                32,
		"unsigned long long": 64,
		"uint16_t":           16,
		"void":               0,
		"bool":               8,
		"int (int)":          0,
	}
	for tok, want := range cases {
		got, err := InferTypeSize(tok)
		require.NoError(t, err, tok)
		assert.Equal(t, want, got, tok)

		again, _ := InferTypeSize(tok)
		assert.Equal(t, got, again, "idempotent for %s", tok)
	}

	_, err := InferTypeSize("Ctx")
	assert.ErrorIs(t, err, ErrSizeUnknown)
}

func TestQueriesBeforeSetup(t *testing.T) {
	dl := New()

	_, err := dl.TypeSize("Ctx")
	assert.ErrorIs(t, err, ErrNotInitialized)

	// primitives never need the table
	bits, err := dl.TypeSize("int")
	require.NoError(t, err)
	assert.Equal(t, 32, bits)

	assert.PanicsWithValue(t, ErrNotInitialized, func() { dl.IsStruct("Ctx") })
	assert.PanicsWithValue(t, ErrNotInitialized, func() { dl.IsIncomplete("Ctx") })
}

func TestSetupSizes(t *testing.T) {
	dl := sampleLayout(t)

	got, err := dl.TypeSize("Point")
	require.NoError(t, err)
	assert.Equal(t, 64, got)

	got, err = dl.TypeSize("Ctx")
	require.NoError(t, err)
	assert.Equal(t, 128, got)

	got, err = dl.TypeSize("Opaque")
	require.NoError(t, err)
	assert.Equal(t, 0, got, "incomplete types have no size")

	_, err = dl.TypeSize("Never")
	assert.ErrorIs(t, err, ErrSizeUnknown)
}

func TestClassification(t *testing.T) {
	dl := sampleLayout(t)

	assert.True(t, dl.IsStruct("Point"))
	assert.True(t, dl.IsFuzzFriendly("Point"))
	assert.False(t, dl.IsFuzzFriendly("Ctx"))
	assert.False(t, dl.IsStruct("Mode"), "enums are not structs")
	assert.True(t, dl.IsEnum("Mode"))
	assert.False(t, dl.IsStruct("Handle"), "pointer aliases are not structs")
	assert.True(t, dl.IsPrimitive("int"))

	assert.True(t, dl.IsIncomplete("Opaque"))
	assert.True(t, dl.IsIncomplete("void"))
	assert.False(t, dl.IsIncomplete("Point"))
	assert.True(t, dl.HasIncompleteTypes())
	assert.False(t, dl.HasUserDefinedInit("Point"))
}

func TestParseLayoutLines(t *testing.T) {
	in := "struct.point 64 abc 1\nstruct.anon 32 <random> 0\n\n"
	got, err := ParseLayoutLines(strings.NewReader(in), rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	require.Contains(t, got, "%struct.point")
	assert.Equal(t, Entry{Size: 64, Hash: "abc", FuzzFriendly: true}, got["%struct.point"])

	anon := got["%struct.anon"]
	assert.Len(t, anon.Hash, 20)
	assert.False(t, anon.FuzzFriendly)

	// same seed, same hash
	again, err := ParseLayoutLines(strings.NewReader(in), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, anon.Hash, again["%struct.anon"].Hash)

	_, err = ParseLayoutLines(strings.NewReader("bad line\n"), rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestParseNameList(t *testing.T) {
	got, err := ParseNameList(strings.NewReader("%struct.a\n\n  %struct.b \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"%struct.a", "%struct.b"}, got)
}

func TestTableRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, sampleTable().Save(path))

	loaded, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, sampleTable().Structs, loaded.Structs)
	assert.Equal(t, sampleTable().Types["%struct.point"], loaded.Types["%struct.point"])
}

func TestSizeAndStringTypes(t *testing.T) {
	assert.True(t, IsSizeType("size_t"))
	assert.False(t, IsSizeType("char"))
	assert.True(t, IsStringType("char*"))
	assert.False(t, IsStringType("char**"))
}
