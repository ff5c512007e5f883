package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeIdentity(t *testing.T) {
	a := New("Ctx", 0, true, false, TagStruct)
	b := New("Ctx", 128, false, true, TagStruct)
	assert.True(t, a.Equal(b), "size, const and completeness are not part of identity")

	p := NewPointer("Ctx*", a, false)
	assert.False(t, p.Equal(a))
	assert.Equal(t, Key{Token: "Ctx*", Tag: TagPrimitive, Pointer: true}, p.Key())

	scalar := New("Ctx*", 64, false, false, TagPrimitive)
	assert.False(t, p.Equal(scalar), "pointer-ness is part of identity")
}

func TestPointerChain(t *testing.T) {
	base := New("char", 8, false, true, TagPrimitive)
	lvl1 := NewPointer("char*", base, false)
	lvl2 := NewPointer("char**", lvl1, true)

	require.Equal(t, 2, lvl2.PointerLevel())
	assert.True(t, lvl2.IsPointerLevel(2))
	assert.Same(t, base, lvl2.BaseType())
	assert.Same(t, lvl1, lvl2.PointeeType())
	assert.Equal(t, []bool{true, false, true}, lvl2.AllConsts())
	assert.True(t, lvl2.AnyConst())
	assert.Equal(t, PointerSize, lvl2.Size)
	assert.Equal(t, "PointerType(name=char**,cons=101)", lvl2.String())
}

func TestBaseTypeOfScalar(t *testing.T) {
	i := New("int", 32, false, false, 0)
	assert.Same(t, i, i.BaseType())
	assert.Equal(t, 0, i.PointerLevel())
	assert.Equal(t, TagPrimitive, i.Tag)
	assert.False(t, i.AnyConst())
}

func TestCleanToken(t *testing.T) {
	assert.Equal(t, "unsignedchar", CleanToken("unsigned char **"))
	assert.Equal(t, "Ctx", CleanToken("Ctx *"))
}

func TestIsVoid(t *testing.T) {
	v := New("void", 0, true, false, TagPrimitive)
	assert.True(t, v.IsVoid())
	assert.False(t, NewPointer("void*", v, false).IsVoid())
}
