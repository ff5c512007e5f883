package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driversynth/internal/catalog"
	"driversynth/internal/types"
)

func intType() *types.Type { return types.New("int", 32, false, false, types.TagPrimitive) }
func charPtr() *types.Type {
	return types.NewPointer("char*", types.New("char", 8, false, false, types.TagPrimitive), false)
}
func ctxPtr() *types.Type {
	return types.NewPointer("Ctx*", types.New("Ctx", 0, true, false, types.TagStruct), false)
}

func TestBufferLazyVariables(t *testing.T) {
	a := NewArena()
	b := a.NewBuffer("int_s0", 3, intType(), AllocStack)

	assert.Empty(t, b.Variables())

	v, err := b.At(2)
	require.NoError(t, err)
	assert.Equal(t, "int_s0_2", v.Token)
	assert.Same(t, b, v.Buffer)

	again, err := b.At(2)
	require.NoError(t, err)
	assert.Same(t, v, again, "elements are created once")

	_, err = b.At(3)
	assert.Error(t, err)

	addr, err := b.Address()
	require.NoError(t, err)
	assert.Equal(t, "int_s0_0", addr.Token)
	assert.Len(t, b.Variables(), 2)
	assert.Equal(t, 0, b.Variables()[0].Index)

	empty := a.NewBuffer("none", 0, intType(), AllocStack)
	_, err = empty.Address()
	assert.Error(t, err)
}

func TestArenaTruncate(t *testing.T) {
	a := NewArena()
	keep := a.NewBuffer("keep", 2, intType(), AllocStack)
	keep.First()

	m := a.Mark()
	drop := a.NewBuffer("drop", 1, intType(), AllocStack)
	drop.First()
	late, err := keep.At(1)
	require.NoError(t, err)

	a.Truncate(m)
	assert.Len(t, a.Buffers(), 1)
	assert.Nil(t, a.Var(late.ID))
	assert.Len(t, keep.Variables(), 1, "elements created after the mark are forgotten")
}

func TestAllocatedSize(t *testing.T) {
	a := NewArena()
	assert.Equal(t, 512*8, a.NewBuffer("s", 512, charPtr(), AllocStack).AllocatedSize())
	assert.Equal(t, 64, a.NewBuffer("h", 1, charPtr(), AllocHeap).AllocatedSize())
	assert.Equal(t, 64, a.NewBuffer("c", 1, ctxPtr(), AllocStack).AllocatedSize(), "opaque base falls back to pointer size")
	assert.Equal(t, 96, a.NewBuffer("i", 3, intType(), AllocStack).AllocatedSize())
}

func TestApiCallShapes(t *testing.T) {
	api := &catalog.Api{Name: "use_ctx", IsVararg: true}
	call := NewApiCall(api, []*types.Type{ctxPtr(), intType()}, types.New("void", 0, true, false, types.TagPrimitive))
	assert.Len(t, call.Varargs, 2)

	a := NewArena()
	ctxBuf := a.NewBuffer("Ctx_p_h0", 1, ctxPtr(), AllocHeap)
	intBuf := a.NewBuffer("int_s0", 1, intType(), AllocStack)

	err := call.SetArg(0, ctxBuf.First(), 0)
	assert.ErrorIs(t, err, ErrShape, "a pointer slot takes an address, not a variable")

	require.NoError(t, call.SetArg(0, ctxBuf.First().Address(), 0))
	require.NoError(t, call.SetArg(1, intBuf.First(), 10))
	assert.True(t, call.HasMaxValue(1))
	assert.False(t, call.HasMaxValue(0))

	assert.Error(t, call.SetArg(2, intBuf.First(), 0))
	require.NoError(t, call.SetRet(NullConstant{Type: call.RetType}))
	assert.Equal(t, "NULL", call.Slot(-1).Name())
}

func TestStatementChecks(t *testing.T) {
	a := NewArena()
	str := a.NewBuffer("char_p_s0", 512, charPtr(), AllocStack)
	num := a.NewBuffer("int_s0", 1, intType(), AllocStack)
	size := a.NewBuffer("size_t_s0", 1, types.New("size_t", 64, false, false, types.TagPrimitive), AllocStack)

	_, err := NewConstStringDecl(str, "abc.bin")
	require.NoError(t, err)
	_, err = NewConstStringDecl(num, "x")
	assert.Error(t, err)

	_, err = NewDynArrayInit(str, size.First())
	require.NoError(t, err)
	_, err = NewDynArrayInit(str, str.First())
	assert.Error(t, err, "length must be a size type")

	_, err = NewDynDblArrInit(str, size.First())
	assert.Error(t, err, "needs a double pointer")

	_, err = NewSetStringNull(str, nil)
	assert.NoError(t, err)
	_, err = NewSetStringNull(num, nil)
	assert.Error(t, err)

	_, err = NewCleanBuffer(num, "free")
	assert.Error(t, err)
	_, err = NewAssertNull(str)
	assert.NoError(t, err)

	assert.Equal(t, "BuffInit", Kind(BuffInit{Buffer: num}))
	assert.Same(t, num, BufferOf(BuffInit{Buffer: num}))
	assert.Nil(t, BufferOf(&ApiCall{}))
}

func TestFunctionStub(t *testing.T) {
	sig := types.New("int(*)(void*, __va_list_tag *)", 0, true, true, types.TagFunction)
	fp := types.NewPointer(sig.Token+"*", sig, false)
	fp.ToFunction = true

	name := StubName(sig.Token)
	assert.Len(t, name, 9)
	assert.Equal(t, name, StubName(sig.Token))

	f, err := NewFunction(name, fp)
	require.NoError(t, err)
	assert.Equal(t, "int", f.RetType)
	assert.Equal(t, "(void*,va_list)", f.ArgTypes)
	assert.Equal(t, sig.Token, f.Address().Token)
	assert.Same(t, f, f.Address().Func)

	_, err = NewFunction("x", ctxPtr())
	assert.Error(t, err)
}
