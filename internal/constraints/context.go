package constraints

import (
	"math/rand"
	"strconv"
	"strings"

	"driversynth/internal/ir"
	"driversynth/internal/types"
)

// PointerStrategy is how a pointer slot without other constraints is filled.
type PointerStrategy int

const (
	PointerNull PointerStrategy = iota
	PointerArray
)

// Limits bound buffer element counts.
type Limits struct {
	MaxArraySize  int
	DoublePtrSize int
}

// DefaultLimits returns 512 elements for arrays and strings, 16 for char**.
func DefaultLimits() Limits {
	return Limits{MaxArraySize: 512, DoublePtrSize: 16}
}

// Context owns the buffers of one driver and names them.
type Context struct {
	arena  *ir.Arena
	rng    *rand.Rand
	limits Limits

	counters  map[types.Key]int
	stubs     map[types.Key]*ir.Function
	stubOrder []types.Key

	PointerStrategies []PointerStrategy

	stubVoid      *types.Type
	stubCharArray *types.Type
	voidBuffer    *ir.Buffer
}

// NewContext returns a context drawing every choice from rng.
func NewContext(rng *rand.Rand, limits Limits) *Context {
	if limits.MaxArraySize <= 0 {
		limits.MaxArraySize = DefaultLimits().MaxArraySize
	}
	if limits.DoublePtrSize <= 0 {
		limits.DoublePtrSize = DefaultLimits().DoublePtrSize
	}
	c := &Context{
		arena:             ir.NewArena(),
		rng:               rng,
		limits:            limits,
		counters:          make(map[types.Key]int),
		stubs:             make(map[types.Key]*ir.Function),
		PointerStrategies: []PointerStrategy{PointerNull, PointerArray},
		stubVoid:          types.New("void", 0, true, false, types.TagPrimitive),
	}
	c.stubCharArray = types.NewPointer("char*", types.New("char", 8, false, false, types.TagPrimitive), false)
	c.voidBuffer = c.arena.NewBuffer("buff_void", 1, c.stubVoid, ir.AllocStack)
	return c
}

// Arena exposes the buffers created so far.
func (c *Context) Arena() *ir.Arena { return c.arena }

// Rand is the injected source.
func (c *Context) Rand() *rand.Rand { return c.rng }

// VoidVariable stands for a value of type void.
func (c *Context) VoidVariable() *ir.Variable { return c.voidBuffer.First() }

// NullConstant is a void null.
func (c *Context) NullConstant() ir.NullConstant { return ir.NullConstant{Type: c.stubVoid} }

// IsVoidBuffer reports the placeholder buffer.
func (c *Context) IsVoidBuffer(b *ir.Buffer) bool { return b == c.voidBuffer }

// BufferName is {token}{_p..}_{c}{h|s|g}{n}: pointer levels as p, c when
// the outer level is const, then the alloc suffix and a per-type counter.
func BufferName(t *types.Type, alloc ir.AllocType, counter int) string {
	token := t.BaseType().Token
	if i := strings.Index(token, "::"); i >= 0 {
		token = token[i+2:]
	}
	var b strings.Builder
	b.WriteString(token)
	if lvl := t.PointerLevel(); lvl > 0 {
		b.WriteByte('_')
		b.WriteString(strings.Repeat("p", lvl))
	}
	b.WriteByte('_')
	if t.Const {
		b.WriteByte('c')
	}
	b.WriteString(alloc.Suffix())
	b.WriteString(strconv.Itoa(counter))
	return strings.ReplaceAll(b.String(), " ", "")
}

// newBuffer allocates and names a buffer of n elements of t.
func (c *Context) newBuffer(t *types.Type, alloc ir.AllocType, n int) *ir.Buffer {
	k := t.Key()
	counter := c.counters[k]
	b := c.arena.NewBuffer(BufferName(t, alloc, counter), n, t, alloc)
	c.counters[k] = counter + 1
	return b
}

// FunctionPointer returns the stub for a function-pointer type, creating it
// on first use.
func (c *Context) FunctionPointer(t *types.Type) (*ir.Function, error) {
	k := t.Key()
	if f, ok := c.stubs[k]; ok {
		return f, nil
	}
	f, err := ir.NewFunction(ir.StubName(t.Token), t)
	if err != nil {
		return nil, err
	}
	c.stubs[k] = f
	c.stubOrder = append(c.stubOrder, k)
	return f, nil
}

// StubFunctions lists the stubs in creation order.
func (c *Context) StubFunctions() []*ir.Function {
	out := make([]*ir.Function, 0, len(c.stubOrder))
	for _, k := range c.stubOrder {
		out = append(out, c.stubs[k])
	}
	return out
}

// AllBuffersSize sums every buffer footprint in bits.
func (c *Context) AllBuffersSize() int {
	total := 0
	for _, b := range c.arena.Buffers() {
		total += b.AllocatedSize()
	}
	return total
}
