// Package ir is the intermediate representation of a synthesized driver:
// buffers and their element variables, the values passed to calls, and the
// statements a driver is made of.
package ir

import (
	"fmt"
	"sort"

	"driversynth/internal/types"
)

// AllocType is the storage class of a buffer.
type AllocType int

const (
	AllocHeap AllocType = iota + 1
	AllocStack
	AllocGlobal
)

// Suffix is the one-letter tag used in buffer names.
func (a AllocType) Suffix() string {
	switch a {
	case AllocHeap:
		return "h"
	case AllocStack:
		return "s"
	case AllocGlobal:
		return "g"
	}
	return "?"
}

func (a AllocType) String() string {
	switch a {
	case AllocHeap:
		return "heap"
	case AllocStack:
		return "stack"
	case AllocGlobal:
		return "global"
	}
	return fmt.Sprintf("AllocType(%d)", int(a))
}

// BufferID and VarID are stable arena indices.
type (
	BufferID int
	VarID    int
)

// Arena owns every buffer and variable of one driver. It only grows;
// Truncate drops everything created after a Mark.
type Arena struct {
	buffers []*Buffer
	vars    []*Variable
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Mark is a position in the arena.
type Mark struct {
	buffers int
	vars    int
}

// Mark records the current size.
func (a *Arena) Mark() Mark {
	return Mark{buffers: len(a.buffers), vars: len(a.vars)}
}

// Truncate forgets every buffer and variable created after m.
func (a *Arena) Truncate(m Mark) {
	for _, v := range a.vars[m.vars:] {
		if v.Buffer != nil && int(v.Buffer.ID) < m.buffers {
			delete(v.Buffer.elems, v.Index)
		}
	}
	a.vars = a.vars[:m.vars]
	a.buffers = a.buffers[:m.buffers]
}

// NewBuffer allocates a buffer of n elements of t.
func (a *Arena) NewBuffer(token string, n int, t *types.Type, alloc AllocType) *Buffer {
	b := &Buffer{
		ID:        BufferID(len(a.buffers)),
		Token:     token,
		NElements: n,
		Type:      t,
		Alloc:     alloc,
		arena:     a,
		elems:     make(map[int]*Variable),
	}
	a.buffers = append(a.buffers, b)
	return b
}

// Buffers returns all buffers in creation order.
func (a *Arena) Buffers() []*Buffer {
	out := make([]*Buffer, len(a.buffers))
	copy(out, a.buffers)
	return out
}

// Buffer looks a buffer up by id.
func (a *Arena) Buffer(id BufferID) *Buffer {
	if int(id) < 0 || int(id) >= len(a.buffers) {
		return nil
	}
	return a.buffers[id]
}

// Var looks a variable up by id.
func (a *Arena) Var(id VarID) *Variable {
	if int(id) < 0 || int(id) >= len(a.vars) {
		return nil
	}
	return a.vars[id]
}

// Buffer is an allocated storage region. Its element variables are created
// on first access.
type Buffer struct {
	ID        BufferID
	Token     string
	NElements int
	Type      *types.Type
	Alloc     AllocType

	arena *Arena
	elems map[int]*Variable
}

// At returns element i, creating it on first use.
func (b *Buffer) At(i int) (*Variable, error) {
	if i < 0 || i >= b.NElements {
		return nil, fmt.Errorf("index %d out of range for %s[%d]", i, b.Token, b.NElements)
	}
	if v, ok := b.elems[i]; ok {
		return v, nil
	}
	v := &Variable{
		ID:     VarID(len(b.arena.vars)),
		Token:  fmt.Sprintf("%s_%d", b.Token, i),
		Index:  i,
		Buffer: b,
	}
	b.arena.vars = append(b.arena.vars, v)
	b.elems[i] = v
	return v, nil
}

// First is At(0) for buffers known to be non-empty.
func (b *Buffer) First() *Variable {
	v, err := b.At(0)
	if err != nil {
		panic(err)
	}
	return v
}

// Address is the address of the first element.
func (b *Buffer) Address() (Address, error) {
	if b.NElements == 0 {
		return Address{}, fmt.Errorf("can't get address from empty buffer %s", b.Token)
	}
	return b.First().Address(), nil
}

// Variables returns the created elements in index order.
func (b *Buffer) Variables() []*Variable {
	out := make([]*Variable, 0, len(b.elems))
	for _, v := range b.elems {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// AllocatedSize is the buffer footprint in bits. Stack pointer buffers are
// sized by their base type when it is known.
func (b *Buffer) AllocatedSize() int {
	if b.Type.IsPointer() && b.Alloc == AllocStack && b.Type.BaseType().Size != 0 {
		return b.NElements * b.Type.BaseType().Size
	}
	return b.NElements * b.Type.Size
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer(name=%s,n=%d,%s)", b.Token, b.NElements, b.Alloc)
}
