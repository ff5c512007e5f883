package ir

import (
	"errors"
	"fmt"

	"driversynth/internal/catalog"
	"driversynth/internal/types"
)

// ErrShape means a value kind does not fit the slot type.
var ErrShape = errors.New("value does not fit slot")

// ApiCall is a call site with its slots bound to values.
type ApiCall struct {
	Api       *catalog.Api
	Function  string
	Namespace []string
	ArgTypes  []*types.Type
	RetType   *types.Type
	Args      []Value
	MaxVals   []int
	Ret       Value
	IsVararg  bool
	Varargs   []Value
}

// NewApiCall builds an unbound call site.
func NewApiCall(api *catalog.Api, argTypes []*types.Type, retType *types.Type) *ApiCall {
	c := &ApiCall{
		Api:       api,
		Function:  api.Name,
		Namespace: api.Namespace,
		ArgTypes:  argTypes,
		RetType:   retType,
		Args:      make([]Value, len(argTypes)),
		MaxVals:   make([]int, len(argTypes)),
		IsVararg:  api.IsVararg,
	}
	if c.IsVararg {
		c.Varargs = make([]Value, 2)
	}
	return c
}

// SlotType returns the type of pos; -1 is the return slot.
func (c *ApiCall) SlotType(pos int) *types.Type {
	if pos == -1 {
		return c.RetType
	}
	return c.ArgTypes[pos]
}

// SetArg binds argument pos. A plain variable cannot fill a pointer slot.
func (c *ApiCall) SetArg(pos int, v Value, maxVal int) error {
	if pos < 0 || pos >= len(c.Args) {
		return fmt.Errorf("%s: position %d out of range [0, %d)", c.Function, pos, len(c.Args))
	}
	if _, ok := v.(*Variable); ok && c.ArgTypes[pos].IsPointer() {
		return fmt.Errorf("%w: %s cannot be of type %s", ErrShape, v.Name(), c.ArgTypes[pos])
	}
	c.Args[pos] = v
	if maxVal != 0 {
		c.MaxVals[pos] = maxVal
	}
	return nil
}

// SetRet binds the return slot.
func (c *ApiCall) SetRet(v Value) error {
	if _, ok := v.(*Variable); ok && c.RetType.IsPointer() {
		return fmt.Errorf("%w: ret type is %s but got %s", ErrShape, c.RetType, v.Name())
	}
	c.Ret = v
	return nil
}

// Slot returns the value bound at pos; -1 is the return slot.
func (c *ApiCall) Slot(pos int) Value {
	if pos == -1 {
		return c.Ret
	}
	return c.Args[pos]
}

// HasMaxValue reports whether pos carries an upper bound.
func (c *ApiCall) HasMaxValue(pos int) bool {
	return pos >= 0 && pos < len(c.MaxVals) && c.MaxVals[pos] > 0
}

func (*ApiCall) isStatement() {}

func (c *ApiCall) String() string { return fmt.Sprintf("ApiCall(name=%s)", c.Function) }
