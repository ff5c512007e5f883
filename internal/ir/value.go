package ir

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"driversynth/internal/types"
)

// Value is anything a call slot can be bound to:
// *Variable, Address, Constant, NullConstant or *Function.
type Value interface {
	Name() string
	isValue()
}

// Variable is one element of a buffer.
type Variable struct {
	ID     VarID
	Token  string
	Index  int
	Buffer *Buffer
}

func (v *Variable) Name() string { return v.Token }
func (*Variable) isValue()       {}

// Type is the type of the owning buffer.
func (v *Variable) Type() *types.Type { return v.Buffer.Type }

// Address refers back to v. It never owns anything.
func (v *Variable) Address() Address {
	return Address{Token: v.Token, Var: v}
}

func (v *Variable) String() string { return fmt.Sprintf("Variable(name=%s)", v.Token) }

// Address is a reference to a Variable or a Function.
type Address struct {
	Token string
	Var   *Variable
	Func  *Function
}

func (a Address) Name() string { return a.Token }
func (Address) isValue()       {}

func (a Address) String() string { return fmt.Sprintf("Address(name=%s)", a.Token) }

// Constant is a literal of a given type.
type Constant struct {
	Type  *types.Type
	Value any
}

func (c Constant) Name() string { return fmt.Sprint(c.Value) }
func (Constant) isValue()       {}

// NullConstant is the null value of a type.
type NullConstant struct {
	Type *types.Type
}

func (n NullConstant) Name() string { return "NULL" }
func (NullConstant) isValue()       {}

// Function is a stub implementation for a function-pointer argument.
type Function struct {
	Token    string
	RetType  string
	ArgTypes string
	Type     *types.Type
}

func (f *Function) Name() string { return f.Token }
func (*Function) isValue()       {}

// Address refers back to f.
func (f *Function) Address() Address {
	return Address{Token: f.Type.PointeeType().Token, Func: f}
}

func (f *Function) String() string { return fmt.Sprintf("Function(name=%s)", f.Token) }

// NewFunction builds a stub for a function-pointer type. The signature is
// split on "(*)" into return type and argument list.
func NewFunction(name string, t *types.Type) (*Function, error) {
	if !t.IsPointer() {
		return nil, fmt.Errorf("%s is not a pointer type", t)
	}
	if !t.ToFunction {
		return nil, fmt.Errorf("%s is not a function pointer", t)
	}
	token := t.PointeeType().Token
	parts := strings.SplitN(token, "(*)", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%s is not a function signature we can handle", token)
	}
	ret, args := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if strings.HasSuffix(args, " __va_list_tag *)") {
		args = strings.Replace(args, " __va_list_tag *)", "va_list)", 1)
	}
	return &Function{Token: name, RetType: ret, ArgTypes: args, Type: t}, nil
}

// StubName is "f" followed by the first eight hex digits of md5(token).
func StubName(token string) string {
	sum := md5.Sum([]byte(token))
	return "f" + hex.EncodeToString(sum[:])[:8]
}
