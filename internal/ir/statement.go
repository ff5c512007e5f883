package ir

import (
	"fmt"

	"driversynth/internal/layout"
)

// Statement is one line of a driver:
// BuffDecl, ConstStringDecl, BuffInit, FileInit, DynArrayInit, DynDblArrInit,
// SetStringNull, CleanBuffer, CleanDblBuffer, AssertNull, SetNull or *ApiCall.
type Statement interface {
	isStatement()
}

// BuffDecl declares a buffer.
type BuffDecl struct{ Buffer *Buffer }

// ConstStringDecl declares a char buffer holding a literal string.
type ConstStringDecl struct {
	Buffer *Buffer
	Value  string
}

// BuffInit fills a fixed-size buffer from the fuzz input.
type BuffInit struct{ Buffer *Buffer }

// FileInit writes LenVar bytes of fuzz input to the file named by Buffer.
type FileInit struct {
	Buffer *Buffer
	LenVar *Variable
}

// DynArrayInit allocates and fills Buffer with LenVar elements.
type DynArrayInit struct {
	Buffer *Buffer
	LenVar *Variable
}

// DynDblArrInit allocates and fills every row of a double-pointer buffer.
type DynDblArrInit struct {
	Buffer *Buffer
	LenVar *Variable
}

// SetStringNull NUL-terminates a string buffer, at LenVar when set.
type SetStringNull struct {
	Buffer *Buffer
	LenVar *Variable
}

// CleanBuffer releases a pointer buffer through Method.
type CleanBuffer struct {
	Buffer *Buffer
	Method string
}

// CleanDblBuffer releases every row of a double-pointer buffer through Method.
type CleanDblBuffer struct {
	Buffer *Buffer
	Method string
}

// AssertNull checks a pointer buffer is null.
type AssertNull struct{ Buffer *Buffer }

// SetNull nulls a buffer.
type SetNull struct{ Buffer *Buffer }

func (BuffDecl) isStatement()        {}
func (ConstStringDecl) isStatement() {}
func (BuffInit) isStatement()        {}
func (FileInit) isStatement()        {}
func (DynArrayInit) isStatement()    {}
func (DynDblArrInit) isStatement()   {}
func (SetStringNull) isStatement()   {}
func (CleanBuffer) isStatement()     {}
func (CleanDblBuffer) isStatement()  {}
func (AssertNull) isStatement()      {}
func (SetNull) isStatement()         {}

// NewConstStringDecl accepts only char* and unsigned char* buffers.
func NewConstStringDecl(b *Buffer, val string) (ConstStringDecl, error) {
	if tok := b.Type.Token; tok != "char*" && tok != "unsigned char*" {
		return ConstStringDecl{}, fmt.Errorf("ConstStringDecl accepts only char*, got %s", tok)
	}
	return ConstStringDecl{Buffer: b, Value: val}, nil
}

func checkLenVar(kind string, lenVar *Variable) error {
	if lenVar == nil {
		return fmt.Errorf("%s needs a length variable", kind)
	}
	if !layout.IsSizeType(lenVar.Type().Token) {
		return fmt.Errorf("%s expects a size type as length, got %s", kind, lenVar.Type().Token)
	}
	return nil
}

// NewFileInit binds a file buffer to its length.
func NewFileInit(b *Buffer, lenVar *Variable) (FileInit, error) {
	if err := checkLenVar("FileInit", lenVar); err != nil {
		return FileInit{}, err
	}
	return FileInit{Buffer: b, LenVar: lenVar}, nil
}

// NewDynArrayInit binds a dynamic buffer to its length.
func NewDynArrayInit(b *Buffer, lenVar *Variable) (DynArrayInit, error) {
	if err := checkLenVar("DynArrayInit", lenVar); err != nil {
		return DynArrayInit{}, err
	}
	return DynArrayInit{Buffer: b, LenVar: lenVar}, nil
}

// NewDynDblArrInit requires a double pointer buffer.
func NewDynDblArrInit(b *Buffer, lenVar *Variable) (DynDblArrInit, error) {
	if b.Type.PointerLevel() != 2 {
		return DynDblArrInit{}, fmt.Errorf("DynDblArrInit expects a double pointer, got %s", b.Type)
	}
	if err := checkLenVar("DynDblArrInit", lenVar); err != nil {
		return DynDblArrInit{}, err
	}
	return DynDblArrInit{Buffer: b, LenVar: lenVar}, nil
}

// NewSetStringNull accepts only string buffers. lenVar may be nil.
func NewSetStringNull(b *Buffer, lenVar *Variable) (SetStringNull, error) {
	if !layout.IsStringType(b.Type.Token) {
		return SetStringNull{}, fmt.Errorf("SetStringNull accepts only strings, got %s", b.Type.Token)
	}
	return SetStringNull{Buffer: b, LenVar: lenVar}, nil
}

// NewCleanBuffer accepts only pointer buffers.
func NewCleanBuffer(b *Buffer, method string) (CleanBuffer, error) {
	if !b.Type.IsPointer() {
		return CleanBuffer{}, fmt.Errorf("CleanBuffer accepts only pointers, got %s", b.Type)
	}
	return CleanBuffer{Buffer: b, Method: method}, nil
}

// NewCleanDblBuffer accepts only double pointer buffers.
func NewCleanDblBuffer(b *Buffer, method string) (CleanDblBuffer, error) {
	if b.Type.PointerLevel() != 2 {
		return CleanDblBuffer{}, fmt.Errorf("CleanDblBuffer expects a double pointer, got %s", b.Type)
	}
	return CleanDblBuffer{Buffer: b, Method: method}, nil
}

// NewAssertNull accepts only pointer buffers.
func NewAssertNull(b *Buffer) (AssertNull, error) {
	if !b.Type.IsPointer() {
		return AssertNull{}, fmt.Errorf("AssertNull accepts only pointers, got %s", b.Type)
	}
	return AssertNull{Buffer: b}, nil
}

// Kind names a statement for summaries.
func Kind(s Statement) string {
	switch s.(type) {
	case BuffDecl:
		return "BuffDecl"
	case ConstStringDecl:
		return "ConstStringDecl"
	case BuffInit:
		return "BuffInit"
	case FileInit:
		return "FileInit"
	case DynArrayInit:
		return "DynArrayInit"
	case DynDblArrInit:
		return "DynDblArrInit"
	case SetStringNull:
		return "SetStringNull"
	case CleanBuffer:
		return "CleanBuffer"
	case CleanDblBuffer:
		return "CleanDblBuffer"
	case AssertNull:
		return "AssertNull"
	case SetNull:
		return "SetNull"
	case *ApiCall:
		return "ApiCall"
	}
	return "Unknown"
}

// BufferOf returns the buffer a statement acts on; calls have none.
func BufferOf(s Statement) *Buffer {
	switch st := s.(type) {
	case BuffDecl:
		return st.Buffer
	case ConstStringDecl:
		return st.Buffer
	case BuffInit:
		return st.Buffer
	case FileInit:
		return st.Buffer
	case DynArrayInit:
		return st.Buffer
	case DynDblArrInit:
		return st.Buffer
	case SetStringNull:
		return st.Buffer
	case CleanBuffer:
		return st.Buffer
	case CleanDblBuffer:
		return st.Buffer
	case AssertNull:
		return st.Buffer
	case SetNull:
		return st.Buffer
	}
	return nil
}
