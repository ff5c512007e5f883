// Package types models the C-level types the synthesis engine reasons about.
// A Type with a non-nil Pointee is a pointer; every other Type is a scalar,
// struct or function core.
package types

import (
	"fmt"
	"strings"
)

// PointerSize is the width of every pointer type, in bits.
const PointerSize = 64

// Tag classifies the core of a type.
type Tag int

const (
	TagPrimitive Tag = iota + 1
	TagStruct
	TagFunction
)

func (t Tag) String() string {
	switch t {
	case TagPrimitive:
		return "primitive"
	case TagStruct:
		return "struct"
	case TagFunction:
		return "function"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

// Key is the identity of a type. Size, constness and completeness are not part of it.
type Key struct {
	Token   string
	Tag     Tag
	Pointer bool
}

func (k Key) String() string {
	if k.Pointer {
		return k.Token
	}
	return k.Token + "#" + k.Tag.String()
}

// Type is a canonical type token plus what the layout knows about it.
type Type struct {
	Token      string
	Size       int // bits
	Incomplete bool
	Const      bool
	Tag        Tag

	// Pointee is set for pointer types only.
	Pointee *Type
	// ToFunction marks a pointer to a function signature.
	ToFunction bool
}

// New returns a non-pointer type.
func New(token string, size int, incomplete, isConst bool, tag Tag) *Type {
	if tag == 0 {
		tag = TagPrimitive
	}
	return &Type{
		Token:      token,
		Size:       size,
		Incomplete: incomplete,
		Const:      isConst,
		Tag:        tag,
	}
}

// NewPointer wraps pointee in one pointer level.
func NewPointer(token string, pointee *Type, isConst bool) *Type {
	return &Type{
		Token:   token,
		Size:    PointerSize,
		Const:   isConst,
		Tag:     TagPrimitive,
		Pointee: pointee,
	}
}

// IsPointer reports whether t has a pointee.
func (t *Type) IsPointer() bool {
	return t != nil && t.Pointee != nil
}

// PointeeType returns the type one level down, or nil for non-pointers.
func (t *Type) PointeeType() *Type {
	return t.Pointee
}

// BaseType strips every pointer level. A non-pointer is its own base.
func (t *Type) BaseType() *Type {
	cur := t
	for cur.Pointee != nil {
		cur = cur.Pointee
	}
	return cur
}

// PointerLevel counts the pointer levels above the base type.
func (t *Type) PointerLevel() int {
	n := 0
	for cur := t; cur != nil && cur.Pointee != nil; cur = cur.Pointee {
		n++
	}
	return n
}

// IsPointerLevel reports whether t has exactly lvl pointer levels.
func (t *Type) IsPointerLevel(lvl int) bool {
	return t.PointerLevel() == lvl
}

// AllConsts lists the const flag of every level, outermost pointer first and the base last.
func (t *Type) AllConsts() []bool {
	var out []bool
	cur := t
	for cur.Pointee != nil {
		out = append(out, cur.Const)
		cur = cur.Pointee
	}
	return append(out, cur.Const)
}

// AnyConst reports whether some level of t is const.
func (t *Type) AnyConst() bool {
	for _, c := range t.AllConsts() {
		if c {
			return true
		}
	}
	return false
}

// Key returns the identity of t.
func (t *Type) Key() Key {
	if t.IsPointer() {
		return Key{Token: t.Token, Tag: TagPrimitive, Pointer: true}
	}
	return Key{Token: t.Token, Tag: t.Tag}
}

// Equal compares identities. Two nil types are equal.
func (t *Type) Equal(o *Type) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.Key() == o.Key()
}

// IsVoid reports whether t is the bare void type.
func (t *Type) IsVoid() bool {
	return t != nil && !t.IsPointer() && t.Token == "void"
}

func (t *Type) String() string {
	var sb strings.Builder
	for _, c := range t.AllConsts() {
		if c {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	kind := "Type"
	if t.IsPointer() {
		kind = "PointerType"
	}
	return fmt.Sprintf("%s(name=%s,cons=%s)", kind, t.Token, sb.String())
}

// CleanToken removes pointer stars and spaces from a raw type string.
func CleanToken(raw string) string {
	return strings.ReplaceAll(strings.ReplaceAll(raw, "*", ""), " ", "")
}
