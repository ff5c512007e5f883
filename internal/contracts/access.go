// Package contracts models per-argument effect contracts: which field paths a
// function reads, writes, creates, deletes or returns.
package contracts

import (
	"fmt"
	"strconv"
	"strings"
)

// Access is the kind of effect on a field path.
type Access int

const (
	AccessRead Access = iota + 1
	AccessWrite
	AccessReturn
	AccessCreate
	AccessDelete
	AccessNone
)

var accessNames = map[Access]string{
	AccessRead:   "read",
	AccessWrite:  "write",
	AccessReturn: "return",
	AccessCreate: "create",
	AccessDelete: "delete",
	AccessNone:   "none",
}

func (a Access) String() string {
	if s, ok := accessNames[a]; ok {
		return s
	}
	return fmt.Sprintf("Access(%d)", int(a))
}

// ParseAccess maps a feed spelling to an Access.
func ParseAccess(s string) (Access, error) {
	for a, name := range accessNames {
		if name == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown access %q", s)
}

// AccessType is one effect on one field path. A path ending in -1 is jolly:
// it stands for every deeper path under the same prefix.
type AccessType struct {
	Access     Access
	Fields     []int
	Type       string
	TypeString string
	Parent     *AccessType
}

// NewAccessType builds an AccessType with a private copy of fields.
func NewAccessType(access Access, fields ...int) AccessType {
	f := make([]int, len(fields))
	copy(f, fields)
	return AccessType{Access: access, Fields: f}
}

// Key identifies an access type by fields and access kind only.
func (a AccessType) Key() string {
	var b strings.Builder
	b.WriteString(a.Access.String())
	b.WriteByte('[')
	for i, f := range a.Fields {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(f))
	}
	b.WriteByte(']')
	return b.String()
}

// Equal compares by Key.
func (a AccessType) Equal(o AccessType) bool {
	return a.Key() == o.Key()
}

// IsJolly reports whether the path ends in the wildcard index.
func (a AccessType) IsJolly() bool {
	return len(a.Fields) > 0 && a.Fields[len(a.Fields)-1] == -1
}

// IsRoot reports whether the path is empty (the value itself).
func (a AccessType) IsRoot() bool {
	return len(a.Fields) == 0
}

func (a AccessType) String() string {
	if a.Parent != nil {
		return fmt.Sprintf("AccessType(%s,P)", a.Key())
	}
	return fmt.Sprintf("AccessType(%s)", a.Key())
}

// AccessTypeSet is an immutable set of AccessType in insertion order.
// The zero value is the empty set.
type AccessTypeSet struct {
	items []AccessType
	keys  map[string]struct{}
}

// NewAccessTypeSet builds a set; later duplicates of a key are dropped.
func NewAccessTypeSet(ats ...AccessType) AccessTypeSet {
	s := AccessTypeSet{keys: make(map[string]struct{}, len(ats))}
	for _, at := range ats {
		s.insert(at)
	}
	return s
}

func (s *AccessTypeSet) insert(at AccessType) {
	k := at.Key()
	if _, ok := s.keys[k]; ok {
		return
	}
	s.keys[k] = struct{}{}
	s.items = append(s.items, at)
}

// Union returns a new set with the members of both.
func (s AccessTypeSet) Union(o AccessTypeSet) AccessTypeSet {
	out := AccessTypeSet{keys: make(map[string]struct{}, len(s.items)+len(o.items))}
	for _, at := range s.items {
		out.insert(at)
	}
	for _, at := range o.items {
		out.insert(at)
	}
	return out
}

// Len is the number of members.
func (s AccessTypeSet) Len() int { return len(s.items) }

// Items returns a copy of the members.
func (s AccessTypeSet) Items() []AccessType {
	out := make([]AccessType, len(s.items))
	copy(out, s.items)
	return out
}

// Has reports membership by Key.
func (s AccessTypeSet) Has(at AccessType) bool {
	_, ok := s.keys[at.Key()]
	return ok
}

// Contains reports whether the set holds access on exactly fields.
func (s AccessTypeSet) Contains(access Access, fields ...int) bool {
	return s.Has(AccessType{Access: access, Fields: fields})
}

// Filter returns the members for which keep is true.
func (s AccessTypeSet) Filter(keep func(AccessType) bool) AccessTypeSet {
	out := AccessTypeSet{keys: make(map[string]struct{})}
	for _, at := range s.items {
		if keep(at) {
			out.insert(at)
		}
	}
	return out
}

func (s AccessTypeSet) String() string {
	return fmt.Sprintf("ATS(#access_type=%d)", len(s.items))
}
