package contracts

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrMissingContract means a cataloged function has no contract.
	ErrMissingContract = errors.New("missing contract")
	// ErrMalformedContract means a contract does not fit its signature.
	ErrMalformedContract = errors.New("malformed contract")
)

// ValueMetadata is the full contract for one argument or return slot.
type ValueMetadata struct {
	ATS          AccessTypeSet
	IsArray      bool
	IsMallocSize bool
	IsFilePath   bool
	LenDependsOn string   // "param_N" or ""
	SetBy        []string // "param_N" entries
}

// ParseParamRef parses "param_N" into N.
func ParseParamRef(ref string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(ref, "param_"))
	if err != nil || !strings.HasPrefix(ref, "param_") || n < 0 {
		return 0, fmt.Errorf("%w: bad parameter reference %q", ErrMalformedContract, ref)
	}
	return n, nil
}

// SetByPositions resolves SetBy into argument positions.
func (v ValueMetadata) SetByPositions() ([]int, error) {
	out := make([]int, 0, len(v.SetBy))
	for _, d := range v.SetBy {
		n, err := ParseParamRef(d)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// LenDependsOnPosition resolves LenDependsOn; ok is false when unset or malformed.
func (v ValueMetadata) LenDependsOnPosition() (int, bool) {
	if v.LenDependsOn == "" {
		return 0, false
	}
	n, err := ParseParamRef(v.LenDependsOn)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsSinkCondition reports a deleted root that is not also created.
func (v ValueMetadata) IsSinkCondition() bool {
	return v.ATS.Contains(AccessDelete) && !v.ATS.Contains(AccessCreate)
}

// IsSourceCondition reports a created root.
func (v ValueMetadata) IsSourceCondition() bool {
	return v.ATS.Contains(AccessCreate)
}

// FunctionConditions holds the contracts of one function.
type FunctionConditions struct {
	Function string
	Params   []ValueMetadata
	Return   ValueMetadata
}

// At returns the contract for pos; -1 is the return slot.
func (fc *FunctionConditions) At(pos int) (ValueMetadata, bool) {
	if pos == -1 {
		return fc.Return, true
	}
	if pos < 0 || pos >= len(fc.Params) {
		return ValueMetadata{}, false
	}
	return fc.Params[pos], true
}

func (fc *FunctionConditions) String() string {
	return fmt.Sprintf("FunConds(fun_name=%s)", fc.Function)
}

// Set holds contracts keyed by function name. Built once, read-only after.
type Set struct {
	byName map[string]*FunctionConditions
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{byName: make(map[string]*FunctionConditions)}
}

// Add stores fc, replacing any previous entry for the same function.
func (s *Set) Add(fc *FunctionConditions) {
	s.byName[fc.Function] = fc
}

// Get returns the contracts of a function.
func (s *Set) Get(name string) (*FunctionConditions, bool) {
	fc, ok := s.byName[name]
	return fc, ok
}

// Len is the number of functions.
func (s *Set) Len() int { return len(s.byName) }

// Names returns the function names sorted.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.byName))
	for n := range s.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (s *Set) String() string {
	return fmt.Sprintf("FCS(#funcs=%d)", len(s.byName))
}
