package constraints

import (
	"fmt"

	"driversynth/internal/contracts"
	"driversynth/internal/ir"
)

// Conditions is what the pool knows about one live variable: the writes it
// has received and whether an init call has run on it.
type Conditions struct {
	ATS          contracts.AccessTypeSet
	IsArray      bool
	IsMallocSize bool
	IsFilePath   bool
	// LenDependsOn is the bound length variable; nil when unbound.
	LenDependsOn *ir.Variable
	Initialized  bool
}

// NewConditions keeps only the writes of md.
func NewConditions(md contracts.ValueMetadata) *Conditions {
	c := &Conditions{
		IsArray:      md.IsArray,
		IsMallocSize: md.IsMallocSize,
		IsFilePath:   md.IsFilePath,
	}
	c.AddConditions(md.ATS)
	return c
}

// AddConditions records the writes of ats.
func (c *Conditions) AddConditions(ats contracts.AccessTypeSet) {
	writes := ats.Filter(func(at contracts.AccessType) bool {
		return at.Access == contracts.AccessWrite
	})
	c.ATS = c.ATS.Union(writes)
}

func (c *Conditions) clone() *Conditions {
	cp := *c
	return &cp
}

// SubFields returns the recorded paths that start with prefix.
func (c *Conditions) SubFields(prefix []int) [][]int {
	var out [][]int
	for _, at := range c.ATS.Items() {
		if hasPrefix(at.Fields, prefix) {
			out = append(out, at.Fields)
		}
	}
	return out
}

// JollyConditions returns the recorded jolly writes.
func (c *Conditions) JollyConditions() []contracts.AccessType {
	var out []contracts.AccessType
	for _, at := range c.ATS.Items() {
		if (at.Access == contracts.AccessWrite || at.Access == contracts.AccessReturn) && at.IsJolly() {
			out = append(out, at)
		}
	}
	return out
}

func (c *Conditions) String() string {
	return fmt.Sprintf("Conditions(%s,init=%t)", c.ATS, c.Initialized)
}

// IsUnconstrained reports a contract that only reads the root or its pointee,
// returns, or writes.
func IsUnconstrained(md contracts.ValueMetadata) bool {
	for _, at := range md.ATS.Items() {
		switch {
		case at.Access == contracts.AccessRead && len(at.Fields) == 0:
		case at.Access == contracts.AccessRead && len(at.Fields) == 1 && at.Fields[0] == -1:
		case at.Access == contracts.AccessReturn:
		case at.Access == contracts.AccessWrite:
		default:
			return false
		}
	}
	return true
}

func hasPrefix(fields, prefix []int) bool {
	if len(prefix) > len(fields) {
		return false
	}
	for i := range prefix {
		if fields[i] != prefix[i] {
			return false
		}
	}
	return true
}

func equalFields(a, b []int) bool {
	return len(a) == len(b) && hasPrefix(a, b)
}

// CompatStrategy decides whether a live variable can serve a slot contract.
type CompatStrategy interface {
	Name() string
	Compatible(held *Conditions, req contracts.ValueMetadata) bool
}

// FilePathOnly rejects only a file-path mismatch.
type FilePathOnly struct{}

func (FilePathOnly) Name() string { return "file-path-only" }

func (FilePathOnly) Compatible(held *Conditions, req contracts.ValueMetadata) bool {
	return held.IsFilePath == req.IsFilePath
}

// FieldPaths also checks array-ness, malloc sizes and that every field the
// slot reads has been written. A required path is covered by an equal
// recorded path, by a recorded non-root prefix of it, or by a recorded
// non-root jolly write over it. Adding writes never uncovers a path.
type FieldPaths struct{}

func (FieldPaths) Name() string { return "field-paths" }

func (FieldPaths) Compatible(held *Conditions, req contracts.ValueMetadata) bool {
	if held.IsFilePath != req.IsFilePath {
		return false
	}
	if req.IsArray && !held.IsArray {
		return false
	}
	if held.IsMallocSize != req.IsMallocSize {
		return false
	}

	var updated [][]int
	for _, at := range req.ATS.Items() {
		if at.Access == contracts.AccessWrite {
			updated = append(updated, at.Fields)
		}
	}
	recorded := held.ATS.Items()
	jollies := held.JollyConditions()

	for _, r := range req.ATS.Items() {
		if r.Access != contracts.AccessRead || r.IsJolly() {
			continue
		}
		selfWritten := false
		for _, u := range updated {
			if equalFields(u, r.Fields) {
				selfWritten = true
				break
			}
		}
		if selfWritten {
			continue
		}
		if !covered(r.Fields, recorded, jollies) {
			return false
		}
	}
	return true
}

func covered(path []int, recorded, jollies []contracts.AccessType) bool {
	for _, h := range recorded {
		if equalFields(h.Fields, path) {
			return true
		}
		if len(h.Fields) > 0 && !h.IsJolly() && len(h.Fields) < len(path) && hasPrefix(path, h.Fields) {
			return true
		}
	}
	for _, j := range jollies {
		sub := j.Fields[:len(j.Fields)-1]
		if len(sub) > 0 && hasPrefix(path, sub) {
			return true
		}
	}
	return false
}

// ParseCompatStrategy maps a config name to a strategy; "" is FilePathOnly.
func ParseCompatStrategy(name string) (CompatStrategy, error) {
	switch name {
	case "", "file-path-only":
		return FilePathOnly{}, nil
	case "field-paths":
		return FieldPaths{}, nil
	}
	return nil, fmt.Errorf("unknown compatibility strategy %q", name)
}
