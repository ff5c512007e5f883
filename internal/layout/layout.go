// Package layout answers size and shape questions about the types a catalog uses.
package layout

import (
	"fmt"
	"strings"
	"sync"

	"driversynth/internal/logging"
	"driversynth/internal/types"
)

// Use is one appearance of a type in the catalog: an argument or return slot.
type Use struct {
	Token string // raw spelling, may contain pointer stars and spaces
	Flag  string // val, ref, fun or ret
	Size  int    // declared size in bits, -1 when unknown
}

// DataLayout is the size/shape oracle for one catalog.
// It is configured once with Setup and read-only afterwards.
type DataLayout struct {
	mu          sync.RWMutex
	ready       bool
	table       *Table
	sizes       map[string]int
	incomplete  map[string]bool
	enums       map[string]bool
	structNames map[string]string
}

// New returns an unconfigured DataLayout.
func New() *DataLayout {
	return &DataLayout{}
}

// Setup records per-token sizes by walking every use level by level.
// The outermost level may fall back to the declared size; inner levels fall
// back to the table entry of the mapped compiled type (0 when incomplete).
func (d *DataLayout) Setup(tbl *Table, uses []Use) error {
	if tbl == nil {
		tbl = &Table{}
	}
	tbl.ensureMaps()

	timer := logging.StartTimer(logging.CategoryLayout, "Setup")
	defer timer.Stop()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.table = tbl
	d.sizes = make(map[string]int)
	d.incomplete = make(map[string]bool, len(tbl.Incomplete))
	d.enums = make(map[string]bool, len(tbl.Enums))
	d.structNames = make(map[string]string, len(tbl.Structs))
	for _, n := range tbl.Incomplete {
		d.incomplete[n] = true
	}
	for _, n := range tbl.Enums {
		d.enums[n] = true
	}
	for k, v := range tbl.Structs {
		d.structNames[strings.ReplaceAll(k, " ", "")] = v
	}

	for _, u := range uses {
		if u.Flag == "fun" {
			d.sizes[stripSpaces(u.Token)] = d.levelSize(u.Token, u.Size, true)
			continue
		}
		tok := u.Token
		original := true
		for strings.Count(tok, "*") > 0 {
			d.sizes[stripSpaces(tok)] = d.levelSize(tok, u.Size, original)
			tok = strings.TrimSpace(tok[:strings.LastIndex(tok, "*")])
			original = false
		}
		d.sizes[stripSpaces(tok)] = d.levelSize(tok, u.Size, original)
	}
	d.ready = true

	logging.LayoutDebug("layout setup: %d tokens sized, %d compiled types, %d incomplete",
		len(d.sizes), len(tbl.Types), len(tbl.Incomplete))
	return nil
}

func (d *DataLayout) levelSize(tok string, declared int, original bool) int {
	if bits, err := InferTypeSize(strings.TrimSpace(tok)); err == nil {
		return bits
	}
	tok = stripSpaces(tok)
	if original && declared != -1 {
		return declared
	}
	core := strings.ReplaceAll(tok, "*", "")
	name, ok := d.structNames[core]
	if !ok {
		name = "%" + core
	}
	if d.incomplete[name] || d.incomplete[core] {
		return 0
	}
	if e, ok := d.table.Types[name]; ok {
		return e.Size
	}
	return 0
}

// Ready reports whether Setup has run.
func (d *DataLayout) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

func (d *DataLayout) mustReady() {
	if !d.ready {
		panic(ErrNotInitialized)
	}
}

// TypeSize returns the size in bits of a token.
func (d *DataLayout) TypeSize(token string) (int, error) {
	if bits, err := InferTypeSize(token); err == nil {
		return bits, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.ready {
		return 0, ErrNotInitialized
	}
	if bits, ok := d.sizes[stripSpaces(token)]; ok {
		return bits, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrSizeUnknown, token)
}

// IsStruct reports whether token names a struct: mapped to a compiled type that
// is not a pointer, and not an enum.
func (d *DataLayout) IsStruct(token string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	d.mustReady()
	name, ok := d.structNames[token]
	if !ok || d.enums[token] {
		return false
	}
	return !strings.Contains(name, "*")
}

// IsPrimitive is the complement of IsStruct.
func (d *DataLayout) IsPrimitive(token string) bool {
	return !d.IsStruct(token)
}

// IsFuzzFriendly reports whether token's compiled layout is known and safe to fill from seed bytes.
func (d *DataLayout) IsFuzzFriendly(token string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	d.mustReady()
	name, ok := d.structNames[token]
	if !ok {
		return false
	}
	e, ok := d.table.Types[name]
	return ok && e.FuzzFriendly
}

// IsIncomplete reports whether token is opaque. Anything spelling void counts.
func (d *DataLayout) IsIncomplete(token string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	d.mustReady()
	if strings.Contains(token, "void") {
		return true
	}
	if d.incomplete[token] || d.incomplete["%"+token] {
		return true
	}
	if name, ok := d.structNames[token]; ok && d.incomplete[name] {
		return true
	}
	return false
}

// IsEnum reports whether token is a listed enum.
func (d *DataLayout) IsEnum(token string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	d.mustReady()
	return d.enums[token]
}

// HasUserDefinedInit is a hook for hand-written initializers. None are registered.
func (d *DataLayout) HasUserDefinedInit(token string) bool {
	return false
}

// HasIncompleteTypes reports whether the table lists any opaque type.
func (d *DataLayout) HasIncompleteTypes() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	d.mustReady()
	return len(d.incomplete) != 0
}

// PointerLevel is the number of pointer indirections of t.
func PointerLevel(t *types.Type) int {
	return t.PointerLevel()
}

// IsPointerLevel reports whether t has exactly lvl indirections.
func IsPointerLevel(t *types.Type, lvl int) bool {
	return t.PointerLevel() == lvl
}

func stripSpaces(s string) string {
	return strings.ReplaceAll(s, " ", "")
}
