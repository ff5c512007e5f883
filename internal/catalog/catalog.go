// Package catalog holds the function signatures a synthesis session works on.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"driversynth/internal/layout"
)

// ErrDuplicateAPI is returned when two signatures share a function name.
var ErrDuplicateAPI = errors.New("duplicate api")

// Flag is the passing mode of an argument or return slot.
type Flag string

const (
	FlagVal Flag = "val" // by value
	FlagRef Flag = "ref" // pointer
	FlagFun Flag = "fun" // function pointer
	FlagRet Flag = "ret" // hidden return pointer, flattened at load time
)

// ConstFlags holds one constness bit per pointer level, outermost first, base last.
// The feed may spell it as a single bool.
type ConstFlags []bool

// UnmarshalJSON accepts a bool or a list of bools.
func (c *ConstFlags) UnmarshalJSON(data []byte) error {
	var single bool
	if err := json.Unmarshal(data, &single); err == nil {
		*c = ConstFlags{single}
		return nil
	}
	var list []bool
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("const must be a bool or a list of bools: %w", err)
	}
	*c = list
	return nil
}

// Arg is one parameter or return slot.
type Arg struct {
	Name  string     `json:"name"`
	Flag  Flag       `json:"flag"`
	Size  int        `json:"size"` // bits, -1 when unknown
	Type  string     `json:"type"`
	Const ConstFlags `json:"const"`
}

func (a Arg) key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|%s|", a.Name, a.Flag, a.Size, a.Type)
	for _, c := range a.Const {
		if c {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// Api is a function signature.
type Api struct {
	Name      string   `json:"function_name"`
	IsVararg  bool     `json:"is_vararg"`
	Return    Arg      `json:"return_info"`
	Args      []Arg    `json:"arguments_info"`
	Namespace []string `json:"namespace,omitempty"`
}

// Key identifies a signature by name, vararg flag, return and arguments.
func (a *Api) Key() string {
	parts := make([]string, 0, len(a.Args)+3)
	parts = append(parts, a.Name, fmt.Sprint(a.IsVararg), a.Return.key())
	for _, arg := range a.Args {
		parts = append(parts, arg.key())
	}
	parts = append(parts, strings.Join(a.Namespace, "::"))
	return strings.Join(parts, ";")
}

// Equal compares two signatures by Key.
func (a *Api) Equal(o *Api) bool {
	if a == nil || o == nil {
		return a == o
	}
	return a.Key() == o.Key()
}

func (a *Api) String() string {
	return fmt.Sprintf("Api(function_name=%s)", a.Name)
}

// Catalog is a name-indexed, insertion-ordered set of signatures.
type Catalog struct {
	apis   []*Api
	byName map[string]*Api
}

// New builds a catalog. Duplicate names fail with ErrDuplicateAPI.
func New(apis []*Api) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]*Api, len(apis))}
	for _, a := range apis {
		if err := c.add(a); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) add(a *Api) error {
	if a == nil || a.Name == "" {
		return fmt.Errorf("api without a function name")
	}
	if _, ok := c.byName[a.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAPI, a.Name)
	}
	c.apis = append(c.apis, a)
	c.byName[a.Name] = a
	return nil
}

// Get looks a signature up by function name.
func (c *Catalog) Get(name string) (*Api, bool) {
	a, ok := c.byName[name]
	return a, ok
}

// APIs returns the signatures in load order.
func (c *Catalog) APIs() []*Api {
	out := make([]*Api, len(c.apis))
	copy(out, c.apis)
	return out
}

// Len is the number of signatures.
func (c *Catalog) Len() int { return len(c.apis) }

// Names returns the function names sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.apis))
	for _, a := range c.apis {
		out = append(out, a.Name)
	}
	sort.Strings(out)
	return out
}

// TypeUses lists every argument and return slot as a layout.Use.
func (c *Catalog) TypeUses() []layout.Use {
	var uses []layout.Use
	for _, a := range c.apis {
		for _, arg := range a.Args {
			uses = append(uses, layout.Use{Token: arg.Type, Flag: string(arg.Flag), Size: arg.Size})
		}
		uses = append(uses, layout.Use{Token: a.Return.Type, Flag: string(a.Return.Flag), Size: a.Return.Size})
	}
	return uses
}
