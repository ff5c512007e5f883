// Package factory turns catalog signatures into typed call sites.
package factory

import (
	"fmt"
	"regexp"
	"strings"

	"driversynth/internal/catalog"
	"driversynth/internal/ir"
	"driversynth/internal/layout"
	"driversynth/internal/types"
)

var constWord = regexp.MustCompile(`\bconst\b`)

// multi-word spellings lose their spaces when stars are stripped
var spellings = map[string]string{
	"unsignedlonglong": "unsigned long long",
	"longlong":         "long long",
	"unsignedlong":     "unsigned long",
	"unsignedint":      "unsigned int",
	"signedchar":       "signed char",
	"unsignedchar":     "unsigned char",
	"unsignedshort":    "unsigned short",
}

// Factory normalizes raw type spellings against a DataLayout.
type Factory struct {
	dl *layout.DataLayout
}

// New returns a Factory. dl may be nil or not yet set up; every non-primitive
// core is then treated as a complete primitive of unknown size.
func New(dl *layout.DataLayout) *Factory {
	return &Factory{dl: dl}
}

// NormalizeType builds the Type chain for a raw spelling. consts holds one
// flag per pointer level, outermost first, base last; missing levels are not const.
func (f *Factory) NormalizeType(token string, size int, flag catalog.Flag, consts []bool) (*types.Type, error) {
	switch flag {
	case catalog.FlagRef, catalog.FlagRet:
		if strings.Contains(token, "*") && !strings.HasSuffix(strings.TrimSpace(token), "*") {
			return nil, fmt.Errorf("type %q is not a valid pointer", token)
		}
	case catalog.FlagVal:
		if strings.Contains(token, "*") {
			return nil, fmt.Errorf("type %q seems a pointer while expecting a val", token)
		}
	}

	if flag == catalog.FlagFun && strings.Contains(token, "(*)") {
		core := types.New(token, 0, true, true, types.TagFunction)
		ptr := types.NewPointer(token+"*", core, false)
		ptr.ToFunction = true
		return ptr, nil
	}

	level := strings.Count(token, "*")
	core := types.CleanToken(constWord.ReplaceAllString(token, ""))
	if s, ok := spellings[core]; ok {
		core = s
	}

	baseConst := false
	if len(consts) > 0 {
		baseConst = consts[len(consts)-1]
	}
	t := types.New(core, f.size(core), f.incomplete(core), baseConst, f.tag(core))
	for x := 1; x <= level; x++ {
		c := false
		if len(consts) > x {
			c = consts[len(consts)-1-x]
		}
		t = types.NewPointer(core+strings.Repeat("*", x), t, c)
	}
	return t, nil
}

func (f *Factory) ready() bool {
	return f.dl != nil && f.dl.Ready()
}

func (f *Factory) size(core string) int {
	if bits, err := layout.InferTypeSize(core); err == nil {
		return bits
	}
	if !f.ready() {
		return 0
	}
	bits, err := f.dl.TypeSize(core)
	if err != nil {
		return 0
	}
	return bits
}

func (f *Factory) incomplete(core string) bool {
	if !f.ready() {
		return core == "void"
	}
	return f.dl.IsIncomplete(core)
}

func (f *Factory) tag(core string) types.Tag {
	if f.ready() && f.dl.IsStruct(core) {
		return types.TagStruct
	}
	return types.TagPrimitive
}

// NormalizeArg normalizes one signature slot.
func (f *Factory) NormalizeArg(arg catalog.Arg) (*types.Type, error) {
	return f.NormalizeType(arg.Type, arg.Size, arg.Flag, arg.Const)
}

// APIToCall builds an unbound call site for api.
func (f *Factory) APIToCall(api *catalog.Api) (*ir.ApiCall, error) {
	argTypes := make([]*types.Type, 0, len(api.Args))
	for i, a := range api.Args {
		t, err := f.NormalizeArg(a)
		if err != nil {
			return nil, fmt.Errorf("%s arg %d: %w", api.Name, i, err)
		}
		argTypes = append(argTypes, t)
	}
	ret, err := f.NormalizeArg(api.Return)
	if err != nil {
		return nil, fmt.Errorf("%s return: %w", api.Name, err)
	}
	return ir.NewApiCall(api, argTypes, ret), nil
}
