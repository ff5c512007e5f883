package constraints

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"driversynth/internal/catalog"
	"driversynth/internal/contracts"
	"driversynth/internal/factory"
	"driversynth/internal/ir"
	"driversynth/internal/layout"
	"driversynth/internal/logging"
	"driversynth/internal/types"
)

// DefaultCleanup releases heap buffers without a registered sink.
const DefaultCleanup = "free"

// slot is one argument position of one API.
type slot struct {
	API string
	Pos int
}

// ConditionManager holds the role of every API. It is built once per
// catalog and is read-only afterwards.
type ConditionManager struct {
	dl    *layout.DataLayout
	f     *factory.Factory
	conds *contracts.Set
	opts  Options

	apis []*catalog.Api

	sinks             map[string]bool
	sinkMap           map[types.Key]*catalog.Api
	sources           map[string]bool
	customVoidPointer bool
	initPerType       map[types.Key][]slot
	setPerType        map[types.Key][]slot
	sourcePerType     map[types.Key][]string
}

// New classifies apis. all is the superset sinks are searched in; it may
// include APIs filtered out of apis. dl must be set up.
func New(apis, all []*catalog.Api, conds *contracts.Set, dl *layout.DataLayout, f *factory.Factory, opts Options) (*ConditionManager, error) {
	if dl == nil || !dl.Ready() {
		return nil, fmt.Errorf("failed to classify roles: %w", layout.ErrNotInitialized)
	}
	if conds == nil {
		return nil, errors.New("failed to classify roles: no contracts")
	}
	if opts.VoidPointer == "" {
		opts.VoidPointer = VoidPointerExcludeAmbiguous
	}
	if opts.Setters == "" {
		opts.Setters = SetterSole
	}
	timer := logging.StartTimer(logging.CategoryRoles, "classify")
	defer timer.Stop()

	cm := &ConditionManager{
		dl:            dl,
		f:             f,
		conds:         conds,
		opts:          opts,
		apis:          apis,
		sinks:         make(map[string]bool),
		sinkMap:       make(map[types.Key]*catalog.Api),
		sources:       make(map[string]bool),
		initPerType:   make(map[types.Key][]slot),
		setPerType:    make(map[types.Key][]slot),
		sourcePerType: make(map[types.Key][]string),
	}
	cm.initSinks(all)
	cm.initSources()
	cm.initInit()
	cm.initSourcePerType()

	logging.Roles("classified %d apis: %d sources, %d sinks, %d init, %d setters",
		len(apis), len(cm.sources), len(cm.sinks), len(cm.InitAPIs()), len(cm.SetterAPIs()))
	return cm, nil
}

func (cm *ConditionManager) contract(name string) (*contracts.FunctionConditions, bool) {
	fc, ok := cm.conds.Get(name)
	if !ok {
		logging.RolesDebug("no contract for %s, skipping", name)
	}
	return fc, ok
}

func (cm *ConditionManager) isReturnSink(token string) bool {
	token = strings.TrimSpace(token)
	return token == "void" || token == "int" || cm.dl.IsEnum(token)
}

func (cm *ConditionManager) initSinks(all []*catalog.Api) {
	for _, api := range all {
		if len(api.Args) != 1 || !cm.isReturnSink(api.Return.Type) {
			continue
		}
		fc, ok := cm.contract(api.Name)
		if !ok || len(fc.Params) == 0 || !fc.Params[0].IsSinkCondition() {
			continue
		}
		t, err := cm.f.NormalizeArg(api.Args[0])
		if err != nil {
			logging.RolesDebug("sink %s: %v", api.Name, err)
			continue
		}
		cm.sinkMap[t.Key()] = api
		cm.sinks[api.Name] = true
		logging.RolesDebug("sink %s consumes %s", api.Name, t.Token)
	}
}

func (cm *ConditionManager) argIsSuppliable(arg catalog.Arg) bool {
	t, err := cm.f.NormalizeArg(arg)
	if err != nil {
		return false
	}
	base := t.BaseType()
	tkn := base.Token
	switch {
	case cm.dl.IsPrimitive(tkn):
	case cm.dl.HasUserDefinedInit(tkn):
	case cm.dl.IsEnum(tkn):
	case !base.Incomplete && cm.dl.IsFuzzFriendly(tkn):
	case t.IsPointerLevel(2):
	default:
		return false
	}
	return true
}

func isVoidPointer(t *types.Type) bool {
	return t != nil && t.IsPointerLevel(1) && t.Pointee.IsVoid()
}

func (cm *ConditionManager) initSources() {
	var found []*catalog.Api
	for _, api := range cm.apis {
		if cm.sinks[api.Name] {
			continue
		}
		ok := true
		for _, a := range api.Args {
			if !cm.argIsSuppliable(a) {
				ok = false
				break
			}
		}
		if ok {
			found = append(found, api)
		}
	}

	for _, api := range found {
		fc, ok := cm.contract(api.Name)
		if !ok || !cm.IsSource(fc.Return) {
			continue
		}
		if ret, err := cm.f.NormalizeArg(api.Return); err == nil && isVoidPointer(ret) {
			cm.customVoidPointer = true
			break
		}
	}

	for _, api := range found {
		if cm.customVoidPointer && cm.opts.VoidPointer == VoidPointerExcludeAmbiguous && cm.takesVoidPointer(api) {
			logging.RolesDebug("dropping ambiguous void* source %s", api.Name)
			continue
		}
		cm.sources[api.Name] = true
	}
}

func (cm *ConditionManager) takesVoidPointer(api *catalog.Api) bool {
	for _, a := range api.Args {
		if t, err := cm.f.NormalizeArg(a); err == nil && isVoidPointer(t) {
			return true
		}
	}
	return false
}

func appendSlot(list []slot, s slot) []slot {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}

func (cm *ConditionManager) initInit() {
	for _, api := range cm.apis {
		fc, ok := cm.contract(api.Name)
		if !ok {
			continue
		}
		call, err := cm.f.APIToCall(api)
		if err != nil {
			continue
		}
		for pos, argType := range call.ArgTypes {
			md, ok := fc.At(pos)
			if !ok || len(md.SetBy) == 0 {
				continue
			}
			deps, err := md.SetByPositions()
			if err != nil {
				continue
			}
			argOK, nIncomplete := 0, 0
			for _, p := range deps {
				if p >= len(call.ArgTypes) {
					continue
				}
				tt := call.ArgTypes[p].BaseType()
				switch tt.Tag {
				case types.TagStruct:
					if cm.dl.IsFuzzFriendly(tt.Token) {
						argOK++
					} else if tt.Incomplete {
						nIncomplete++
					}
				case types.TagPrimitive:
					argOK++
				}
			}
			s := slot{API: api.Name, Pos: pos}
			k := argType.Key()
			if argOK == len(deps)-1 && nIncomplete == 1 {
				cm.initPerType[k] = appendSlot(cm.initPerType[k], s)
			} else {
				cm.setPerType[k] = appendSlot(cm.setPerType[k], s)
			}
		}
	}

	for _, list := range cm.setPerType {
		sole := len(list) == 1
		if (cm.opts.Setters == SetterSole) != sole {
			continue
		}
		for _, s := range list {
			if cm.sources[s.API] {
				logging.RolesDebug("setter %s removed from sources", s.API)
				delete(cm.sources, s.API)
			}
		}
	}
}

func (cm *ConditionManager) initSourcePerType() {
	for _, api := range cm.apis {
		if cm.sinks[api.Name] {
			continue
		}
		ret, err := cm.f.NormalizeArg(api.Return)
		if err != nil || !ret.IsPointer() {
			continue
		}
		base := ret.BaseType()
		if base.Tag != types.TagStruct {
			continue
		}
		k := base.Key()
		cm.sourcePerType[k] = append(cm.sourcePerType[k], api.Name)
	}
}

// IsSink reports whether api consumes its single argument.
func (cm *ConditionManager) IsSink(api *catalog.Api) bool {
	return api != nil && cm.sinks[api.Name]
}

// IsSource reports whether a slot contract creates its root.
func (cm *ConditionManager) IsSource(cond contracts.ValueMetadata) bool {
	return cond.IsSourceCondition()
}

// IsSourceAPI reports whether api can open a driver.
func (cm *ConditionManager) IsSourceAPI(api *catalog.Api) bool {
	return api != nil && cm.sources[api.Name]
}

func (cm *ConditionManager) listed(m map[types.Key][]slot, call *ir.ApiCall, pos int) ([]slot, bool) {
	if pos < 0 || pos >= len(call.ArgTypes) {
		return nil, false
	}
	list, ok := m[call.ArgTypes[pos].Key()]
	if !ok {
		return nil, false
	}
	s := slot{API: call.Function, Pos: pos}
	for _, x := range list {
		if x == s {
			return list, true
		}
	}
	return list, false
}

// IsInit reports whether pos of call initializes an incomplete object.
func (cm *ConditionManager) IsInit(call *ir.ApiCall, pos int) bool {
	_, ok := cm.listed(cm.initPerType, call, pos)
	return ok
}

// IsSetBy reports whether call is the only setter for the type at pos.
func (cm *ConditionManager) IsSetBy(call *ir.ApiCall, pos int) bool {
	list, ok := cm.listed(cm.setPerType, call, pos)
	return ok && len(list) == 1
}

// IsSet reports whether call is some setter for the type at pos.
func (cm *ConditionManager) IsSet(call *ir.ApiCall, pos int) bool {
	_, ok := cm.listed(cm.setPerType, call, pos)
	return ok
}

// HasSource reports whether some API returns a pointer to t.
func (cm *ConditionManager) HasSource(t *types.Type) bool {
	_, ok := cm.sourcePerType[t.Key()]
	return ok
}

// NeedsInitOrSetBy reports whether values of t go through an init call.
func (cm *ConditionManager) NeedsInitOrSetBy(t *types.Type) bool {
	_, ok := cm.initPerType[t.Key()]
	return ok
}

// FindCleanupMethod names the sink registered for b's type, or def.
func (cm *ConditionManager) FindCleanupMethod(b *ir.Buffer, def string) string {
	if api, ok := cm.sinkMap[b.Type.Key()]; ok {
		return api.Name
	}
	return def
}

// CustomVoidPointerSource reports whether some source creates a void*.
func (cm *ConditionManager) CustomVoidPointerSource() bool {
	return cm.customVoidPointer
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func slotAPIs(m map[types.Key][]slot) []string {
	seen := make(map[string]bool)
	for _, list := range m {
		for _, s := range list {
			seen[s.API] = true
		}
	}
	return sortedKeys(seen)
}

// Sinks lists sink APIs.
func (cm *ConditionManager) Sinks() []string { return sortedKeys(cm.sinks) }

// Sources lists source APIs.
func (cm *ConditionManager) Sources() []string { return sortedKeys(cm.sources) }

// InitAPIs lists APIs with an init slot.
func (cm *ConditionManager) InitAPIs() []string { return slotAPIs(cm.initPerType) }

// SetterAPIs lists APIs with a setter slot.
func (cm *ConditionManager) SetterAPIs() []string { return slotAPIs(cm.setPerType) }

// SourcesFor lists APIs returning a pointer to the struct t.
func (cm *ConditionManager) SourcesFor(t *types.Type) []string {
	out := append([]string(nil), cm.sourcePerType[t.Key()]...)
	sort.Strings(out)
	return out
}

// SinkFor names the sink consuming t.
func (cm *ConditionManager) SinkFor(t *types.Type) (string, bool) {
	api, ok := cm.sinkMap[t.Key()]
	if !ok {
		return "", false
	}
	return api.Name, true
}

// Role names.
const (
	RoleSource = "source"
	RoleSink   = "sink"
	RoleInit   = "init"
	RoleSetBy  = "setby"
)

// Roles lists the roles of one API, in a fixed order.
func (cm *ConditionManager) Roles(name string) []string {
	var out []string
	if cm.sources[name] {
		out = append(out, RoleSource)
	}
	if cm.sinks[name] {
		out = append(out, RoleSink)
	}
	for _, r := range []struct {
		role string
		m    map[types.Key][]slot
	}{{RoleInit, cm.initPerType}, {RoleSetBy, cm.setPerType}} {
		found := false
		for _, list := range r.m {
			for _, s := range list {
				if s.API == name {
					found = true
				}
			}
		}
		if found {
			out = append(out, r.role)
		}
	}
	return out
}
