package constraints

import (
	"fmt"
	"math/rand"
	"strings"

	"driversynth/internal/contracts"
	"driversynth/internal/ir"
	"driversynth/internal/layout"
	"driversynth/internal/logging"
	"driversynth/internal/types"
)

// pendingLen is a buffer waiting for its length variable.
type pendingLen struct {
	Var *ir.Variable
	Len *ir.Variable
}

// RunningOptions configure a RunningContext.
type RunningOptions struct {
	Limits Limits
	Compat CompatStrategy

	// ReturnLengths also schedules a length for heap buffers returned by a
	// call. Off by default: a returned buffer belongs to the library and a
	// dynamic init would replace it with a fresh allocation.
	ReturnLengths bool
}

// RunningContext is the live pool of one synthesis attempt. It is not safe
// for concurrent use and must not be shared between attempts.
type RunningContext struct {
	*Context

	cm     *ConditionManager
	dl     *layout.DataLayout
	compat CompatStrategy

	returnLengths bool

	alive        []*ir.Variable
	conds        map[ir.VarID]*Conditions
	fileBuffers  map[ir.BufferID]bool
	pending      []pendingLen
	constStrings map[ir.VarID]string
	typeHash     map[string]string
	sunk         map[ir.VarID]bool
}

// NewRunningContext returns an empty pool over the shared oracles.
func NewRunningContext(cm *ConditionManager, dl *layout.DataLayout, rng *rand.Rand, opts RunningOptions) *RunningContext {
	ctx := NewContext(rng, opts.Limits)
	ctx.PointerStrategies = []PointerStrategy{PointerArray}
	compat := opts.Compat
	if compat == nil {
		compat = FilePathOnly{}
	}
	return &RunningContext{
		Context:       ctx,
		cm:            cm,
		dl:            dl,
		compat:        compat,
		returnLengths: opts.ReturnLengths,
		conds:         make(map[ir.VarID]*Conditions),
		fileBuffers:   make(map[ir.BufferID]bool),
		constStrings:  make(map[ir.VarID]string),
		typeHash:      make(map[string]string),
		sunk:          make(map[ir.VarID]bool),
	}
}

// ============================================================================
// Checkpoints
// ============================================================================

// Checkpoint is a restorable copy of the pool.
type Checkpoint struct {
	mark         ir.Mark
	alive        []*ir.Variable
	conds        map[ir.VarID]*Conditions
	fileBuffers  map[ir.BufferID]bool
	pending      []pendingLen
	constStrings map[ir.VarID]string
	typeHash     map[string]string
	sunk         map[ir.VarID]bool
	counters     map[types.Key]int
	stubOrder    int
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Checkpoint records the current state.
func (rc *RunningContext) Checkpoint() *Checkpoint {
	conds := make(map[ir.VarID]*Conditions, len(rc.conds))
	for k, c := range rc.conds {
		conds[k] = c.clone()
	}
	return &Checkpoint{
		mark:         rc.arena.Mark(),
		alive:        append([]*ir.Variable(nil), rc.alive...),
		conds:        conds,
		fileBuffers:  copyMap(rc.fileBuffers),
		pending:      append([]pendingLen(nil), rc.pending...),
		constStrings: copyMap(rc.constStrings),
		typeHash:     copyMap(rc.typeHash),
		sunk:         copyMap(rc.sunk),
		counters:     copyMap(rc.counters),
		stubOrder:    len(rc.stubOrder),
	}
}

// Rollback restores cp, forgetting every buffer created since.
func (rc *RunningContext) Rollback(cp *Checkpoint) {
	rc.arena.Truncate(cp.mark)
	rc.alive = cp.alive
	rc.conds = cp.conds
	rc.fileBuffers = cp.fileBuffers
	rc.pending = cp.pending
	rc.constStrings = cp.constStrings
	rc.typeHash = cp.typeHash
	rc.sunk = cp.sunk
	rc.counters = cp.counters
	for _, k := range rc.stubOrder[cp.stubOrder:] {
		delete(rc.stubs, k)
	}
	rc.stubOrder = rc.stubOrder[:cp.stubOrder]
}

// ============================================================================
// Pool queries
// ============================================================================

// Alive lists the live variables in the order they joined the pool.
func (rc *RunningContext) Alive() []*ir.Variable {
	return append([]*ir.Variable(nil), rc.alive...)
}

// ConditionsOf returns what the pool knows about v.
func (rc *RunningContext) ConditionsOf(v *ir.Variable) (*Conditions, bool) {
	c, ok := rc.conds[v.ID]
	return c, ok
}

// IsSunk reports whether a sink consumed v.
func (rc *RunningContext) IsSunk(v *ir.Variable) bool { return rc.sunk[v.ID] }

func (rc *RunningContext) isAlive(v *ir.Variable) bool {
	_, ok := rc.conds[v.ID]
	return ok
}

// matches is the reuse test: no bound length, no const pointer, and either
// the same type or a double pointer to it, with compatible conditions.
func (rc *RunningContext) matches(v *ir.Variable, t *types.Type, cond contracts.ValueMetadata) bool {
	c := rc.conds[v.ID]
	if c.LenDependsOn != nil {
		return false
	}
	vt := v.Type()
	if vt.IsPointer() && vt.AnyConst() {
		return false
	}
	if vt.IsPointerLevel(2) && vt.Pointee.Equal(t) && rc.compat.Compatible(c, cond) {
		return true
	}
	return vt.Equal(t) && rc.compat.Compatible(c, cond)
}

func (rc *RunningContext) hasVars(t *types.Type, cond contracts.ValueMetadata) bool {
	for _, v := range rc.alive {
		if rc.matches(v, t, cond) {
			return true
		}
	}
	return false
}

func (rc *RunningContext) randomVar(t *types.Type, cond contracts.ValueMetadata) *ir.Variable {
	var suitable []*ir.Variable
	for _, v := range rc.alive {
		if rc.matches(v, t, cond) {
			suitable = append(suitable, v)
		}
	}
	if len(suitable) == 0 {
		return nil
	}
	return suitable[rc.rng.Intn(len(suitable))]
}

func (rc *RunningContext) strictlySatisfying(t *types.Type, cond contracts.ValueMetadata) ir.Value {
	var cands []*ir.Variable
	if t.IsPointer() && rc.dl.IsStruct(t.Pointee.Token) {
		for _, v := range rc.alive {
			vt := v.Type()
			if vt.IsPointerLevel(2) && vt.Pointee.Equal(t) && rc.compat.Compatible(rc.conds[v.ID], cond) {
				cands = append(cands, v)
			}
		}
	}
	for _, v := range rc.alive {
		if v.Type().Equal(t) && rc.compat.Compatible(rc.conds[v.ID], cond) {
			cands = append(cands, v)
		}
	}
	if len(cands) == 0 {
		return nil
	}
	v := cands[rc.rng.Intn(len(cands))]
	if t.IsPointer() {
		return v.Address()
	}
	return v
}

// ============================================================================
// Allocation
// ============================================================================

func (rc *RunningContext) newBufferFor(t *types.Type, cond contracts.ValueMetadata, force bool) *ir.Buffer {
	def := ir.AllocHeap
	if !rc.cm.IsSource(cond) {
		def = ir.AllocGlobal
	}
	alloc := ir.AllocStack
	if t.IsPointer() {
		base := t.BaseType()
		if base.Incomplete && base.Tag == types.TagStruct {
			alloc = def
		}
		if cond.LenDependsOn != "" {
			alloc = ir.AllocHeap
		}
		if force {
			alloc = def
		}
	}
	if t.IsPointerLevel(2) {
		if t.BaseType().Incomplete {
			alloc = def
		} else {
			alloc = ir.AllocHeap
		}
	}

	n := 1
	switch {
	case (cond.IsArray || layout.IsStringType(t.Token)) && alloc == ir.AllocStack:
		n = rc.limits.MaxArraySize
	case t.Token == "char**":
		n = rc.limits.DoublePtrSize
	}
	b := rc.newBuffer(t, alloc, n)
	logging.ContextDebug("new buffer %s", b)
	return b
}

func (rc *RunningContext) newVar(t *types.Type, cond contracts.ValueMetadata, force bool) *ir.Variable {
	if t.IsVoid() {
		return rc.VoidVariable()
	}
	return rc.newBufferFor(t, cond, force).First()
}

func addressIfPointer(v *ir.Variable) ir.Value {
	if v.Type().IsPointer() {
		return v.Address()
	}
	return v
}

func hasDereference(cond contracts.ValueMetadata) bool {
	for _, at := range cond.ATS.Items() {
		if len(at.Fields) == 1 && at.Fields[0] == -1 {
			return true
		}
	}
	return false
}

// randomValue picks a live value of t or allocates one.
func (rc *RunningContext) randomValue(call *ir.ApiCall, pos int, t *types.Type, cond contracts.ValueMetadata, isRet bool) (ir.Value, error) {
	if !t.IsPointer() {
		if t.Incomplete && !t.IsVoid() {
			return nil, unsat(call.Function, pos, t.Token, "cannot get a value of an incomplete type")
		}
		if !rc.hasVars(t, cond) || rc.rng.Intn(2) == 0 {
			return rc.newVar(t, cond, isRet), nil
		}
		return rc.randomVar(t, cond), nil
	}

	tt := t.Pointee
	incomplete := tt.Incomplete
	if tt.Incomplete || isRet {
		tt = t
		incomplete = !isRet && t.Pointee.Incomplete
	}

	choice := PointerArray
	if !isRet && !cond.IsFilePath && !hasDereference(cond) && cond.LenDependsOn == "" &&
		t.BaseType().Token == "char" && len(rc.PointerStrategies) > 0 {
		choice = rc.PointerStrategies[rc.rng.Intn(len(rc.PointerStrategies))]
	}
	if choice == PointerNull {
		return ir.NullConstant{Type: tt}, nil
	}

	pickRandom := rc.rng.Intn(2) == 0
	switch {
	case !rc.hasVars(t, cond):
		pickRandom = false
	case (tt.Tag == types.TagStruct && !rc.dl.IsFuzzFriendly(tt.Token)) || incomplete:
		pickRandom = true
	case isRet:
		pickRandom = false
	}
	var b *ir.Buffer
	if pickRandom {
		v := rc.randomVar(t, cond)
		if v == nil {
			return nil, unsat(call.Function, pos, t.Token, "no live variable")
		}
		b = v.Buffer
	} else {
		b = rc.newBufferFor(t, cond, isRet)
	}
	return b.Address()
}

// ============================================================================
// Resolution
// ============================================================================

// Resolve picks the value for slot pos of call; -1 is the return slot. The
// only recoverable failure is ErrUnsatisfiable.
func (rc *RunningContext) Resolve(call *ir.ApiCall, fc *contracts.FunctionConditions, pos int) (ir.Value, error) {
	cond, ok := fc.At(pos)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no contract for slot %d", contracts.ErrMalformedContract, call.Function, pos)
	}
	t := call.SlotType(pos)
	isRet := pos == -1

	if !isRet && t.ToFunction {
		f, err := rc.FunctionPointer(t)
		if err != nil {
			return nil, fmt.Errorf("failed to stub %s: %w", t.Token, err)
		}
		return f.Address(), nil
	}

	val, err := rc.pick(call, fc, pos, t, cond)
	if err != nil {
		logging.ContextDebug("%v", err)
		return nil, err
	}
	rc.scheduleLength(val, cond, isRet)
	return val, nil
}

func (rc *RunningContext) pick(call *ir.ApiCall, fc *contracts.FunctionConditions, pos int, t *types.Type, cond contracts.ValueMetadata) (ir.Value, error) {
	isRet := pos == -1
	isSink := rc.cm.IsSink(call.Api)

	switch {
	case isRet:
		if t.IsVoid() {
			return ir.NullConstant{Type: t}, nil
		}
		if rc.cm.IsSource(cond) {
			return addressIfPointer(rc.newVar(t, cond, true)), nil
		}
		return rc.randomValue(call, pos, t, cond, true)

	case isSink:
		if v := rc.strictlySatisfying(t, cond); v != nil {
			return v, nil
		}
		if IsUnconstrained(cond) && !t.Incomplete {
			return rc.randomValue(call, pos, t, cond, false)
		}
		return nil, unsat(call.Function, pos, t.Token, "no live value for sink")

	case isVoidPointer(t) && !rc.cm.CustomVoidPointerSource():
		return rc.newVar(rc.stubCharArray, cond, false).Address(), nil

	case rc.cm.IsInit(call, pos) || rc.cm.IsSetBy(call, pos):
		var val *ir.Variable
		for _, v := range rc.alive {
			if rc.matches(v, t, cond) && !rc.conds[v.ID].Initialized {
				val = v
				break
			}
		}
		if val == nil {
			val = rc.newVar(t, cond, false)
		}
		if t.IsPointer() {
			return val.Address(), nil
		}
		return val, nil

	case rc.hasVars(t, cond):
		return addressIfPointer(rc.randomVar(t, cond)), nil
	}

	if !t.IsPointerLevel(2) {
		tt := t.BaseType()
		if tt.Incomplete {
			return nil, unsat(call.Function, pos, t.Token, "incomplete type without a live value")
		}
		if tt.Tag == types.TagStruct && !rc.isInitAPI(call, fc, pos) &&
			rc.dl.IsFuzzFriendly(tt.Token) && rc.cm.NeedsInitOrSetBy(t) {
			return nil, unsat(call.Function, pos, t.Token, "initializer cannot run yet")
		}
		if rc.cm.HasSource(tt) {
			return nil, unsat(call.Function, pos, t.Token, "type has a dedicated source")
		}
	}
	return addressIfPointer(rc.newVar(t, cond, false)), nil
}

// isInitAPI reports whether every set_by dependency of pos can be supplied.
func (rc *RunningContext) isInitAPI(call *ir.ApiCall, fc *contracts.FunctionConditions, pos int) bool {
	cond, ok := fc.At(pos)
	if !ok || len(cond.SetBy) == 0 {
		return false
	}
	deps, err := cond.SetByPositions()
	if err != nil {
		return false
	}
	argOK := 0
	for _, p := range deps {
		if p >= len(call.ArgTypes) {
			continue
		}
		dt := call.ArgTypes[p]
		dc, _ := fc.At(p)
		tt := dt.BaseType()
		switch {
		case rc.hasVars(dt, dc):
			argOK++
		case tt.Tag == types.TagStruct:
			setter := rc.cm.IsSetBy(call, pos) || rc.cm.IsInit(call, pos)
			if (rc.dl.IsFuzzFriendly(tt.Token) && !setter) || !tt.Incomplete {
				argOK++
			}
		case tt.Tag == types.TagPrimitive:
			argOK++
		}
	}
	return argOK == len(deps)
}

func variableOf(val ir.Value) *ir.Variable {
	switch v := val.(type) {
	case *ir.Variable:
		return v
	case ir.Address:
		return v.Var
	}
	return nil
}

func (rc *RunningContext) hasPending(v *ir.Variable) bool {
	for _, p := range rc.pending {
		if p.Var == v {
			return true
		}
	}
	return false
}

// scheduleLength queues a length variable for file paths and for heap
// arrays without a contract length. Returned heap arrays are left alone
// unless ReturnLengths is set.
func (rc *RunningContext) scheduleLength(val ir.Value, cond contracts.ValueMetadata, isRet bool) {
	v := variableOf(val)
	if v == nil || rc.hasPending(v) {
		return
	}
	base := v.Type().BaseType()
	switch {
	case cond.IsFilePath:
		if !layout.IsStringType(v.Type().Token) {
			return
		}
		lenVar := rc.newLengthVar()
		rc.fileBuffers[v.Buffer.ID] = true
		rc.pending = append(rc.pending, pendingLen{Var: v, Len: lenVar})
		rc.constStrings[v.ID] = layout.RandomLetters(rc.rng, 20) + ".bin"
	case (!isRet || rc.returnLengths) && cond.LenDependsOn == "" && v.Buffer.Alloc == ir.AllocHeap &&
		base.Tag == types.TagPrimitive && !base.IsVoid():
		rc.pending = append(rc.pending, pendingLen{Var: v, Len: rc.newLengthVar()})
	}
}

func (rc *RunningContext) newLengthVar() *ir.Variable {
	size, err := rc.dl.TypeSize("size_t")
	if err != nil {
		size = types.PointerSize
	}
	t := types.New("size_t", size, false, false, types.TagPrimitive)
	return rc.newVar(t, contracts.ValueMetadata{}, false)
}

// ============================================================================
// Update
// ============================================================================

// UpdateCall records the effects of a fully bound call: every argument,
// then the return slot, then contract lengths.
func (rc *RunningContext) UpdateCall(call *ir.ApiCall, fc *contracts.FunctionConditions) error {
	for pos := range call.Args {
		if err := rc.Update(call, fc, pos); err != nil {
			return err
		}
	}
	if err := rc.Update(call, fc, -1); err != nil {
		return err
	}
	rc.recordContractLengths(call, fc)
	return nil
}

// Update records the effect of call on the value bound at pos.
func (rc *RunningContext) Update(call *ir.ApiCall, fc *contracts.FunctionConditions, pos int) error {
	cond, ok := fc.At(pos)
	if !ok {
		return fmt.Errorf("%w: %s has no contract for slot %d", contracts.ErrMalformedContract, call.Function, pos)
	}
	val := call.Slot(pos)
	switch v := val.(type) {
	case nil, ir.NullConstant, *ir.Function:
		return nil
	case ir.Address:
		if v.Var == nil {
			return nil
		}
	}
	return rc.updateVar(val, cond, pos == -1,
		rc.cm.IsSink(call.Api), rc.cm.IsInit(call, pos), rc.cm.IsSet(call, pos))
}

func (rc *RunningContext) updateVar(val ir.Value, cond contracts.ValueMetadata, isRet, isSink, isInit, isSet bool) error {
	var (
		v         *ir.Variable
		synthetic contracts.AccessTypeSet
	)
	switch x := val.(type) {
	case *ir.Variable:
		v = x
		synthetic = contracts.NewAccessTypeSet(rc.rootWrite(v.Type(), cond))
	case ir.Address:
		v = x.Var
		root := rc.rootWrite(v.Type(), cond)
		deref := rc.derefWrite(v.Type(), cond)
		deref.Parent = &root
		synthetic = contracts.NewAccessTypeSet(root, deref)
	case ir.Constant:
		return nil
	default:
		return fmt.Errorf("cannot update from %T", val)
	}

	if isRet && rc.isAlive(v) {
		rc.drop(v)
	}
	present := rc.isAlive(v)
	rc.addVariable(v, cond)
	if present && isSink {
		rc.drop(v)
		rc.sunk[v.ID] = true
		logging.ContextDebug("%s consumed", v.Token)
		return nil
	}
	c := rc.conds[v.ID]
	c.AddConditions(synthetic)
	if isInit || isSet {
		c.Initialized = true
	}
	if isSink {
		c.Initialized = false
	}
	return nil
}

func (rc *RunningContext) addVariable(v *ir.Variable, cond contracts.ValueMetadata) {
	if c, ok := rc.conds[v.ID]; ok {
		c.AddConditions(cond.ATS)
		c.IsArray = cond.IsArray
		c.IsMallocSize = cond.IsMallocSize
		c.IsFilePath = cond.IsFilePath
		return
	}
	rc.alive = append(rc.alive, v)
	rc.conds[v.ID] = NewConditions(cond)
}

// drop removes v from the pool and from pending lengths.
func (rc *RunningContext) drop(v *ir.Variable) {
	delete(rc.conds, v.ID)
	for i, x := range rc.alive {
		if x == v {
			rc.alive = append(rc.alive[:i:i], rc.alive[i+1:]...)
			break
		}
	}
	kept := rc.pending[:0:0]
	for _, p := range rc.pending {
		if p.Var != v {
			kept = append(kept, p)
		}
	}
	rc.pending = kept
}

func (rc *RunningContext) recordContractLengths(call *ir.ApiCall, fc *contracts.FunctionConditions) {
	for pos := range call.Args {
		cond, _ := fc.At(pos)
		lp, ok := cond.LenDependsOnPosition()
		if !ok || lp >= len(call.Args) {
			continue
		}
		v := variableOf(call.Args[pos])
		lenVar, isVar := call.Args[lp].(*ir.Variable)
		if v == nil || !isVar || !layout.IsSizeType(lenVar.Type().Token) || !rc.isAlive(v) || rc.hasPending(v) {
			continue
		}
		rc.pending = append(rc.pending, pendingLen{Var: v, Len: lenVar})
	}
}

// typeLabel memoizes a random hash per type string.
func (rc *RunningContext) typeLabel(s string) string {
	if h, ok := rc.typeHash[s]; ok {
		return h
	}
	h := layout.RandomLetters(rc.rng, 20)
	rc.typeHash[s] = h
	return h
}

func rootTypeString(t *types.Type, cond contracts.ValueMetadata) string {
	for _, at := range cond.ATS.Items() {
		if at.IsRoot() && at.TypeString != "" {
			return at.TypeString
		}
	}
	return t.Token
}

func (rc *RunningContext) rootWrite(t *types.Type, cond contracts.ValueMetadata) contracts.AccessType {
	s := rootTypeString(t, cond)
	at := contracts.NewAccessType(contracts.AccessWrite)
	at.TypeString = s
	at.Type = rc.typeLabel(s)
	return at
}

func (rc *RunningContext) derefWrite(t *types.Type, cond contracts.ValueMetadata) contracts.AccessType {
	s := rootTypeString(t, cond)
	switch {
	case strings.Contains(s, "*"):
		s = strings.Replace(s, "*", "", 1)
	case t.IsPointer():
		s = t.Pointee.Token
	}
	at := contracts.NewAccessType(contracts.AccessWrite, -1)
	at.TypeString = s
	at.Type = rc.typeLabel(s)
	return at
}

// ============================================================================
// Statement emission
// ============================================================================

// BindDependentLengths attaches every pending length variable to its
// buffer. Call it once, after the last call is appended.
func (rc *RunningContext) BindDependentLengths() {
	for _, p := range rc.pending {
		if c, ok := rc.conds[p.Var.ID]; ok && c.LenDependsOn == nil {
			c.LenDependsOn = p.Len
		}
	}
}

// DynamicBuffer is a buffer initialized at a length read from the input.
type DynamicBuffer struct {
	Buffer *ir.Buffer
	Len    *ir.Variable
}

// FixedAndDynamicBuffers partitions the buffers that need initialization.
func (rc *RunningContext) FixedAndDynamicBuffers() ([]DynamicBuffer, []*ir.Buffer) {
	var dyn []DynamicBuffer
	skip := make(map[ir.BufferID]bool)
	for _, v := range rc.alive {
		c := rc.conds[v.ID]
		if c.LenDependsOn == nil || skip[v.Buffer.ID] {
			continue
		}
		dyn = append(dyn, DynamicBuffer{Buffer: v.Buffer, Len: c.LenDependsOn})
		skip[v.Buffer.ID] = true
		skip[c.LenDependsOn.Buffer.ID] = true
	}

	var fixed []*ir.Buffer
	for _, b := range rc.arena.Buffers() {
		t := b.Type
		switch {
		case t.IsPointer() && t.BaseType().Incomplete,
			t.Incomplete,
			t.IsVoid(),
			skip[b.ID],
			b.Alloc == ir.AllocHeap || b.Alloc == ir.AllocGlobal,
			t.IsPointer() && t.BaseType().Tag == types.TagStruct && !rc.dl.IsFuzzFriendly(t.BaseType().Token):
			continue
		}
		fixed = append(fixed, b)
	}
	return dyn, fixed
}

// AuxiliaryOperations returns the init statements and the byte size of each
// length counter they read.
func (rc *RunningContext) AuxiliaryOperations() ([]ir.Statement, []int, error) {
	dyn, fixed := rc.FixedAndDynamicBuffers()
	var (
		inits    []ir.Statement
		counters []int
	)
	for _, b := range fixed {
		inits = append(inits, ir.BuffInit{Buffer: b})
		if layout.IsStringType(b.Type.Token) {
			s, err := ir.NewSetStringNull(b, nil)
			if err != nil {
				return nil, nil, err
			}
			inits = append(inits, s)
		}
	}
	for _, d := range dyn {
		lenBytes := d.Len.Buffer.AllocatedSize() / 8
		switch {
		case rc.fileBuffers[d.Buffer.ID]:
			s, err := ir.NewFileInit(d.Buffer, d.Len)
			if err != nil {
				return nil, nil, err
			}
			inits = append(inits, s)
			counters = append(counters, lenBytes)
		case d.Buffer.Type.IsPointerLevel(1):
			s, err := ir.NewDynArrayInit(d.Buffer, d.Len)
			if err != nil {
				return nil, nil, err
			}
			inits = append(inits, s)
			counters = append(counters, lenBytes)
			if layout.IsStringType(d.Buffer.Type.Token) {
				n, err := ir.NewSetStringNull(d.Buffer, d.Len)
				if err != nil {
					return nil, nil, err
				}
				inits = append(inits, n)
			}
		case d.Buffer.Type.IsPointerLevel(2):
			s, err := ir.NewDynDblArrInit(d.Buffer, d.Len)
			if err != nil {
				return nil, nil, err
			}
			inits = append(inits, s)
			for i := 0; i < d.Buffer.NElements; i++ {
				counters = append(counters, lenBytes)
			}
		}
	}
	return inits, counters, nil
}

// BufferDecls declares every buffer but the void placeholder.
func (rc *RunningContext) BufferDecls() ([]ir.Statement, error) {
	var out []ir.Statement
	for _, b := range rc.arena.Buffers() {
		if rc.IsVoidBuffer(b) || b.Type.IsVoid() {
			continue
		}
		if v, err := b.At(0); err == nil {
			if s, ok := rc.constStrings[v.ID]; ok {
				d, err := ir.NewConstStringDecl(b, s)
				if err != nil {
					return nil, err
				}
				out = append(out, d)
				continue
			}
		}
		out = append(out, ir.BuffDecl{Buffer: b})
	}
	return out, nil
}

func (rc *RunningContext) allSunk(b *ir.Buffer) bool {
	vars := b.Variables()
	if len(vars) == 0 {
		return false
	}
	for _, v := range vars {
		if !rc.sunk[v.ID] {
			return false
		}
	}
	return true
}

// CleanUp releases heap buffers through their sink or DefaultCleanup, and
// stack buffers that have a sink. Buffers already consumed are skipped.
func (rc *RunningContext) CleanUp() ([]ir.Statement, error) {
	var out []ir.Statement
	for _, b := range rc.arena.Buffers() {
		if rc.allSunk(b) {
			continue
		}
		switch b.Alloc {
		case ir.AllocHeap:
			m := rc.cm.FindCleanupMethod(b, DefaultCleanup)
			if b.Type.IsPointerLevel(2) {
				s, err := ir.NewCleanDblBuffer(b, m)
				if err != nil {
					return nil, err
				}
				out = append(out, s)
				continue
			}
			s, err := ir.NewCleanBuffer(b, m)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		case ir.AllocStack:
			m := rc.cm.FindCleanupMethod(b, "")
			if m == "" {
				continue
			}
			s, err := ir.NewCleanBuffer(b, m)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}

// AllocatedSize is the footprint of the fixed buffers in bits.
func (rc *RunningContext) AllocatedSize() int {
	_, fixed := rc.FixedAndDynamicBuffers()
	total := 0
	for _, b := range fixed {
		total += b.AllocatedSize()
	}
	return total
}
