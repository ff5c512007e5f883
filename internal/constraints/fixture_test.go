package constraints

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"driversynth/internal/catalog"
	"driversynth/internal/contracts"
	"driversynth/internal/factory"
	"driversynth/internal/ir"
	"driversynth/internal/layout"
)

func at(a contracts.Access, fields ...int) contracts.AccessType {
	return contracts.NewAccessType(a, fields...)
}

func meta(ats ...contracts.AccessType) contracts.ValueMetadata {
	return contracts.ValueMetadata{ATS: contracts.NewAccessTypeSet(ats...)}
}

var (
	voidRet = catalog.Arg{Name: "return", Flag: catalog.FlagVal, Type: "void"}
	ctxArg  = catalog.Arg{Name: "c", Flag: catalog.FlagRef, Size: 64, Type: "Ctx*"}
	intArg  = catalog.Arg{Name: "n", Flag: catalog.FlagVal, Size: 32, Type: "int"}
)

func testTable() *layout.Table {
	return &layout.Table{
		Types: map[string]layout.Entry{
			"%struct.A": {Size: 64, Hash: "a", FuzzFriendly: true},
		},
		Structs: map[string]string{
			"Ctx":    "%struct.Ctx",
			"A":      "%struct.A",
			"Opaque": "%struct.Opaque",
		},
		Incomplete: []string{"%struct.Ctx", "%struct.Opaque"},
	}
}

// ctxAPIs is create_ctx() -> Ctx*, use_ctx(Ctx*, int), destroy_ctx(Ctx*).
func ctxAPIs() ([]*catalog.Api, *contracts.Set) {
	apis := []*catalog.Api{
		{Name: "create_ctx", Return: catalog.Arg{Name: "return", Flag: catalog.FlagRef, Size: 64, Type: "Ctx*"}},
		{Name: "use_ctx", Return: voidRet, Args: []catalog.Arg{ctxArg, intArg}},
		{Name: "destroy_ctx", Return: voidRet, Args: []catalog.Arg{ctxArg}},
	}
	set := contracts.NewSet()
	set.Add(&contracts.FunctionConditions{Function: "create_ctx",
		Return: meta(at(contracts.AccessCreate))})
	set.Add(&contracts.FunctionConditions{Function: "use_ctx",
		Params: []contracts.ValueMetadata{meta(at(contracts.AccessRead)), meta(at(contracts.AccessRead))},
		Return: meta()})
	set.Add(&contracts.FunctionConditions{Function: "destroy_ctx",
		Params: []contracts.ValueMetadata{meta(at(contracts.AccessDelete))},
		Return: meta()})
	return apis, set
}

// initAPIs is make_opaque() -> Opaque*, a_init(A* a, Opaque* o) with a
// set by o, use_a(A*) and get_a() -> A*.
func initAPIs() ([]*catalog.Api, *contracts.Set) {
	aArg := catalog.Arg{Name: "a", Flag: catalog.FlagRef, Size: 64, Type: "A*"}
	opaque := catalog.Arg{Name: "o", Flag: catalog.FlagRef, Size: 64, Type: "Opaque*"}
	apis := []*catalog.Api{
		{Name: "make_opaque", Return: catalog.Arg{Name: "return", Flag: catalog.FlagRef, Size: 64, Type: "Opaque*"}},
		{Name: "a_init", Return: voidRet, Args: []catalog.Arg{aArg, opaque}},
		{Name: "use_a", Return: voidRet, Args: []catalog.Arg{aArg}},
		{Name: "get_a", Return: catalog.Arg{Name: "return", Flag: catalog.FlagRef, Size: 64, Type: "A*"}},
	}
	initA := meta(at(contracts.AccessWrite))
	initA.SetBy = []string{"param_1"}
	set := contracts.NewSet()
	set.Add(&contracts.FunctionConditions{Function: "make_opaque",
		Return: meta(at(contracts.AccessCreate))})
	set.Add(&contracts.FunctionConditions{Function: "a_init",
		Params: []contracts.ValueMetadata{initA, meta(at(contracts.AccessRead))},
		Return: meta()})
	set.Add(&contracts.FunctionConditions{Function: "use_a",
		Params: []contracts.ValueMetadata{meta(at(contracts.AccessRead))},
		Return: meta()})
	set.Add(&contracts.FunctionConditions{Function: "get_a",
		Return: meta(at(contracts.AccessRead))})
	return apis, set
}

type fixture struct {
	apis  map[string]*catalog.Api
	conds *contracts.Set
	dl    *layout.DataLayout
	f     *factory.Factory
	cm    *ConditionManager
}

func newFixture(t *testing.T, apis []*catalog.Api, conds *contracts.Set, opts Options) *fixture {
	t.Helper()
	cat, err := catalog.New(apis)
	require.NoError(t, err)
	dl := layout.New()
	require.NoError(t, dl.Setup(testTable(), cat.TypeUses()))
	f := factory.New(dl)
	cm, err := New(apis, apis, conds, dl, f, opts)
	require.NoError(t, err)
	byName := make(map[string]*catalog.Api, len(apis))
	for _, a := range apis {
		byName[a.Name] = a
	}
	return &fixture{apis: byName, conds: conds, dl: dl, f: f, cm: cm}
}

func (fx *fixture) running(seed int64) *RunningContext {
	return fx.runningWith(seed, RunningOptions{})
}

func (fx *fixture) runningWith(seed int64, opts RunningOptions) *RunningContext {
	return NewRunningContext(fx.cm, fx.dl, rand.New(rand.NewSource(seed)), opts)
}

func (fx *fixture) call(t *testing.T, name string) (*ir.ApiCall, *contracts.FunctionConditions) {
	t.Helper()
	c, err := fx.f.APIToCall(fx.apis[name])
	require.NoError(t, err)
	fc, ok := fx.conds.Get(name)
	require.True(t, ok)
	return c, fc
}

// appendCall resolves every slot of name and records its effects.
func (fx *fixture) appendCall(t *testing.T, rc *RunningContext, name string) (*ir.ApiCall, error) {
	t.Helper()
	c, fc := fx.call(t, name)
	for pos := range c.Args {
		v, err := rc.Resolve(c, fc, pos)
		if err != nil {
			return nil, err
		}
		require.NoError(t, c.SetArg(pos, v, 0))
	}
	v, err := rc.Resolve(c, fc, -1)
	if err != nil {
		return nil, err
	}
	require.NoError(t, c.SetRet(v))
	require.NoError(t, rc.UpdateCall(c, fc))
	return c, nil
}
