package constraints

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driversynth/internal/catalog"
	"driversynth/internal/contracts"
	"driversynth/internal/factory"
	"driversynth/internal/layout"
)

// ============================================================================
// Role classification
// ============================================================================

func TestCtxRoles(t *testing.T) {
	apis, conds := ctxAPIs()
	fx := newFixture(t, apis, conds, DefaultOptions())

	assert.Equal(t, []string{"create_ctx"}, fx.cm.Sources())
	assert.Equal(t, []string{"destroy_ctx"}, fx.cm.Sinks())
	assert.Empty(t, fx.cm.Roles("use_ctx"))
	assert.Equal(t, []string{RoleSource}, fx.cm.Roles("create_ctx"))
	assert.Equal(t, []string{RoleSink}, fx.cm.Roles("destroy_ctx"))

	for _, name := range fx.cm.Sinks() {
		assert.False(t, fx.cm.IsSourceAPI(fx.apis[name]), "%s is both sink and source", name)
	}

	ctxPtr, err := fx.f.NormalizeArg(ctxArg)
	require.NoError(t, err)
	sink, ok := fx.cm.SinkFor(ctxPtr)
	require.True(t, ok)
	assert.Equal(t, "destroy_ctx", sink)
	assert.True(t, fx.cm.HasSource(ctxPtr.BaseType()))
	assert.Equal(t, []string{"create_ctx"}, fx.cm.SourcesFor(ctxPtr.BaseType()))
	assert.False(t, fx.cm.CustomVoidPointerSource())
}

func TestNewRequiresLayout(t *testing.T) {
	apis, conds := ctxAPIs()
	_, err := New(apis, apis, conds, layout.New(), factory.New(nil), DefaultOptions())
	assert.ErrorIs(t, err, layout.ErrNotInitialized)
}

func TestSinkNeedsDeleteWithoutCreate(t *testing.T) {
	apis, conds := ctxAPIs()
	conds.Add(&contracts.FunctionConditions{Function: "destroy_ctx",
		Params: []contracts.ValueMetadata{meta(at(contracts.AccessDelete), at(contracts.AccessCreate))},
		Return: meta()})
	fx := newFixture(t, apis, conds, DefaultOptions())
	assert.Empty(t, fx.cm.Sinks())
}

func voidPointerAPIs() ([]*catalog.Api, *contracts.Set) {
	voidPtr := catalog.Arg{Name: "p", Flag: catalog.FlagRef, Size: 64, Type: "void *"}
	apis := []*catalog.Api{
		{Name: "make_blob", Return: catalog.Arg{Name: "return", Flag: catalog.FlagRef, Size: 64, Type: "void *"}},
		{Name: "feed", Return: voidRet, Args: []catalog.Arg{voidPtr}},
		{Name: "count", Return: catalog.Arg{Name: "return", Flag: catalog.FlagVal, Size: 32, Type: "int"},
			Args: []catalog.Arg{intArg}},
	}
	set := contracts.NewSet()
	set.Add(&contracts.FunctionConditions{Function: "make_blob", Return: meta(at(contracts.AccessCreate))})
	set.Add(&contracts.FunctionConditions{Function: "feed",
		Params: []contracts.ValueMetadata{meta(at(contracts.AccessRead))}, Return: meta()})
	set.Add(&contracts.FunctionConditions{Function: "count",
		Params: []contracts.ValueMetadata{meta()}, Return: meta()})
	return apis, set
}

func TestVoidPointerPolicy(t *testing.T) {
	apis, conds := voidPointerAPIs()

	fx := newFixture(t, apis, conds, DefaultOptions())
	assert.True(t, fx.cm.CustomVoidPointerSource())
	assert.Equal(t, []string{"count", "make_blob"}, fx.cm.Sources(), "ambiguous void* consumer dropped")

	fx = newFixture(t, apis, conds, Options{VoidPointer: VoidPointerKeepAll})
	assert.Equal(t, []string{"count", "feed", "make_blob"}, fx.cm.Sources())
}

func setterAPIs() ([]*catalog.Api, *contracts.Set) {
	aArg := catalog.Arg{Name: "a", Flag: catalog.FlagRef, Size: 64, Type: "A*"}
	opaque := catalog.Arg{Name: "o", Flag: catalog.FlagRef, Size: 64, Type: "Opaque*"}
	apis := []*catalog.Api{
		{Name: "set_a", Return: voidRet, Args: []catalog.Arg{aArg, intArg}},
		{Name: "init_a", Return: voidRet, Args: []catalog.Arg{aArg, opaque}},
	}
	setBy := func(dep string) contracts.ValueMetadata {
		m := meta(at(contracts.AccessWrite, 0))
		m.SetBy = []string{dep}
		return m
	}
	set := contracts.NewSet()
	set.Add(&contracts.FunctionConditions{Function: "set_a",
		Params: []contracts.ValueMetadata{setBy("param_1"), meta()}, Return: meta()})
	set.Add(&contracts.FunctionConditions{Function: "init_a",
		Params: []contracts.ValueMetadata{setBy("param_1"), meta(at(contracts.AccessRead))}, Return: meta()})
	return apis, set
}

func TestInitAndSetBy(t *testing.T) {
	apis, conds := setterAPIs()
	fx := newFixture(t, apis, conds, DefaultOptions())

	setCall, _ := fx.call(t, "set_a")
	initCall, _ := fx.call(t, "init_a")

	assert.True(t, fx.cm.IsSetBy(setCall, 0), "only setter of A*")
	assert.True(t, fx.cm.IsSet(setCall, 0))
	assert.False(t, fx.cm.IsInit(setCall, 0))
	assert.False(t, fx.cm.IsSetBy(setCall, 1))
	assert.False(t, fx.cm.IsSetBy(setCall, -1))

	assert.True(t, fx.cm.IsInit(initCall, 0), "one incomplete dependency")
	assert.True(t, fx.cm.NeedsInitOrSetBy(initCall.ArgTypes[0]))

	assert.Equal(t, []string{"init_a"}, fx.cm.InitAPIs())
	assert.Equal(t, []string{"set_a"}, fx.cm.SetterAPIs())
	assert.NotContains(t, fx.cm.Sources(), "set_a", "sole setter leaves the sources")
}

func TestSetterExclusionShared(t *testing.T) {
	apis, conds := setterAPIs()
	fx := newFixture(t, apis, conds, Options{Setters: SetterShared})
	assert.Contains(t, fx.cm.Sources(), "set_a", "a single setter is not shared")
}

func TestParsePolicies(t *testing.T) {
	p, err := ParseVoidPointerPolicy("")
	require.NoError(t, err)
	assert.Equal(t, VoidPointerExcludeAmbiguous, p)
	_, err = ParseVoidPointerPolicy("bogus")
	assert.Error(t, err)

	s, err := ParseSetterExclusion("shared")
	require.NoError(t, err)
	assert.Equal(t, SetterShared, s)
	_, err = ParseSetterExclusion("bogus")
	assert.Error(t, err)

	c, err := ParseCompatStrategy("field-paths")
	require.NoError(t, err)
	assert.Equal(t, "field-paths", c.Name())
	_, err = ParseCompatStrategy("bogus")
	assert.Error(t, err)
}

// ============================================================================
// Compatibility
// ============================================================================

func TestFilePathOnly(t *testing.T) {
	held := NewConditions(meta())
	assert.True(t, FilePathOnly{}.Compatible(held, meta(at(contracts.AccessRead, 3, 4))))

	req := meta()
	req.IsFilePath = true
	assert.False(t, FilePathOnly{}.Compatible(held, req))
}

func TestFieldPathsCoverage(t *testing.T) {
	held := NewConditions(meta(at(contracts.AccessWrite, 0), at(contracts.AccessWrite, 2, -1)))
	fp := FieldPaths{}

	assert.True(t, fp.Compatible(held, meta(at(contracts.AccessRead, 0))), "equal path")
	assert.True(t, fp.Compatible(held, meta(at(contracts.AccessRead, 0, 1))), "recorded prefix")
	assert.True(t, fp.Compatible(held, meta(at(contracts.AccessRead, 2, 7))), "jolly write")
	assert.False(t, fp.Compatible(held, meta(at(contracts.AccessRead, 1))))
	assert.True(t, fp.Compatible(held, meta(at(contracts.AccessRead, 1), at(contracts.AccessWrite, 1))),
		"paths the slot writes itself are not required")
	assert.True(t, fp.Compatible(held, meta(at(contracts.AccessRead, 5, -1))), "jolly reads are not required")

	arr := meta()
	arr.IsArray = true
	assert.False(t, fp.Compatible(held, arr))
}

func TestFieldPathsMonotone(t *testing.T) {
	reqs := []contracts.ValueMetadata{
		meta(at(contracts.AccessRead, 0)),
		meta(at(contracts.AccessRead, 0, 1)),
		meta(at(contracts.AccessRead, 2, 3), at(contracts.AccessRead, 0)),
		meta(at(contracts.AccessRead)),
	}
	writes := []contracts.AccessType{
		at(contracts.AccessWrite),
		at(contracts.AccessWrite, 0),
		at(contracts.AccessWrite, 0, 5),
		at(contracts.AccessWrite, 2, -1),
		at(contracts.AccessWrite, -1),
		at(contracts.AccessWrite, 9),
	}
	fp := FieldPaths{}
	for ri, req := range reqs {
		held := NewConditions(meta())
		satisfied := false
		for _, w := range writes {
			held.AddConditions(contracts.NewAccessTypeSet(w))
			ok := fp.Compatible(held, req)
			if satisfied {
				assert.True(t, ok, "request %d lost compatibility after write %s", ri, w)
			}
			satisfied = satisfied || ok
		}
		assert.True(t, satisfied, "request %d never satisfied", ri)
	}
}

func TestConditionsKeepOnlyWrites(t *testing.T) {
	c := NewConditions(meta(at(contracts.AccessRead, 0), at(contracts.AccessWrite, 1), at(contracts.AccessCreate)))
	assert.Equal(t, 1, c.ATS.Len())
	assert.True(t, c.ATS.Contains(contracts.AccessWrite, 1))
	assert.Equal(t, [][]int{{1}}, c.SubFields([]int{1}))
	assert.Empty(t, c.JollyConditions())
}

func TestIsUnconstrained(t *testing.T) {
	assert.True(t, IsUnconstrained(meta()))
	assert.True(t, IsUnconstrained(meta(at(contracts.AccessRead), at(contracts.AccessRead, -1),
		at(contracts.AccessWrite, 3), at(contracts.AccessReturn))))
	assert.False(t, IsUnconstrained(meta(at(contracts.AccessRead, 0))))
	assert.False(t, IsUnconstrained(meta(at(contracts.AccessDelete))))
}
