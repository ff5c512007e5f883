package mangle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, cfg Config, schema string) *Engine {
	t.Helper()
	e := NewEngine(cfg)
	require.NoError(t, e.LoadSchemaString(schema))
	return e
}

func TestEngineRejectsBadSchema(t *testing.T) {
	e := NewEngine(DefaultConfig())
	assert.Error(t, e.LoadSchemaString(`Decl broken(`))
	assert.Error(t, e.AddFact("x", "y"), "no program loaded")
}

func TestEngineAddFactChecksDeclarations(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), `Decl pair(A, B).`)

	require.NoError(t, e.AddFact("pair", "a", int64(1)))
	assert.Error(t, e.AddFact("missing", "a"))
	assert.Error(t, e.AddFact("pair", "a"))
	assert.Error(t, e.AddFact("pair", "a", struct{}{}))

	facts, err := e.GetFacts("pair")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, []interface{}{"a", int64(1)}, facts[0].Args)
}

func TestEngineFactLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FactLimit = 2
	e := newTestEngine(t, cfg, `Decl item(X).`)

	require.NoError(t, e.AddFacts([]Fact{{Predicate: "item", Args: []interface{}{"a"}}, {Predicate: "item", Args: []interface{}{"b"}}}))
	assert.ErrorContains(t, e.AddFact("item", "c"), "fact limit")
}

func TestEngineDerivesRules(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), `
Decl edge(A, B).
Decl path(A, B).
path(A, B) :- edge(A, B).
path(A, C) :- edge(A, B), path(B, C).
`)
	require.NoError(t, e.AddFacts([]Fact{
		{Predicate: "edge", Args: []interface{}{"a", "b"}},
		{Predicate: "edge", Args: []interface{}{"b", "c"}},
	}))

	paths, err := e.GetFacts("path")
	require.NoError(t, err)
	assert.Len(t, paths, 3)

	stats := e.GetStats()
	assert.Equal(t, 2, stats.PredicateCounts["edge"])
	assert.Equal(t, 5, stats.TotalFacts)
}

const edgeSchema = `
Decl edge(A, B) descr [mode("-", "-")].
Decl path(A, B) descr [mode("-", "-")].
path(A, B) :- edge(A, B).
path(A, C) :- edge(A, B), path(B, C).
`

func queryColumn(t *testing.T, e *Engine, q, v string) []interface{} {
	t.Helper()
	res, err := e.Query(context.Background(), q)
	require.NoError(t, err)
	out := make([]interface{}, 0, len(res.Bindings))
	for _, b := range res.Bindings {
		out = append(out, b[v])
	}
	return out
}

func TestEngineQueryBasePredicates(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), edgeSchema)
	require.NoError(t, e.AddFacts([]Fact{
		{Predicate: "edge", Args: []interface{}{"a", "b"}},
		{Predicate: "edge", Args: []interface{}{"b", "c"}},
		{Predicate: "edge", Args: []interface{}{"c", "c"}},
	}))

	assert.ElementsMatch(t, []interface{}{"a", "b", "c"}, queryColumn(t, e, "edge(X, _)", "X"))
	assert.Equal(t, []interface{}{"c"}, queryColumn(t, e, `edge("b", Y)`, "Y"))
	assert.Equal(t, []interface{}{"c"}, queryColumn(t, e, "edge(X, X)", "X"))
	assert.ElementsMatch(t, []interface{}{"b", "c"}, queryColumn(t, e, `path("a", Y)`, "Y"))
}

func TestEngineQueryWithoutAutoEval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoEval = false
	e := newTestEngine(t, cfg, edgeSchema)
	require.NoError(t, e.AddFact("edge", "a", "b"))

	assert.Equal(t, []interface{}{"a"}, queryColumn(t, e, "edge(X, Y)", "X"))
}

func TestEngineClearKeepsProgram(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), `Decl item(X).`)
	require.NoError(t, e.AddFact("item", "a"))

	e.Clear()
	facts, err := e.GetFacts("item")
	require.NoError(t, err)
	assert.Empty(t, facts)

	require.NoError(t, e.AddFact("item", "b"))
	facts, err = e.GetFacts("item")
	require.NoError(t, err)
	assert.Len(t, facts, 1)
}

func TestFactString(t *testing.T) {
	tests := []struct {
		name string
		fact Fact
		want string
	}{
		{"strings", Fact{Predicate: "test", Args: []interface{}{"hello", "world"}}, `test("hello", "world").`},
		{"numbers", Fact{Predicate: "num", Args: []interface{}{int64(42)}}, `num(42).`},
		{"names", Fact{Predicate: "role", Args: []interface{}{"f", "/sink"}}, `role("f", /sink).`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fact.String())
		})
	}
}
