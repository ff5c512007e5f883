package mangle

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/mangle/ast"

	"driversynth/internal/catalog"
	"driversynth/internal/logging"
	"driversynth/internal/types"
)

// Schema describes the catalog: which API consumes or produces which
// cleaned type name, and the roles the classifier gave it.
const Schema = `
Decl api(Name) descr [mode("-")].
Decl arg_type(Name, Pos, Type) descr [mode("-", "-", "-")].
Decl produces(Name, Type) descr [mode("-", "-")].
Decl consumes(Name, Type) descr [mode("-", "-")].
Decl role(Name, Role) descr [mode("-", "-")].

Decl depends_on(A, B) descr [mode("-", "-")].
Decl reachable(A, B) descr [mode("-", "-")].
Decl producible(Type) descr [mode("-")].
Decl unproducible(Name, Type) descr [mode("-", "-")].
Decl sourced(Type) descr [mode("-")].
Decl orphan_sink(Name) descr [mode("-")].

depends_on(A, B) :- consumes(A, T), produces(B, T).
reachable(A, B) :- depends_on(A, B).
reachable(A, C) :- depends_on(A, B), reachable(B, C).
producible(T) :- produces(_, T).
unproducible(A, T) :- consumes(A, T), !producible(T).
sourced(T) :- role(A, /source), produces(A, T).
orphan_sink(A) :- role(A, /sink), consumes(A, T), !sourced(T).
`

// RoleSource resolves names to the role constants stored in role/2.
type RoleSource interface {
	Roles(api string) []string
}

// KB is the knowledge base for one catalog.
type KB struct {
	engine *Engine
}

// NewKB loads the schema into a fresh engine.
func NewKB(cfg Config) (*KB, error) {
	e := NewEngine(cfg)
	if err := e.LoadSchemaString(Schema); err != nil {
		return nil, err
	}
	return &KB{engine: e}, nil
}

// Engine exposes the underlying engine for ad-hoc queries.
func (kb *KB) Engine() *Engine { return kb.engine }

// CatalogFacts derives the base facts of cat. Outputs are the non-void
// return and every ref argument, inputs every non-void argument, the same
// reading the dependency graph uses.
func CatalogFacts(cat *catalog.Catalog, roles RoleSource) []Fact {
	var facts []Fact
	add := func(pred string, args ...interface{}) {
		facts = append(facts, Fact{Predicate: pred, Args: args})
	}
	for _, api := range cat.APIs() {
		name := ast.String(api.Name)
		add("api", name)
		if api.Return.Type != "void" {
			add("produces", name, ast.String(types.CleanToken(api.Return.Type)))
		}
		for i, arg := range api.Args {
			if arg.Type == "void" {
				continue
			}
			clean := ast.String(types.CleanToken(arg.Type))
			add("arg_type", name, int64(i), clean)
			add("consumes", name, clean)
			if arg.Flag == catalog.FlagRef {
				add("produces", name, clean)
			}
		}
		if roles == nil {
			continue
		}
		for _, r := range roles.Roles(api.Name) {
			add("role", name, "/"+r)
		}
	}
	return facts
}

// Load asserts the facts of cat and derives the rules once.
func (kb *KB) Load(cat *catalog.Catalog, roles RoleSource) error {
	timer := logging.StartTimer(logging.CategoryKB, "KB.Load")
	defer timer.Stop()

	facts := CatalogFacts(cat, roles)
	kb.engine.ToggleAutoEval(false)
	if err := kb.engine.AddFacts(facts); err != nil {
		return fmt.Errorf("failed to assert catalog facts: %w", err)
	}
	kb.engine.ToggleAutoEval(kb.engine.config.AutoEval)
	if err := kb.engine.RecomputeRules(); err != nil {
		return err
	}
	logging.KB("knowledge base: %d facts asserted for %d apis", len(facts), cat.Len())
	return nil
}

func (kb *KB) pairs(pred string) ([][2]string, error) {
	facts, err := kb.engine.GetFacts(pred)
	if err != nil {
		return nil, err
	}
	out := make([][2]string, 0, len(facts))
	for _, f := range facts {
		a, _ := f.Args[0].(string)
		b, _ := f.Args[1].(string)
		out = append(out, [2]string{a, b})
	}
	return out, nil
}

// DependsOn lists every derived (consumer, producer) pair.
func (kb *KB) DependsOn() ([][2]string, error) {
	return kb.pairs("depends_on")
}

// Reachable lists the APIs name transitively depends on, sorted.
func (kb *KB) Reachable(name string) ([]string, error) {
	pairs, err := kb.pairs("reachable")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range pairs {
		if p[0] == name && p[1] != name {
			out = append(out, p[1])
		}
	}
	sort.Strings(out)
	return out, nil
}

// Unproducible lists (api, type) pairs where no API outputs the consumed type.
func (kb *KB) Unproducible() ([][2]string, error) {
	return kb.pairs("unproducible")
}

// OrphanSinks lists sinks whose consumed types have no source.
func (kb *KB) OrphanSinks() ([]string, error) {
	facts, err := kb.engine.GetFacts("orphan_sink")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		if s, ok := f.Args[0].(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Query runs an ad-hoc query against the loaded facts.
func (kb *KB) Query(ctx context.Context, q string) (*QueryResult, error) {
	return kb.engine.Query(ctx, q)
}
