// Package dependency builds the producer/consumer graph over a catalog.
// An edge A -> B means A consumes a type that B can produce.
package dependency

import (
	"driversynth/internal/catalog"
	"driversynth/internal/logging"
	"driversynth/internal/types"
)

// Graph maps an API to the set of APIs it depends on. Iteration follows
// insertion order.
type Graph struct {
	apis  map[string]*catalog.Api
	keys  []string
	edges map[string][]string
	seen  map[string]map[string]bool
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		apis:  make(map[string]*catalog.Api),
		edges: make(map[string][]string),
		seen:  make(map[string]map[string]bool),
	}
}

// AddNode makes api a key with no edges if it is not one yet.
func (g *Graph) AddNode(api *catalog.Api) {
	if _, ok := g.seen[api.Name]; ok {
		return
	}
	g.apis[api.Name] = api
	g.keys = append(g.keys, api.Name)
	g.seen[api.Name] = make(map[string]bool)
}

// AddEdge records that from depends on to.
func (g *Graph) AddEdge(from, to *catalog.Api) {
	g.AddNode(from)
	if _, ok := g.apis[to.Name]; !ok {
		g.apis[to.Name] = to
	}
	if g.seen[from.Name][to.Name] {
		return
	}
	g.seen[from.Name][to.Name] = true
	g.edges[from.Name] = append(g.edges[from.Name], to.Name)
}

// Keys returns every API with an entry, in insertion order.
func (g *Graph) Keys() []*catalog.Api {
	out := make([]*catalog.Api, 0, len(g.keys))
	for _, k := range g.keys {
		out = append(out, g.apis[k])
	}
	return out
}

// Deps returns what name depends on.
func (g *Graph) Deps(name string) []*catalog.Api {
	out := make([]*catalog.Api, 0, len(g.edges[name]))
	for _, n := range g.edges[name] {
		out = append(out, g.apis[n])
	}
	return out
}

// Has reports an edge from -> to.
func (g *Graph) Has(from, to string) bool {
	return g.seen[from][to]
}

// Len is the number of keys.
func (g *Graph) Len() int { return len(g.keys) }

// NumEdges counts all edges.
func (g *Graph) NumEdges() int {
	n := 0
	for _, e := range g.edges {
		n += len(e)
	}
	return n
}

// Inverse maps producers to their consumers. Every key of g is a key of the
// result, even without consumers.
func (g *Graph) Inverse() *Graph {
	inv := NewGraph()
	for _, k := range g.keys {
		inv.AddNode(g.apis[k])
	}
	for _, k := range g.keys {
		for _, dep := range g.edges[k] {
			inv.AddEdge(g.apis[dep], g.apis[k])
		}
	}
	return inv
}

// Closure returns the transitive dependencies of name, dependencies first,
// excluding name itself.
func (g *Graph) Closure(name string) []*catalog.Api {
	var out []*catalog.Api
	visited := map[string]bool{name: true}
	var visit func(n string)
	visit = func(n string) {
		for _, d := range g.edges[n] {
			if visited[d] {
				continue
			}
			visited[d] = true
			visit(d)
			out = append(out, g.apis[d])
		}
	}
	visit(name)
	return out
}

// Generator builds a dependency graph.
type Generator interface {
	Create() *Graph
}

// TypeGenerator links APIs whose argument types match another API's outputs
// by cleaned type name. It compares every ordered pair.
type TypeGenerator struct {
	apis []*catalog.Api
}

// NewTypeGenerator returns a generator over apis.
func NewTypeGenerator(apis []*catalog.Api) *TypeGenerator {
	return &TypeGenerator{apis: apis}
}

// Create builds the graph. Every API is a key.
func (tg *TypeGenerator) Create() *Graph {
	timer := logging.StartTimer(logging.CategoryGrammar, "TypeGenerator.Create")
	defer timer.Stop()

	g := NewGraph()
	for _, a := range tg.apis {
		g.AddNode(a)
	}
	for _, a := range tg.apis {
		for _, b := range tg.apis {
			if DependsOn(a, b) {
				g.AddEdge(a, b)
			}
		}
	}
	logging.Grammar("dependency graph: %d apis, %d edges", g.Len(), g.NumEdges())
	return g
}

// DependsOn reports whether some input of a matches some output of b.
func DependsOn(a, b *catalog.Api) bool {
	in, _ := inputOutput(a)
	_, out := inputOutput(b)
	for _, x := range in {
		for _, y := range out {
			if x == y {
				return true
			}
		}
	}
	return false
}

// inputOutput returns cleaned type names: inputs are non-void arguments,
// outputs are a non-void return plus ref arguments.
func inputOutput(api *catalog.Api) (in, out []string) {
	if api.Return.Type != "void" {
		out = append(out, types.CleanToken(api.Return.Type))
	}
	for _, arg := range api.Args {
		if arg.Type == "void" {
			continue
		}
		clean := types.CleanToken(arg.Type)
		if arg.Flag == catalog.FlagRef {
			out = append(out, clean)
		}
		in = append(in, clean)
	}
	return in, out
}
