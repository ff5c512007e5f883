// Package grammar derives a call-ordering grammar from a dependency graph and
// walks it to produce API sequences.
package grammar

import (
	"fmt"
	"io"
	"math/rand"
	"strings"

	"driversynth/internal/catalog"
	"driversynth/internal/dependency"
	"driversynth/internal/factory"
	"driversynth/internal/logging"
)

// Symbol is a terminal (an API call) or a nonterminal.
type Symbol struct {
	Name     string
	Terminal bool
}

// Terminal returns a terminal symbol.
func Terminal(name string) Symbol { return Symbol{Name: name, Terminal: true} }

// NonTerminal returns a nonterminal symbol.
func NonTerminal(name string) Symbol { return Symbol{Name: name} }

func (s Symbol) String() string {
	if s.Terminal {
		return fmt.Sprintf("Terminal(name=%s)", s.Name)
	}
	return fmt.Sprintf("NonTerminal(name=%s)", s.Name)
}

// Rule is one expansion of a nonterminal.
type Rule []Symbol

func (r Rule) String() string {
	parts := make([]string, len(r))
	for i, s := range r {
		parts[i] = s.String()
	}
	return strings.Join(parts, ";")
}

// Grammar maps nonterminals to their expansion rules, in insertion order.
type Grammar struct {
	start   Symbol
	order   []Symbol
	rules   map[Symbol][]Rule
	ruleKey map[Symbol]map[string]bool

	// Inverse is the producer -> consumers graph the grammar was built from.
	Inverse *dependency.Graph
}

// New returns a grammar with only the start symbol.
func New(start Symbol) *Grammar {
	g := &Grammar{
		start:   start,
		rules:   make(map[Symbol][]Rule),
		ruleKey: make(map[Symbol]map[string]bool),
	}
	g.ensure(start)
	return g
}

func (g *Grammar) ensure(nt Symbol) {
	if _, ok := g.rules[nt]; ok {
		return
	}
	g.order = append(g.order, nt)
	g.rules[nt] = nil
	g.ruleKey[nt] = make(map[string]bool)
}

// AddRule adds an expansion to nt unless it is already there.
func (g *Grammar) AddRule(nt Symbol, r Rule) {
	g.ensure(nt)
	k := r.String()
	if g.ruleKey[nt][k] {
		return
	}
	g.ruleKey[nt][k] = true
	g.rules[nt] = append(g.rules[nt], r)
}

// Rules returns the expansions of nt.
func (g *Grammar) Rules(nt Symbol) ([]Rule, error) {
	rs, ok := g.rules[nt]
	if !ok {
		return nil, fmt.Errorf("element %s not in the grammar", nt)
	}
	return rs, nil
}

// Start is the start symbol.
func (g *Grammar) Start() Symbol { return g.start }

// Symbols returns the nonterminals in insertion order.
func (g *Grammar) Symbols() []Symbol {
	out := make([]Symbol, len(g.order))
	copy(out, g.order)
	return out
}

// NumSymbols is the number of nonterminals.
func (g *Grammar) NumSymbols() int { return len(g.order) }

func (g *Grammar) String() string {
	return fmt.Sprintf("Grammar(name=%s, n_elem=%d)", g.start.Name, g.NumSymbols())
}

// Print writes every nonterminal with its rules.
func (g *Grammar) Print(w io.Writer) {
	fmt.Fprintln(w, g)
	for _, nt := range g.order {
		fmt.Fprintf(w, "%s with %d rules:\n", nt, len(g.rules[nt]))
		for _, r := range g.rules[nt] {
			fmt.Fprintf(w, "\t%s\n", r)
		}
	}
}

// Generator builds grammars. The factory decides which APIs take an
// incomplete type by value and so cannot start a sequence.
type Generator struct {
	Start   Symbol
	End     Symbol
	Factory *factory.Factory
}

// NewGenerator uses "start" and "end" as the distinguished symbols.
func NewGenerator(f *factory.Factory) *Generator {
	return &Generator{Start: NonTerminal("start"), End: Terminal("end"), Factory: f}
}

// Create derives the grammar from dg:
//
//	start -> NT(api)            for every api without incomplete arguments
//	start -> end
//	NT(a) -> T(a) NT(b)         for every consumer b of a
//	NT(a) -> T(a) NT(a)
//	NT(a) -> T(a) start
func (gen *Generator) Create(dg *dependency.Graph) (*Grammar, error) {
	g := New(gen.Start)
	inv := dg.Inverse()

	for _, api := range inv.Keys() {
		incomplete, err := gen.hasIncompleteType(api)
		if err != nil {
			return nil, err
		}
		if !incomplete {
			g.AddRule(gen.Start, Rule{NonTerminal(api.Name)})
		}
	}
	g.AddRule(gen.Start, Rule{gen.End})

	for _, api := range inv.Keys() {
		nt, t := NonTerminal(api.Name), Terminal(api.Name)
		for _, next := range inv.Deps(api.Name) {
			g.AddRule(nt, Rule{t, NonTerminal(next.Name)})
		}
		g.AddRule(nt, Rule{t, nt})
		g.AddRule(nt, Rule{t, gen.Start})
	}

	g.Inverse = inv
	logging.Grammar("grammar: %d nonterminals", g.NumSymbols())
	return g, nil
}

func (gen *Generator) hasIncompleteType(api *catalog.Api) (bool, error) {
	for i, arg := range api.Args {
		t, err := gen.Factory.NormalizeArg(arg)
		if err != nil {
			return false, fmt.Errorf("%s arg %d: %w", api.Name, i, err)
		}
		if t.Incomplete {
			return true, nil
		}
	}
	return false, nil
}

// Walk expands from the start symbol, picking rules with rng, and returns
// the terminals seen. It stops at the end symbol, at a rule without a
// nonterminal, or after maxCalls terminals.
func (g *Grammar) Walk(rng *rand.Rand, end Symbol, maxCalls int) []string {
	var seq []string
	cur := g.start
	for len(seq) < maxCalls {
		rs := g.rules[cur]
		if len(rs) == 0 {
			break
		}
		r := rs[rng.Intn(len(rs))]
		next, ok := Symbol{}, false
		for _, s := range r {
			switch {
			case s == end:
				return seq
			case s.Terminal:
				seq = append(seq, s.Name)
			default:
				next, ok = s, true
			}
		}
		if !ok {
			break
		}
		cur = next
	}
	if len(seq) > maxCalls {
		seq = seq[:maxCalls]
	}
	return seq
}
