// Package mangle wraps the Google Mangle Datalog engine and builds a
// knowledge base of catalog facts on top of it.
package mangle

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"github.com/google/mangle/unionfind"

	"driversynth/internal/logging"
)

// Config holds engine limits.
type Config struct {
	FactLimit    int           `yaml:"fact_limit" json:"fact_limit"`
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout"`
	AutoEval     bool          `yaml:"auto_eval" json:"auto_eval"`
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		FactLimit:    200000,
		QueryTimeout: 10 * time.Second,
		AutoEval:     true,
	}
}

// Engine is a schema-checked fact store with rule evaluation.
type Engine struct {
	config Config

	mu             sync.RWMutex
	store          factstore.ConcurrentFactStore
	programInfo    *analysis.ProgramInfo
	queryContext   *mengine.QueryContext
	predicateIndex map[string]ast.PredicateSym
	fragments      []parse.SourceUnit
	factCount      int
	autoEval       bool
	stale          bool // facts added since the last evaluation
}

// Fact is one ground atom in Go form.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
}

// String renders the fact in Datalog notation.
func (f Fact) String() string {
	args := make([]string, 0, len(f.Args))
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case string:
			if strings.HasPrefix(v, "/") {
				args = append(args, v)
			} else {
				args = append(args, fmt.Sprintf("%q", v))
			}
		case int64:
			args = append(args, fmt.Sprintf("%d", v))
		case int:
			args = append(args, fmt.Sprintf("%d", v))
		default:
			args = append(args, fmt.Sprintf("%v", v))
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// QueryResult holds the variable bindings of a query.
type QueryResult struct {
	Bindings []map[string]interface{} `json:"bindings"`
	Duration time.Duration            `json:"duration"`
}

// Stats counts facts per predicate.
type Stats struct {
	TotalFacts      int            `json:"total_facts"`
	PredicateCounts map[string]int `json:"predicate_counts"`
}

// NewEngine returns an empty engine. Load a schema before adding facts.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		config:         cfg,
		store:          factstore.NewConcurrentFactStore(factstore.NewSimpleInMemoryStore()),
		predicateIndex: make(map[string]ast.PredicateSym),
		autoEval:       cfg.AutoEval,
	}
}

// ToggleAutoEval controls whether AddFacts re-evaluates rules.
func (e *Engine) ToggleAutoEval(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoEval = enabled
}

// LoadSchemaString parses declarations and rules and adds them to the program.
func (e *Engine) LoadSchemaString(schema string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(schema)))
	if err != nil {
		return fmt.Errorf("failed to parse schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.fragments = append(e.fragments, unit)
	if err := e.rebuildProgramLocked(); err != nil {
		e.fragments = e.fragments[:len(e.fragments)-1]
		return fmt.Errorf("failed to analyze schema: %w", err)
	}
	return nil
}

func (e *Engine) rebuildProgramLocked() error {
	var unit parse.SourceUnit
	for _, f := range e.fragments {
		unit.Clauses = append(unit.Clauses, f.Clauses...)
		unit.Decls = append(unit.Decls, f.Decls...)
	}

	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return err
	}

	e.programInfo = info
	e.predicateIndex = make(map[string]ast.PredicateSym, len(info.Decls))
	predToDecl := make(map[ast.PredicateSym]*ast.Decl, len(info.Decls))
	for sym, decl := range info.Decls {
		e.predicateIndex[sym.Symbol] = sym
		predToDecl[sym] = decl
	}
	predToRules := make(map[ast.PredicateSym][]ast.Clause)
	for _, clause := range info.Rules {
		predToRules[clause.Head.Predicate] = append(predToRules[clause.Head.Predicate], clause)
	}
	e.queryContext = &mengine.QueryContext{
		PredToRules: predToRules,
		PredToDecl:  predToDecl,
		Store:       e.store,
	}
	return nil
}

// AddFact inserts one fact.
func (e *Engine) AddFact(predicate string, args ...interface{}) error {
	return e.AddFacts([]Fact{{Predicate: predicate, Args: args}})
}

// AddFacts inserts facts and, with auto-eval on, re-derives the rules.
func (e *Engine) AddFacts(facts []Fact) error {
	if len(facts) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.programInfo == nil {
		return fmt.Errorf("no schemas loaded; call LoadSchemaString first")
	}
	for _, f := range facts {
		if err := e.insertFactLocked(f); err != nil {
			return err
		}
	}
	if e.autoEval {
		return e.evalLocked()
	}
	e.stale = true
	return nil
}

// RecomputeRules evaluates every rule against the current facts.
func (e *Engine) RecomputeRules() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.programInfo == nil {
		return fmt.Errorf("no schemas loaded; call LoadSchemaString first")
	}
	return e.evalLocked()
}

func (e *Engine) evalLocked() error {
	timer := logging.StartTimer(logging.CategoryKB, "EvalProgram")
	defer timer.Stop()
	stats, err := mengine.EvalProgramWithStats(e.programInfo, e.store)
	if err != nil {
		return fmt.Errorf("failed to evaluate rules: %w", err)
	}
	e.stale = false
	logging.KBDebug("evaluation stats: %+v", stats)
	return nil
}

func (e *Engine) insertFactLocked(f Fact) error {
	if e.config.FactLimit > 0 && e.factCount >= e.config.FactLimit {
		return fmt.Errorf("fact limit exceeded: %d", e.config.FactLimit)
	}
	sym, ok := e.predicateIndex[f.Predicate]
	if !ok {
		return fmt.Errorf("predicate %s is not declared in schemas", f.Predicate)
	}
	if len(f.Args) != sym.Arity {
		return fmt.Errorf("predicate %s expects %d args, got %d", f.Predicate, sym.Arity, len(f.Args))
	}

	args := make([]ast.BaseTerm, len(f.Args))
	for i, raw := range f.Args {
		term, err := toTerm(raw)
		if err != nil {
			return fmt.Errorf("predicate %s arg %d: %w", f.Predicate, i, err)
		}
		args[i] = term
	}
	if e.store.Add(ast.Atom{Predicate: sym, Args: args}) {
		e.factCount++
	}
	return nil
}

// toTerm maps Go values to constants. Strings starting with "/" are names,
// every other string stays a string.
func toTerm(v interface{}) (ast.BaseTerm, error) {
	switch x := v.(type) {
	case ast.BaseTerm:
		return x, nil
	case string:
		if strings.HasPrefix(x, "/") {
			return ast.Name(x)
		}
		return ast.String(x), nil
	case int:
		return ast.Number(int64(x)), nil
	case int64:
		return ast.Number(x), nil
	case float64:
		return ast.Float64(x), nil
	case bool:
		if x {
			return ast.TrueConstant, nil
		}
		return ast.FalseConstant, nil
	}
	return nil, fmt.Errorf("unsupported fact argument type %T", v)
}

// Query evaluates a single atom such as `depends_on("use_ctx", X)` and
// returns one binding per answer.
func (e *Engine) Query(ctx context.Context, query string) (*QueryResult, error) {
	atom, vars, err := parseQuery(query)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	qc := e.queryContext
	store := e.store
	materialized := !e.stale
	e.mu.RUnlock()
	if qc == nil {
		return nil, fmt.Errorf("no schemas loaded; cannot execute query")
	}
	decl, ok := qc.PredToDecl[atom.Predicate]
	if !ok {
		return nil, fmt.Errorf("predicate %s is not declared", atom.Predicate.Symbol)
	}
	modes := decl.Modes()
	if len(modes) == 0 {
		return nil, fmt.Errorf("predicate %s has no modes declared", atom.Predicate.Symbol)
	}

	if _, ok := ctx.Deadline(); !ok && e.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	var rows []map[string]interface{}
	collect := func(fact ast.Atom) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !matchesQuery(atom, fact) {
			return nil
		}
		row := make(map[string]interface{}, len(vars))
		for name, idx := range vars {
			if idx < len(fact.Args) {
				row[name] = fromTerm(fact.Args[idx])
			}
		}
		rows = append(rows, row)
		return nil
	}

	// EvalQuery only expands rules. Base predicates have none, and after an
	// evaluation every derived fact is already in the store.
	if len(qc.PredToRules[atom.Predicate]) == 0 || materialized {
		err = store.GetFacts(atom, collect)
	} else {
		err = qc.EvalQuery(atom, modes[0], unionfind.New(), collect)
	}
	if err != nil {
		return nil, fmt.Errorf("query %q failed: %w", query, err)
	}
	return &QueryResult{Bindings: rows, Duration: time.Since(start)}, nil
}

// matchesQuery reports whether fact agrees with the constants of query and
// binds repeated variables to equal terms.
func matchesQuery(query, fact ast.Atom) bool {
	if len(query.Args) != len(fact.Args) {
		return false
	}
	bound := make(map[string]ast.BaseTerm)
	for i, arg := range query.Args {
		switch q := arg.(type) {
		case ast.Constant:
			if !q.Equals(fact.Args[i]) {
				return false
			}
		case ast.Variable:
			if q.Symbol == "_" {
				continue
			}
			if prev, ok := bound[q.Symbol]; ok {
				if !prev.Equals(fact.Args[i]) {
					return false
				}
				continue
			}
			bound[q.Symbol] = fact.Args[i]
		}
	}
	return true
}

func parseQuery(query string) (ast.Atom, map[string]int, error) {
	clean := strings.TrimSpace(query)
	clean = strings.TrimPrefix(clean, "?")
	clean = strings.TrimSpace(strings.TrimSuffix(clean, "."))
	if clean == "" {
		return ast.Atom{}, nil, fmt.Errorf("empty query")
	}
	atom, err := parse.Atom(clean)
	if err != nil {
		return ast.Atom{}, nil, fmt.Errorf("failed to parse query %q: %w", query, err)
	}
	vars := make(map[string]int)
	for i, arg := range atom.Args {
		if v, ok := arg.(ast.Variable); ok && v.Symbol != "_" {
			vars[v.Symbol] = i
		}
	}
	return atom, vars, nil
}

// GetFacts returns every stored or derived fact of predicate.
func (e *Engine) GetFacts(predicate string) ([]Fact, error) {
	e.mu.RLock()
	sym, ok := e.predicateIndex[predicate]
	store := e.store
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("predicate %s is not declared", predicate)
	}

	var out []Fact
	err := store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		args := make([]interface{}, len(atom.Args))
		for i, a := range atom.Args {
			args[i] = fromTerm(a)
		}
		out = append(out, Fact{Predicate: predicate, Args: args})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// GetStats counts the facts per predicate.
func (e *Engine) GetStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	counts := make(map[string]int)
	total := 0
	for _, sym := range e.store.ListPredicates() {
		n := 0
		_ = e.store.GetFacts(ast.NewQuery(sym), func(ast.Atom) error {
			n++
			return nil
		})
		counts[sym.Symbol] = n
		total += n
	}
	return Stats{TotalFacts: total, PredicateCounts: counts}
}

// Clear drops every fact but keeps the program.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store = factstore.NewConcurrentFactStore(factstore.NewSimpleInMemoryStore())
	e.factCount = 0
	e.stale = false
	if e.programInfo != nil {
		_ = e.rebuildProgramLocked()
	}
}

func fromTerm(term ast.BaseTerm) interface{} {
	c, ok := term.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", term)
	}
	switch c.Type {
	case ast.StringType, ast.NameType, ast.BytesType:
		return c.Symbol
	case ast.NumberType:
		return c.NumValue
	case ast.Float64Type:
		return math.Float64frombits(uint64(c.NumValue))
	}
	return c.String()
}
