// Package synth drives driver synthesis: it owns the read-only oracles for
// one catalog and builds drivers call by call, backing off when a call
// cannot be satisfied by the live pool.
package synth

import (
	"fmt"
	"math/rand"

	"driversynth/internal/catalog"
	"driversynth/internal/constraints"
	"driversynth/internal/contracts"
	"driversynth/internal/dependency"
	"driversynth/internal/factory"
	"driversynth/internal/grammar"
	"driversynth/internal/layout"
	"driversynth/internal/logging"
)

// Inputs names the three files a session is built from.
type Inputs struct {
	Catalog   string
	Contracts string
	Layout    string
}

// Options tune classification and resolution.
type Options struct {
	Roles   constraints.Options
	Limits  constraints.Limits
	Compat  constraints.CompatStrategy
	MaxArgs int // calls with more arguments are skipped, 0 means no limit

	ReturnLengths bool // see constraints.RunningOptions
}

// DefaultOptions mirrors the engine defaults.
func DefaultOptions() Options {
	return Options{
		Roles:  constraints.DefaultOptions(),
		Limits: constraints.DefaultLimits(),
		Compat: constraints.FilePathOnly{},
	}
}

// Session holds everything shared by synthesis attempts over one catalog.
// It is immutable after construction and safe for concurrent readers.
type Session struct {
	Catalog   *catalog.Catalog
	Contracts *contracts.Set
	Layout    *layout.DataLayout
	Factory   *factory.Factory
	Roles     *constraints.ConditionManager
	Graph     *dependency.Graph
	Grammar   *grammar.Grammar
	End       grammar.Symbol

	opts Options
}

// Load reads the input files and builds a session.
func Load(in Inputs, opts Options) (*Session, error) {
	timer := logging.StartTimer(logging.CategorySynth, "Load")
	defer timer.Stop()

	cat, err := catalog.Load(in.Catalog)
	if err != nil {
		return nil, err
	}
	conds, err := contracts.Load(in.Contracts, cat)
	if err != nil {
		return nil, err
	}
	tbl, err := layout.LoadTable(in.Layout)
	if err != nil {
		return nil, err
	}
	return NewSession(cat, conds, tbl, opts)
}

// NewSession validates the contracts against the catalog, sets up the
// data layout and derives roles, the dependency graph and the grammar.
func NewSession(cat *catalog.Catalog, conds *contracts.Set, tbl *layout.Table, opts Options) (*Session, error) {
	if err := conds.Validate(cat); err != nil {
		return nil, fmt.Errorf("failed to validate contracts: %w", err)
	}

	dl := layout.New()
	if err := dl.Setup(tbl, cat.TypeUses()); err != nil {
		return nil, fmt.Errorf("failed to set up data layout: %w", err)
	}
	f := factory.New(dl)

	apis := cat.APIs()
	cm, err := constraints.New(apis, apis, conds, dl, f, opts.Roles)
	if err != nil {
		return nil, fmt.Errorf("failed to classify apis: %w", err)
	}

	dg := dependency.NewTypeGenerator(apis).Create()
	gen := grammar.NewGenerator(f)
	g, err := gen.Create(dg)
	if err != nil {
		return nil, fmt.Errorf("failed to build grammar: %w", err)
	}

	logging.Synth("session: %d apis, %d sources, %d sinks, %d init, %d setters",
		cat.Len(), len(cm.Sources()), len(cm.Sinks()), len(cm.InitAPIs()), len(cm.SetterAPIs()))

	return &Session{
		Catalog:   cat,
		Contracts: conds,
		Layout:    dl,
		Factory:   f,
		Roles:     cm,
		Graph:     dg,
		Grammar:   g,
		End:       gen.End,
		opts:      opts,
	}, nil
}

// Options returns the options the session was built with.
func (s *Session) Options() Options { return s.opts }

// NewRunningContext returns a fresh pool for one attempt.
func (s *Session) NewRunningContext(seed int64) *constraints.RunningContext {
	return constraints.NewRunningContext(s.Roles, s.Layout, rand.New(rand.NewSource(seed)),
		constraints.RunningOptions{Limits: s.opts.Limits, Compat: s.opts.Compat, ReturnLengths: s.opts.ReturnLengths})
}
