package synth

import (
	"fmt"
	"math/rand"
)

// Strategy proposes the API sequence for one attempt. Calls the pool
// cannot satisfy are skipped by the builder, so a proposal is a plan,
// not a promise.
type Strategy interface {
	Name() string
	Sequence(s *Session, rng *rand.Rand) ([]string, error)
}

// Explicit always proposes the same names.
type Explicit []string

func (Explicit) Name() string { return "explicit" }

func (e Explicit) Sequence(s *Session, _ *rand.Rand) ([]string, error) {
	for _, n := range e {
		if _, ok := s.Catalog.Get(n); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAPI, n)
		}
	}
	return append([]string(nil), e...), nil
}

// GrammarWalk samples the session grammar. Walks that reach the end
// symbol before any call are retried a bounded number of times.
type GrammarWalk struct {
	MaxCalls int
	Retries  int
}

func (GrammarWalk) Name() string { return "grammar" }

func (g GrammarWalk) Sequence(s *Session, rng *rand.Rand) ([]string, error) {
	if g.MaxCalls <= 0 {
		return nil, fmt.Errorf("grammar walk needs a positive call budget, got %d", g.MaxCalls)
	}
	retries := g.Retries
	if retries <= 0 {
		retries = 8
	}
	var seq []string
	for i := 0; i < retries && len(seq) == 0; i++ {
		seq = s.Grammar.Walk(rng, s.End, g.MaxCalls)
	}
	return seq, nil
}

// Target puts the producers of API ahead of it. Producers come from the
// transitive dependency closure with sinks left out; WithSink appends the
// sink of each pointer argument of the target.
type Target struct {
	API      string
	WithSink bool
}

func (Target) Name() string { return "target" }

func (t Target) Sequence(s *Session, _ *rand.Rand) ([]string, error) {
	api, ok := s.Catalog.Get(t.API)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAPI, t.API)
	}
	var seq []string
	for _, dep := range s.Graph.Closure(api.Name) {
		if s.Roles.IsSink(dep) {
			continue
		}
		seq = append(seq, dep.Name)
	}
	seq = append(seq, api.Name)
	if !t.WithSink {
		return seq, nil
	}

	seen := make(map[string]bool)
	for _, arg := range api.Args {
		at, err := s.Factory.NormalizeArg(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", api.Name, err)
		}
		if !at.IsPointer() {
			continue
		}
		if sink, ok := s.Roles.SinkFor(at); ok && sink != api.Name && !seen[sink] {
			seen[sink] = true
			seq = append(seq, sink)
		}
	}
	return seq, nil
}
