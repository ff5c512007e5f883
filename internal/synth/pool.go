package synth

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"driversynth/internal/driver"
	"driversynth/internal/logging"
)

// Attempt is the outcome of one synthesis attempt.
type Attempt struct {
	ID     string
	Seed   int64
	Plan   []string
	Driver *driver.Driver // nil when no call could be placed
	Skips  []Skip
	Err    error // set when the attempt timed out
}

// Result collects a pool run. Drivers holds the first driver seen for
// each distinct API sequence, in attempt order.
type Result struct {
	Attempts   []Attempt
	Drivers    []*driver.Driver
	Duplicates int
	Empty      int
}

// Skips flattens the skips of every attempt.
func (r *Result) Skips() []Skip {
	var out []Skip
	for _, a := range r.Attempts {
		out = append(out, a.Skips...)
	}
	return out
}

// Pool runs independent attempts in parallel. Every attempt owns its
// running context; only the session is shared.
type Pool struct {
	Session  *Session
	Strategy Strategy
	BaseSeed int64
	Workers  int
	// Timeout bounds a single attempt, 0 means none.
	Timeout time.Duration
	// Seen filters out sequences already known elsewhere, e.g. in the corpus.
	Seen func(key string) bool
}

// Run performs n attempts with seeds BaseSeed..BaseSeed+n-1. Attempts that
// exceed Timeout are reported, not fatal; other errors cancel the run.
func (p *Pool) Run(ctx context.Context, n int) (*Result, error) {
	if p.Session == nil || p.Strategy == nil {
		return nil, errors.New("pool needs a session and a strategy")
	}
	timer := logging.StartTimer(logging.CategorySynth, "Pool.Run")
	defer timer.StopWithThreshold(5 * time.Second)

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	attempts := make([]Attempt, n)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			a, err := p.attempt(gctx, p.BaseSeed+int64(i))
			if err != nil {
				return err
			}
			mu.Lock()
			attempts[i] = a
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Attempts: attempts}
	seen := make(map[string]bool)
	for _, a := range attempts {
		if a.Driver == nil {
			res.Empty++
			continue
		}
		key := a.Driver.SequenceKey()
		if seen[key] || (p.Seen != nil && p.Seen(key)) {
			res.Duplicates++
			continue
		}
		seen[key] = true
		res.Drivers = append(res.Drivers, a.Driver)
	}
	logging.Synth("pool: %d attempts, %d drivers, %d duplicates, %d empty",
		n, len(res.Drivers), res.Duplicates, res.Empty)
	return res, nil
}

func (p *Pool) attempt(ctx context.Context, seed int64) (Attempt, error) {
	a := Attempt{ID: uuid.New().String(), Seed: seed}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	plan, err := p.Strategy.Sequence(p.Session, rand.New(rand.NewSource(seed)))
	if err != nil {
		return a, fmt.Errorf("attempt %d: %w", seed, err)
	}
	a.Plan = plan

	b := NewBuilder(p.Session, seed)
	if err := b.AppendAll(ctx, plan); err != nil {
		a.Skips = b.Skips()
		if errors.Is(err, context.DeadlineExceeded) && p.Timeout > 0 {
			a.Err = err
			logging.SynthWarn("attempt %s timed out after %d calls", a.ID, len(b.Calls()))
			return a, nil
		}
		return a, err
	}
	a.Skips = b.Skips()
	if len(b.Calls()) == 0 {
		return a, nil
	}

	d, err := b.Build()
	if err != nil {
		return a, fmt.Errorf("attempt %d: %w", seed, err)
	}
	d.ID = a.ID
	a.Driver = d
	return a, nil
}
