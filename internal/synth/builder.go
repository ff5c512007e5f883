package synth

import (
	"context"
	"errors"
	"fmt"

	"driversynth/internal/constraints"
	"driversynth/internal/contracts"
	"driversynth/internal/driver"
	"driversynth/internal/ir"
	"driversynth/internal/logging"
)

// ErrUnknownAPI is returned when a sequence names a function outside the catalog.
var ErrUnknownAPI = errors.New("unknown api")

// Skip records a call that could not be satisfied and was left out.
type Skip struct {
	Function string `json:"function"`
	Position int    `json:"position"`
	Type     string `json:"type,omitempty"`
	Reason   string `json:"reason"`
}

// Builder appends calls to one driver under construction.
// It is single-use and must not be shared between goroutines.
type Builder struct {
	s     *Session
	seed  int64
	rc    *constraints.RunningContext
	calls []*ir.ApiCall
	skips []Skip
}

// NewBuilder starts an empty driver seeded with seed.
func NewBuilder(s *Session, seed int64) *Builder {
	return &Builder{s: s, seed: seed, rc: s.NewRunningContext(seed)}
}

// Context exposes the running pool.
func (b *Builder) Context() *constraints.RunningContext { return b.rc }

// Calls returns the calls appended so far.
func (b *Builder) Calls() []*ir.ApiCall { return b.calls }

// Skips returns the calls left out so far.
func (b *Builder) Skips() []Skip { return b.skips }

// Append resolves every argument of name in order, then its return slot,
// then records the effects of the call. An unsatisfiable slot rolls the
// pool back to where it was and reports false with a nil error.
func (b *Builder) Append(name string) (bool, error) {
	api, ok := b.s.Catalog.Get(name)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownAPI, name)
	}
	if limit := b.s.opts.MaxArgs; limit > 0 && len(api.Args) > limit {
		b.skip(Skip{Function: name, Position: -1, Reason: fmt.Sprintf("more than %d arguments", limit)})
		return false, nil
	}
	fc, ok := b.s.Contracts.Get(name)
	if !ok {
		return false, fmt.Errorf("no contract for %s", name)
	}
	call, err := b.s.Factory.APIToCall(api)
	if err != nil {
		return false, fmt.Errorf("failed to build call: %w", err)
	}

	cp := b.rc.Checkpoint()
	if err := b.bind(call, fc); err != nil {
		b.rc.Rollback(cp)
		var ue *constraints.UnsatError
		if errors.As(err, &ue) {
			b.skip(Skip{Function: ue.Function, Position: ue.Position, Type: ue.Type, Reason: ue.Reason})
			return false, nil
		}
		return false, err
	}
	b.calls = append(b.calls, call)
	logging.SynthDebug("appended %s (%d calls)", name, len(b.calls))
	return true, nil
}

func (b *Builder) bind(call *ir.ApiCall, fc *contracts.FunctionConditions) error {
	for pos := range call.Args {
		v, err := b.rc.Resolve(call, fc, pos)
		if err != nil {
			return err
		}
		if err := call.SetArg(pos, v, 0); err != nil {
			return err
		}
	}
	v, err := b.rc.Resolve(call, fc, -1)
	if err != nil {
		return err
	}
	if err := call.SetRet(v); err != nil {
		return err
	}
	return b.rc.UpdateCall(call, fc)
}

func (b *Builder) skip(s Skip) {
	logging.SynthDebug("skipping %s at %d: %s", s.Function, s.Position, s.Reason)
	b.skips = append(b.skips, s)
}

// AppendAll appends names in order and stops early when ctx is done.
func (b *Builder) AppendAll(ctx context.Context, names []string) error {
	for _, n := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := b.Append(n); err != nil {
			return err
		}
	}
	return nil
}

// Build assembles the driver. The builder must not be used afterwards.
func (b *Builder) Build() (*driver.Driver, error) {
	d, err := driver.Assemble(b.rc, b.calls)
	if err != nil {
		return nil, err
	}
	d.Seed = b.seed
	return d, nil
}
