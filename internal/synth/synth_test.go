package synth

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"driversynth/internal/catalog"
	"driversynth/internal/contracts"
	"driversynth/internal/driver"
	"driversynth/internal/ir"
	"driversynth/internal/layout"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var ctxInputs = Inputs{
	Catalog:   filepath.Join("testdata", "catalog.json"),
	Contracts: filepath.Join("testdata", "contracts.json"),
	Layout:    filepath.Join("testdata", "layout.yaml"),
}

func loadCtx(t *testing.T) *Session {
	t.Helper()
	s, err := Load(ctxInputs, DefaultOptions())
	require.NoError(t, err)
	return s
}

// ============================================================================
// Session
// ============================================================================

func TestLoadSession(t *testing.T) {
	s := loadCtx(t)

	assert.Equal(t, []string{"create_ctx", "destroy_ctx", "use_ctx"}, s.Catalog.Names())
	assert.Equal(t, 3, s.Contracts.Len(), "contracts outside the catalog are dropped")
	assert.Equal(t, []string{"create_ctx"}, s.Roles.Sources())
	assert.Equal(t, []string{"destroy_ctx"}, s.Roles.Sinks())
	assert.Empty(t, s.Roles.Roles("use_ctx"))
	assert.True(t, s.Graph.Has("use_ctx", "create_ctx"))
	assert.False(t, s.Graph.Has("create_ctx", "use_ctx"))
	assert.Positive(t, s.Grammar.NumSymbols())
}

func TestNewSessionFailsFastOnMissingContract(t *testing.T) {
	cat, err := catalog.Load(ctxInputs.Catalog)
	require.NoError(t, err)
	full, err := contracts.Load(ctxInputs.Contracts, cat)
	require.NoError(t, err)
	tbl, err := layout.LoadTable(ctxInputs.Layout)
	require.NoError(t, err)

	partial := contracts.NewSet()
	for _, n := range []string{"create_ctx", "use_ctx"} {
		fc, _ := full.Get(n)
		partial.Add(fc)
	}
	_, err = NewSession(cat, partial, tbl, DefaultOptions())
	assert.ErrorIs(t, err, contracts.ErrMissingContract)
}

func TestLoadMissingFile(t *testing.T) {
	in := ctxInputs
	in.Layout = filepath.Join(t.TempDir(), "absent.yaml")
	_, err := Load(in, DefaultOptions())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// ============================================================================
// Builder
// ============================================================================

func TestCtxScenario(t *testing.T) {
	s := loadCtx(t)
	b := NewBuilder(s, 11)

	plan := []string{"use_ctx", "create_ctx", "use_ctx", "destroy_ctx", "use_ctx", "destroy_ctx"}
	require.NoError(t, b.AppendAll(context.Background(), plan))

	d, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"create_ctx", "use_ctx", "destroy_ctx"}, d.APISequence())
	assert.Equal(t, int64(11), d.Seed)

	var skipped []string
	for _, sk := range b.Skips() {
		skipped = append(skipped, sk.Function)
	}
	assert.Equal(t, []string{"use_ctx", "use_ctx", "destroy_ctx"}, skipped)

	calls := d.Calls()
	created := calls[0].Ret.(ir.Address).Var
	assert.Equal(t, created, calls[1].Args[0].(ir.Address).Var)
	assert.Equal(t, created, calls[2].Args[0].(ir.Address).Var, "destroy_ctx consumes the created context")
	assert.Empty(t, d.CleanUp, "a sunk context is not cleaned up again")
}

func TestAppendUnknownAPI(t *testing.T) {
	b := NewBuilder(loadCtx(t), 1)
	_, err := b.Append("nope")
	assert.ErrorIs(t, err, ErrUnknownAPI)
}

func TestAppendRespectsMaxArgs(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxArgs = 1
	s, err := Load(ctxInputs, opts)
	require.NoError(t, err)

	b := NewBuilder(s, 1)
	ok, err := b.Append("create_ctx")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.Append("use_ctx")
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, b.Skips(), 1)
	assert.Equal(t, -1, b.Skips()[0].Position)
}

// ============================================================================
// Strategies
// ============================================================================

func TestTargetStrategy(t *testing.T) {
	s := loadCtx(t)

	seq, err := Target{API: "use_ctx"}.Sequence(s, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"create_ctx", "use_ctx"}, seq)

	seq, err = Target{API: "use_ctx", WithSink: true}.Sequence(s, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"create_ctx", "use_ctx", "destroy_ctx"}, seq)

	_, err = Target{API: "nope"}.Sequence(s, nil)
	assert.ErrorIs(t, err, ErrUnknownAPI)
}

func TestExplicitRejectsUnknown(t *testing.T) {
	_, err := Explicit{"create_ctx", "nope"}.Sequence(loadCtx(t), nil)
	assert.ErrorIs(t, err, ErrUnknownAPI)
}

// ============================================================================
// Pool
// ============================================================================

func summaries(ds []*driver.Driver) []driver.Summary {
	out := make([]driver.Summary, 0, len(ds))
	for _, d := range ds {
		sum := d.Summary()
		sum.ID = ""
		out = append(out, sum)
	}
	return out
}

func TestPoolDedupsBySequence(t *testing.T) {
	s := loadCtx(t)
	p := &Pool{Session: s, Strategy: Explicit{"create_ctx", "use_ctx", "destroy_ctx"}, BaseSeed: 100, Workers: 4}

	res, err := p.Run(context.Background(), 8)
	require.NoError(t, err)
	require.Len(t, res.Attempts, 8)
	require.Len(t, res.Drivers, 1)
	assert.Equal(t, 7, res.Duplicates)
	assert.Equal(t, int64(100), res.Drivers[0].Seed)

	ids := make(map[string]bool)
	for i, a := range res.Attempts {
		assert.Equal(t, int64(100+i), a.Seed)
		_, err := uuid.Parse(a.ID)
		assert.NoError(t, err)
		ids[a.ID] = true
	}
	assert.Len(t, ids, 8)
	assert.Equal(t, res.Attempts[0].ID, res.Drivers[0].ID)
}

func TestPoolIsReproducible(t *testing.T) {
	s := loadCtx(t)
	run := func() []driver.Summary {
		p := &Pool{Session: s, Strategy: GrammarWalk{MaxCalls: 8}, BaseSeed: 7, Workers: 3}
		res, err := p.Run(context.Background(), 12)
		require.NoError(t, err)
		return summaries(res.Drivers)
	}
	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("equal seeds gave different drivers (-first +second):\n%s", diff)
	}
}

func TestGrammarDriversStartWithProducer(t *testing.T) {
	s := loadCtx(t)
	p := &Pool{Session: s, Strategy: GrammarWalk{MaxCalls: 10}, BaseSeed: 1, Workers: 2}
	res, err := p.Run(context.Background(), 20)
	require.NoError(t, err)

	for _, d := range res.Drivers {
		seq := d.APISequence()
		require.NotEmpty(t, seq)
		assert.Equal(t, "create_ctx", seq[0], "%v", seq)
		m := d.APIMultiset()
		assert.LessOrEqual(t, m["destroy_ctx"], m["create_ctx"], "%v", seq)
	}
}

func TestPoolSeenFilter(t *testing.T) {
	s := loadCtx(t)
	p := &Pool{
		Session:  s,
		Strategy: Explicit{"create_ctx"},
		Seen:     func(key string) bool { return key == "create_ctx" },
	}
	res, err := p.Run(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, res.Drivers)
	assert.Equal(t, 3, res.Duplicates)
}

func TestPoolEmptyAttempts(t *testing.T) {
	s := loadCtx(t)
	p := &Pool{Session: s, Strategy: Explicit{"destroy_ctx"}, Workers: 1}
	res, err := p.Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, res.Drivers)
	assert.Equal(t, 2, res.Empty)
	assert.Len(t, res.Skips(), 2)
}

func TestPoolCancelled(t *testing.T) {
	s := loadCtx(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Pool{Session: s, Strategy: Explicit{"create_ctx"}, Workers: 2}
	_, err := p.Run(ctx, 4)
	assert.ErrorIs(t, err, context.Canceled)
}
