package report

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driversynth/internal/synth"
)

func ctxSession(t *testing.T) *synth.Session {
	t.Helper()
	dir := filepath.Join("..", "synth", "testdata")
	s, err := synth.Load(synth.Inputs{
		Catalog:   filepath.Join(dir, "catalog.json"),
		Contracts: filepath.Join(dir, "contracts.json"),
		Layout:    filepath.Join(dir, "layout.yaml"),
	}, synth.DefaultOptions())
	require.NoError(t, err)
	return s
}

func TestMarkdownRoles(t *testing.T) {
	r := &Report{Session: ctxSession(t)}
	md, err := r.Markdown()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(md, "# driversynth report\n"))
	assert.Contains(t, md, "| `create_ctx` |")
	assert.Contains(t, md, "| source |")
	assert.Contains(t, md, "| sink |")
	assert.NotContains(t, md, "## Drivers")
}

func TestMarkdownFindings(t *testing.T) {
	r := &Report{Title: "kb", Findings: &Findings{
		Unproducible: [][2]string{{"use_ctx", "int"}},
		OrphanSinks:  []string{"destroy_ctx"},
	}}
	md, err := r.Markdown()
	require.NoError(t, err)
	assert.Contains(t, md, "# kb\n")
	assert.Contains(t, md, "- `use_ctx` consumes `int`")
	assert.Contains(t, md, "- `destroy_ctx`")

	md, err = (&Report{Findings: &Findings{}}).Markdown()
	require.NoError(t, err)
	assert.Contains(t, md, "No findings.")
}

func TestMarkdownDrivers(t *testing.T) {
	s := ctxSession(t)
	pool := &synth.Pool{
		Session:  s,
		Strategy: synth.Explicit{"create_ctx", "use_ctx", "destroy_ctx", "destroy_ctx"},
		BaseSeed: 1,
		Workers:  1,
	}
	res, err := pool.Run(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, res.Drivers, 1)

	md, err := (&Report{Result: res}).Markdown()
	require.NoError(t, err)
	assert.Contains(t, md, "2 attempts, 1 distinct drivers, 1 duplicates, 0 empty.")
	assert.Contains(t, md, "### Driver 1")
	assert.Contains(t, md, "create_ctx()")
	assert.Contains(t, md, "## Unsatisfiable resolutions")
	assert.Contains(t, md, "| `destroy_ctx` | 0 | 2 |")
}

func TestCountSkips(t *testing.T) {
	got := countSkips([]synth.Skip{
		{Function: "a", Position: 0, Reason: "first"},
		{Function: "b", Position: 1},
		{Function: "b", Position: 1},
		{Function: "a", Position: 0, Reason: "second"},
		{Function: "b", Position: 1},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Function)
	assert.Equal(t, 3, got[0].count)
	assert.Equal(t, "first", got[1].Reason)
}

func TestRender(t *testing.T) {
	out, err := Render("# Title\n\nsome `code`\n", 60, "notty")
	require.NoError(t, err)
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "code")
}
