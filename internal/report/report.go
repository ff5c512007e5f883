// Package report renders synthesis sessions as markdown.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"

	"driversynth/internal/synth"
)

// Findings are knowledge base results worth surfacing.
type Findings struct {
	Unproducible [][2]string // api, consumed type
	OrphanSinks  []string
}

// Report collects what a markdown report shows. Nil parts are left out.
type Report struct {
	Title    string
	Session  *synth.Session
	Findings *Findings
	Result   *synth.Result
}

// Markdown builds the report.
func (r *Report) Markdown() (string, error) {
	var sb strings.Builder
	title := r.Title
	if title == "" {
		title = "driversynth report"
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)

	if r.Session != nil {
		writeRoles(&sb, r.Session)
	}
	if r.Findings != nil {
		writeFindings(&sb, r.Findings)
	}
	if r.Result != nil {
		if err := writeResult(&sb, r.Result); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

func writeRoles(sb *strings.Builder, s *synth.Session) {
	sb.WriteString("## Roles\n\n")
	fmt.Fprintf(sb, "%d APIs, %d dependency edges.\n\n", s.Graph.Len(), s.Graph.NumEdges())
	sb.WriteString("| API | Signature | Roles |\n|---|---|---|\n")
	for _, api := range s.Catalog.APIs() {
		args := make([]string, 0, len(api.Args))
		for _, a := range api.Args {
			args = append(args, a.Type)
		}
		sig := fmt.Sprintf("%s(%s) %s", api.Name, strings.Join(args, ", "), api.Return.Type)
		roles := strings.Join(s.Roles.Roles(api.Name), ", ")
		if roles == "" {
			roles = "-"
		}
		fmt.Fprintf(sb, "| `%s` | `%s` | %s |\n", api.Name, escapeCell(sig), roles)
	}
	sb.WriteString("\n")
}

func writeFindings(sb *strings.Builder, f *Findings) {
	sb.WriteString("## Knowledge base\n\n")
	if len(f.Unproducible) == 0 && len(f.OrphanSinks) == 0 {
		sb.WriteString("No findings.\n\n")
		return
	}
	if len(f.Unproducible) > 0 {
		sb.WriteString("Types consumed with no producer:\n\n")
		for _, u := range f.Unproducible {
			fmt.Fprintf(sb, "- `%s` consumes `%s`\n", u[0], u[1])
		}
		sb.WriteString("\n")
	}
	if len(f.OrphanSinks) > 0 {
		sb.WriteString("Sinks whose type has no source:\n\n")
		for _, s := range f.OrphanSinks {
			fmt.Fprintf(sb, "- `%s`\n", s)
		}
		sb.WriteString("\n")
	}
}

func writeResult(sb *strings.Builder, res *synth.Result) error {
	sb.WriteString("## Drivers\n\n")
	fmt.Fprintf(sb, "%d attempts, %d distinct drivers, %d duplicates, %d empty.\n\n",
		len(res.Attempts), len(res.Drivers), res.Duplicates, res.Empty)

	for i, d := range res.Drivers {
		fmt.Fprintf(sb, "### Driver %d\n\n", i+1)
		fmt.Fprintf(sb, "- id: `%s`\n- seed: %d\n- input size: %d bytes\n\n", d.ID, d.Seed, d.InputSize)
		sb.WriteString("```\n")
		if err := d.WriteListing(sb); err != nil {
			return fmt.Errorf("failed to list driver %s: %w", d.ID, err)
		}
		sb.WriteString("```\n\n")
	}

	skips := countSkips(res.Skips())
	if len(skips) > 0 {
		sb.WriteString("## Unsatisfiable resolutions\n\n")
		sb.WriteString("| API | Position | Count | Reason |\n|---|---|---|---|\n")
		for _, s := range skips {
			fmt.Fprintf(sb, "| `%s` | %d | %d | %s |\n", s.Function, s.Position, s.count, escapeCell(s.Reason))
		}
		sb.WriteString("\n")
	}
	return nil
}

type skipCount struct {
	synth.Skip
	count int
}

// countSkips groups skips by API and position, keeping the first reason.
func countSkips(skips []synth.Skip) []skipCount {
	idx := make(map[string]int)
	var out []skipCount
	for _, s := range skips {
		key := fmt.Sprintf("%s/%d", s.Function, s.Position)
		if i, ok := idx[key]; ok {
			out[i].count++
			continue
		}
		idx[key] = len(out)
		out = append(out, skipCount{Skip: s, count: 1})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].count > out[j].count })
	return out
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// Render formats markdown for a terminal. An empty style picks one from
// the terminal background.
func Render(md string, width int, style string) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return out, nil
}
