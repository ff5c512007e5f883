// Package driver assembles a finished running context and its calls into a
// driver: declarations, initializations, calls and cleanup.
package driver

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"driversynth/internal/constraints"
	"driversynth/internal/ir"
	"driversynth/internal/logging"
)

// Driver is one synthesized fuzz target.
type Driver struct {
	ID   string
	Seed int64

	// Statements holds declarations, then initializations, then calls.
	Statements    []ir.Statement
	CleanUp       []ir.Statement
	CounterSizes  []int
	StubFunctions []*ir.Function
	// InputSize is the fixed part of the fuzz input, in bytes.
	InputSize int
}

// Assemble binds pending lengths and emits the statement list around calls.
// rc must not be used for synthesis afterwards.
func Assemble(rc *constraints.RunningContext, calls []*ir.ApiCall) (*Driver, error) {
	timer := logging.StartTimer(logging.CategoryDriver, "Assemble")
	defer timer.Stop()

	rc.BindDependentLengths()

	decls, err := rc.BufferDecls()
	if err != nil {
		return nil, fmt.Errorf("failed to declare buffers: %w", err)
	}
	inits, counters, err := rc.AuxiliaryOperations()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize buffers: %w", err)
	}
	cleanup, err := rc.CleanUp()
	if err != nil {
		return nil, fmt.Errorf("failed to clean up buffers: %w", err)
	}

	stmts := make([]ir.Statement, 0, len(decls)+len(inits)+len(calls))
	stmts = append(stmts, decls...)
	stmts = append(stmts, inits...)
	for _, c := range calls {
		stmts = append(stmts, c)
	}

	d := &Driver{
		Statements:    stmts,
		CleanUp:       cleanup,
		CounterSizes:  counters,
		StubFunctions: rc.StubFunctions(),
		InputSize:     rc.AllocatedSize() / 8,
	}
	logging.DriverDebug("assembled %d statements, %d cleanups, input %d bytes",
		len(stmts), len(cleanup), d.InputSize)
	return d, nil
}

// Calls returns the call statements in order.
func (d *Driver) Calls() []*ir.ApiCall {
	var out []*ir.ApiCall
	for _, s := range d.Statements {
		if c, ok := s.(*ir.ApiCall); ok {
			out = append(out, c)
		}
	}
	return out
}

// APISequence names the called functions in order.
func (d *Driver) APISequence() []string {
	calls := d.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Function)
	}
	return out
}

// SequenceKey identifies drivers with the same call sequence.
func (d *Driver) SequenceKey() string {
	return strings.Join(d.APISequence(), ",")
}

// APIMultiset counts calls per function.
func (d *Driver) APIMultiset() map[string]int {
	out := make(map[string]int)
	for _, c := range d.Calls() {
		out[c.Function]++
	}
	return out
}

// StatementSummary is the rendering-neutral view of one statement.
type StatementSummary struct {
	Kind   string   `json:"kind"`
	Buffer string   `json:"buffer,omitempty"`
	Type   string   `json:"type,omitempty"`
	Alloc  string   `json:"alloc,omitempty"`
	Size   int      `json:"n_elements,omitempty"`
	Len    string   `json:"len,omitempty"`
	Method string   `json:"method,omitempty"`
	Value  string   `json:"value,omitempty"`
	Args   []string `json:"args,omitempty"`
	Ret    string   `json:"ret,omitempty"`
}

// Summary is a serializable form of a driver.
type Summary struct {
	ID           string             `json:"id,omitempty"`
	Seed         int64              `json:"seed"`
	APIs         []string           `json:"apis"`
	InputSize    int                `json:"input_size"`
	CounterSizes []int              `json:"counter_sizes"`
	Stubs        []string           `json:"stubs,omitempty"`
	Statements   []StatementSummary `json:"statements"`
	CleanUp      []StatementSummary `json:"cleanup"`
}

func valueName(v ir.Value) string {
	if v == nil {
		return ""
	}
	if a, ok := v.(ir.Address); ok {
		return "&" + a.Name()
	}
	return v.Name()
}

func summarize(s ir.Statement) StatementSummary {
	out := StatementSummary{Kind: ir.Kind(s)}
	if b := ir.BufferOf(s); b != nil {
		out.Buffer = b.Token
		out.Type = b.Type.Token
		out.Alloc = b.Alloc.String()
		out.Size = b.NElements
	}
	switch st := s.(type) {
	case ir.ConstStringDecl:
		out.Value = st.Value
	case ir.FileInit:
		out.Len = st.LenVar.Token
	case ir.DynArrayInit:
		out.Len = st.LenVar.Token
	case ir.DynDblArrInit:
		out.Len = st.LenVar.Token
	case ir.SetStringNull:
		if st.LenVar != nil {
			out.Len = st.LenVar.Token
		}
	case ir.CleanBuffer:
		out.Method = st.Method
	case ir.CleanDblBuffer:
		out.Method = st.Method
	case *ir.ApiCall:
		out.Value = st.Function
		for _, a := range st.Args {
			out.Args = append(out.Args, valueName(a))
		}
		out.Ret = valueName(st.Ret)
	}
	return out
}

// Summary builds the serializable form.
func (d *Driver) Summary() Summary {
	s := Summary{
		ID:           d.ID,
		Seed:         d.Seed,
		APIs:         d.APISequence(),
		InputSize:    d.InputSize,
		CounterSizes: append([]int{}, d.CounterSizes...),
	}
	for _, f := range d.StubFunctions {
		s.Stubs = append(s.Stubs, f.Token)
	}
	for _, st := range d.Statements {
		s.Statements = append(s.Statements, summarize(st))
	}
	for _, st := range d.CleanUp {
		s.CleanUp = append(s.CleanUp, summarize(st))
	}
	return s
}

// MarshalJSON encodes the summary.
func (d *Driver) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Summary())
}

// WriteListing prints one statement per line.
func (d *Driver) WriteListing(w io.Writer) error {
	write := func(prefix string, ss []ir.Statement) error {
		for _, st := range ss {
			sum := summarize(st)
			var line string
			switch st.(type) {
			case *ir.ApiCall:
				line = fmt.Sprintf("%s%s = %s(%s)", prefix, orDash(sum.Ret), sum.Value, strings.Join(sum.Args, ", "))
			default:
				line = fmt.Sprintf("%s%s %s", prefix, sum.Kind, sum.Buffer)
				if sum.Len != "" {
					line += " len=" + sum.Len
				}
				if sum.Method != "" {
					line += " via " + sum.Method
				}
				if sum.Value != "" {
					line += fmt.Sprintf(" %q", sum.Value)
				}
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write("", d.Statements); err != nil {
		return err
	}
	return write("// cleanup: ", d.CleanUp)
}

func orDash(s string) string {
	if s == "" || s == "NULL" {
		return "_"
	}
	return s
}
