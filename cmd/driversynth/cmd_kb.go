package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"driversynth/internal/mangle"
	"driversynth/internal/report"
	"driversynth/internal/synth"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Inspect the catalog as a Datalog knowledge base",
	Long: `Loads the catalog and the derived roles into Mangle and prints what
the rules find: APIs consuming a type nothing produces, and sinks whose
type has no source.`,
	RunE: runKBFindings,
}

var kbQueryCmd = &cobra.Command{
	Use:   "query [query]",
	Short: "Run a Mangle query against the knowledge base",
	Long: `Example:
  driversynth kb query 'depends_on(X, "curl_easy_init")'
  driversynth kb query 'unproducible(A, T)'`,
	Args: cobra.ExactArgs(1),
	RunE: runKBQuery,
}

var kbReachableCmd = &cobra.Command{
	Use:   "reachable [api]",
	Short: "List every API an API transitively depends on",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBReachable,
}

func init() {
	kbCmd.AddCommand(kbQueryCmd)
	kbCmd.AddCommand(kbReachableCmd)
}

func loadKB() (*synth.Session, *mangle.KB, error) {
	s, err := loadSession()
	if err != nil {
		return nil, nil, err
	}
	kb, err := mangle.NewKB(cfg.KBConfig())
	if err != nil {
		return nil, nil, err
	}
	if err := kb.Load(s.Catalog, s.Roles); err != nil {
		return nil, nil, err
	}
	return s, kb, nil
}

func runKBFindings(cmd *cobra.Command, args []string) error {
	_, kb, err := loadKB()
	if err != nil {
		return err
	}
	var f report.Findings
	if f.Unproducible, err = kb.Unproducible(); err != nil {
		return err
	}
	if f.OrphanSinks, err = kb.OrphanSinks(); err != nil {
		return err
	}

	md, err := (&report.Report{Title: "Knowledge base", Findings: &f}).Markdown()
	if err != nil {
		return err
	}
	rendered, err := report.Render(md, 100, "")
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)
	return nil
}

func runKBQuery(cmd *cobra.Command, args []string) error {
	_, kb, err := loadKB()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	res, err := kb.Query(ctx, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	lines := make([]string, 0, len(res.Bindings))
	for _, b := range res.Bindings {
		keys := make([]string, 0, len(b))
		for k := range b {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, b[k]))
		}
		lines = append(lines, strings.Join(parts, " "))
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("%d results in %s", len(res.Bindings), res.Duration)))
	return nil
}

func runKBReachable(cmd *cobra.Command, args []string) error {
	s, kb, err := loadKB()
	if err != nil {
		return err
	}
	if _, ok := s.Catalog.Get(args[0]); !ok {
		return fmt.Errorf("%w: %s", synth.ErrUnknownAPI, args[0])
	}
	names, err := kb.Reachable(args[0])
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(cmd.OutOrStdout(), n)
	}
	return nil
}
