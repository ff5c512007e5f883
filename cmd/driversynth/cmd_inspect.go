package main

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"driversynth/internal/report"
	"driversynth/internal/synth"
)

var (
	rolesMarkdown bool
	graphInverse  bool
	grammarWalks  int
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Classify every API as source, sink, init or setter",
	Long: `Loads the inputs and prints the roles derived from the contracts:
  source  creates and returns a fresh object
  sink    takes one object and deletes it
  init    initializes a field of an argument
  setby   fills an argument named in another argument's set_by`,
	RunE: runRoles,
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the type-based API dependency graph",
	RunE:  runGraph,
}

var grammarCmd = &cobra.Command{
	Use:   "grammar",
	Short: "Print the API grammar, or sample walks from it",
	RunE:  runGrammar,
}

func init() {
	rolesCmd.Flags().BoolVar(&rolesMarkdown, "markdown", false, "Render as a markdown report")
	graphCmd.Flags().BoolVar(&graphInverse, "inverse", false, "Print who depends on each API instead")
	grammarCmd.Flags().IntVar(&grammarWalks, "walk", 0, "Print this many sampled sequences instead of the rules")
}

// loadSession builds a session from the configured inputs.
func loadSession() (*synth.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s, err := synth.Load(cfg.SessionInputs(), cfg.SynthOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	logger.Debug("session loaded",
		zap.Int("apis", s.Catalog.Len()),
		zap.Int("edges", s.Graph.NumEdges()))
	return s, nil
}

func runRoles(cmd *cobra.Command, args []string) error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if rolesMarkdown {
		md, err := (&report.Report{Title: "Roles", Session: s}).Markdown()
		if err != nil {
			return err
		}
		rendered, err := report.Render(md, 100, "")
		if err != nil {
			return err
		}
		fmt.Fprint(out, rendered)
		return nil
	}

	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%d APIs", s.Catalog.Len())))
	for _, api := range s.Catalog.APIs() {
		roles := s.Roles.Roles(api.Name)
		label := mutedStyle.Render("-")
		if len(roles) > 0 {
			label = roleStyle.Render(strings.Join(roles, ","))
		}
		fmt.Fprintf(out, "  %-40s %s\n", api.Name, label)
	}
	return nil
}

func runGraph(cmd *cobra.Command, args []string) error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	g := s.Graph
	if graphInverse {
		g = g.Inverse()
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%d APIs, %d edges", g.Len(), g.NumEdges())))
	for _, api := range g.Keys() {
		var deps []string
		for _, d := range g.Deps(api.Name) {
			deps = append(deps, d.Name)
		}
		if len(deps) == 0 {
			fmt.Fprintf(out, "%s\n", api.Name)
			continue
		}
		fmt.Fprintf(out, "%s -> %s\n", api.Name, strings.Join(deps, ", "))
	}
	return nil
}

func runGrammar(cmd *cobra.Command, args []string) error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if grammarWalks <= 0 {
		s.Grammar.Print(out)
		return nil
	}

	rng := rand.New(rand.NewSource(cfg.Synthesis.Seed))
	for i := 0; i < grammarWalks; i++ {
		seq := s.Grammar.Walk(rng, s.End, cfg.Synthesis.MaxCalls)
		if len(seq) == 0 {
			fmt.Fprintln(out, mutedStyle.Render("(empty)"))
			continue
		}
		fmt.Fprintln(out, strings.Join(seq, " "))
	}
	return nil
}
