package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"driversynth/internal/config"
	"driversynth/internal/report"
	"driversynth/internal/store"
	"driversynth/internal/synth"
)

// synthFlags override the synthesis section of the config when set.
type synthFlags struct {
	attempts int
	seed     int64
	workers  int
	strategy string
	target   string
	withSink bool
	apis     []string

	jsonOut bool
	report  bool
	outDir  string
	noStore bool
}

var synthOpts synthFlags

var synthCmd = &cobra.Command{
	Use:   "synth [api...]",
	Short: "Synthesize drivers",
	Long: `Runs independent synthesis attempts in parallel and prints the distinct
drivers. Drivers are deduplicated by their API sequence, both within the run
and against the corpus.

Strategies:
  grammar   random walks over the API grammar (default)
  explicit  the APIs given as arguments or with --apis, in order
  target    the producers of --target followed by the target itself

Example:
  driversynth synth --attempts 128
  driversynth synth --strategy target --target curl_easy_perform --with-sink`,
	RunE: runSynthCmd,
}

func init() {
	f := synthCmd.Flags()
	f.IntVarP(&synthOpts.attempts, "attempts", "n", 0, "Number of attempts")
	f.Int64Var(&synthOpts.seed, "seed", 0, "Base seed")
	f.IntVar(&synthOpts.workers, "workers", 0, "Parallel attempts")
	f.StringVar(&synthOpts.strategy, "strategy", "", "grammar, explicit or target")
	f.StringVar(&synthOpts.target, "target", "", "API for the target strategy")
	f.BoolVar(&synthOpts.withSink, "with-sink", false, "Close the target's objects with their sinks")
	f.StringSliceVar(&synthOpts.apis, "apis", nil, "API sequence for the explicit strategy")
	f.BoolVar(&synthOpts.jsonOut, "json", false, "Print drivers as JSON")
	f.BoolVar(&synthOpts.report, "report", false, "Print a rendered markdown report")
	f.StringVarP(&synthOpts.outDir, "out", "o", "", "Write each driver as <id>.json into this directory")
	f.BoolVar(&synthOpts.noStore, "no-store", false, "Do not read or write the corpus")
}

// applySynthFlags copies the changed flags into c.
func applySynthFlags(cmd *cobra.Command, c *config.Config, args []string) {
	f := cmd.Flags()
	if f.Changed("attempts") {
		c.Synthesis.Attempts = synthOpts.attempts
	}
	if f.Changed("seed") {
		c.Synthesis.Seed = synthOpts.seed
	}
	if f.Changed("workers") {
		c.Synthesis.Workers = synthOpts.workers
	}
	if f.Changed("strategy") {
		c.Synthesis.Strategy = synthOpts.strategy
	}
	if f.Changed("target") {
		c.Synthesis.Target = synthOpts.target
		if !f.Changed("strategy") {
			c.Synthesis.Strategy = "target"
		}
	}
	if len(args) > 0 || len(synthOpts.apis) > 0 {
		synthOpts.apis = append(synthOpts.apis, args...)
		if !f.Changed("strategy") {
			c.Synthesis.Strategy = "explicit"
		}
	}
}

// strategyFor maps the config to a sequence strategy.
func strategyFor(c *config.Config, apis []string, withSink bool) (synth.Strategy, error) {
	switch c.Synthesis.Strategy {
	case "grammar":
		return synth.GrammarWalk{MaxCalls: c.Synthesis.MaxCalls}, nil
	case "explicit":
		if len(apis) == 0 {
			return nil, fmt.Errorf("the explicit strategy needs at least one API")
		}
		return synth.Explicit(apis), nil
	case "target":
		return synth.Target{API: c.Synthesis.Target, WithSink: withSink}, nil
	}
	return nil, fmt.Errorf("invalid synthesis strategy: %s", c.Synthesis.Strategy)
}

func runSynthCmd(cmd *cobra.Command, args []string) error {
	applySynthFlags(cmd, cfg, args)
	ctx, cancel := commandContext(cmd)
	defer cancel()
	return synthesize(ctx, cmd.OutOrStdout())
}

// synthesize runs one pool over the configured inputs and reports the
// drivers to out. It is shared by synth and watch.
func synthesize(ctx context.Context, out io.Writer) error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	strategy, err := strategyFor(cfg, synthOpts.apis, synthOpts.withSink)
	if err != nil {
		return err
	}

	pool := &synth.Pool{
		Session:  s,
		Strategy: strategy,
		BaseSeed: cfg.Synthesis.Seed,
		Workers:  cfg.Synthesis.Workers,
		Timeout:  cfg.GetAttemptTimeout(),
	}

	var corpus *store.Store
	if !synthOpts.noStore {
		corpus, err = store.NewStore(cfg.Store.Dir)
		if err != nil {
			return err
		}
		defer corpus.Close()
		pool.Seen = func(key string) bool {
			has, err := corpus.HasSequence(key)
			if err != nil {
				logger.Warn("corpus lookup failed", zap.Error(err))
				return false
			}
			return has
		}
	}

	logger.Info("synthesizing",
		zap.String("strategy", strategy.Name()),
		zap.Int("attempts", cfg.Synthesis.Attempts),
		zap.Int64("seed", cfg.Synthesis.Seed))

	res, err := pool.Run(ctx, cfg.Synthesis.Attempts)
	if err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}

	if corpus != nil {
		if err := persist(corpus, res); err != nil {
			return err
		}
	}
	if synthOpts.outDir != "" {
		if err := writeDrivers(synthOpts.outDir, res); err != nil {
			return err
		}
	}
	return printResult(out, s, res)
}

// persist saves new drivers and counts every skipped resolution.
func persist(corpus *store.Store, res *synth.Result) error {
	saved := 0
	for _, d := range res.Drivers {
		isNew, err := corpus.SaveDriver(d)
		if err != nil {
			return err
		}
		if isNew {
			saved++
		}
	}
	for _, sk := range res.Skips() {
		if err := corpus.RecordUnsat(sk.Function, sk.Position); err != nil {
			return err
		}
	}
	logger.Info("corpus updated", zap.Int("saved", saved), zap.String("path", corpus.Path()))
	return nil
}

func writeDrivers(dir string, res *synth.Result) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, d := range res.Drivers {
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode driver %s: %w", d.ID, err)
		}
		if err := os.WriteFile(filepath.Join(dir, d.ID+".json"), data, 0644); err != nil {
			return fmt.Errorf("failed to write driver %s: %w", d.ID, err)
		}
	}
	return nil
}

func printResult(out io.Writer, s *synth.Session, res *synth.Result) error {
	if synthOpts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Drivers)
	}
	if synthOpts.report {
		md, err := (&report.Report{Title: "Synthesis", Session: s, Result: res}).Markdown()
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

	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%d new drivers", len(res.Drivers))))
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("%d attempts, %d duplicates, %d empty",
		len(res.Attempts), res.Duplicates, res.Empty)))
	for _, a := range res.Attempts {
		if a.Err != nil {
			fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("attempt %d: %v", a.Seed, a.Err)))
		}
	}
	for _, d := range res.Drivers {
		fmt.Fprintf(out, "\n%s seed=%d input=%dB\n", titleStyle.Render(d.ID), d.Seed, d.InputSize)
		if err := d.WriteListing(out); err != nil {
			return err
		}
	}
	return nil
}
