package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"driversynth/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run synthesis whenever an input file changes",
	Long: `Watches the catalog, contract and layout files and runs the configured
synthesis after each settled change. Stops on SIGINT or SIGTERM.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	// watch runs until interrupted, so --timeout does not apply.
	ctx, stop := signalContext(base)
	defer stop()

	out := cmd.OutOrStdout()
	rerun := func(ctx context.Context, changed []string) {
		fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("changed: %v", changed)))
		if err := synthesize(ctx, out); err != nil {
			logger.Error("synthesis failed", zap.Error(err))
			fmt.Fprintln(out, errorStyle.Render(err.Error()))
		}
	}

	files := []string{cfg.Inputs.Catalog, cfg.Inputs.Contracts, cfg.Inputs.Layout}
	w, err := watcher.New(files, cfg.GetDebounce(), rerun)
	if err != nil {
		return err
	}

	rerun(ctx, files)
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	fmt.Fprintln(out, titleStyle.Render("watching inputs, press Ctrl+C to stop"))
	select {
	case <-ctx.Done():
	case <-w.Done():
	}
	return nil
}
