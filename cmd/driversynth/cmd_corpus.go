package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"driversynth/internal/store"
)

var (
	corpusLimit int
	corpusJSON  bool
)

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Inspect the stored driver corpus",
}

var corpusListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored drivers, newest first",
	RunE:  runCorpusList,
}

var corpusUnsatCmd = &cobra.Command{
	Use:   "unsat",
	Short: "Show which argument slots most often could not be satisfied",
	RunE:  runCorpusUnsat,
}

func init() {
	corpusListCmd.Flags().IntVar(&corpusLimit, "limit", 20, "Maximum drivers to list (0 for all)")
	corpusListCmd.Flags().BoolVar(&corpusJSON, "json", false, "Print stored driver summaries as JSON")
	corpusCmd.AddCommand(corpusListCmd)
	corpusCmd.AddCommand(corpusUnsatCmd)
}

func openCorpus() (*store.Store, error) {
	return store.NewStore(cfg.Store.Dir)
}

func runCorpusList(cmd *cobra.Command, args []string) error {
	corpus, err := openCorpus()
	if err != nil {
		return err
	}
	defer corpus.Close()

	records, err := corpus.ListDrivers(corpusLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if corpusJSON {
		summaries := make([]json.RawMessage, 0, len(records))
		for _, r := range records {
			summaries = append(summaries, r.Summary)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	total, err := corpus.Count()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%d drivers in %s", total, corpus.Path())))
	for _, r := range records {
		fmt.Fprintf(out, "%s %s seed=%d %s\n",
			r.ID,
			mutedStyle.Render(r.CreatedAt.Format("2006-01-02 15:04:05")),
			r.Seed,
			strings.Join(r.Sequence, " "))
	}
	return nil
}

func runCorpusUnsat(cmd *cobra.Command, args []string) error {
	corpus, err := openCorpus()
	if err != nil {
		return err
	}
	defer corpus.Close()

	counts, err := corpus.UnsatCounts()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(counts) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("no unsatisfiable resolutions recorded"))
		return nil
	}
	for _, c := range counts {
		slot := fmt.Sprintf("arg %d", c.Position)
		if c.Position < 0 {
			slot = "call"
		}
		fmt.Fprintf(out, "%6d  %s %s\n", c.Count, c.API, mutedStyle.Render(slot))
	}
	return nil
}
