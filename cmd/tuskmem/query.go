package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/sandevgo/tuskmem/internal/config"
	"github.com/sandevgo/tuskmem/internal/service/ui"
	"github.com/spf13/cobra"
)

var queryFlags struct {
	limit  int
	source string
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Find the document chunks closest to a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, done, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer done()

		appCfg, err := config.LoadAppConfig()
		if err != nil {
			return err
		}
		embedder, err := newEmbedder(ctx)
		if err != nil {
			return err
		}
		defer embedder.Close()

		hits, err := newSearcher(appCfg, embedder).Search(ctx, strings.Join(args, " "), queryFlags.limit, queryFlags.source)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(hits) == 0 {
			fmt.Fprintln(out, ui.DescStyle.Render("No matching documents."))
			return nil
		}
		for i, h := range hits {
			fmt.Fprintf(out, "%s %s %s\n%s\n\n",
				ui.FlagStyle.Render(fmt.Sprintf("[%d]", i+1)),
				ui.UsageStyle.Render(h.Source),
				ui.DescStyle.Render(fmt.Sprintf("#%d distance %.4f", h.Ordinal, h.Distance)),
				strings.TrimSpace(h.Text),
			)
		}
		return nil
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List ingested sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, done, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer done()

		appCfg, err := config.LoadAppConfig()
		if err != nil {
			return err
		}
		// Listing never embeds
		sources, err := newSearcher(appCfg, nil).Sources(ctx)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), ui.DescStyle.Render("Nothing ingested yet."))
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tCHUNKS\tINGESTED")
		for _, s := range sources {
			fmt.Fprintf(w, "%s\t%d\t%s\n", s.SourceKey, s.ChunkCount, humanize.Time(s.IngestedAt))
		}
		return w.Flush()
	},
}

func init() {
	queryCmd.Flags().IntVarP(&queryFlags.limit, "limit", "k", 5, "number of chunks to return")
	queryCmd.Flags().StringVarP(&queryFlags.source, "source", "s", "", "restrict to a source key; '*' and '?' are wildcards")
	rootCmd.AddCommand(queryCmd, sourcesCmd)
}
