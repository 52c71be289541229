package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sandevgo/tuskmem/internal/config"
	"github.com/sandevgo/tuskmem/internal/ingest"
	"github.com/sandevgo/tuskmem/internal/providers/rag"
	"github.com/sandevgo/tuskmem/internal/service/ui"
	"github.com/sandevgo/tuskmem/internal/storage"
	"github.com/sandevgo/tuskmem/pkg/log"
	"github.com/spf13/cobra"
)

var ingestFlags struct {
	force   bool
	config  string
	files   []string
	urls    []string
	baseDir string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Sync files and web pages into the document store",
	Long: `Resolves the configured file patterns and URLs, embeds what changed since
the last run and removes files that no longer exist. Sources come from
TUSKMEM_INGEST_* variables, a YAML file (--config) and flags, in that
order of precedence from lowest to highest.`,
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
		cfg, err := config.LoadIngestConfig()
		if err != nil {
			return err
		}
		if ingestFlags.config != "" {
			if err := cfg.LoadFile(ingestFlags.config); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("file") {
			cfg.Files = ingestFlags.files
		}
		if cmd.Flags().Changed("url") {
			cfg.URLs = ingestFlags.urls
		}
		if cmd.Flags().Changed("base-dir") {
			cfg.BaseDir = ingestFlags.baseDir
		}

		embedder, err := newEmbedder(ctx)
		if err != nil {
			return err
		}
		defer embedder.Close()

		log.FromCtx(ctx).Debug().
			Strs("files", cfg.Files).
			Strs("urls", cfg.URLs).
			Str("max_file", humanize.IBytes(uint64(cfg.MaxFileBytes))).
			Str("max_total", humanize.IBytes(uint64(cfg.MaxTotalBytes))).
			Msg("ingestion config")

		fetcher := ingest.NewFetcher(ingest.FetcherOptions{
			Timeout:   cfg.FetchTimeout,
			HostDelay: cfg.HostDelay,
			MaxBytes:  cfg.MaxFileBytes,
		})

		out := cmd.OutOrStdout()
		var mu sync.Mutex
		stats, err := ingest.New(embedder, fetcher).Run(ctx, ingest.Options{
			StorePath: appCfg.GetDocumentStorePath(),
			Backend:   storage.Backend(appCfg.Backend),
			Files:     cfg.Files,
			BaseDir:   cfg.BaseDir,
			URLs:      cfg.URLs,
			Chunker: rag.ChunkerConfig{
				Strategy: rag.Strategy(cfg.ChunkStrategy),
				Size:     cfg.ChunkSize,
				Overlap:  cfg.ChunkOverlap,
			},
			MaxFileBytes:  cfg.MaxFileBytes,
			MaxTotalBytes: cfg.MaxTotalBytes,
			Force:         ingestFlags.force,
			Concurrency:   cfg.Concurrency,
			BatchSize:     embedder.BatchSize(),
			Progress: func(source string, status ingest.Status) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintf(out, "%s %s\n", ui.Badge(string(status)), source)
			},
		})
		if err != nil {
			return err
		}

		if stats.Wiped {
			fmt.Fprintln(out, ui.WarnStyle.Render("embedding model changed: store was wiped and rebuilt"))
		}
		for _, p := range stats.Purged {
			fmt.Fprintf(out, "%s %s\n", ui.Badge("purged"), p)
		}
		fmt.Fprintf(out, "\n%s new %d, updated %d, skipped %d, errors %d, chunks %s in %s\n",
			ui.SuccessStyle.Render("Done:"),
			stats.New, stats.Updated, stats.Skipped, stats.Errored,
			humanize.Comma(int64(stats.TotalChunks)),
			stats.Duration.Round(time.Millisecond),
		)

		if errs := stats.Errors(); len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintln(cmd.ErrOrStderr(), ui.ErrorStyle.Render("error: ")+e)
			}
			return fmt.Errorf("%d of %d sources failed", len(errs), len(stats.Results))
		}
		return nil
	},
}

func init() {
	f := ingestCmd.Flags()
	f.BoolVar(&ingestFlags.force, "force", false, "re-embed every source; wipes the store if the embedding model changed")
	f.StringVarP(&ingestFlags.config, "config", "c", "", "YAML file with files, urls and chunking settings")
	f.StringSliceVar(&ingestFlags.files, "file", nil, "file glob pattern, repeatable (\"**\" crosses directories)")
	f.StringSliceVar(&ingestFlags.urls, "url", nil, "URL to fetch, repeatable")
	f.StringVar(&ingestFlags.baseDir, "base-dir", "", "directory file patterns are resolved against")
	rootCmd.AddCommand(ingestCmd)
}
