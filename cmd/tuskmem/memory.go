package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sandevgo/tuskmem/internal/config"
	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/internal/providers/llm"
	"github.com/sandevgo/tuskmem/internal/service/memory"
	"github.com/sandevgo/tuskmem/internal/service/ui"
	"github.com/spf13/cobra"
)

var memFlags struct {
	memType  string
	addType  string
	category string
	limit    int

	session  string
	trigger  string
	request  string
	response string
	tools    []string
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage long-term memory",
}

func memoryFilter() (core.MemoryFilter, error) {
	f := core.MemoryFilter{Category: memFlags.category}
	if memFlags.memType != "" {
		t, err := core.ParseMemoryType(memFlags.memType)
		if err != nil {
			return f, err
		}
		f.Type = t
	}
	return f, nil
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Store a fact or rule",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, done, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer done()

		t, err := core.ParseMemoryType(memFlags.addType)
		if err != nil {
			return err
		}
		deps, err := openMemoryDeps(ctx, true)
		if err != nil {
			return err
		}
		defer deps.Close()

		m, err := deps.mem.Remember(ctx, core.Memory{
			Content:  strings.Join(args, " "),
			Category: memFlags.category,
			Type:     t,
			Metadata: map[string]any{"source": "cli"},
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s memory %s\n", ui.SuccessStyle.Render("Stored"), m.Type, m.ID)
		return nil
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Recall the memories closest to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, done, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer done()

		filter, err := memoryFilter()
		if err != nil {
			return err
		}
		deps, err := openMemoryDeps(ctx, true)
		if err != nil {
			return err
		}
		defer deps.Close()

		hits, err := deps.mem.Recall(ctx, strings.Join(args, " "), memFlags.limit, filter)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), ui.DescStyle.Render("No matching memories."))
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DISTANCE\tTYPE\tCATEGORY\tCONTENT")
		for _, h := range hits {
			fmt.Fprintf(w, "%.4f\t%s\t%s\t%s\n", h.Distance, h.Type, h.Category, h.Content)
		}
		return w.Flush()
	},
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, done, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer done()

		filter, err := memoryFilter()
		if err != nil {
			return err
		}
		deps, err := openMemoryDeps(ctx, false)
		if err != nil {
			return err
		}
		defer deps.Close()

		list, err := deps.mem.List(ctx, filter, memFlags.limit)
		if err != nil {
			return err
		}
		printMemories(cmd.OutOrStdout(), list)
		return nil
	},
}

func printMemories(out io.Writer, list []core.Memory) {
	if len(list) == 0 {
		fmt.Fprintln(out, ui.DescStyle.Render("No memories."))
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tCATEGORY\tCREATED\tCONTENT")
	for _, m := range list {
		content := m.Content
		if m.Type == core.MemoryEpisodic && m.ConsolidatedAt != nil {
			content += " " + ui.DescStyle.Render("(consolidated)")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Type, m.Category, humanize.Time(m.CreatedAt), content)
	}
	_ = w.Flush()
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, done, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer done()

		deps, err := openMemoryDeps(ctx, false)
		if err != nil {
			return err
		}
		defer deps.Close()

		if err := deps.mem.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ui.SuccessStyle.Render("Deleted"), args[0])
		return nil
	},
}

var memoryPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply per-type retention limits now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, done, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer done()

		deps, err := openMemoryDeps(ctx, false)
		if err != nil {
			return err
		}
		defer deps.Close()

		removed, err := deps.mem.Prune(ctx)
		if err != nil {
			return err
		}
		for _, t := range core.MemoryTypes {
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s removed %d, keeping at most %d\n", t, removed[t], deps.mem.Keep(t))
		}
		return nil
	},
}

var memoryConsolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Turn one batch of episodes into facts using the chat model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, done, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer done()

		llmCfg, err := config.LoadLLMConfig()
		if err != nil {
			return err
		}
		if !llmCfg.Enabled() {
			return fmt.Errorf("consolidation needs a chat model: set TUSKMEM_LLM_PROVIDER and TUSKMEM_LLM_MODEL")
		}
		ai, err := llm.NewChatProvider(ctx, llmCfg)
		if err != nil {
			return err
		}
		deps, err := openMemoryDeps(ctx, true)
		if err != nil {
			return err
		}
		defer deps.Close()

		c := memory.NewConsolidator(deps.mem, ai)
		if memFlags.limit > 0 {
			c.BatchSize = memFlags.limit
		}
		res, err := c.ConsolidateOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d episodes into %d facts\n", ui.SuccessStyle.Render("Consolidated"), res.Episodes, res.Facts)
		return nil
	},
}

var memoryCaptureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record a finished agent run as an episodic memory",
	Long: `Meant for agent runtime hooks. Capture is best-effort: failures are
logged and the command still exits 0.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, done, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer done()

		deps, err := openMemoryDeps(ctx, true)
		if err != nil {
			return err
		}
		defer deps.Close()

		deps.mem.Capture(ctx, memory.Run{
			SessionID: memFlags.session,
			Trigger:   memFlags.trigger,
			Request:   memFlags.request,
			Response:  memFlags.response,
			Tools:     memFlags.tools,
			Finished:  time.Now(),
		})
		return nil
	},
}

func init() {
	memoryAddCmd.Flags().StringVarP(&memFlags.addType, "type", "t", string(core.MemorySemantic), "semantic, procedural or episodic")
	memoryAddCmd.Flags().StringVar(&memFlags.category, "category", "", "short lower-case label")

	for _, c := range []*cobra.Command{memorySearchCmd, memoryListCmd} {
		c.Flags().StringVarP(&memFlags.memType, "type", "t", "", "only this memory type")
		c.Flags().StringVar(&memFlags.category, "category", "", "only this category")
		c.Flags().IntVarP(&memFlags.limit, "limit", "n", 0, "maximum number of results (0 uses the default)")
	}
	memoryConsolidateCmd.Flags().IntVarP(&memFlags.limit, "batch", "n", 0, "episodes per batch (0 uses TUSKMEM_MEMORY_CONSOLIDATE_BATCH)")

	f := memoryCaptureCmd.Flags()
	f.StringVar(&memFlags.session, "session", "", "session id of the run")
	f.StringVar(&memFlags.trigger, "trigger", "user_message", "what started the run")
	f.StringVar(&memFlags.request, "request", "", "the request that started the run")
	f.StringVar(&memFlags.response, "response", "", "the final answer")
	f.StringSliceVar(&memFlags.tools, "tool", nil, "tool used during the run, repeatable")

	memoryCmd.AddCommand(memoryAddCmd, memorySearchCmd, memoryListCmd, memoryDeleteCmd,
		memoryPruneCmd, memoryConsolidateCmd, memoryCaptureCmd)
	rootCmd.AddCommand(memoryCmd)
}
