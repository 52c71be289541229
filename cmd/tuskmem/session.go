package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/internal/service/session"
	"github.com/sandevgo/tuskmem/internal/service/ui"
	"github.com/spf13/cobra"
)

var sessionFlags struct {
	full bool
	file string
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage saved conversation sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently active first",
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

		list, err := deps.sessions.List(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), ui.DescStyle.Render("No saved sessions."))
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tMESSAGES\tUPDATED")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%d\t%s\n", s.SessionID, s.MessageCount, humanize.Time(s.UpdatedAt))
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Print the context window of a session (latest if no id)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, done, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer done()

		var id string
		if len(args) == 1 {
			id = args[0]
		}
		deps, err := openMemoryDeps(ctx, false)
		if err != nil {
			return err
		}
		defer deps.Close()

		var rec core.SessionRecord
		if sessionFlags.full {
			rec, err = deps.sessions.Full(ctx, id)
		} else {
			rec, err = deps.sessions.Load(ctx, id)
		}
		if err != nil {
			return err
		}
		printSession(cmd.OutOrStdout(), rec)
		return nil
	},
}

func printSession(out io.Writer, rec core.SessionRecord) {
	if len(rec.Messages) == 0 {
		fmt.Fprintln(out, ui.DescStyle.Render("Session is empty."))
		return
	}
	fmt.Fprintln(out, ui.TitleStyle.Render(fmt.Sprintf("%s (%s)", rec.SessionID, humanize.Time(rec.UpdatedAt))))
	for _, m := range rec.Messages {
		role := ui.UsageStyle.Render(m.Role + ":")
		switch {
		case len(m.ToolCalls) > 0:
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(out, "%s %s %s\n", role, ui.FlagStyle.Render("call "+tc.Function.Name), tc.Function.Arguments)
			}
		case m.Role == core.RoleTool:
			fmt.Fprintf(out, "%s %s\n", role, ui.DescStyle.Render(m.Content))
		default:
			fmt.Fprintf(out, "%s %s\n", role, m.Content)
		}
	}
}

var sessionSaveCmd = &cobra.Command{
	Use:   "save [session-id]",
	Short: "Store a session history read as a JSON message array",
	Long: `Reads a JSON array of messages ({"role", "content", ...}) from --file or
stdin and stores it as the session's history. Without an id a new one is
generated and printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, done, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer done()

		in := cmd.InOrStdin()
		if sessionFlags.file != "" && sessionFlags.file != "-" {
			f, err := os.Open(sessionFlags.file)
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		var msgs []core.Message
		if err := json.NewDecoder(in).Decode(&msgs); err != nil {
			return fmt.Errorf("decode messages: %w", err)
		}

		id := session.NewSessionID()
		if len(args) == 1 {
			id = args[0]
		}
		deps, err := openMemoryDeps(ctx, false)
		if err != nil {
			return err
		}
		defer deps.Close()

		deps.sessions.Save(ctx, id, msgs)
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete one session",
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

		if err := deps.sessions.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ui.SuccessStyle.Render("Deleted"), args[0])
		return nil
	},
}

var sessionPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Keep only the most recently active sessions",
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

		n, err := deps.sessions.Prune(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d sessions\n", n)
		return nil
	},
}

func init() {
	sessionShowCmd.Flags().BoolVar(&sessionFlags.full, "full", false, "print the whole stored history instead of the window")
	sessionSaveCmd.Flags().StringVarP(&sessionFlags.file, "file", "f", "", "JSON file with the messages (default stdin)")
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionSaveCmd, sessionDeleteCmd, sessionPruneCmd)
	rootCmd.AddCommand(sessionCmd)
}
