package main

import (
	"context"

	"github.com/sandevgo/tuskmem/pkg/log"
	"github.com/sandevgo/tuskmem/pkg/srv"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve documents, memory and sessions to an agent over MCP (stdio)",
	Long: `Starts an MCP server on stdin/stdout exposing search_documents, remember,
recall and list_sessions. With TUSKMEM_LLM_PROVIDER set, episodic memories
are also consolidated into facts in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, done, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer done()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		logger := log.FromCtx(ctx)
		logger.Info().Msg("starting tuskmem")

		services, err := NewServices(ctx, cancel)
		if err != nil {
			return err
		}

		srv.StartServices(ctx, services)

		// Wait for a signal or the MCP client to hang up
		srv.ShutdownServices(ctx, services)
		logger.Info().Msg("tuskmem has been shut down gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
