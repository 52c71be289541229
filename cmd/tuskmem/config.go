package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sandevgo/tuskmem/internal/config"
	"github.com/sandevgo/tuskmem/internal/service/ui"
	"github.com/sandevgo/tuskmem/pkg/env"
	"github.com/sandevgo/tuskmem/pkg/log"
	"github.com/spf13/cobra"
)

var configFlags struct {
	minimal bool
	force   bool
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the runtime .env file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the current configuration to <runtime>/.env",
	Long: `Collects every TUSKMEM_* setting (from the environment, falling back to
defaults) and writes it to the .env file under the runtime path. Existing
files are kept unless --force is given.`,
	Args: cobra.NoArgs,
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
		path := appCfg.GetEnvPath()
		if _, err := os.Stat(path); err == nil && !configFlags.force {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}

		content, err := renderEnv(appCfg)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("create runtime dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return fmt.Errorf("write env file: %w", err)
		}
		log.FromCtx(ctx).Debug().Str("path", path).Int("bytes", len(content)).Msg("wrote env file")
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ui.SuccessStyle.Render("Wrote"), path)
		return nil
	},
}

func renderEnv(appCfg *config.AppConfig) (string, error) {
	embedCfg, err := config.LoadEmbeddingConfig()
	if err != nil {
		return "", err
	}
	llmCfg, err := config.LoadLLMConfig()
	if err != nil {
		return "", err
	}
	ingestCfg, err := config.LoadIngestConfig()
	if err != nil {
		return "", err
	}
	memCfg, err := config.LoadMemoryConfig()
	if err != nil {
		return "", err
	}
	sessCfg, err := config.LoadSessionConfig()
	if err != nil {
		return "", err
	}

	marshal := env.MarshalEnvAll
	if configFlags.minimal {
		marshal = env.MarshalEnv
	}

	sections := []struct {
		title string
		cfg   any
	}{
		{"Runtime", appCfg},
		{"Embeddings", embedCfg},
		{"Chat model (consolidation)", llmCfg},
		{"Ingestion", ingestCfg},
		{"Memory", memCfg},
		{"Sessions", sessCfg},
	}

	var b strings.Builder
	for _, s := range sections {
		body, err := marshal(s.cfg)
		if err != nil {
			return "", err
		}
		if body == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "# %s\n%s", s.title, body)
	}
	return b.String(), nil
}

func init() {
	configInitCmd.Flags().BoolVar(&configFlags.minimal, "minimal", false, "only write values that differ from the defaults")
	configInitCmd.Flags().BoolVar(&configFlags.force, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
