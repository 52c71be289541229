package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sandevgo/tuskmem/internal/config"
	"github.com/sandevgo/tuskmem/internal/providers/llm"
	"github.com/sandevgo/tuskmem/internal/providers/rag"
	"github.com/sandevgo/tuskmem/internal/service/memory"
	"github.com/sandevgo/tuskmem/internal/service/retrieval"
	"github.com/sandevgo/tuskmem/internal/service/session"
	"github.com/sandevgo/tuskmem/internal/storage"
	"github.com/sandevgo/tuskmem/internal/transport/mcp"
	"github.com/sandevgo/tuskmem/pkg/log"
	"github.com/sandevgo/tuskmem/pkg/srv"
	"github.com/spf13/cobra"
)

// bootstrap gives a command its signal-aware context with a logger and the
// runtime .env loaded. The returned func releases both.
func bootstrap(cmd *cobra.Command) (context.Context, func(), error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	ctx, flushLog := setupLogger(ctx)

	cleanup := func() {
		flushLog()
		stop()
	}
	if err := initEnv(ctx, config.GetRuntimePath()); err != nil {
		cleanup()
		return nil, nil, err
	}
	return ctx, cleanup, nil
}

func initEnv(ctx context.Context, runtimePath string) error {
	logger := log.FromCtx(ctx)
	envFile := filepath.Join(runtimePath, ".env")

	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Variables already set in the process environment win.
	if err := godotenv.Load(envFile); err != nil {
		logger.Warn().Err(err).Str("path", envFile).Msg("failed to load .env file")
		return err
	}

	logger.Debug().Str("path", envFile).Msg("loaded .env file")
	return nil
}

func newEmbedder(ctx context.Context) (*rag.Embedder, error) {
	cfg, err := config.LoadEmbeddingConfig()
	if err != nil {
		return nil, err
	}
	provider, err := llm.NewEmbeddingProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return rag.NewEmbedder(provider, rag.EmbedderOptions{
		BatchSize:     cfg.BatchSize,
		Timeout:       cfg.Timeout,
		QueryPrefix:   cfg.QueryPrefix,
		PassagePrefix: cfg.PassagePrefix,
		CacheSize:     cfg.CacheSize,
	})
}

func openMemoryStore(ctx context.Context, appCfg *config.AppConfig) (storage.MemoryStoreBase, error) {
	return storage.OpenMemoryStore(ctx, storage.Options{
		Path:          appCfg.GetMemoryStorePath(),
		Backend:       storage.Backend(appCfg.Backend),
		AllowDeferred: true,
	})
}

func newSearcher(appCfg *config.AppConfig, embedder retrieval.Encoder) *retrieval.Searcher {
	return retrieval.NewSearcher(appCfg.GetDocumentStorePath(), storage.Backend(appCfg.Backend), embedder)
}

// memoryDeps is what the memory and session commands share.
type memoryDeps struct {
	store    storage.MemoryStoreBase
	embedder *rag.Embedder
	mem      *memory.Memory
	sessions *session.Manager
}

func (d *memoryDeps) Close() {
	if d.embedder != nil {
		d.embedder.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
}

// openMemoryDeps wires the memory store. withEmbedder=false is for commands
// that never embed (sessions, list, prune), so they work without a
// configured embedding provider.
func openMemoryDeps(ctx context.Context, withEmbedder bool) (*memoryDeps, error) {
	appCfg, err := config.LoadAppConfig()
	if err != nil {
		return nil, err
	}
	memCfg, err := config.LoadMemoryConfig()
	if err != nil {
		return nil, err
	}
	sessCfg, err := config.LoadSessionConfig()
	if err != nil {
		return nil, err
	}

	d := &memoryDeps{}
	if withEmbedder {
		if d.embedder, err = newEmbedder(ctx); err != nil {
			return nil, err
		}
	}
	if d.store, err = openMemoryStore(ctx, appCfg); err != nil {
		d.Close()
		return nil, err
	}

	var enc memory.Encoder
	if d.embedder != nil {
		enc = d.embedder
	}
	d.mem = memory.NewMemory(memCfg, d.store, enc)
	d.sessions = session.NewManager(sessCfg, d.store, appCfg.Owner)
	return d, nil
}

// NewServices wires everything `serve` runs: the MCP server and, with a
// chat model configured, the background consolidator. stop is called when
// the MCP client goes away. The cleanup comes last so shutdown closes
// the store after the services using it.
func NewServices(ctx context.Context, stop context.CancelFunc) ([]srv.Service, error) {
	logger := log.FromCtx(ctx)
	services := make([]srv.Service, 0)

	// 1. Configuration
	appCfg := config.NewAppConfig(ctx)
	memCfg := config.NewMemoryConfig(ctx)
	sessCfg := config.NewSessionConfig(ctx)
	llmCfg := config.NewLLMConfig(ctx)

	// 2. Embeddings and storage
	embedder, err := newEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	store, err := openMemoryStore(ctx, appCfg)
	if err != nil {
		embedder.Close()
		return nil, err
	}
	cleanup := srv.NewCleanup(store.Close, func() error {
		embedder.Close()
		return nil
	})

	mem := memory.NewMemory(memCfg, store, embedder)
	sessions := session.NewManager(sessCfg, store, appCfg.Owner)
	docs := newSearcher(appCfg, embedder)

	// 3. Consolidation
	if llmCfg.Enabled() {
		ai, err := llm.NewChatProvider(ctx, llmCfg)
		if err != nil {
			embedder.Close()
			_ = store.Close()
			return nil, err
		}
		services = append(services, memory.NewConsolidator(mem, ai))
	} else {
		logger.Info().Msg("no chat model configured, consolidation disabled")
	}

	// 4. Transport
	server := mcp.NewServer(mcp.NewTools(docs, mem, sessions))
	services = append(services, &stopOnExit{Service: server, stop: stop})

	return append(services, cleanup), nil
}

// stopOnExit ends the whole process once the wrapped service returns.
type stopOnExit struct {
	srv.Service
	stop context.CancelFunc
}

func (s *stopOnExit) Start(ctx context.Context) error {
	defer s.stop()
	return s.Service.Start(ctx)
}
