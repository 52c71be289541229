package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sandevgo/tuskmem/internal/core"
	"github.com/sandevgo/tuskmem/internal/storage/chromem"
	"github.com/sandevgo/tuskmem/internal/storage/sqlite"
	"github.com/sandevgo/tuskmem/pkg/log"
)

var defaultManager = NewManager()

// Manager shares one store instance per path, reference counted. The
// instance is closed when its last handle is closed.
type Manager struct {
	mu   sync.Mutex
	open map[string]*entry
}

type entry struct {
	store   *sqlite.Store
	backend Backend
	refs    int
}

func NewManager() *Manager {
	return &Manager{open: make(map[string]*entry)}
}

// Handle is a reference to a shared store. Close releases the reference.
type Handle struct {
	*sqlite.Store
	once    sync.Once
	release func() error
}

func (h *Handle) Close() error {
	var err error
	h.once.Do(func() {
		err = h.release()
	})
	return err
}

func (m *Manager) Acquire(ctx context.Context, opts Options) (*Handle, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if opts.Backend == "" {
		opts.Backend = BackendSQLiteVec
	}
	key, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.open[key]
	if ok {
		if e.backend != opts.Backend {
			return nil, fmt.Errorf("store %s is already open with backend %s", key, e.backend)
		}
		switch {
		case opts.Dimensions > 0:
			if err := e.store.EnsureDimensions(ctx, opts.Dimensions); err != nil {
				return nil, err
			}
		case e.store.Dimensions() == 0 && !opts.AllowDeferred:
			return nil, core.ErrDimensionsUnknown
		}
		e.refs++
	} else {
		st, err := openBackend(ctx, key, opts)
		if err != nil {
			return nil, err
		}
		e = &entry{store: st, backend: opts.Backend, refs: 1}
		m.open[key] = e
	}

	log.FromCtx(ctx).Debug().Str("path", key).Int("refs", e.refs).Msg("store handle acquired")
	return &Handle{
		Store:   e.store,
		release: func() error { return m.release(key) },
	}, nil
}

func (m *Manager) release(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.open[key]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(m.open, key)
	return e.store.Close()
}

// Refs reports how many handles are open for path.
func (m *Manager) Refs(path string) int {
	key, err := filepath.Abs(path)
	if err != nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.open[key]; ok {
		return e.refs
	}
	return 0
}

func openBackend(ctx context.Context, path string, opts Options) (*sqlite.Store, error) {
	sopts := sqlite.Options{
		Dimensions:    opts.Dimensions,
		AllowDeferred: opts.AllowDeferred,
	}
	switch opts.Backend {
	case BackendSQLiteVec:
		return sqlite.Open(ctx, path, sopts)
	case BackendChromem:
		return chromem.Open(ctx, path, sopts)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", opts.Backend)
	}
}
