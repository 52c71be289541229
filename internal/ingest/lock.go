package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/sandevgo/tuskmem/internal/core"
)

// In-process holders; flock alone is per open file description.
var held = struct {
	sync.Mutex
	paths map[string]struct{}
}{paths: make(map[string]struct{})}

// storeLock is the single-writer lock of one store path. It never waits.
type storeLock struct {
	key string
	fl  *flock.Flock
}

func acquireLock(storePath string) (*storeLock, error) {
	key, err := filepath.Abs(storePath)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}

	held.Lock()
	defer held.Unlock()

	if _, busy := held.paths[key]; busy {
		return nil, core.ErrIngestionInProgress
	}

	if err := os.MkdirAll(filepath.Dir(key), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	fl := flock.New(key + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, core.ErrIngestionInProgress
	}

	held.paths[key] = struct{}{}
	return &storeLock{key: key, fl: fl}, nil
}

func (l *storeLock) release() error {
	held.Lock()
	defer held.Unlock()

	err := l.fl.Unlock()
	delete(held.paths, l.key)
	return err
}
