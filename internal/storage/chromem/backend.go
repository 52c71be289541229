package chromem

import (
	"context"
	"fmt"

	"github.com/sandevgo/tuskmem/internal/storage/sqlite"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

func dsn(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_txlock=immediate", path)
}

// VectorDir is where the chromem collections of the store at path live.
func VectorDir(path string) string {
	return path + ".vectors"
}

// Open opens the SQLite file at path with a chromem index beside it.
func Open(ctx context.Context, path string, opts sqlite.Options) (*sqlite.Store, error) {
	idx, err := NewIndex(VectorDir(path))
	if err != nil {
		return nil, err
	}
	opts.Driver = driverName
	opts.DSN = dsn(path)
	opts.Index = idx
	return sqlite.Open(ctx, path, opts)
}
