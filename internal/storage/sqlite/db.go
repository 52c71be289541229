package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/sandevgo/tuskmem/pkg/log"
	vecdriver "github.com/sandevgo/tuskmem/pkg/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// DefaultDriver is mattn's SQLite with sqlite-vec loaded.
const DefaultDriver = vecdriver.DriverName

// MattnDSN builds a DSN for github.com/mattn/go-sqlite3 based drivers.
func MattnDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", path)
}

// NewDB opens the database file at dbPath with owner-only permissions and
// applies migrations.
func NewDB(ctx context.Context, driver, dsn, dbPath string) (*sql.DB, error) {
	if err := ensureOwnerOnly(dbPath); err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: writes are serialized in-process and vec0 schema
	// changes are visible immediately.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func ensureOwnerOnly(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create db directory: %w", err)
	}
	if err := os.Chmod(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to restrict db directory: %w", err)
	}

	f, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create db file: %w", err)
	}
	f.Close()

	if err := os.Chmod(dbPath, filePerm); err != nil {
		return fmt.Errorf("failed to restrict db file: %w", err)
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(log.NewGooseLoggerFromCtx(ctx))

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}

	return nil
}
