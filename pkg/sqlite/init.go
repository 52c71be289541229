// Package sqlite registers the "sqlite3_vec" database/sql driver: mattn's
// SQLite with the sqlite-vec extension loaded into every connection.
package sqlite

import (
	"database/sql"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mattn/go-sqlite3"
)

const DriverName = "sqlite3_vec"

func init() {
	// Registers sqlite3_vec_init as an auto extension for every new connection.
	sqlite_vec.Auto()

	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// Owner-only files are enforced by the store, WAL needs nothing extra here.
			return nil
		},
	})
}

// SerializeVector encodes a vector in the little-endian float32 layout vec0
// expects.
func SerializeVector(vec []float32) ([]byte, error) {
	return sqlite_vec.SerializeFloat32(vec)
}
