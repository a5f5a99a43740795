// Package db is the ride log: a SQLite file holding rides, refuels and the
// rider's settings. Schema changes are managed by embedded migrations.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/ride.report/internal/monitoring"
)

// ErrStorage wraps every failure of the underlying database. Callers treat it
// as retryable and never let it affect trip state.
var ErrStorage = errors.New("storage failure")

var logf = monitoring.Tagged("db")

// pragmas are applied to every pooled connection.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
}

type DB struct {
	*sql.DB
	path string
}

func dsn(path string) string {
	var b strings.Builder
	b.WriteString(path)
	for i, p := range pragmas {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// OpenDB opens the database without touching the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// NewDB opens the database and applies any pending migrations.
func NewDB(path string) (*DB, error) {
	return NewDBWithMigrationCheck(path, true)
}

// NewDBWithMigrationCheck opens the database. With autoMigrate it brings the
// schema up to date; otherwise it refuses a database whose schema is behind.
func NewDBWithMigrationCheck(path string, autoMigrate bool) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}

	if autoMigrate {
		if err := db.MigrateUp(migrationsFS); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}

	if outdated, err := db.CheckMigrations(migrationsFS); outdated || err != nil {
		db.Close()
		if err == nil {
			err = errors.New("database schema is out of date")
		}
		return nil, err
	}
	return db, nil
}

// Path is the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
