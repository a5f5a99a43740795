package db

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/banshee-data/ride.report/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DevMode reads migrations from the source tree instead of the binary, so
// new migration files can be tried without a rebuild.
var DevMode = false

const devMigrationsDir = "internal/db/migrations"

func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		return os.DirFS(devMigrationsDir), nil
	}
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return sub, nil
}

// MigrateUp runs all pending migrations up to the latest version.
// Returns nil if no migrations were needed (already at latest version).
func (db *DB) MigrateUp(migrations fs.FS) error {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared *sql.DB.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (db *DB) MigrateDown(migrations fs.FS) error {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return err
	}

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current migration version and dirty state.
// Returns 0, false, nil if no migrations have been applied yet.
func (db *DB) MigrateVersion(migrations fs.FS) (version uint, dirty bool, err error) {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return 0, false, err
	}

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// MigrateTo migrates up or down to a specific version.
func (db *DB) MigrateTo(migrations fs.FS, version uint) error {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return err
	}

	if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}
	return nil
}

// MigrateForce sets the recorded version without running anything. Only for
// recovering from a dirty state.
func (db *DB) MigrateForce(migrations fs.FS, version int) error {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return err
	}

	if err := m.Force(version); err != nil {
		return fmt.Errorf("force migration to version %d failed: %w", version, err)
	}
	return nil
}

func (db *DB) newMigrate(migrations fs.FS) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	migrateLogf(format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

var migrateLogf = monitoring.Tagged("migrate")

func (db *DB) ensureSchemaMigrationsTable() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER NOT NULL,
			dirty INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS version_unique ON schema_migrations (version);
	`)
	return err
}

// BaselineAtVersion records version as applied without running anything. It
// is for ride logs whose schema was created outside the migration tool.
func (db *DB) BaselineAtVersion(version uint) error {
	if err := db.ensureSchemaMigrationsTable(); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("failed to check existing migrations: %w", err)
	}
	if count > 0 {
		return errors.New("database already has migrations applied, cannot baseline")
	}

	if _, err := db.Exec("INSERT INTO schema_migrations (version, dirty) VALUES (?, 0)", version); err != nil {
		return fmt.Errorf("failed to insert baseline version: %w", err)
	}
	logf("database baselined at version %d", version)
	return nil
}

// MigrationStatus summarises where the schema stands.
type MigrationStatus struct {
	CurrentVersion         uint `json:"current_version"`
	LatestVersion          uint `json:"latest_version"`
	Dirty                  bool `json:"dirty"`
	SchemaMigrationsExists bool `json:"schema_migrations_exists"`
}

// GetMigrationStatus reports the applied and available versions.
func (db *DB) GetMigrationStatus(migrations fs.FS) (MigrationStatus, error) {
	var status MigrationStatus

	// checked first: newMigrate creates the table as a side effect
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_migrations'
	`).Scan(&status.SchemaMigrationsExists)
	if err != nil {
		return status, fmt.Errorf("failed to check schema_migrations table: %w", err)
	}

	status.CurrentVersion, status.Dirty, err = db.MigrateVersion(migrations)
	if err != nil {
		return status, fmt.Errorf("failed to get migration version: %w", err)
	}
	status.LatestVersion, err = GetLatestMigrationVersion(migrations)
	if err != nil {
		return status, err
	}
	return status, nil
}

// GetLatestMigrationVersion returns the highest version in migrations.
func GetLatestMigrationVersion(migrations fs.FS) (uint, error) {
	entries, err := fs.Glob(migrations, "*.up.sql")
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations: %w", err)
	}

	var latest uint
	for _, name := range entries {
		var version uint
		// files are named 000001_name.up.sql
		if _, err := fmt.Sscanf(name, "%d_", &version); err == nil && version > latest {
			latest = version
		}
	}
	if latest == 0 {
		return 0, errors.New("no migration files found")
	}
	return latest, nil
}

// CheckMigrations reports whether the schema is behind the latest migration.
// A dirty or too-new schema is an error.
func (db *DB) CheckMigrations(migrations fs.FS) (bool, error) {
	current, dirty, err := db.MigrateVersion(migrations)
	if err != nil {
		return false, fmt.Errorf("failed to get current migration version: %w", err)
	}
	latest, err := GetLatestMigrationVersion(migrations)
	if err != nil {
		return false, err
	}

	switch {
	case dirty:
		return true, fmt.Errorf("database is in a dirty state (version %d); run 'ridecomputer migrate status' to diagnose", current)
	case current > latest:
		return true, fmt.Errorf("database version (%d) is ahead of latest migration (%d)", current, latest)
	case current < latest:
		logf("database schema is at version %d, latest is %d; run 'ridecomputer migrate up'", current, latest)
		return true, fmt.Errorf("database schema is out of date (version %d, need %d)", current, latest)
	}
	return false, nil
}
