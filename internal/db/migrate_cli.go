package db

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// confirmInput answers the force prompt.
var confirmInput io.Reader = os.Stdin

// ErrUsage is returned for a malformed migrate command line.
var ErrUsage = errors.New("invalid migrate usage")

// RunMigrateCommand handles the 'migrate' subcommand.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return ErrUsage
	}

	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		return err
	}

	// opened without auto-migrate: the command decides what runs
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		return handleMigrateUp(database, migrationsFS, out)
	case "down":
		return handleMigrateDown(database, migrationsFS, out)
	case "status":
		return handleMigrateStatus(database, migrationsFS, out)
	case "version", "force", "baseline":
		if len(args) < 2 {
			return fmt.Errorf("%w: ridecomputer migrate %s <version_number>", ErrUsage, action)
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("%w: invalid version number %q", ErrUsage, args[1])
		}
		switch action {
		case "version":
			return handleMigrateVersion(database, migrationsFS, uint(v), out)
		case "force":
			return handleMigrateForce(database, migrationsFS, int(v), out)
		default:
			return handleMigrateBaseline(database, uint(v), out)
		}
	default:
		fmt.Fprintf(out, "Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(out)
		return ErrUsage
	}
}

func handleMigrateUp(database *DB, migrationsFS fs.FS, out io.Writer) error {
	logf("running migrations")
	if err := database.MigrateUp(migrationsFS); err != nil {
		return err
	}
	version, dirty, _ := database.MigrateVersion(migrationsFS)
	fmt.Fprintf(out, "✓ All migrations applied successfully\nCurrent version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func handleMigrateDown(database *DB, migrationsFS fs.FS, out io.Writer) error {
	logf("rolling back one migration")
	if err := database.MigrateDown(migrationsFS); err != nil {
		return err
	}
	version, dirty, _ := database.MigrateVersion(migrationsFS)
	fmt.Fprintf(out, "✓ Migration rolled back successfully\nCurrent version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func handleMigrateStatus(database *DB, migrationsFS fs.FS, out io.Writer) error {
	status, err := database.GetMigrationStatus(migrationsFS)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", status.CurrentVersion)
	fmt.Fprintf(out, "Latest available: %d\n", status.LatestVersion)
	fmt.Fprintf(out, "Dirty: %v\n", status.Dirty)
	fmt.Fprintf(out, "Schema migrations table exists: %v\n", status.SchemaMigrationsExists)

	switch {
	case status.Dirty:
		fmt.Fprintln(out, "\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Fprintln(out, "A migration failed mid-execution. Inspect the database, then run:")
		fmt.Fprintln(out, "  ridecomputer migrate force <version>")
	case status.CurrentVersion < status.LatestVersion:
		fmt.Fprintf(out, "\n⚠️  Database is %d version(s) behind. Run 'ridecomputer migrate up'.\n", status.LatestVersion-status.CurrentVersion)
	default:
		fmt.Fprintln(out, "\n✓ Database is up to date!")
	}
	return nil
}

func handleMigrateVersion(database *DB, migrationsFS fs.FS, target uint, out io.Writer) error {
	logf("migrating to version %d", target)
	if err := database.MigrateTo(migrationsFS, target); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Migrated to version %d successfully\n", target)
	return nil
}

func handleMigrateForce(database *DB, migrationsFS fs.FS, version int, out io.Writer) error {
	fmt.Fprintf(out, "⚠️  WARNING: Forcing migration version to %d\n", version)
	fmt.Fprintln(out, "This should only be used to recover from a dirty migration state.")
	fmt.Fprint(out, "Continue? [y/N]: ")

	response, _ := bufio.NewReader(confirmInput).ReadString('\n')
	if r := strings.TrimSpace(response); r != "y" && r != "Y" {
		fmt.Fprintln(out, "Aborted")
		return nil
	}

	if err := database.MigrateForce(migrationsFS, version); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Migration version forced to %d\n", version)
	return nil
}

func handleMigrateBaseline(database *DB, version uint, out io.Writer) error {
	if err := database.BaselineAtVersion(version); err != nil {
		return fmt.Errorf("baseline failed: %w", err)
	}
	fmt.Fprintf(out, "✓ Database baselined at version %d\n", version)
	return nil
}

// PrintMigrateHelp describes the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: ridecomputer migrate <action> [args]

Actions:
  up                  Apply all pending migrations
  down                Roll back the most recent migration
  status              Show current and latest schema version
  version <n>         Migrate up or down to version n
  force <n>           Record version n without running it (dirty recovery)
  baseline <n>        Mark an unversioned ride log as being at version n
  help                Show this help

Examples:
  ridecomputer migrate up
  ridecomputer -db /var/lib/ride/ride.db migrate status
`)
}
