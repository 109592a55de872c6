package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"

	"github.com/banshee-data/wind.report/internal/windstore"
)

const migrateUsage = `Usage: windest -db <path> migrate <action>

Actions:
  up           Apply all pending migrations
  down         Roll back the most recent migration
  status       Print the current schema version
  force <N>    Set the schema version to N without running migrations
               (recovery from a dirty migration only)
  help         Show this help
`

// runMigrate handles the 'migrate' subcommand.
func runMigrate(args []string, dbPath string, stdout io.Writer) error {
	if len(args) < 1 || args[0] == "help" {
		fmt.Fprint(stdout, migrateUsage)
		if len(args) < 1 {
			return errors.New("migrate: missing action")
		}
		return nil
	}
	if dbPath == "" {
		return errors.New("migrate requires -db")
	}

	store, err := windstore.OpenWithoutMigrations(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	defer store.Close()

	switch action := args[0]; action {
	case "up":
		log.Printf("Running migrations...")
		if err := store.MigrateUp(); err != nil {
			return err
		}
	case "down":
		log.Printf("Rolling back one migration...")
		if err := store.MigrateDown(); err != nil {
			return err
		}
	case "status":
	case "force":
		if len(args) < 2 {
			return errors.New("usage: windest -db <path> migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number %q: %w", args[1], err)
		}
		log.Printf("WARNING: forcing migration version to %d", version)
		if err := store.MigrateForce(version); err != nil {
			return err
		}
	default:
		fmt.Fprint(stdout, migrateUsage)
		return fmt.Errorf("unknown migrate action %q", action)
	}

	version, dirty, err := store.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	fmt.Fprintf(stdout, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}
