// Package main provides the database migration CLI for rootline.
//
// Migrations are embedded into the binary at build time, so the tool runs in
// containers without access to the source tree. The validate command checks
// the embedded set without a database connection; all other commands apply it
// through golang-migrate.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
)

// Build-time version information, set with -ldflags.
var (
	Version   = "1.0.0-dev" // Version of the migrator
	GitCommit = "unknown"   // Git commit hash
	BuildTime = "unknown"   // Build timestamp
	name      = "migrator"  // Application name
)

func main() {
	var (
		configHelp  = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		printVersionInfo()
		os.Exit(0)
	}

	if *configHelp || len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	command := os.Args[1]

	// Validation inspects only the embedded set, so it needs no database.
	if command == "validate" {
		if err := runValidate(); err != nil {
			log.Fatalf("Validation failed: %v", err)
		}

		return
	}

	config, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	runner, err := NewMigrationRunner(config)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}
	defer func() {
		_ = runner.Close()
	}()

	if err := executeCommand(command, runner); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

// executeCommand runs the specified migration command.
func executeCommand(command string, runner MigrationRunner) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		fmt.Print("WARNING: This will drop all tables. Are you sure? (y/N): ")

		var response string

		_, _ = fmt.Scanln(&response)

		if response == "y" || response == "Y" {
			return runner.Drop()
		}

		fmt.Println("Operation cancelled.")

		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runValidate checks the embedded migration set and lists its contents.
func runValidate() error {
	embedded := NewEmbeddedMigration(nil)

	if err := embedded.ValidateEmbeddedMigrations(); err != nil {
		return err
	}

	files, err := embedded.ListEmbeddedMigrations()
	if err != nil {
		return err
	}

	log.Printf("Validated %d embedded migration files (schema v%03d)",
		len(files), embedded.maxSchemaVersion())

	for _, file := range files {
		log.Printf("  %s", file)
	}

	return nil
}

// printVersionInfo displays version information.
func printVersionInfo() {
	fmt.Printf("%s v%s\n", name, Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Database migration tool for rootline\n")
}

// printUsage displays usage information.
func printUsage() {
	fmt.Printf(`%s v%s - Database migration tool for rootline

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up       Apply all pending migrations
    down     Rollback the last migration
    status   Show migration status
    version  Show current migration version
    validate Check the embedded migration set (no database required)
    drop     Drop all tables (requires confirmation)

OPTIONS:
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    ROOTLINE_DATABASE_URL    PostgreSQL connection string (REQUIRED)

    ROOTLINE_MIGRATION_TABLE Name of migration tracking table
                             (default: schema_migrations)

EXAMPLES:
    %s up          # Apply all pending migrations
    %s status      # Show current migration status
    %s validate    # Verify embedded migrations before deploying
`, name, Version, name, name, name, name)
}
