// cmd/tools/dbmigrate/main.go
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/config"
)

func main() {
	var (
		configPath     = flag.String("config", "config/app.yaml", "Path to the application config, used when -db is empty")
		dbPath         = flag.String("db", "", "Path to SQLite database")
		migrationsPath = flag.String("migrations", "internal/db/migrations", "Path to migrations directory")
		command        = flag.String("command", "", "Command to run (up, down, version, steps, force)")
		steps          = flag.Int("n", 0, "Migration steps for -command=steps (negative rolls back)")
		forceVersion   = flag.Int("version", -1, "Version for -command=force")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *command == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	if *dbPath == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("config", *configPath).Msg("Failed to load configuration")
		}
		*dbPath = cfg.Database.Filename
	}

	absDB, err := filepath.Abs(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid database path")
	}
	absMigrations, err := filepath.Abs(*migrationsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid migrations path")
	}
	if _, err := os.Stat(absMigrations); os.IsNotExist(err) {
		log.Fatal().Str("path", absMigrations).Msg("Migrations directory does not exist")
	}
	if err := os.MkdirAll(filepath.Dir(absDB), 0755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create database directory")
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", absMigrations), fmt.Sprintf("sqlite3://%s", absDB))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrate instance")
	}
	defer m.Close()

	logger := log.With().Str("db", absDB).Str("command", *command).Logger()
	if err := run(m, *command, *steps, *forceVersion); err != nil {
		logger.Fatal().Err(err).Msg("Migration command failed")
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info().Msg("No migrations applied")
	case err != nil:
		logger.Fatal().Err(err).Msg("Failed to read version")
	default:
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("Migration command completed")
	}
}

func run(m *migrate.Migrate, command string, steps, forceVersion int) error {
	var err error
	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		if steps == 0 {
			return fmt.Errorf("-n is required for steps")
		}
		err = m.Steps(steps)
	case "force":
		if forceVersion < 0 {
			return fmt.Errorf("-version is required for force")
		}
		err = m.Force(forceVersion)
	case "version":
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
