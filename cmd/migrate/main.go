package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/af-corp/prompt-gateway/internal/config"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up, down or version")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	dbURL := flag.String("db-url", "", "database URL (overrides env and config)")
	configDir := flag.String("config", "configs", "directory holding gateway.yaml")
	migrationsPath := flag.String("path", "migrations", "path to migrations directory")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	dsn := resolveDSN(*dbURL, *configDir)

	m, err := migrate.New("file://"+*migrationsPath, dsn)
	if err != nil {
		logger.Error("failed to create migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	switch *direction {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "version":
	default:
		logger.Error("invalid direction (use up, down or version)", "direction", *direction)
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("migration failed", "direction", *direction, "error", err)
		os.Exit(1)
	}

	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Error("failed to read schema version", "error", err)
		os.Exit(1)
	}
	logger.Info("migration complete", "direction", *direction, "version", v, "dirty", dirty)
}

// resolveDSN prefers the flag, then DATABASE_URL, then the database section
// of gateway.yaml (which itself honours DB_* variables).
func resolveDSN(flagValue, configDir string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	cfg := config.DefaultConfig()
	if err := config.LoadFile(filepath.Join(configDir, "gateway.yaml"), cfg); err != nil {
		slog.Warn("using default database settings", "error", err)
	}
	return cfg.Database.DSN()
}
