package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/cassiomorais/payments-capture/internal/infrastructure/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		direction string
		dbURL     string
		path      string
		steps     int
	)

	flag.StringVar(&direction, "direction", "up", "Migration direction: up, down or version")
	flag.StringVar(&dbURL, "db", "", "Database URL (defaults to DATABASE_URL, then the capture config)")
	flag.StringVar(&path, "path", "internal/repository/postgres/migrations", "Path to migration files")
	flag.IntVar(&steps, "steps", 0, "Apply only this many migrations (0 = all)")
	flag.Parse()

	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "No -db given and config failed to load: %v\n", err)
			os.Exit(1)
		}
		dbURL = cfg.Database.DatabaseURL()
	}

	m, err := migrate.New("file://"+path, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrate instance: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
		exitOn("up", err)
		fmt.Println("Migrations applied successfully")
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
		exitOn("down", err)
		fmt.Println("Migrations rolled back successfully")
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("No migrations applied")
			return
		}
		exitOn("version", err)
		fmt.Printf("Version %d (dirty=%t)\n", version, dirty)
	default:
		fmt.Fprintf(os.Stderr, "Unknown direction: %s (use 'up', 'down' or 'version')\n", direction)
		os.Exit(1)
	}
}

func exitOn(op string, err error) {
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", op, err)
		os.Exit(1)
	}
}
