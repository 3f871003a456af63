// migrate applies SQL migrations from db/migrations in filename order,
// tracking applied files in schema_migrations.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	var dirFlag string
	flag.StringVar(&dirFlag, "dir", "db/migrations", "directory containing .sql migrations")
	flag.Parse()

	_ = godotenv.Load()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("open database: %w", err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		exitWithError(fmt.Errorf("ping database: %w", err))
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		exitWithError(fmt.Errorf("ensure schema_migrations: %w", err))
	}

	files, err := filepath.Glob(filepath.Join(dirFlag, "*.sql"))
	if err != nil {
		exitWithError(err)
	}
	sort.Strings(files)
	if len(files) == 0 {
		exitWithError(fmt.Errorf("no migrations found in %s", dirFlag))
	}

	applied := 0
	for _, file := range files {
		name := filepath.Base(file)
		var exists bool
		if err := db.QueryRow(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, name).Scan(&exists); err != nil {
			exitWithError(fmt.Errorf("check %s: %w", name, err))
		}
		if exists {
			continue
		}

		contents, err := os.ReadFile(file)
		if err != nil {
			exitWithError(fmt.Errorf("read %s: %w", name, err))
		}

		tx, err := db.Begin()
		if err != nil {
			exitWithError(fmt.Errorf("begin %s: %w", name, err))
		}
		if _, err := tx.Exec(string(contents)); err != nil {
			_ = tx.Rollback()
			exitWithError(fmt.Errorf("apply %s: %w", name, err))
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			exitWithError(fmt.Errorf("record %s: %w", name, err))
		}
		if err := tx.Commit(); err != nil {
			exitWithError(fmt.Errorf("commit %s: %w", name, err))
		}
		fmt.Println("applied", name)
		applied++
	}
	fmt.Printf("done, %d migration(s) applied\n", applied)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
