package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DB is the shared handle to the relational store.
var DB *sql.DB

// driverName records which SQL dialect the open handle speaks.
var driverName string

// ErrStoreUnavailable is returned when the backing store cannot be opened
// or its schema cannot be applied.
var ErrStoreUnavailable = errors.New("store unavailable")

// Connect opens the relational store described by url. A `sqlite:` prefix
// selects the file-backed SQLite driver; anything else is handed to the
// PostgreSQL driver.
func Connect(url string) error {
	var err error

	if dsn, ok := strings.CutPrefix(url, "sqlite:"); ok {
		dsn = strings.TrimLeft(dsn, "/")
		if dsn == "" {
			return fmt.Errorf("%w: empty sqlite path", ErrStoreUnavailable)
		}
		if !strings.Contains(dsn, "memory") {
			if dir := filepath.Dir(dsn); dir != "." && dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("%w: create db dir: %v", ErrStoreUnavailable, err)
				}
			}
		}
		DB, err = sql.Open("sqlite", dsn)
		driverName = "sqlite"
	} else {
		DB, err = sql.Open("postgres", url)
		driverName = "postgres"
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if driverName == "sqlite" {
		// SQLite serialises writers anyway; a single connection also keeps
		// in-memory databases coherent across the pool.
		DB.SetMaxOpenConns(1)
	} else {
		DB.SetMaxOpenConns(25)
		DB.SetMaxIdleConns(5)
		DB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err = DB.Ping(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	log.Info().Str("driver", driverName).Msg("connected to relational store")
	return nil
}

// Rebind rewrites `?` placeholders to `$N` for the PostgreSQL driver.
// Queries throughout the codebase are written in `?` form.
func Rebind(query string) string {
	if driverName != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Disconnect closes the store handle.
func Disconnect() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}
