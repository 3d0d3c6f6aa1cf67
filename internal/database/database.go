package database

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/server/*.sql migrations/client/*.sql
var migrations embed.FS

// Schema selects the migration set applied by Open.
type Schema string

const (
	// Server holds the backup record index.
	Server Schema = "server"
	// Client holds the sync state key/value table.
	Client Schema = "client"
)

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// Open opens a SQLite database at the given path and runs the migrations
// for schema.
func Open(dbPath string, schema Schema) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(db, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sql.DB, schema Schema) error {
	switch schema {
	case Server, Client:
	default:
		return fmt.Errorf("unknown schema %q", schema)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations/"+string(schema)); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}
