// Package db opens libSQL/SQLite connections shared by the mirror store and
// the WhatsApp device store.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Registers "libsql" with database/sql. Handles libsql://, https:// and wss:// URLs.
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	// Pure-Go SQLite; libsql-client-go delegates file: URLs to it.
	_ "modernc.org/sqlite"
)

// ErrEmptyURL is returned by Connect when no database URL is configured.
var ErrEmptyURL = errors.New("db: database URL must not be empty")

// driverName is the database/sql driver; tests may swap it to force Open errors.
var driverName = "libsql"

// Connect opens a database and verifies it with a ping bounded by ctx.
//
// Supported URL schemes:
//
//	Local file:   "file:path/to/invoicely.db"
//	Remote Turso: "libsql://[db-name].turso.io?authToken=[token]"
func Connect(ctx context.Context, dbURL string) (*sql.DB, error) {
	if dbURL == "" {
		return nil, ErrEmptyURL
	}

	conn, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	return conn, nil
}

// EnableForeignKeys turns on SQLite foreign key enforcement (whatsmeow's sqlstore requires it).
func EnableForeignKeys(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("db: enable foreign keys: %w", err)
	}
	return nil
}
