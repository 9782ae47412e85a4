// Package db opens the target SQLite database of a migration run.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/glebarez/go-sqlite"
)

// DB wraps sql.DB with the connection string it was opened with.
type DB struct {
	*sql.DB
	dsn string
}

// Open creates and configures a new SQLite database connection pool.
func Open(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("database connection string is required")
	}

	sqliteDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed opening SQLite database: %w", err)
	}

	if strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, ":memory:") {
		// Keep the in-memory database alive between connections.
		// See https://github.com/mattn/go-sqlite3#faq
		sqliteDB.SetMaxIdleConns(10)
		sqliteDB.SetConnMaxLifetime(time.Duration(math.Inf(1)))
	}

	d := &DB{DB: sqliteDB, dsn: dsn}

	// Enable foreign key enforcement
	if _, err = d.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		_ = sqliteDB.Close()
		return nil, fmt.Errorf("failed enabling foreign key enforcement: %w", err)
	}

	return d, nil
}

// DSN returns the connection string of the database.
func (d *DB) DSN() string {
	return d.dsn
}

// NewConn returns a closed connection handle to the database.
func (d *DB) NewConn() *Conn {
	return &Conn{db: d.DB}
}

// Conn is a single database connection that is explicitly opened and closed,
// as opposed to the connection pool of sql.DB. The zero value isn't usable;
// create it with DB.NewConn.
type Conn struct {
	db *sql.DB

	mx   sync.Mutex
	conn *sql.Conn
}

// Open reserves a connection from the pool.
func (c *Conn) Open(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.conn != nil {
		return errors.New("connection is already open")
	}

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed opening database connection: %w", err)
	}
	c.conn = conn

	return nil
}

// Close returns the connection to the pool. Closing a closed connection is a
// no-op.
func (c *Conn) Close() error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil

	return err //nolint:wrapcheck // This is fine.
}

// IsOpen reports whether the connection is open.
func (c *Conn) IsOpen() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.conn != nil
}

// ExecContext executes a statement on the open connection.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.mx.Lock()
	conn := c.conn
	c.mx.Unlock()

	if conn == nil {
		return nil, errors.New("connection is closed")
	}

	return conn.ExecContext(ctx, query, args...) //nolint:wrapcheck // This is fine.
}
