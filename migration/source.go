package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Conn is a database connection handle that can be opened and closed
// explicitly. It may be shared by several sources.
type Conn interface {
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type (
	// ListFn returns migration identifiers.
	ListFn func(ctx context.Context) ([]string, error)
	// UpdateFn applies all pending migrations up to and including target. An
	// empty target means the latest version, including automatic migrations.
	UpdateFn func(ctx context.Context, target string) error
	// ScriptFn returns the SQL an update from one migration to another would
	// run, without running it. Empty identifiers mean the baseline (from) and
	// the latest version (to).
	ScriptFn func(ctx context.Context, from, to string) (string, error)
	// DisposeFn releases resources held by the migration engine.
	DisposeFn func() error
)

// Source is one independent owner of migrations, e.g. the schema of a single
// bounded context. The operations are delegated to the functions it's created
// with, so that the Runner doesn't depend on a specific migration engine.
type Source struct {
	name           string
	priority       int
	autoMigrations bool
	conn           Conn
	pending        ListFn
	applied        ListFn
	update         UpdateFn
	dispose        DisposeFn
	scripter       *HistoryInsertScripter
}

// NewSource returns a new Source. The pending, applied and update operations
// are required.
func NewSource(name string, conn Conn, opts ...SourceOption) (*Source, error) {
	s := &Source{name: name, conn: conn}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	switch {
	case s.pending == nil:
		return nil, fmt.Errorf("source %s: pending migrations operation is required", name)
	case s.applied == nil:
		return nil, fmt.Errorf("source %s: applied migrations operation is required", name)
	case s.update == nil:
		return nil, fmt.Errorf("source %s: update operation is required", name)
	}

	return s, nil
}

// Name returns the source name.
func (s *Source) Name() string {
	return s.name
}

// Priority returns the value used to break ties between migrations of
// different sources created at the same time. Lower values go first.
func (s *Source) Priority() int {
	return s.priority
}

// AutoMigrations reports whether the source generates automatic migrations
// when updated to the latest version.
func (s *Source) AutoMigrations() bool {
	return s.autoMigrations
}

// GetPendingMigrations returns the identifiers of migrations that haven't been
// applied yet, in the order returned by the engine.
func (s *Source) GetPendingMigrations(ctx context.Context) ([]string, error) {
	ids, err := s.pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed listing pending migrations of %s: %w", s.name, err)
	}
	return ids, nil
}

// GetDatabaseMigrations returns the identifiers of migrations recorded as
// applied.
func (s *Source) GetDatabaseMigrations(ctx context.Context) ([]string, error) {
	ids, err := s.applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed listing applied migrations of %s: %w", s.name, err)
	}
	return ids, nil
}

// Update applies all pending migrations up to and including target. An empty
// target applies everything, including automatic migrations if enabled.
func (s *Source) Update(ctx context.Context, target string) error {
	if err := s.update(ctx, target); err != nil {
		return fmt.Errorf("failed updating %s to %s: %w", s.name, displayID(target), err)
	}
	return nil
}

// InsertMigrationHistory records target as applied without running it. The
// history row is scripted as if previous were the last applied migration. An
// empty previous means target is the first migration.
//
// The connection is opened if needed, and closed afterwards only if it was
// opened here.
func (s *Source) InsertMigrationHistory(ctx context.Context, target, previous string) (err error) {
	if s.conn == nil {
		return fmt.Errorf("source %s has no database connection", s.name)
	}

	stmt, err := s.HistoryInsertSQL(ctx, target, previous)
	if err != nil {
		return err
	}

	if !s.conn.IsOpen() {
		if err = s.conn.Open(ctx); err != nil {
			return fmt.Errorf("failed opening connection of %s: %w", s.name, err)
		}
		defer func() {
			if cerr := s.conn.Close(); cerr != nil {
				err = errors.Join(err, fmt.Errorf("failed closing connection of %s: %w", s.name, cerr))
			}
		}()
	}

	if _, err = s.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed recording %s in history of %s: %w", target, s.name, err)
	}

	return nil
}

// HistoryInsertSQL returns the statement InsertMigrationHistory executes.
func (s *Source) HistoryInsertSQL(ctx context.Context, target, previous string) (string, error) {
	if s.scripter == nil {
		return "", fmt.Errorf("source %s can't script migrations", s.name)
	}

	stmt, err := s.scripter.GetHistoryInsertSQL(ctx, previous, target)
	if err != nil {
		return "", fmt.Errorf("failed scripting history of %s for %s: %w", s.name, target, err)
	}

	return stmt, nil
}

// Close releases the resources of the underlying engine.
func (s *Source) Close() error {
	if s.dispose == nil {
		return nil
	}
	return s.dispose()
}

func displayID(id string) string {
	if id == "" {
		return "latest"
	}
	return id
}

// SourceOption is a function that allows configuring a Source.
type SourceOption func(*Source) error

// WithPriority sets the tie-break priority of the source.
func WithPriority(priority int) SourceOption {
	return func(s *Source) error {
		s.priority = priority
		return nil
	}
}

// WithAutoMigrations enables automatic migrations for the source.
func WithAutoMigrations(enabled bool) SourceOption {
	return func(s *Source) error {
		s.autoMigrations = enabled
		return nil
	}
}

// WithPending sets the operation listing pending migrations.
func WithPending(fn ListFn) SourceOption {
	return func(s *Source) error {
		s.pending = fn
		return nil
	}
}

// WithApplied sets the operation listing applied migrations.
func WithApplied(fn ListFn) SourceOption {
	return func(s *Source) error {
		s.applied = fn
		return nil
	}
}

// WithUpdate sets the operation applying migrations.
func WithUpdate(fn UpdateFn) SourceOption {
	return func(s *Source) error {
		s.update = fn
		return nil
	}
}

// WithScript sets the operation scripting migrations. It's required for
// recording skipped migrations.
func WithScript(fn ScriptFn) SourceOption {
	return func(s *Source) error {
		if fn == nil {
			return errors.New("script operation must not be nil")
		}
		s.scripter = NewHistoryInsertScripter(fn)
		return nil
	}
}

// WithDispose sets the function called when the source is closed.
func WithDispose(fn DisposeFn) SourceOption {
	return func(s *Source) error {
		s.dispose = fn
		return nil
	}
}
