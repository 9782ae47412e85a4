// Package engine implements a SQLite migration engine for a single migration
// source. It loads timestamped SQL migration files from a directory, records
// applied migrations in a shared history table keyed by the source name, and
// can script migrations without running them.
package engine

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/multimig/migration"
)

const (
	// HistoryTable is the name of the table recording applied migrations.
	HistoryTable = "__MigrationHistory"
	// DefaultSchema is the schema of the history table.
	DefaultSchema = "main"
	// ProductVersion is recorded with every applied migration.
	ProductVersion = "multimig/1"
	// ModelFile is the desired-state script applied as an automatic migration.
	ModelFile = "model.sql"
	// SeedFile is run after every update.
	SeedFile = "seed.sql"

	autoMigrationName = "AutomaticMigration"
)

var (
	// ErrUnknownMigration is returned for migration identifiers that aren't
	// part of the source.
	ErrUnknownMigration = errors.New("unknown migration")
	// ErrClosed is returned by operations on a closed Engine.
	ErrClosed = errors.New("engine is closed")
)

// Config is the configuration of a single migration source.
type Config struct {
	// Name identifies the source in the history table.
	Name string
	// Dir is the directory containing the migration files.
	Dir string
	// Schema is the schema named in scripted history inserts. Scripts from the
	// baseline always use DefaultSchema.
	Schema string
	// AutoMigrations enables applying ModelFile when updating to the latest
	// version.
	AutoMigrations bool
}

type migrationFile struct {
	info migration.Info
	sql  string
}

// Engine applies and scripts the migrations of one source.
type Engine struct {
	cfg        Config
	db         *sql.DB
	migrations []migrationFile
	model      string
	seed       string
	timeNow    func() time.Time
	logger     *slog.Logger
	closed     bool
}

// New returns a new Engine for the source described by cfg, loading its
// migration files from fsys.
func New(d *sql.DB, fsys vfs.FileSystem, cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Name == "" {
		return nil, errors.New("source name is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("source %s: migrations directory is required", cfg.Name)
	}

	e := &Engine{cfg: cfg, db: d}

	opts = append(DefaultOptions(), opts...)
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if err := e.load(fsys); err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
	}

	e.logger.Debug("loaded migrations", "count", len(e.migrations),
		"model", e.model != "", "seed", e.seed != "")

	return e, nil
}

// Name returns the source name.
func (e *Engine) Name() string {
	return e.cfg.Name
}

// Config returns the source configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Migrations returns the identifiers of all migration files, in creation order.
func (e *Engine) Migrations() []string {
	ids := make([]string, len(e.migrations))
	for i, m := range e.migrations {
		ids[i] = m.info.FullName
	}
	return ids
}

// Applied returns the identifiers of the migrations of this source recorded
// in the history table, in creation order.
func (e *Engine) Applied(ctx context.Context) ([]string, error) {
	if e.closed {
		return nil, ErrClosed
	}

	rows, err := e.history(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.info.FullName
	}

	return ids, nil
}

// Pending returns the identifiers of migration files that aren't recorded in
// the history table, in creation order.
func (e *Engine) Pending(ctx context.Context) ([]string, error) {
	applied, err := e.Applied(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, m := range e.migrations {
		if !slices.Contains(applied, m.info.FullName) {
			ids = append(ids, m.info.FullName)
		}
	}

	return ids, nil
}

// Update applies all pending migrations up to and including target. If target
// is empty, all pending migrations are applied, followed by the automatic
// migration if enabled. The seed script runs after every update.
//
// Each migration is applied in its own transaction, together with its history
// record.
func (e *Engine) Update(ctx context.Context, target string) error {
	if e.closed {
		return ErrClosed
	}

	end := len(e.migrations) - 1
	if target != "" {
		if end = e.index(target); end == -1 {
			return fmt.Errorf("%w: %s", ErrUnknownMigration, target)
		}
	}

	applied, err := e.Applied(ctx)
	if err != nil {
		return err
	}

	for _, m := range e.migrations[:end+1] {
		if slices.Contains(applied, m.info.FullName) {
			continue
		}
		e.logger.Info("applying migration", "migration", m.info.FullName)
		if err = e.apply(ctx, m.info.FullName, m.sql); err != nil {
			return err
		}
	}

	if target == "" && e.cfg.AutoMigrations {
		if err = e.applyAuto(ctx); err != nil {
			return err
		}
	}

	if e.seed != "" {
		e.logger.Debug("running seed script")
		if _, err = e.db.ExecContext(ctx, e.seed); err != nil {
			return fmt.Errorf("failed running seed script: %w", err)
		}
	}

	return nil
}

// Script returns the SQL that updating from the migration from to the
// migration to would run: the statements of every migration in between,
// each followed by its history insert. An empty from starts at the baseline,
// and an empty to ends at the last migration. A from that was applied but has
// no file, like an automatic migration, starts at the first migration created
// after it.
func (e *Engine) Script(ctx context.Context, from, to string) (string, error) {
	if e.closed {
		return "", ErrClosed
	}

	start, end := 0, len(e.migrations)-1
	if from != "" {
		if i := e.index(from); i != -1 {
			start = i + 1
		} else {
			var err error
			if start, err = e.indexAfterApplied(ctx, from); err != nil {
				return "", err
			}
		}
	}
	if to != "" {
		if end = e.index(to); end == -1 {
			return "", fmt.Errorf("%w: %s", ErrUnknownMigration, to)
		}
	}

	schema := e.cfg.Schema
	if schema == "" || (from == "" && to == "") {
		schema = DefaultSchema
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		m := e.migrations[i]
		if stmts := strings.TrimSpace(m.sql); stmts != "" {
			b.WriteString(stmts)
			b.WriteByte('\n')
		}
		writeHistoryInsert(&b, schema, historyRow{
			info:           m.info,
			contextKey:     e.cfg.Name,
			model:          modelHash(m.sql),
			productVersion: ProductVersion,
		})
	}

	return b.String(), nil
}

// Close releases the engine. The database isn't closed, since it's shared
// with other sources.
func (e *Engine) Close() error {
	e.closed = true
	return nil
}

// indexAfterApplied returns the index of the first migration file created after
// the applied migration id, which has no file of its own. This is the case for
// automatic migrations and for migrations whose file was removed.
func (e *Engine) indexAfterApplied(ctx context.Context, id string) (int, error) {
	rows, err := e.history(ctx)
	if err != nil {
		return 0, err
	}

	i := slices.IndexFunc(rows, func(r historyRow) bool { return r.info.FullName == id })
	if i == -1 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMigration, id)
	}
	createdOn := rows[i].info.CreatedOn

	start := slices.IndexFunc(e.migrations, func(m migrationFile) bool {
		return m.info.CreatedOn.After(createdOn)
	})
	if start == -1 {
		start = len(e.migrations)
	}

	return start, nil
}

func (e *Engine) index(id string) int {
	return slices.IndexFunc(e.migrations, func(m migrationFile) bool {
		return m.info.FullName == id
	})
}

// load reads the migration files of the configured directory.
func (e *Engine) load(fsys vfs.FileSystem) error {
	entries, err := vfs.ReadDir(fsys, e.cfg.Dir)
	if err != nil {
		return fmt.Errorf("failed reading migrations directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".sql" {
			continue
		}

		data, err := vfs.ReadFile(fsys, filepath.Join(e.cfg.Dir, name))
		if err != nil {
			return fmt.Errorf("failed reading migration file %s: %w", name, err)
		}

		switch name {
		case ModelFile:
			e.model = string(data)
		case SeedFile:
			e.seed = string(data)
		default:
			info, err := migration.Parse(strings.TrimSuffix(name, ".sql"), nil)
			if err != nil {
				return err //nolint:wrapcheck // Already descriptive.
			}
			e.migrations = append(e.migrations, migrationFile{info: info, sql: string(data)})
		}
	}

	slices.SortStableFunc(e.migrations, func(a, b migrationFile) int {
		return cmp.Or(
			migration.Compare(a.info, b.info),
			strings.Compare(a.info.FullName, b.info.FullName),
		)
	})

	return nil
}

// Option is a function that allows configuring the Engine.
type Option func(*Engine) error

// WithLogger sets the logger used by the Engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger.With("component", "engine", "source", e.cfg.Name)
		return nil
	}
}

// WithTimeNow sets the function used to timestamp automatic migrations.
func WithTimeNow(timeNow func() time.Time) Option {
	return func(e *Engine) error {
		e.timeNow = timeNow
		return nil
	}
}

// DefaultOptions returns the default Engine options.
func DefaultOptions() []Option {
	return []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithTimeNow(time.Now),
	}
}
