// Package initializer brings a database up to date with the migrations of
// several independent sources, and runs an optional seed hook afterwards.
package initializer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/multimig/db"
	"go.hackfix.me/multimig/engine"
	"go.hackfix.me/multimig/migration"
)

// SeedFn populates the database after migrations ran. migrated reports whether
// any migration was applied in this run.
type SeedFn func(ctx context.Context, tx *sql.Tx, migrated bool) error

// Initializer creates a migration source for each engine configuration, in
// order, and runs them as a single timeline.
type Initializer struct {
	fsys    vfs.FileSystem
	configs []engine.Config

	dsn                   string
	skip                  []string
	skipSeedWithNoPending bool
	seed                  SeedFn
	timeNow               func() time.Time
	baseLogger            *slog.Logger
	logger                *slog.Logger
}

// New returns a new Initializer. Source priorities follow the order of
// configs, so earlier sources win ties between migrations created at the same
// time.
func New(fsys vfs.FileSystem, configs []engine.Config, opts ...Option) (*Initializer, error) {
	if len(configs) == 0 {
		return nil, errors.New("at least one migration source is required")
	}

	seen := make(map[string]struct{}, len(configs))
	for _, cfg := range configs {
		if _, ok := seen[cfg.Name]; ok {
			return nil, fmt.Errorf("duplicate source name '%s'", cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
	}

	in := &Initializer{fsys: fsys, configs: slices.Clone(configs)}

	opts = append(DefaultOptions(), opts...)
	for _, opt := range opts {
		if err := opt(in); err != nil {
			return nil, err
		}
	}

	return in, nil
}

// DSN returns the connection string override, if any.
func (in *Initializer) DSN() string {
	return in.dsn
}

// Open opens the database named by the connection string override.
func (in *Initializer) Open(ctx context.Context) (*db.DB, error) {
	return db.Open(ctx, in.dsn) //nolint:wrapcheck // Already descriptive.
}

// NewRunner returns a Runner over the configured sources, migrating d. The
// caller must close the Runner, which releases every engine.
func (in *Initializer) NewRunner(d *db.DB) (*migration.Runner, error) {
	conn := d.NewConn()
	sources := make([]*migration.Source, 0, len(in.configs))
	closeAll := func() {
		for _, src := range sources {
			_ = src.Close()
		}
	}

	for i, cfg := range in.configs {
		e, err := engine.New(d.DB, in.fsys, cfg,
			engine.WithLogger(in.baseLogger), engine.WithTimeNow(in.timeNow))
		if err != nil {
			closeAll()
			return nil, err //nolint:wrapcheck // Already descriptive.
		}

		src, err := migration.NewSource(cfg.Name, conn,
			migration.WithPriority(i),
			migration.WithAutoMigrations(cfg.AutoMigrations),
			migration.WithPending(e.Pending),
			migration.WithApplied(e.Applied),
			migration.WithUpdate(e.Update),
			migration.WithScript(e.Script),
			migration.WithDispose(e.Close),
		)
		if err != nil {
			_ = e.Close()
			closeAll()
			return nil, err //nolint:wrapcheck // Already descriptive.
		}
		sources = append(sources, src)
	}

	runner, err := migration.NewRunner(sources,
		migration.WithSkip(in.skip),
		migration.WithSkipSeedWithNoPendingMigrations(in.skipSeedWithNoPending),
		migration.WithLogger(in.baseLogger),
	)
	if err != nil {
		closeAll()
		return nil, err //nolint:wrapcheck // Already descriptive.
	}

	return runner, nil
}

// InitializeDatabase applies the pending migrations of all sources to d, and
// then runs the seed hook in a transaction. If a connection string override is
// set and differs from the one of d, or d is nil, that database is migrated
// instead.
// It returns true if any migration was applied.
func (in *Initializer) InitializeDatabase(ctx context.Context, d *db.DB) (migrated bool, err error) {
	if d == nil && in.dsn == "" {
		return false, errors.New("no database to initialize")
	}
	if in.dsn != "" && (d == nil || in.dsn != d.DSN()) {
		in.logger.Debug("using connection string override")
		var od *db.DB
		if od, err = in.Open(ctx); err != nil {
			return false, err
		}
		defer func() { err = errors.Join(err, od.Close()) }()
		d = od
	}

	runner, err := in.NewRunner(d)
	if err != nil {
		return false, err
	}
	defer func() { err = errors.Join(err, runner.Close()) }()

	if migrated, err = runner.Run(ctx); err != nil {
		return false, err //nolint:wrapcheck // Already descriptive.
	}

	if in.seed == nil {
		return migrated, nil
	}

	if err = in.runSeed(ctx, d, migrated); err != nil {
		return migrated, err
	}

	return migrated, nil
}

func (in *Initializer) runSeed(ctx context.Context, d *db.DB, migrated bool) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed starting seed transaction: %w", err)
	}

	in.logger.Debug("seeding database", "migrated", migrated)
	if err = in.seed(ctx, tx, migrated); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed seeding database: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed committing seed transaction: %w", err)
	}

	return nil
}

// Option is a function that allows configuring the Initializer.
type Option func(*Initializer) error

// WithDSN sets the connection string of the database to migrate.
func WithDSN(dsn string) Option {
	return func(in *Initializer) error {
		in.dsn = dsn
		return nil
	}
}

// WithSkip sets the identifiers of migrations that are recorded as applied
// without running them.
func WithSkip(ids []string) Option {
	return func(in *Initializer) error {
		in.skip = slices.Clone(ids)
		return nil
	}
}

// WithSkipCSV is like WithSkip, but accepts a comma-separated list of
// identifiers. Whitespace around identifiers and empty entries are ignored.
func WithSkipCSV(ids string) Option {
	return func(in *Initializer) error {
		in.skip = nil
		for id := range strings.SplitSeq(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				in.skip = append(in.skip, id)
			}
		}
		return nil
	}
}

// WithSeed sets the hook run after migrations.
func WithSeed(seed SeedFn) Option {
	return func(in *Initializer) error {
		in.seed = seed
		return nil
	}
}

// WithSkipSeedWithNoPendingMigrations is passed through to the Runner. The
// seed hook still runs on every call, and receives whether migrations ran.
func WithSkipSeedWithNoPendingMigrations(skip bool) Option {
	return func(in *Initializer) error {
		in.skipSeedWithNoPending = skip
		return nil
	}
}

// WithTimeNow sets the function used to timestamp automatic migrations.
func WithTimeNow(timeNow func() time.Time) Option {
	return func(in *Initializer) error {
		in.timeNow = timeNow
		return nil
	}
}

// WithLogger sets the logger used by the Initializer, and passed to the
// engines and the Runner.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Initializer) error {
		in.baseLogger = logger
		in.logger = logger.With("component", "initializer")
		return nil
	}
}

// DefaultOptions returns the default Initializer options.
func DefaultOptions() []Option {
	return []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithTimeNow(time.Now),
	}
}
