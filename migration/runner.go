package migration

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// Entry pairs a migration with the source it belongs to.
type Entry struct {
	Source *Source
	Info   Info
}

// Batch is a contiguous run of plan entries of the same source. The last entry
// decides the action taken for the whole batch.
type Batch []Entry

// Last returns the final entry of the batch. The batch must not be empty; Plan
// never returns empty batches.
func (b Batch) Last() Entry {
	return b[len(b)-1]
}

// Skipped reports whether the batch only records a skipped migration.
func (b Batch) Skipped() bool {
	return len(b) > 0 && b.Last().Info.IsSkipped
}

// Runner applies the pending migrations of several sources to one database, in
// the order they were created.
type Runner struct {
	sources []*Source
	skip    []string
	// skipSeedWithNoPending is accepted for configuration compatibility, but
	// doesn't change the behavior of Run.
	skipSeedWithNoPending bool
	logger                *slog.Logger
	closed                bool
}

// NewRunner returns a new Runner for the given sources. The Runner owns the
// sources, and closes them when it's closed.
func NewRunner(sources []*Source, opts ...RunnerOption) (*Runner, error) {
	for i, s := range sources {
		if s == nil {
			return nil, fmt.Errorf("source at index %d is nil", i)
		}
	}

	r := &Runner{sources: sources}

	opts = append(DefaultRunnerOptions(), opts...)
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Sources returns the sources of the runner.
func (r *Runner) Sources() []*Source {
	return slices.Clone(r.sources)
}

// SkipSeedWithNoPendingMigrations returns the configured flag. Run doesn't act
// on it.
func (r *Runner) SkipSeedWithNoPendingMigrations() bool {
	return r.skipSeedWithNoPending
}

// Plan returns the pending migrations of all sources ordered by creation time
// and source priority, split into the batches Run would execute.
func (r *Runner) Plan(ctx context.Context) ([]Batch, error) {
	var entries []Entry
	for _, src := range r.sources {
		ids, err := src.GetPendingMigrations(ctx)
		if err != nil {
			return nil, err
		}
		infos, err := ParseAll(ids, r.skip)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.name, err)
		}
		if src.autoMigrations {
			infos = append(infos, Auto())
		}
		for _, info := range infos {
			entries = append(entries, Entry{Source: src, Info: info})
		}
	}

	slices.SortStableFunc(entries, compareEntries)

	groups := SliceBy(entries, func(prev, cur Entry) bool {
		return prev.Source != cur.Source || cur.Info.IsSkipped || prev.Info.IsSkipped
	})
	batches := make([]Batch, len(groups))
	for i, g := range groups {
		batches[i] = Batch(g)
	}

	return batches, nil
}

// Run applies all pending migrations. Skipped migrations are only recorded in
// the history table of their source. It returns true if at least one migration
// that wasn't skipped was applied.
//
// There is no transaction spanning the whole run. If a batch fails, the
// batches before it stay applied, and a new run continues from there.
func (r *Runner) Run(ctx context.Context) (bool, error) {
	batches, err := r.Plan(ctx)
	if err != nil {
		return false, err
	}

	r.logger.Debug("planned migrations", "batches", len(batches))

	var timelines map[*Source][]Info
	if slices.ContainsFunc(batches, Batch.Skipped) {
		if timelines, err = r.timelines(ctx); err != nil {
			return false, err
		}
	}

	var migrated bool
	for _, batch := range batches {
		last := batch.Last()
		logger := r.logger.With(
			"source", last.Source.name,
			"migration", last.Info.String(),
		)

		if last.Info.IsSkipped {
			var previous string
			if prev, ok := predecessor(timelines[last.Source], last.Info); ok {
				previous = prev.FullName
			}
			logger.Info("recording skipped migration", "previous", previous)
			if err = last.Source.InsertMigrationHistory(ctx, last.Info.FullName, previous); err != nil {
				return migrated, err
			}
			continue
		}

		logger.Info("applying migrations", "count", len(batch))
		if err = last.Source.Update(ctx, last.Info.FullName); err != nil {
			return migrated, err
		}
		migrated = true
	}

	return migrated, nil
}

// Close closes all sources in order. Every source is closed even if closing a
// previous one fails. Closing an already closed Runner is a no-op.
func (r *Runner) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, src := range r.sources {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed closing source %s: %w", src.name, err))
		}
	}

	return errors.Join(errs...)
}

// HistoryInsertSQL returns the statement Run would execute to record the
// migration id of the named source as skipped.
func (r *Runner) HistoryInsertSQL(ctx context.Context, sourceName, id string) (string, error) {
	idx := slices.IndexFunc(r.sources, func(s *Source) bool { return s.name == sourceName })
	if idx == -1 {
		return "", fmt.Errorf("unknown source '%s'", sourceName)
	}
	src := r.sources[idx]

	info, err := Parse(id, nil)
	if err != nil {
		return "", err
	}

	timeline, err := r.timeline(ctx, src)
	if err != nil {
		return "", err
	}

	var previous string
	if prev, ok := predecessor(timeline, info); ok {
		previous = prev.FullName
	}

	return src.HistoryInsertSQL(ctx, id, previous)
}

// timelines returns the applied and pending migrations of every source, in
// creation order.
func (r *Runner) timelines(ctx context.Context) (map[*Source][]Info, error) {
	timelines := make(map[*Source][]Info, len(r.sources))
	for _, src := range r.sources {
		timeline, err := r.timeline(ctx, src)
		if err != nil {
			return nil, err
		}
		timelines[src] = timeline
	}

	return timelines, nil
}

func (r *Runner) timeline(ctx context.Context, src *Source) ([]Info, error) {
	appliedIDs, err := src.GetDatabaseMigrations(ctx)
	if err != nil {
		return nil, err
	}
	applied, err := ParseAll(appliedIDs, nil)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.name, err)
	}

	pendingIDs, err := src.GetPendingMigrations(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := ParseAll(pendingIDs, r.skip)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.name, err)
	}

	timeline := slices.Concat(applied, pending)
	slices.SortStableFunc(timeline, Compare)

	return timeline, nil
}

// predecessor returns the latest migration in timeline created strictly before
// info.
func predecessor(timeline []Info, info Info) (Info, bool) {
	for i := len(timeline) - 1; i >= 0; i-- {
		if timeline[i].CreatedOn.Before(info.CreatedOn) {
			return timeline[i], true
		}
	}
	return Info{}, false
}

func compareEntries(a, b Entry) int {
	return cmp.Or(
		Compare(a.Info, b.Info),
		cmp.Compare(a.Source.priority, b.Source.priority),
	)
}

// RunnerOption is a function that allows configuring the Runner.
type RunnerOption func(*Runner) error

// WithSkip sets the identifiers of migrations that should be recorded as
// applied without running them.
func WithSkip(ids []string) RunnerOption {
	return func(r *Runner) error {
		r.skip = slices.Clone(ids)
		return nil
	}
}

// WithSkipSeedWithNoPendingMigrations sets a flag kept for configuration
// compatibility. It has no effect on Run.
func WithSkipSeedWithNoPendingMigrations(skip bool) RunnerOption {
	return func(r *Runner) error {
		r.skipSeedWithNoPending = skip
		return nil
	}
}

// WithLogger sets the logger used by the Runner.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) error {
		r.logger = logger.With("component", "migration")
		return nil
	}
}

// DefaultRunnerOptions returns the default Runner options.
func DefaultRunnerOptions() []RunnerOption {
	return []RunnerOption{
		WithLogger(slog.New(slog.DiscardHandler)),
	}
}
