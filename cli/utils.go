package cli

import (
	"errors"

	actx "go.hackfix.me/multimig/app/context"
	aerrors "go.hackfix.me/multimig/app/errors"
	"go.hackfix.me/multimig/initializer"
	"go.hackfix.me/multimig/migration"
)

// newInitializer returns an Initializer over the configured sources, applying
// the global options.
func newInitializer(appCtx *actx.Context, g *Globals) (*initializer.Initializer, error) {
	cfgs := appCtx.Config.EngineConfigs()
	if len(cfgs) == 0 {
		return nil, aerrors.NewWith("no migration sources were configured",
			"config_file", appCtx.Config.Path())
	}
	if g.DSN == "" {
		return nil, aerrors.NewWith("no database connection string was provided",
			"hint", "Set it with --dsn, MULTIMIG_DSN or the 'dsn' configuration value.")
	}

	//nolint:wrapcheck // Already descriptive.
	return initializer.New(appCtx.FS, cfgs,
		initializer.WithDSN(g.DSN),
		initializer.WithSkip(g.Skip),
		initializer.WithSkipSeedWithNoPendingMigrations(g.skipSeedWithNoPending),
		initializer.WithTimeNow(appCtx.TimeNow),
		initializer.WithLogger(appCtx.Logger),
	)
}

// withRunner opens the database and calls fn with a Runner over all sources.
// The Runner and the database are closed afterwards.
func withRunner(appCtx *actx.Context, g *Globals, fn func(*migration.Runner) error) (err error) {
	in, err := newInitializer(appCtx, g)
	if err != nil {
		return err
	}

	d, err := in.Open(appCtx.Ctx)
	if err != nil {
		return aerrors.NewWithCause("failed opening database", err)
	}
	defer func() { err = errors.Join(err, d.Close()) }()

	runner, err := in.NewRunner(d)
	if err != nil {
		return aerrors.NewWithCause("failed loading migration sources", err)
	}
	defer func() { err = errors.Join(err, runner.Close()) }()

	return fn(runner)
}
