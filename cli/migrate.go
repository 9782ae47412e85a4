package cli

import (
	"errors"
	"fmt"

	actx "go.hackfix.me/multimig/app/context"
	aerrors "go.hackfix.me/multimig/app/errors"
)

// Migrate is the migrate command.
type Migrate struct{}

// Run the migrate command.
func (c *Migrate) Run(appCtx *actx.Context, g *Globals) (err error) {
	in, err := newInitializer(appCtx, g)
	if err != nil {
		return err
	}

	d, err := in.Open(appCtx.Ctx)
	if err != nil {
		return aerrors.NewWithCause("failed opening database", err)
	}
	defer func() { err = errors.Join(err, d.Close()) }()

	migrated, err := in.InitializeDatabase(appCtx.Ctx, d)
	if err != nil {
		return aerrors.NewWithCause("failed migrating database", err)
	}

	msg := "Database is up to date."
	if migrated {
		msg = "Migrations applied."
	}
	appCtx.Logger.Info("migration finished", "migrated", migrated)

	if _, err = fmt.Fprintln(appCtx.Stdout, msg); err != nil {
		return aerrors.NewWithCause("failed writing to stdout", err)
	}

	return nil
}
