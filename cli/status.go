package cli

import (
	"strconv"

	actx "go.hackfix.me/multimig/app/context"
	aerrors "go.hackfix.me/multimig/app/errors"
	"go.hackfix.me/multimig/migration"
)

// Status is the status command.
type Status struct{}

// Run the status command.
func (c *Status) Run(appCtx *actx.Context, g *Globals) error {
	return withRunner(appCtx, g, func(runner *migration.Runner) error {
		var rows [][]string
		for _, src := range runner.Sources() {
			applied, err := src.GetDatabaseMigrations(appCtx.Ctx)
			if err != nil {
				return aerrors.NewWithCause("failed reading migration status", err, "source", src.Name())
			}
			pending, err := src.GetPendingMigrations(appCtx.Ctx)
			if err != nil {
				return aerrors.NewWithCause("failed reading migration status", err, "source", src.Name())
			}

			latest := "-"
			if len(applied) > 0 {
				latest = applied[len(applied)-1]
			}
			rows = append(rows, []string{
				src.Name(), strconv.Itoa(len(applied)), strconv.Itoa(len(pending)), latest,
			})
		}

		if err := renderTable(appCtx.Stdout,
			[]string{"Source", "Applied", "Pending", "Latest"}, rows); err != nil {
			return aerrors.NewWithCause("failed writing to stdout", err)
		}

		return nil
	})
}
