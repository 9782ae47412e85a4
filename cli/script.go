package cli

import (
	"fmt"
	"slices"

	actx "go.hackfix.me/multimig/app/context"
	aerrors "go.hackfix.me/multimig/app/errors"
	"go.hackfix.me/multimig/migration"
)

// Script is the script command.
type Script struct {
	Source    string `arg:"" help:"The name of the migration source."`
	Migration string `arg:"" help:"The identifier of the migration to record."`
	//nolint:lll // Long struct tags are unavoidable.
	Previous string `help:"The identifier of the migration recorded before it. If not set, the latest migration of the source created before it is used."`
}

// Run the script command.
func (c *Script) Run(appCtx *actx.Context, g *Globals) error {
	return withRunner(appCtx, g, func(runner *migration.Runner) error {
		var (
			stmt string
			err  error
		)
		if c.Previous == "" {
			stmt, err = runner.HistoryInsertSQL(appCtx.Ctx, c.Source, c.Migration)
		} else {
			sources := runner.Sources()
			idx := slices.IndexFunc(sources, func(s *migration.Source) bool {
				return s.Name() == c.Source
			})
			if idx == -1 {
				return aerrors.NewWith("unknown source", "source", c.Source)
			}
			stmt, err = sources[idx].HistoryInsertSQL(appCtx.Ctx, c.Migration, c.Previous)
		}
		if err != nil {
			return aerrors.NewWithCause("failed scripting history insert", err,
				"source", c.Source, "migration", c.Migration)
		}

		if _, err = fmt.Fprintln(appCtx.Stdout, stmt); err != nil {
			return aerrors.NewWithCause("failed writing to stdout", err)
		}

		return nil
	})
}
