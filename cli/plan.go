package cli

import (
	"fmt"
	"strconv"

	actx "go.hackfix.me/multimig/app/context"
	aerrors "go.hackfix.me/multimig/app/errors"
	"go.hackfix.me/multimig/migration"
)

// Plan is the plan command.
type Plan struct{}

// Run the plan command.
func (c *Plan) Run(appCtx *actx.Context, g *Globals) error {
	return withRunner(appCtx, g, func(runner *migration.Runner) error {
		batches, err := runner.Plan(appCtx.Ctx)
		if err != nil {
			return aerrors.NewWithCause("failed planning migrations", err)
		}

		if len(batches) == 0 {
			if _, err = fmt.Fprintln(appCtx.Stdout, "No pending migrations."); err != nil {
				return aerrors.NewWithCause("failed writing to stdout", err)
			}
			return nil
		}

		var rows [][]string
		for i, batch := range batches {
			for _, entry := range batch {
				rows = append(rows, []string{
					strconv.Itoa(i + 1), entry.Source.Name(), entry.Info.String(),
					created(entry.Info), action(entry.Info),
				})
			}
		}

		if err = renderTable(appCtx.Stdout,
			[]string{"Batch", "Source", "Migration", "Created", "Action"}, rows); err != nil {
			return aerrors.NewWithCause("failed writing to stdout", err)
		}

		return nil
	})
}

func created(info migration.Info) string {
	if info.IsAuto {
		return "-"
	}
	return info.CreatedOn.Format("2006-01-02 15:04:05.000")
}

func action(info migration.Info) string {
	switch {
	case info.IsAuto:
		return "auto"
	case info.IsSkipped:
		return "record"
	default:
		return "apply"
	}
}
