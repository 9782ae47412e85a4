// Package errors contains the error types returned to users of the CLI.
package errors

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
)

// Log logs err at the error level, rendering the metadata and cause of a
// StructuredError as sorted fields.
func Log(logger *slog.Logger, err error) {
	var serr *StructuredError
	if !errors.As(err, &serr) {
		logger.Error(err.Error())
		return
	}

	args := make([]any, 0, len(serr.metadata)*2+2)
	if serr.cause != nil {
		args = append(args, "cause", serr.cause)
	} else if cause, ok := serr.metadata["cause"]; ok {
		args = append(args, "cause", cause)
	}

	for _, k := range slices.Sorted(maps.Keys(serr.metadata)) {
		if k != "cause" {
			args = append(args, k, serr.metadata[k])
		}
	}

	logger.Error(err.Error(), args...)
}
