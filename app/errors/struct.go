package errors

import (
	"errors"
	"fmt"
	"maps"
)

// StructuredError is an error with metadata and an optional cause, which are
// rendered as log fields by Log.
type StructuredError struct {
	err      error
	metadata map[string]any
	cause    error
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	return e.err.Error()
}

// Unwrap allows errors.Is and errors.As to reach both the error and its cause.
func (e *StructuredError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.err != nil {
		errs = append(errs, e.err)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// Cause returns the cause of this error.
func (e *StructuredError) Cause() error {
	return e.cause
}

// Metadata returns a copy of the metadata map.
func (e *StructuredError) Metadata() map[string]any {
	return maps.Clone(e.metadata)
}

// NewWith creates a new StructuredError from a message string with optional
// metadata as key-value pairs.
func NewWith(msg string, fields ...any) *StructuredError {
	return With(errors.New(msg), fields...)
}

// NewWithCause creates a new StructuredError from a message string with a cause
// and optional metadata.
func NewWithCause(msg string, cause error, fields ...any) *StructuredError {
	return WithCause(errors.New(msg), cause, fields...)
}

// With adds metadata to an error. Metadata of an existing StructuredError is
// merged, with newer values winning.
func With(err error, fields ...any) *StructuredError {
	var cause error
	if se, ok := err.(*StructuredError); ok { //nolint:errorlint // Only direct values are merged.
		cause = se.cause
	}
	return WithCause(err, cause, fields...)
}

// WithCause creates a StructuredError with a cause and optional metadata.
func WithCause(err, cause error, fields ...any) *StructuredError {
	metadata := toMap(fields)

	if se, ok := err.(*StructuredError); ok { //nolint:errorlint // Only direct values are merged.
		combined := maps.Clone(se.metadata)
		if combined == nil {
			combined = make(map[string]any, len(metadata))
		}
		maps.Copy(combined, metadata)
		return &StructuredError{err: se.err, metadata: combined, cause: cause}
	}

	return &StructuredError{err: err, metadata: metadata, cause: cause}
}

func toMap(fields []any) map[string]any {
	if len(fields)%2 != 0 {
		panic("an even number of fields is required")
	}

	m := make(map[string]any, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			panic(fmt.Sprintf("field key %v must be a string", fields[i]))
		}
		m[key] = fields[i+1]
	}

	return m
}
