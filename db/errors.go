package db

import (
	"errors"
	"fmt"

	"github.com/glebarez/go-sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DuplicateError is returned when inserting a record that already exists.
type DuplicateError struct {
	Table string
	ID    string
	Err   error
}

// Error implements the error interface.
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s record %s already exists", e.Table, e.ID)
}

// Unwrap returns the underlying SQLite error.
func (e *DuplicateError) Unwrap() error {
	return e.Err
}

// Err converts an expected error returned by SQLite into one of the error
// types defined above. Other errors are returned unchanged.
func Err(table, id string, err error) error {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return err
	}

	switch sqlErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return &DuplicateError{Table: table, ID: id, Err: err}
	}

	return err
}
