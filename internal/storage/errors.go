package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrColumnExists is returned when an identifier collides with a sibling column.
	ErrColumnExists = errors.New("column already exists")

	// ErrUnknownKind is returned when a Value carries a kind outside Null|Bool|Number|String.
	ErrUnknownKind = errors.New("value of unknown kind")
)

// RegistrationError reports that a table could not be loaded into an engine.
// The table is either fully loaded or not created; there is no partial state.
type RegistrationError struct {
	Table string
	Err   error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register table %s: %v", e.Table, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// QueryError is returned by Engine.Execute when the engine rejects or fails a
// statement. Error() is the engine's own message so callers can surface it.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string { return e.Err.Error() }

func (e *QueryError) Unwrap() error { return e.Err }
