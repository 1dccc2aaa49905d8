package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Sentinel errors. Callers match them with errors.Is; messages wrapped around
// them are safe to show to API clients.
var (
	ErrInvalid      = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("already exists")
	ErrInUse        = errors.New("still referenced")
	ErrInvalidState = errors.New("invalid state")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn inside a transaction, committing only if fn succeeds.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// invalidf returns an ErrInvalid with a client-facing message.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalid)
}

// wrapf wraps sentinel with a client-facing message.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

// mapConstraint translates SQLite constraint violations into sentinels.
// Other errors are returned unchanged.
func mapConstraint(err error, what string) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return wrapf(ErrDuplicate, "%s already exists", what)
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return wrapf(ErrInUse, "%s is referenced by other records", what)
	}
	return err
}

// Message returns the client-facing part of a store error: the text in front
// of the sentinel it wraps.
func Message(err error) string {
	for _, s := range []error{ErrInvalid, ErrNotFound, ErrDuplicate, ErrInUse, ErrInvalidState} {
		if errors.Is(err, s) {
			msg := err.Error()
			suffix := ": " + s.Error()
			if len(msg) > len(suffix) && msg[len(msg)-len(suffix):] == suffix {
				return msg[:len(msg)-len(suffix)]
			}
			return msg
		}
	}
	return err.Error()
}
