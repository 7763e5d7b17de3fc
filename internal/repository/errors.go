package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// ErrDuplicateKey is matched by errors returned when an insert or update would
// break a uniqueness constraint.
var ErrDuplicateKey = errors.New("duplicate key")

// DuplicateError names the column whose uniqueness was violated, when known.
type DuplicateError struct {
	Field string
	Err   error
}

func (e *DuplicateError) Error() string {
	if e.Field == "" {
		return "duplicate key: " + e.Err.Error()
	}
	return "duplicate " + e.Field + ": " + e.Err.Error()
}

func (e *DuplicateError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDuplicateKey) succeed.
func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicateKey }

// asDuplicate converts driver unique-violation errors into *DuplicateError and
// returns any other error unchanged.
func asDuplicate(err error, fields ...string) error {
	if err == nil {
		return nil
	}
	detail, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	for _, f := range fields {
		if strings.Contains(detail, f) {
			return &DuplicateError{Field: f, Err: err}
		}
	}
	return &DuplicateError{Err: err}
}

// uniqueViolation reports whether err is a unique/primary key violation from any
// supported driver, along with the constraint text used to name the field.
func uniqueViolation(err error) (string, bool) {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return sqliteErr.Error(), true
		}
		return "", false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint + " " + pqErr.Detail, pqErr.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName + " " + pgErr.Detail, pgErr.Code == "23505"
	}
	return "", false
}
