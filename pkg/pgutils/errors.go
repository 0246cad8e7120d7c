// Package pgutils classifies database errors by SQLSTATE.
package pgutils

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	// Class 23: integrity constraint violation
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeNotNullViolation    = "23502"

	// Class 08: connection exception
	classConnectionException = "08"
	// Class 57: operator intervention (admin shutdown, cannot connect now)
	classOperatorIntervention = "57"
)

// IsUniqueViolation reports whether err is a unique constraint violation.
// SQLite's constraint message is recognised too so the local store behaves
// the same way.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if hasCode(err, CodeUniqueViolation) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsForeignKeyViolation reports whether err is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	return hasCode(err, CodeForeignKeyViolation)
}

// IsNotNullViolation reports whether err is a not-null constraint violation.
func IsNotNullViolation(err error) bool {
	return hasCode(err, CodeNotNullViolation)
}

// IsTransient reports whether err looks like a connection-level failure
// that a retry may clear (database still waking up, restarting).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, classConnectionException) ||
			strings.HasPrefix(pgErr.Code, classOperatorIntervention)
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "the database system is starting up")
}

func hasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLSTATE "+code) || strings.Contains(errStr, "("+code+")")
}

// IsPermanent reports whether the server rejected the request with an error
// that retrying cannot fix, such as bad credentials or a missing database.
// Network failures without a SQLSTATE are never permanent.
func IsPermanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return !IsTransient(err)
}
