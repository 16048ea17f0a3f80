package sqlite

import (
	"database/sql"
	"errors"
	"strings"
)

// timeLayout is the timestamp format used for all sqlite columns. Fixed-width
// fractional seconds keep lexicographic and chronological order identical,
// which the orphan cutoff comparison relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// isUniqueViolation checks if an error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// SQLite unique constraint error message
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed: UNIQUE")
}

// isForeignKeyViolation checks if an error is a foreign key constraint violation.
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "FOREIGN KEY constraint failed")
}

// isNoRows checks if an error indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
