// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file maps driver errors onto the repository's error
// vocabulary: missing rows, unique violations and lock contention.
package repo

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique or primary key violation.
var ErrDuplicate = errors.New("duplicate")

// isDuplicate recognises unique violations across drivers. glebarez/sqlite
// may return plain-text errors even with TranslateError enabled.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}

// SQLite primary result codes; extended codes carry them in the low byte.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// IsContention reports whether err means the statement lost a race for a
// lock (busy timeout, lock wait timeout, deadlock victim) rather than failed.
// Retrying the statement later may succeed.
func IsContention(err error) bool {
	if err == nil {
		return false
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		switch coded.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return true
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01", "40001": // lock_not_available, deadlock_detected, serialization_failure
			return true
		}
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213: // lock wait timeout, deadlock
			return true
		}
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "database is locked") ||
		strings.Contains(low, "database table is locked")
}
