package services

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate")
}

// isRetryableTxError reports whether a failed transaction hit a transient
// conflict that a fresh attempt can resolve: sqlite writer contention,
// postgres serialization failures, mysql deadlocks.
func isRetryableTxError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil {
		// ER_LOCK_DEADLOCK, ER_LOCK_WAIT_TIMEOUT
		return myErr.Number == 1213 || myErr.Number == 1205
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "database is locked") ||
		strings.Contains(lower, "table is locked") ||
		strings.Contains(lower, "database table is locked") ||
		strings.Contains(lower, "busy")
}
