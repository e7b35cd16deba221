package queue

import (
	"errors"
	"syscall"

	sqlite3 "modernc.org/sqlite"

	apperrors "github.com/creelapp/creel/internal/errors"
)

// Base sqlite result codes. Extended codes carry the base in the low byte.
const (
	sqliteFullBase       = 13
	sqliteConstraintBase = 19
)

// classifyWrite maps a low-level write failure to an application error.
// A full database or full disk is a storage quota condition, which the sync
// engine treats differently from an ordinary database failure.
func classifyWrite(err error) error {
	if err == nil {
		return nil
	}
	if IsStorageQuota(err) {
		return apperrors.Wrap(apperrors.ErrStorageQuota, "local storage quota exceeded", err)
	}
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqliteConstraintBase {
		return apperrors.Wrap(apperrors.ErrConstraint, "queue write violated a constraint", err)
	}
	return apperrors.Wrap(apperrors.ErrDatabase, "queue write failed", err)
}

// IsStorageQuota reports whether err means local storage is exhausted,
// either SQLITE_FULL from the database or ENOSPC from the filesystem.
func IsStorageQuota(err error) bool {
	if apperrors.Is(err, apperrors.ErrStorageQuota) {
		return true
	}
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqliteFullBase {
		return true
	}
	return errors.Is(err, syscall.ENOSPC)
}
