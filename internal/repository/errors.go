// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services and handlers to distinguish between different failure
// scenarios. ErrForbidden indicates that the caller is not allowed to
// act on a resource owned by someone else, ErrConflict signals that the
// current state of a record does not permit the operation (booking a trip
// that is already booked, deleting a booked trip) and ErrTransient marks
// backend failures that are worth retrying.
package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update or delete cannot be
// performed because of the record's state, such as booking a trip
// that is no longer available. Handlers should translate this
// into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrTripNotFound indicates that no trip with the requested ID exists.
var ErrTripNotFound = errors.New("trip not found")

// ErrTransient wraps connection and lock failures that may succeed when
// the operation is attempted again.  Handlers translate it into 503.
var ErrTransient = errors.New("transient backend error")

// MySQL server error numbers that indicate a retryable failure.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// classify wraps err with ErrTransient when it is a connection-level or
// lock-contention failure.  Context cancellation is never transient: the
// caller has given up.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlLockWaitTimeout || me.Number == mysqlDeadlock
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	// sqlite reports contention as "database is locked"
	return strings.Contains(err.Error(), "database is locked")
}

// isDuplicateKey reports whether err is a unique-constraint violation on
// either MySQL (1062) or SQLite.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "1062") || strings.Contains(msg, "unique constraint failed")
}
