package store

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrInvalidConstraint marks a malformed search request. It is raised
// by Constraints.Validate before any backend call and is the caller's
// error (a 4xx at the HTTP edge). Detect with errors.Is.
var ErrInvalidConstraint = errors.New("invalid constraint")

// ErrBackendUnavailable marks a store that could not be reached. It is
// retryable from the caller's side and is never swallowed or replaced
// with stale data. Detect with errors.Is or IsBackendUnavailable.
var ErrBackendUnavailable = errors.New("backend unavailable")

// IsBackendUnavailable reports whether the error chain marks the
// backend as unreachable: the explicit sentinel, a network timeout, a
// refused/reset connection, or the connection-class failure strings
// the drivers produce.
func IsBackendUnavailable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrBackendUnavailable) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Class 08 SQLSTATEs are connection exceptions.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "08") {
		return true
	}

	msg := strings.ToLower(err.Error())
	unavailablePatterns := []string{
		"connection refused",
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"i/o timeout",
		"database is locked",
		"failed to connect",
		"closed pool",
		"conn closed",
	}
	for _, p := range unavailablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
