package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// connectionPatterns catch connection failures that arrive as plain strings
// from drivers that do not expose typed errors.
var connectionPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"server closed the connection",
	"bad connection",
	"invalid connection",
	"unexpected eof",
	"too many connections",
}

// IsConnectionError reports whether err means the store itself cannot be
// reached, as opposed to a problem with the data sent to it.
//
// Context cancellation and deadlines are never connection errors: a timed
// out batch is a row level outcome.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 connection exception, 57P0x shutdown or cannot connect now.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ENETUNREACH, syscall.EHOSTUNREACH, syscall.EPIPE} {
		if errors.Is(err, errno) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range connectionPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ConnectionClassifier retries connection failures only.
type ConnectionClassifier struct{}

func (ConnectionClassifier) IsTransient(err error) bool {
	return IsConnectionError(err)
}

// PostgresClassifier also retries PostgreSQL resource and contention errors.
type PostgresClassifier struct{}

func (PostgresClassifier) IsTransient(err error) bool {
	if IsConnectionError(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	switch {
	case strings.HasPrefix(pgErr.Code, "53"): // insufficient resources
		return true
	case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization failure, deadlock
		return true
	case pgErr.Code == "55P03": // lock not available
		return true
	}
	return false
}
