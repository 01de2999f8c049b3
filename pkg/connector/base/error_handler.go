package base

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
)

// connectionLossPatterns are driver messages that usually mean the server
// side of the connection is gone.
var connectionLossPatterns = []string{
	"connection reset",
	"connection refused",
	"connection shutdown",
	"connection lost",
	"broken pipe",
	"eof",
	"network",
	"i/o timeout",
	"error writing data to the connection",
	"error reading data from the connection",
	"connection rejected",
}

// categorizeError labels an error for logs and span attributes.
func categorizeError(err error) string {
	if err == nil {
		return "none"
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	if errors.Is(err, driver.ErrBadConn) {
		return "connection"
	}

	switch nebulaerrors.KindOf(err) {
	case nebulaerrors.KindConfiguration:
		return "configuration"
	case nebulaerrors.KindDeadConnection:
		return "connection"
	case nebulaerrors.KindFatal:
		return "internal"
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range connectionLossPatterns {
		if strings.Contains(errStr, pattern) {
			return "connection"
		}
	}

	switch {
	case strings.Contains(errStr, "deadlock") || strings.Contains(errStr, "lock conflict"):
		return "lock"
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "token unknown") || strings.Contains(errStr, "sql error code"):
		return "query"
	default:
		return "unknown"
	}
}
