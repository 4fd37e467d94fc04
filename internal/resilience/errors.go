package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

// ErrFatalConfig marks configuration problems that must abort a run before
// any record is resolved, such as a malformed provider endpoint.
var ErrFatalConfig = eris.New("fatal configuration error")

// FatalConfig wraps a message as a fatal configuration error.
func FatalConfig(format string, args ...any) error {
	return eris.Wrapf(ErrFatalConfig, format, args...)
}

// IsFatalConfig reports whether err is, or wraps, ErrFatalConfig.
func IsFatalConfig(err error) bool {
	return errors.Is(err, ErrFatalConfig)
}

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, a deadline, or a common network failure (timeouts,
// connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"connection refused",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return statusCode >= 500
	}
}

// ClassifyHTTPStatus maps a non-2xx provider status to an attempt status.
// Server errors and throttling are retryable; any other client error means
// the provider has no candidate for the query.
func ClassifyHTTPStatus(statusCode int) model.AttemptStatus {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return model.AttemptOK
	case IsTransientHTTPStatus(statusCode):
		return model.AttemptTransientError
	default:
		return model.AttemptNoMatch
	}
}

// ClassifyTransportError maps a failed round trip to an attempt status.
// Anything that did not produce an HTTP response is treated as transient
// unless it is a configuration failure.
func ClassifyTransportError(err error) model.AttemptStatus {
	if IsFatalConfig(err) {
		return model.AttemptFatalError
	}
	return model.AttemptTransientError
}
