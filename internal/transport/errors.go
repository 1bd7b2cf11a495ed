package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	// ErrConnect is returned when the daemon cannot be reached at all.
	ErrConnect = errors.New("daemon unreachable")
	// ErrTimeout is returned when the request deadline expires before a
	// response arrives. It never wraps a daemon-reported failure.
	ErrTimeout = errors.New("daemon request timed out")
	// ErrMalformedResponse is returned when the response body is not the
	// expected JSON document.
	ErrMalformedResponse = errors.New("malformed daemon response")
)

// StatusError is a non-2xx reply from the daemon.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("daemon returned %d for %s: %s", e.StatusCode, e.Path, e.Body)
}

// IsTimeout reports whether err came from an expired deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func classifyDoError(path string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, path, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, path, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("request %s: %w", path, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrConnect, path, err)
}
