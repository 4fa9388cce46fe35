package retrier

import (
	"context"
	"errors"
	"net"
)

// Temporary indicates if an error condition is temporary and may succeed if retried.
type Temporary interface {
	Temporary() bool
}

// IsTemporary reports whether err is worth retrying. Socket-level failures
// always are, context cancellation never is, and anything else implementing
// Temporary decides for itself.
func IsTemporary(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var temp Temporary
	if errors.As(err, &temp) {
		return temp.Temporary()
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
