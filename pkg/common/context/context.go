// Package context carries helpers for deadline-bounded pulls: principals
// interrupt blocking operator calls with short poll windows and need to
// tell a benign window expiry from a real cancellation.
package context

import (
	"context"
	"errors"
	"time"
)

// WithTimeoutOrCancel creates a context that is canceled either when the parent
// is canceled or when the timeout duration elapses, whichever comes first
func WithTimeoutOrCancel(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}

// IsTimedOut reports whether err stems from an elapsed deadline
func IsTimedOut(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// IsCanceled reports whether err stems from context cancellation
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
