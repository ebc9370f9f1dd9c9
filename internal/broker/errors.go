package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnknownOrderState is returned by GetOrderStatus when the broker reports
// a status the engine does not recognize. The engine treats it
// conservatively: assume unfilled and re-poll.
var ErrUnknownOrderState = errors.New("broker: unknown order state")

// TransientError marks a failure worth retrying: timeouts, rate limits, and
// transient rejection codes.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient broker error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError marks a failure that must not be retried, such as a hard
// rejection from the broker.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return fmt.Sprintf("terminal broker error: %v", e.Err) }
func (e *TerminalError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error { return &TransientError{Err: err} }

// Terminal wraps err as non-retryable.
func Terminal(err error) error { return &TerminalError{Err: err} }

// IsTransient reports whether err should be retried. Unclassified transport
// timeouts and context deadline expiry count as transient; anything marked
// terminal does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TerminalError
	if errors.As(err, &te) {
		return false
	}
	var tr *TransientError
	if errors.As(err, &tr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
