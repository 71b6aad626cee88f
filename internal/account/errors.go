package account

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when a lifecycle call is made from a state
	// that does not allow it.
	ErrInvalidState = errors.New("invalid monitor state")
	// ErrAccountLimit is returned when the monitored set is full.
	ErrAccountLimit = errors.New("monitored account limit reached")
)

// ConnectionError means the backend is unreachable or rejected the
// credentials. It is fatal to Initialize and Start.
type ConnectionError struct {
	Backend string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// FetchError is a failed per-account fetch within one poll cycle.
type FetchError struct {
	AccountID ID
	Op        string // "account", "positions" or "trades"
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s for %d: %v", e.Op, e.AccountID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError reports a bad argument or a malformed client request. Field
// names the offending input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DeliveryError is a failed push to one subscriber.
type DeliveryError struct {
	Client string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Client, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err wraps a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
