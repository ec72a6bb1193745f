package postback

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden is returned by the endpoint when the shared secret does not match.
	ErrForbidden = errors.New("postback: forbidden")
	// ErrIdentityConflict means the supplied identifiers resolve to different users.
	// The audit record is kept and no user is mutated.
	ErrIdentityConflict = errors.New("postback: identifiers resolve to different users")
)

// ValidationError reports a malformed inbound event.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("postback: invalid %s: %s", e.Field, e.Reason)
}

// StoreError wraps a persistence failure; the transaction was rolled back.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("postback: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
