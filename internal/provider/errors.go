package provider

import (
	"errors"
	"fmt"
)

// ErrAuthExpired means the stored credentials are no longer accepted
// and a refresh did not help; the connection must be re-authorized.
var ErrAuthExpired = errors.New("provider authorization expired")

// UnavailableError covers transient provider failures: rate limiting,
// 5xx responses, network errors. Retryable; never changes connection
// state.
type UnavailableError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider unavailable during %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func IsRetryable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
