package client

import (
	"fmt"
)

// ValidationError reports a request that failed endpoint validation before
// any upstream traffic. Caller-visible and immediate.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid request: field %q %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid request: %s", e.Reason)
}
