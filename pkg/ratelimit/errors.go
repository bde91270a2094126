package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrLimitExceeded marks quota exhaustion. Callers distinguish it from
// validation and upstream failures via errors.Is.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// LimitError carries the violated policy alongside ErrLimitExceeded.
type LimitError struct {
	Client      string
	MaxAttempts int
	Decay       time.Duration
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for client %q: %d attempts per %s",
		e.Client, e.MaxAttempts, e.Decay)
}

// Unwrap lets errors.Is(err, ErrLimitExceeded) match.
func (e *LimitError) Unwrap() error {
	return ErrLimitExceeded
}
