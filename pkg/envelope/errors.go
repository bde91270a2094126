package envelope

import (
	"fmt"
)

// ProviderError reports a failure surfaced by the provider itself, either
// in the top-level envelope or in a task entry. The provider's own message
// is carried alongside its status code; failed responses are never cached.
type ProviderError struct {
	StatusCode int
	Message    string
	TaskID     string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("provider error %d for task %s: %s", e.StatusCode, e.TaskID, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}
