// Package endpoint recovers the logical endpoint string for a delivered
// task. Webhook deliveries do not always carry the original endpoint
// explicitly, so it is reconstructed from the task's path-segment array,
// filtering out version and identifier noise.
package endpoint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/serpcache/serp-api-client/pkg/envelope"
)

// versionSegment matches version-looking path segments: a short alphabetic
// prefix followed by digits (e.g. "v3", "api2").
var versionSegment = regexp.MustCompile(`^[A-Za-z]{1,3}[0-9]+$`)

// ResolutionError indicates that no endpoint could be determined for a
// delivered task. This is a hard failure; the delivery is rejected.
type ResolutionError struct {
	TaskID string
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot determine endpoint for task %q", e.TaskID)
}

// Extract reconstructs the logical endpoint from a task's path-segment
// array. Version segments and UUID segments are removed and the remainder
// joined with "/". An empty or missing path yields "".
func Extract(t *envelope.Task) string {
	if t == nil || len(t.Path) == 0 {
		return ""
	}

	kept := make([]string, 0, len(t.Path))
	for _, segment := range t.Path {
		if segment == "" {
			continue
		}
		if versionSegment.MatchString(segment) {
			continue
		}
		if isUUID(segment) {
			continue
		}
		kept = append(kept, segment)
	}
	return strings.Join(kept, "/")
}

// Resolve determines the endpoint for a delivered task. An explicit
// override supplied out-of-band always wins over extraction; when neither
// source yields a value the resolution fails naming the task id.
func Resolve(taskID, override string, t *envelope.Task) (string, error) {
	if override != "" {
		return override, nil
	}
	if extracted := Extract(t); extracted != "" {
		return extracted, nil
	}
	return "", &ResolutionError{TaskID: taskID}
}

// isUUID reports whether a segment is a 36-character hyphenated UUID.
func isUUID(segment string) bool {
	if len(segment) != 36 {
		return false
	}
	_, err := uuid.Parse(segment)
	return err == nil
}
