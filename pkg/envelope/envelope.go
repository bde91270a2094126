// Package envelope defines the provider response envelope consumed
// throughout the engine, its gzip-aware decoding, and the cacheability
// policy applied to decoded responses.
package envelope

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// Provider status codes. Codes at or above StatusCodeError signal failure;
// the 2xxxx range covers success and accepted-task acknowledgments.
const (
	StatusCodeOK          = 20000
	StatusCodeTaskCreated = 20100
	StatusCodeError       = 40000
)

// Response is the provider's top-level response envelope.
type Response struct {
	StatusCode    int      `json:"status_code"`
	StatusMessage string   `json:"status_message"`
	Cost          *float64 `json:"cost,omitempty"`
	TasksCount    *int     `json:"tasks_count,omitempty"`
	TasksError    *int     `json:"tasks_error,omitempty"`
	Tasks         []Task   `json:"tasks,omitempty"`
}

// Task is one unit of provider work inside a response envelope.
type Task struct {
	ID            string   `json:"id"`
	StatusCode    int      `json:"status_code"`
	StatusMessage string   `json:"status_message"`
	Cost          *float64 `json:"cost,omitempty"`

	// Path is the provider's path-segment array for the endpoint the task
	// ran against, including version and identifier noise.
	Path []string `json:"path,omitempty"`

	// Data echoes the original request parameters in the provider's casing.
	Data map[string]any `json:"data,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`
}

// Failed reports whether the task's status code signals a provider-side
// failure.
func (t *Task) Failed() bool {
	return t.StatusCode >= StatusCodeError
}

// Tag returns the caller-supplied tag echoed back inside the task data,
// or "" when absent.
func (t *Task) Tag() string {
	if t.Data == nil {
		return ""
	}
	if tag, ok := t.Data["tag"].(string); ok {
		return tag
	}
	return ""
}

// First returns the first task in the envelope, or nil.
func First(resp *Response) *Task {
	if resp == nil || len(resp.Tasks) == 0 {
		return nil
	}
	return &resp.Tasks[0]
}

// Decode reads a JSON envelope, returning both the decoded form and the
// raw bytes (the raw body is what the store persists).
func Decode(r io.Reader) (*Response, []byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read envelope body: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &resp, raw, nil
}

// DecodeGzip decompresses a gzip body and decodes the envelope inside.
// Postback deliveries arrive in this shape.
func DecodeGzip(r io.Reader) (*Response, []byte, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open gzip body: %w", err)
	}
	defer gz.Close()

	return Decode(gz)
}

// ShouldCache decides whether a decoded envelope is worth caching.
//
// A nil envelope is never cached. An envelope carrying no task accounting
// at all is cached (no error signal available). When every sub-task failed
// the whole response is noise and is not cached; partial failure is cached
// as-is and callers filter failed sub-tasks themselves.
func ShouldCache(resp *Response) bool {
	if resp == nil {
		return false
	}
	if resp.TasksCount == nil && resp.TasksError == nil {
		return true
	}
	if resp.TasksCount != nil && resp.TasksError != nil &&
		*resp.TasksCount > 0 && *resp.TasksError == *resp.TasksCount {
		return false
	}
	return true
}
