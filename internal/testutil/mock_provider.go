// Package testutil provides testing utilities for the serp API client.
package testutil

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockProvider is a configurable mock upstream API server for testing.
// It implements the task_post / task_get / tasks_ready surface the engine
// talks to and can render postback bodies for created tasks.
type MockProvider struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	RequestCount  int
	TaskPostCount int
	TaskGetCount  int

	tasks  map[string]map[string]any // task id -> submitted data
	nextID int
}

// NewMockProvider creates a mock provider server.
func NewMockProvider() *MockProvider {
	mock := &MockProvider{
		handlers: make(map[string]http.HandlerFunc),
		tasks:    make(map[string]map[string]any),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockProvider) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockProvider) Close() {
	m.server.Close()
}

// Handle installs a custom handler for an exact request path.
func (m *MockProvider) Handle(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// Reset clears tracking counters and recorded tasks.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.TaskPostCount = 0
	m.TaskGetCount = 0
	m.tasks = make(map[string]map[string]any)
	m.nextID = 0
}

// TaskData returns the submitted data for a created task id.
func (m *MockProvider) TaskData(taskID string) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tasks[taskID]
}

func (m *MockProvider) defaultHandler(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/task_post"):
		m.handleTaskPost(w, r)
	case strings.Contains(r.URL.Path, "/task_get/"):
		m.handleTaskGet(w, r)
	case strings.HasSuffix(r.URL.Path, "/tasks_ready"):
		m.writeEnvelope(w, map[string]any{
			"status_code":    20000,
			"status_message": "Ok.",
			"tasks_count":    1,
			"tasks_error":    0,
			"tasks": []map[string]any{{
				"id":          "tasks-ready-listing",
				"status_code": 20000,
				"result":      []map[string]any{},
			}},
		})
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"status_code":40400,"status_message":"Not Found."}`)
	}
}

func (m *MockProvider) handleTaskPost(w http.ResponseWriter, r *http.Request) {
	var body []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"status_code":40501,"status_message":"Invalid Field."}`)
		return
	}

	m.mu.Lock()
	m.TaskPostCount++
	m.nextID++
	taskID := fmt.Sprintf("00000000-0000-0000-0000-%012d", m.nextID)
	m.tasks[taskID] = body[0]
	m.mu.Unlock()

	m.writeEnvelope(w, map[string]any{
		"status_code":    20000,
		"status_message": "Ok.",
		"cost":           0.0012,
		"tasks_count":    1,
		"tasks_error":    0,
		"tasks": []map[string]any{{
			"id":             taskID,
			"status_code":    20100,
			"status_message": "Task Created.",
			"cost":           0.0012,
			"path":           pathSegments(r.URL.Path),
			"data":           body[0],
		}},
	})
}

func (m *MockProvider) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path)
	taskID := segments[len(segments)-1]

	m.mu.Lock()
	m.TaskGetCount++
	data := m.tasks[taskID]
	m.mu.Unlock()

	if data == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"status_code":40400,"status_message":"Task Not Found."}`)
		return
	}

	m.writeEnvelope(w, m.completedEnvelope(taskID, segments[:len(segments)-1], data))
}

// PostbackBody renders the gzip-compressed postback delivery body for a
// created task, the way the provider would push it.
func (m *MockProvider) PostbackBody(taskID string, path []string) ([]byte, error) {
	m.mu.RLock()
	data := m.tasks[taskID]
	m.mu.RUnlock()
	if data == nil {
		return nil, fmt.Errorf("unknown task %q", taskID)
	}

	payload, err := json.Marshal(m.completedEnvelope(taskID, path, data))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *MockProvider) completedEnvelope(taskID string, path []string, data map[string]any) map[string]any {
	return map[string]any{
		"status_code":    20000,
		"status_message": "Ok.",
		"cost":           0.0025,
		"tasks_count":    1,
		"tasks_error":    0,
		"tasks": []map[string]any{{
			"id":             taskID,
			"status_code":    20000,
			"status_message": "Ok.",
			"cost":           0.0025,
			"path":           path,
			"data":           data,
			"result": []map[string]any{{
				"keyword":     data["keyword"],
				"items_count": 3,
				"items":       []map[string]any{{"rank_absolute": 1}},
			}},
		}},
	}
}

func (m *MockProvider) writeEnvelope(w http.ResponseWriter, envelope map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope)
}

func pathSegments(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}
