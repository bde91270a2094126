package envelope

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestShouldCache(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		want bool
	}{
		{
			name: "nil envelope",
			resp: nil,
			want: false,
		},
		{
			name: "no task accounting fields",
			resp: &Response{StatusCode: StatusCodeOK},
			want: true,
		},
		{
			name: "all tasks failed",
			resp: &Response{TasksCount: intPtr(1), TasksError: intPtr(1)},
			want: false,
		},
		{
			name: "partial failure",
			resp: &Response{TasksCount: intPtr(2), TasksError: intPtr(1)},
			want: true,
		},
		{
			name: "zero errors",
			resp: &Response{TasksCount: intPtr(3), TasksError: intPtr(0)},
			want: true,
		},
		{
			name: "zero tasks zero errors",
			resp: &Response{TasksCount: intPtr(0), TasksError: intPtr(0)},
			want: true,
		},
		{
			name: "only error count present",
			resp: &Response{TasksError: intPtr(1)},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldCache(tt.resp); got != tt.want {
				t.Errorf("ShouldCache() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	body := `{
		"status_code": 20000,
		"status_message": "Ok.",
		"cost": 0.0025,
		"tasks_count": 1,
		"tasks_error": 0,
		"tasks": [{
			"id": "11081545-0696-0240-0000-c8d4b57dcd5d",
			"status_code": 20000,
			"status_message": "Ok.",
			"path": ["v3", "serp", "google", "organic", "task_get", "regular"],
			"data": {"keyword": "go caching", "tag": "T1"},
			"result": [{"items": []}]
		}]
	}`

	resp, raw, err := Decode(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if string(raw) != body {
		t.Error("Decode() should return the raw body unmodified")
	}
	if resp.StatusCode != StatusCodeOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, StatusCodeOK)
	}
	if resp.Cost == nil || *resp.Cost != 0.0025 {
		t.Errorf("Cost = %v, want 0.0025", resp.Cost)
	}

	task := First(resp)
	if task == nil {
		t.Fatal("First() returned nil")
	}
	if task.ID != "11081545-0696-0240-0000-c8d4b57dcd5d" {
		t.Errorf("task ID = %q", task.ID)
	}
	if task.Tag() != "T1" {
		t.Errorf("Tag() = %q, want T1", task.Tag())
	}
	if task.Failed() {
		t.Error("task with status 20000 should not be failed")
	}
	if len(task.Path) != 6 {
		t.Errorf("Path length = %d, want 6", len(task.Path))
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, _, err := Decode(strings.NewReader("not json")); err == nil {
		t.Error("Decode() should fail on malformed JSON")
	}
}

func TestDecodeGzip(t *testing.T) {
	body := `{"status_code":20000,"tasks":[{"id":"t1","status_code":20000}]}`

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(body)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	gz.Close()

	resp, raw, err := DecodeGzip(&buf)
	if err != nil {
		t.Fatalf("DecodeGzip() error = %v", err)
	}
	if string(raw) != body {
		t.Error("DecodeGzip() should return the decompressed body")
	}
	if First(resp) == nil || First(resp).ID != "t1" {
		t.Error("DecodeGzip() lost the task")
	}
}

func TestDecodeGzip_NotCompressed(t *testing.T) {
	if _, _, err := DecodeGzip(strings.NewReader(`{"status_code":20000}`)); err == nil {
		t.Error("DecodeGzip() should fail on a non-gzip body")
	}
}

func TestTask_Failed(t *testing.T) {
	failed := &Task{StatusCode: 40501}
	if !failed.Failed() {
		t.Error("status 40501 should be failed")
	}
	created := &Task{StatusCode: StatusCodeTaskCreated}
	if created.Failed() {
		t.Error("status 20100 should not be failed")
	}
}

func TestTask_Tag_Absent(t *testing.T) {
	if tag := (&Task{}).Tag(); tag != "" {
		t.Errorf("Tag() on empty data = %q, want empty", tag)
	}
	withNonString := &Task{Data: map[string]any{"tag": 42}}
	if tag := withNonString.Tag(); tag != "" {
		t.Errorf("Tag() on non-string tag = %q, want empty", tag)
	}
}

func TestFirst_Empty(t *testing.T) {
	if First(nil) != nil {
		t.Error("First(nil) should be nil")
	}
	if First(&Response{}) != nil {
		t.Error("First() on empty tasks should be nil")
	}
}
