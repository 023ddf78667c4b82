package clio

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateTask(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tasks" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":555,"matter_id":42,"name":"Draft trust"}}`))
	}))
	defer server.Close()

	client := New(server.URL, "test-token")
	task, err := client.CreateTask(context.Background(), TaskInput{MatterID: 42, Name: "Draft trust"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.ID != 555 || task.MatterID != 42 {
		t.Fatalf("unexpected task: %+v", task)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth header: got %q", gotAuth)
	}
	data, ok := gotBody["data"].(map[string]any)
	if !ok || data["name"] != "Draft trust" {
		t.Errorf("request body: got %v", gotBody)
	}
}

func TestUpdateTaskSendsPartialBody(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/tasks/99" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	client := New(server.URL, "t")
	due := time.Date(2025, time.November, 17, 0, 0, 0, 0, time.UTC)
	if err := client.UpdateTask(context.Background(), 99, TaskUpdate{DueAt: &due}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	var decoded map[string]map[string]any
	if err := json.Unmarshal([]byte(gotBody), &decoded); err != nil {
		t.Fatalf("decode request body %q: %v", gotBody, err)
	}
	if _, present := decoded["data"]["assignee_id"]; present {
		t.Errorf("nil assignee_id should be omitted: %s", gotBody)
	}
	if _, present := decoded["data"]["due_at"]; !present {
		t.Errorf("due_at missing: %s", gotBody)
	}
}

func TestGetTasksByMatter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks" || r.URL.Query().Get("matter_id") != "42" {
			t.Errorf("unexpected request: %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"data":[{"id":1,"matter_id":42,"name":"a"},{"id":2,"matter_id":42,"name":"b"}]}`))
	}))
	defer server.Close()

	client := New(server.URL, "t")
	tasks, err := client.GetTasksByMatter(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetTasksByMatter: %v", err)
	}
	if len(tasks) != 2 || tasks[1].ID != 2 {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestErrorStatusPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"matter not found"}`))
	}))
	defer server.Close()

	client := New(server.URL, "t")
	if _, err := client.CreateTask(context.Background(), TaskInput{MatterID: 1, Name: "x"}); err == nil {
		t.Fatal("expected error for 422 response")
	}
}
