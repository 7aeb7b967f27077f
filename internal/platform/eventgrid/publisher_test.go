package eventgrid

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEmit_Published(t *testing.T) {
	var gotKey string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("aeg-sas-key")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPublisher(srv.URL, "secret-key", 2*time.Second, true, zerolog.Nop())
	result, err := p.Emit(context.Background(), "TaskCreated", "patients/P1/tasks/T1", map[string]interface{}{
		"patientId": "P1",
		"taskId":    "T1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Published {
		t.Error("expected published result")
	}
	if result.EventID == "" {
		t.Error("expected event id")
	}
	if gotKey != "secret-key" {
		t.Errorf("expected aeg-sas-key header, got %q", gotKey)
	}

	var events []map[string]interface{}
	if err := json.Unmarshal(gotBody, &events); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one-element event array, got %d", len(events))
	}
	evt := events[0]
	if evt["eventType"] != "TaskCreated" {
		t.Errorf("unexpected eventType: %v", evt["eventType"])
	}
	if evt["subject"] != "patients/P1/tasks/T1" {
		t.Errorf("unexpected subject: %v", evt["subject"])
	}
	if evt["dataVersion"] != "1.0" {
		t.Errorf("unexpected dataVersion: %v", evt["dataVersion"])
	}
	if evt["id"] != result.EventID {
		t.Errorf("expected envelope id %s, got %v", result.EventID, evt["id"])
	}
	if evt["eventTime"] == "" {
		t.Error("expected eventTime")
	}
	data, _ := evt["data"].(map[string]interface{})
	if data["patientId"] != "P1" || data["taskId"] != "T1" {
		t.Errorf("unexpected data: %v", data)
	}
}

func TestEmit_TopicNotConfigured(t *testing.T) {
	p := NewPublisher("", "", 2*time.Second, true, zerolog.Nop())
	result, err := p.Emit(context.Background(), "TaskCreated", "patients/P1/tasks/T1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Published {
		t.Error("expected unpublished result")
	}
	if result.Reason != "topic-not-configured" {
		t.Errorf("expected topic-not-configured, got %q", result.Reason)
	}
	if len(p.Attempts()) != 0 {
		t.Errorf("expected no delivery attempts in log-only mode, got %d", len(p.Attempts()))
	}
}

func TestEmit_TopicError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewPublisher(srv.URL, "bad-key", 2*time.Second, true, zerolog.Nop())
	if _, err := p.Emit(context.Background(), "TaskCreated", "s", nil); err == nil {
		t.Error("expected error for non-2xx response")
	}

	attempts := p.Attempts()
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if attempts[0].Published {
		t.Error("expected unpublished attempt")
	}
	if attempts[0].StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 recorded, got %d", attempts[0].StatusCode)
	}
}

func TestEmit_AttemptsAccumulate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPublisher(srv.URL, "k", 2*time.Second, true, zerolog.Nop())
	for i := 0; i < 3; i++ {
		if _, err := p.Emit(context.Background(), "TaskCreated", "s", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	attempts := p.Attempts()
	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(attempts))
	}
	seen := make(map[string]bool)
	for _, a := range attempts {
		if !a.Published {
			t.Error("expected published attempt")
		}
		if a.AttemptID == "" || seen[a.AttemptID] {
			t.Errorf("expected unique attempt ids, got %q", a.AttemptID)
		}
		seen[a.AttemptID] = true
	}
}
