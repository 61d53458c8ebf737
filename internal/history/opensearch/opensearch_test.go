package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/crthrottle/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedURL string
	var receivedMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"test","_index":"test-index","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "test-index")
	event := history.Event{Type: history.EventPause, OccurredAt: time.Now().UTC(), PID: 4001}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("Expected POST method, got: %s", receivedMethod)
	}
	if receivedURL != "/test-index/_doc" {
		t.Errorf("Expected URL path /test-index/_doc, got: %s", receivedURL)
	}
	var doc map[string]any
	if err := json.Unmarshal(receivedBody, &doc); err != nil {
		t.Fatalf("Failed to parse received JSON: %v", err)
	}
	if doc["type"] != "pause" || doc["pid"] != float64(4001) {
		t.Errorf("unexpected document: %v", doc)
	}
	if _, ok := doc["error"]; ok {
		t.Errorf("successful delivery should omit error: %v", doc)
	}
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sink := New(server.URL, "")
	if sink.index != DefaultIndex {
		t.Fatalf("index = %q", sink.index)
	}
	if err := sink.Send(context.Background(), history.Event{Type: history.EventHog, PID: 1}); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestOpenSearchSink_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(server.URL, "idx").Send(ctx, history.Event{Type: history.EventHog, PID: 1}); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}

func TestOpenSearchSink_Recent(t *testing.T) {
	var query map[string]any
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&query)
		_, _ = w.Write([]byte(`{"hits":{"total":{"value":2},"hits":[
			{"_index":"idx","_source":{"type":"hog","occurred_at":"2025-01-02T00:00:00Z","pid":4002,"usage_fraction":0.7}},
			{"_index":"idx","_source":{"type":"pause","occurred_at":"2025-01-01T00:00:00Z","pid":4001}}
		]}}`))
	}))
	defer server.Close()

	events, err := New(server.URL, "idx").Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if path != "/idx/_search" {
		t.Errorf("Expected URL path /idx/_search, got: %s", path)
	}
	if query["size"] != float64(2) {
		t.Errorf("size = %v", query["size"])
	}
	if len(events) != 2 || events[0].Type != history.EventHog || events[0].Usage != 0.7 || events[1].PID != 4001 {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestOpenSearchSink_RecentErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	sink := New(server.URL, "missing")
	if _, err := sink.Recent(context.Background(), 10); err == nil {
		t.Fatal("expected error for 404 response")
	}
	events, err := sink.Recent(context.Background(), 0)
	if err != nil || events != nil {
		t.Fatalf("zero limit should not query: %v %v", events, err)
	}
}

var _ history.Reader = (*Sink)(nil)
