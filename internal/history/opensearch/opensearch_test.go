package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/ff7link/internal/history"
)

func finishedEvent() history.Event {
	return history.Event{
		Type:       history.EventUpdateFinished,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			SessionID:       "abc",
			From:            "downloading",
			To:              "installed",
			CurrentVersion:  "0.3.1",
			RemoteVersion:   "0.4.0",
			BytesDownloaded: 1 << 20,
		},
	}
}

func TestOpenSearchSink_Send(t *testing.T) {
	var (
		receivedBody   []byte
		receivedURL    string
		receivedMethod string
		contentType    string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"test","_index":"update-history","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "update-history")
	if err := sink.Send(context.Background(), finishedEvent()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("Expected POST method, got: %s", receivedMethod)
	}
	if receivedURL != "/update-history/_doc" {
		t.Errorf("unexpected path: %s", receivedURL)
	}
	if contentType != "application/json" {
		t.Errorf("unexpected content type: %s", contentType)
	}

	var got history.Event
	if err := json.Unmarshal(receivedBody, &got); err != nil {
		t.Fatalf("Failed to parse received JSON: %v", err)
	}
	if got.Type != history.EventUpdateFinished || got.Record.To != "installed" || got.Record.BytesDownloaded != 1<<20 {
		t.Errorf("unexpected document: %+v", got)
	}
}

func TestOpenSearchSink_SendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	err := New(server.URL, "update-history").Send(context.Background(), finishedEvent())
	if err == nil || !strings.Contains(err.Error(), "opensearch sink status 400") {
		t.Fatalf("Expected status error, got: %v", err)
	}
}

func TestOpenSearchSink_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	if err := New(url, "x").Send(context.Background(), finishedEvent()); err == nil {
		t.Fatal("expected transport error")
	}
}
