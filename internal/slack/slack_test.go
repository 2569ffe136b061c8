package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNotifier_Send(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected application/json content type, got %s", ct)
		}
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewNotifier(server.URL, 5*time.Second)
	if err := notifier.Send(context.Background(), "S2 Gap Report", "*Missing Scenes*: 3"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	var p struct {
		Text   string `json:"text"`
		Blocks []struct {
			Type string `json:"type"`
			Text struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"text"`
		} `json:"blocks"`
	}
	if err := json.Unmarshal(received, &p); err != nil {
		t.Fatalf("Payload is not valid JSON: %v", err)
	}

	if p.Text != "S2 Gap Report" {
		t.Errorf("Expected title S2 Gap Report, got %s", p.Text)
	}
	if len(p.Blocks) != 1 || p.Blocks[0].Type != "section" {
		t.Fatalf("Expected one section block, got %+v", p.Blocks)
	}
	if p.Blocks[0].Text.Type != "mrkdwn" {
		t.Errorf("Expected mrkdwn block text, got %s", p.Blocks[0].Text.Type)
	}
	if p.Blocks[0].Text.Text != "*Missing Scenes*: 3" {
		t.Errorf("Unexpected message: %s", p.Blocks[0].Text.Text)
	}
}

func TestNotifier_Send_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer server.Close()

	notifier := NewNotifier(server.URL, 5*time.Second)
	if err := notifier.Send(context.Background(), "t", "m"); err == nil {
		t.Error("Expected error for non-200 response")
	}
}
