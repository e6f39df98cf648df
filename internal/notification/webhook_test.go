package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookNotifier_PostsAlertJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("wrong content type: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Send(context.Background(), Alert{
		Level:   AlertCritical,
		Title:   "Strong LONG: BTC/USDT",
		Message: "confidence 91.0",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if got["level"] != "CRITICAL" {
		t.Errorf("level = %q", got["level"])
	}
	if got["title"] != "Strong LONG: BTC/USDT" {
		t.Errorf("title = %q", got["title"])
	}
	if got["message"] != "confidence 91.0" {
		t.Errorf("message = %q", got["message"])
	}
	if got["source"] != "signal-engine" {
		t.Errorf("source = %q", got["source"])
	}
}

func TestWebhookNotifier_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Send(context.Background(), Alert{Level: AlertInfo, Title: "t"}); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

type failingNotifier struct{}

func (f *failingNotifier) Send(context.Context, Alert) error {
	return fmt.Errorf("backend down")
}

func TestFanout_ContinuesPastFailingBackend(t *testing.T) {
	failing := &failingNotifier{}
	capture := &captureNotifier{}

	f := NewFanout(failing, capture)
	err := f.Send(context.Background(), Alert{Level: AlertWarning, Title: "x"})
	if err == nil {
		t.Fatal("expected first backend error to surface")
	}
	if len(capture.alerts) != 1 {
		t.Fatalf("second backend got %d alerts, want 1", len(capture.alerts))
	}
}
