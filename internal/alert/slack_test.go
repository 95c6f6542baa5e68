package alert

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestNewSlackRejectsBadURL(t *testing.T) {
	for _, url := range []string{"", "not-a-url", "://missing-scheme"} {
		if _, err := NewSlack(url, "#cam", "fieldcam", zap.NewNop()); err == nil {
			t.Errorf("NewSlack(%q) accepted an invalid webhook URL", url)
		}
	}
}

func TestPayloadCarriesChannelAndUsername(t *testing.T) {
	s, err := NewSlack("https://hooks.example.com/services/T0/B0/XX", "#cam", "fieldcam", zap.NewNop())
	if err != nil {
		t.Fatalf("NewSlack failed: %v", err)
	}

	raw, err := s.Payload("motion detected")
	if err != nil {
		t.Fatalf("Payload failed: %v", err)
	}

	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if p.Text != "motion detected" || p.Channel != "#cam" || p.Username != "fieldcam" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestPayloadRejectsEmptyText(t *testing.T) {
	s, err := NewSlack("https://hooks.example.com/services/T0/B0/XX", "#cam", "fieldcam", zap.NewNop())
	if err != nil {
		t.Fatalf("NewSlack failed: %v", err)
	}
	if _, err := s.Payload(""); err == nil {
		t.Fatal("Payload accepted empty text")
	}
}

func TestSendPostsJSON(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewSlack(srv.URL, "#cam", "fieldcam", zap.NewNop())
	if err != nil {
		t.Fatalf("NewSlack failed: %v", err)
	}

	payload, err := s.Payload("motion detected")
	if err != nil {
		t.Fatalf("Payload failed: %v", err)
	}
	if err := s.Send(payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	var p Payload
	if err := json.Unmarshal(gotBody, &p); err != nil {
		t.Fatalf("posted body is not valid JSON: %v", err)
	}
	if p.Text != "motion detected" {
		t.Errorf("posted text = %q", p.Text)
	}
}

func TestSendReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no_service", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := NewSlack(srv.URL, "#cam", "fieldcam", zap.NewNop())
	if err != nil {
		t.Fatalf("NewSlack failed: %v", err)
	}
	if err := s.Send(`{"text":"x"}`); err == nil {
		t.Fatal("Send succeeded against a 500 response")
	}
}

func TestDisabledMessengerNeverFails(t *testing.T) {
	d := NewDisabled(zap.NewNop())
	payload, err := d.Payload("motion detected")
	if err != nil {
		t.Fatalf("Payload failed: %v", err)
	}
	if err := d.Send(payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}
