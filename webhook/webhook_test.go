package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeliver_SignsBody(t *testing.T) {
	var gotSig, gotType string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotType = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(srv.URL, "s3cret", time.Second)
	ev := NewEvent(EventRunCompleted, 7, map[string]int{"succeeded": 4})
	if err := n.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if gotType != "application/json" {
		t.Errorf("content type = %q", gotType)
	}
	if want := Sign("s3cret", body); gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
	var decoded Event
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Type != EventRunCompleted || decoded.RunID != 7 {
		t.Errorf("event = %+v", decoded)
	}
}

func TestDeliver_NoSecretNoSignature(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
	}))
	defer srv.Close()

	if err := New(srv.URL, "", time.Second).Deliver(context.Background(), NewEvent(EventRunFailed, 1, nil)); err != nil {
		t.Fatal(err)
	}
	if gotSig != "" {
		t.Errorf("signature = %q, want none", gotSig)
	}
}

func TestNotify_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, "", time.Second)
	n.Delays = []time.Duration{0, time.Millisecond, time.Millisecond}
	if err := n.Notify(context.Background(), NewEvent(EventRunCompleted, 1, nil)); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestNotify_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(srv.URL, "", time.Second)
	n.Delays = []time.Duration{0, time.Millisecond}
	if err := n.Notify(context.Background(), NewEvent(EventRunFailed, 1, nil)); err == nil {
		t.Fatal("Notify() returned nil after all attempts failed")
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}
