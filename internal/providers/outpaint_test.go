package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestOutpaintExpandPollsUntilSuccess(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/fill", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(outpaintSubmitResponse{ID: "fill-1"})
	})
	mux.HandleFunc("/fill/fill-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			_ = json.NewEncoder(w).Encode(outpaintStatusResponse{Status: "running"})
			return
		}
		_ = json.NewEncoder(w).Encode(outpaintStatusResponse{Status: "succeeded", ResultURL: "https://cdn.example.com/out.png"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client := NewOutpaintClient(OutpaintOptions{
		APIKey:       "k",
		BaseURL:      ts.URL,
		PollInterval: time.Millisecond,
		MaxAttempts:  10,
	})
	url, err := client.Expand(context.Background(), "https://in.png", "https://mask.png", "extend background")
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if url != "https://cdn.example.com/out.png" {
		t.Fatalf("unexpected url: %s", url)
	}
	if polls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", polls.Load())
	}
}

func TestOutpaintExpandTimesOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fill", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(outpaintSubmitResponse{ID: "fill-2"})
	})
	mux.HandleFunc("/fill/fill-2", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(outpaintStatusResponse{Status: "running"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client := NewOutpaintClient(OutpaintOptions{
		APIKey:       "k",
		BaseURL:      ts.URL,
		PollInterval: time.Millisecond,
		MaxAttempts:  3,
	})
	if _, err := client.Expand(context.Background(), "a", "b", "p"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestOutpaintExpandFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fill", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(outpaintSubmitResponse{ID: "fill-3"})
	})
	mux.HandleFunc("/fill/fill-3", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(outpaintStatusResponse{Status: "failed", Error: "mask mismatch"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	client := NewOutpaintClient(OutpaintOptions{APIKey: "k", BaseURL: ts.URL, PollInterval: time.Millisecond, MaxAttempts: 3})
	if _, err := client.Expand(context.Background(), "a", "b", "p"); err == nil {
		t.Fatal("expected failure error")
	}
}

func TestOutpaintMissingKey(t *testing.T) {
	client := NewOutpaintClient(OutpaintOptions{})
	if _, err := client.Expand(context.Background(), "a", "b", "p"); err != ErrMissingAPIKey {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}
