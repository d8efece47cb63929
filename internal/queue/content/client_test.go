package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNilClient_ResolvesNothing(t *testing.T) {
	var c *Client
	got, err := c.Content(context.Background(), "abc")
	if err != nil || got != nil {
		t.Fatalf("nil client should resolve to nothing, got %+v, %v", got, err)
	}
	sess, err := c.Session(context.Background(), "abc")
	if err != nil || sess != nil {
		t.Fatalf("nil client should resolve to nothing, got %+v, %v", sess, err)
	}
}

func TestNewClient_EmptyBaseURLIsNil(t *testing.T) {
	if c := NewClient("", time.Second); c != nil {
		t.Fatalf("expected nil client for empty base URL, got %+v", c)
	}
}

func TestContent_Found(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/content/track-1" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"track-1","title":"Intro","kind":"episode","duration_seconds":1420}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	got, err := c.Content(context.Background(), "track-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Title != "Intro" || got.DurationSeconds != 1420 {
		t.Fatalf("unexpected content: %+v", got)
	}
}

func TestContent_NotFoundIsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	got, err := c.Content(context.Background(), "missing")
	if err != nil {
		t.Fatalf("404 should not be an error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown content, got %+v", got)
	}
}

func TestContent_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.Content(context.Background(), "track-1"); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestSession_Found(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions/by-entry/entry-1" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sess-9","entry_id":"entry-1","started_at":"2026-08-30T10:00:00Z"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	got, err := c.Session(context.Background(), "entry-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != "sess-9" {
		t.Fatalf("unexpected session: %+v", got)
	}
}
