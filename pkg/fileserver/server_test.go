// Copyright 2024-2026 Aiku AI

package fileserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T, cfg Config, webhook http.Handler) (*Server, string) {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	s := New(cfg, webhook, zerolog.Nop())
	ts := httptest.NewServer(s.srv.Handler)
	t.Cleanup(ts.Close)
	return s, ts.URL
}

func TestServeFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "photo.png"), []byte("image bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, base := newTestServer(t, Config{Dir: dir, Serve: true}, nil)

	resp, err := http.Get(base + "/files/photo.png")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "image bytes" {
		t.Errorf("body = %q", body)
	}
}

func TestServeFileEscapedName(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "photo (1).png"), []byte("second"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, base := newTestServer(t, Config{Dir: dir, Serve: true}, nil)

	resp, err := http.Get(base + "/files/photo%20%281%29.png")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestTraversalRejected(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	secret := filepath.Join(filepath.Dir(dir), "secret.txt")
	_, base := newTestServer(t, Config{Dir: dir, Serve: true}, nil)

	for _, path := range []string{
		"/files/..%2Fsecret.txt",
		"/files/..%5Csecret.txt",
		"/files/%2e%2e%2fsecret.txt",
	} {
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
	_ = secret
}

func TestServeDisabled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "photo.png"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, base := newTestServer(t, Config{Dir: dir, Serve: false}, nil)

	resp, err := http.Get(base + "/files/photo.png")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestListing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	_, base := newTestServer(t, Config{Dir: dir, Serve: true, Listing: true}, nil)
	resp, err := http.Get(base + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if got := string(body); got != "/files/a.png\n/files/b.png\n" {
		t.Errorf("listing = %q", got)
	}

	_, noList := newTestServer(t, Config{Dir: dir, Serve: true, Listing: false}, nil)
	resp2, err := http.Get(noList + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusForbidden {
		t.Errorf("listing disabled status = %d, want 403", resp2.StatusCode)
	}
}

func TestWebhookMountAlwaysAvailable(t *testing.T) {
	t.Parallel()
	webhook := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok")
	})
	_, base := newTestServer(t, Config{Serve: false}, webhook)

	resp, err := http.Post(base+"/slack/events", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("webhook status = %d", resp.StatusCode)
	}
}

func TestPublicURL(t *testing.T) {
	t.Parallel()
	s := New(Config{Dir: t.TempDir(), Serve: true, PublicBase: "https://relay.example.com/"}, nil, zerolog.Nop())
	url, ok := s.PublicURL("photo (1).png")
	if !ok || url != "https://relay.example.com/files/photo%20%281%29.png" {
		t.Errorf("PublicURL = %q, %v", url, ok)
	}

	off := New(Config{Dir: t.TempDir(), Serve: false, PublicBase: "https://relay.example.com"}, nil, zerolog.Nop())
	if _, ok := off.PublicURL("photo.png"); ok {
		t.Error("PublicURL available while serving is disabled")
	}
}
