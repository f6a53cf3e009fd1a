// Copyright 2024-2026 Aiku AI

// Package fileserver re-hosts downloaded attachments over HTTP and carries
// the inbound webhook mount for the source platform's event callbacks.
package fileserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/slackcord/pkg/relay"
)

// Config tunes the file server. Everything can be switched off: with Serve
// false the HTTP server still runs for the webhook mount but refuses file
// requests, and with PublicBase empty cards never cite a public URL.
type Config struct {
	Addr string
	// Dir is the downloads directory to serve, usually the file manager's.
	Dir string
	// PublicBase is the externally reachable base URL, e.g.
	// "https://relay.example.com". Empty disables public URLs on cards.
	PublicBase string
	// Serve enables the file-serving routes. The webhook mount is
	// unaffected.
	Serve bool
	// Listing enables the index page enumerating stored files.
	Listing bool
}

// Server hosts the downloads directory and the webhook handler. It implements
// relay.FileHost.
type Server struct {
	cfg Config
	srv *http.Server
	log zerolog.Logger
}

var _ relay.FileHost = (*Server)(nil)

// New builds the server. webhook is mounted at /slack/events and may be nil
// when the source adapter uses another transport.
func New(cfg Config, webhook http.Handler, log zerolog.Logger) *Server {
	s := &Server{
		cfg: cfg,
		log: log.With().Str("component", "file_server").Logger(),
	}

	mux := http.NewServeMux()
	if webhook != nil {
		mux.Handle("/slack/events", webhook)
	}
	mux.HandleFunc("/files/", s.handleFile)
	mux.HandleFunc("/", s.handleIndex)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Bool("serving_files", s.cfg.Serve).Msg("Starting file server")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// PublicURL returns the externally visible URL for a stored file, ok=false
// when re-hosting is switched off.
func (s *Server) PublicURL(storedAs string) (string, bool) {
	if !s.cfg.Serve || s.cfg.PublicBase == "" {
		return "", false
	}
	return strings.TrimRight(s.cfg.PublicBase, "/") + "/files/" + url.PathEscape(storedAs), true
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Serve {
		http.Error(w, "file serving is disabled", http.StatusForbidden)
		return
	}

	name, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/files/"))
	if err != nil || name == "" {
		http.NotFound(w, r)
		return
	}

	// Reject anything that could escape the downloads directory.
	if strings.Contains(name, "/") || strings.Contains(name, "\\") || name != filepath.Base(name) {
		s.log.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("Rejected path traversal attempt")
		http.NotFound(w, r)
		return
	}

	full := filepath.Join(s.cfg.Dir, name)
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, full)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !s.cfg.Serve || !s.cfg.Listing {
		http.Error(w, "listing is disabled", http.StatusForbidden)
		return
	}

	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		http.Error(w, "unable to read downloads", http.StatusInternalServerError)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, name := range names {
		fmt.Fprintf(w, "/files/%s\n", url.PathEscape(name))
	}
}
