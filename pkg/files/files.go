// Copyright 2024-2026 Aiku AI

// Package files materializes source-platform attachments to local disk before
// they are mirrored: small files get attached to destination messages, large
// ones stay on disk for the file server to re-host.
package files

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/slackcord/pkg/relay"
)

// nameIteratorLimit bounds the "name (N).ext" disambiguation search. A channel
// with two hundred files of the same name has bigger problems.
const nameIteratorLimit = 200

// placeholderName is the stock image sent in place of a file whose download
// failed.
const placeholderName = "ERROR.png"

// Manager downloads attachments into a single directory, disambiguating
// colliding filenames. It implements relay.Cleaner for post-send removal of
// embedded copies.
type Manager struct {
	dir             string
	token           string
	disableDeletion bool
	client          *http.Client
	log             zerolog.Logger

	// pending holds filenames reserved by in-flight downloads, so two
	// concurrent fetches of same-named files cannot claim the same slot.
	mu      sync.Mutex
	pending map[string]struct{}
}

var _ relay.Cleaner = (*Manager)(nil)

// New prepares the download directory and the failure placeholder.
func New(dir, token string, disableDeletion bool, log zerolog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}
	m := &Manager{
		dir:             dir,
		token:           token,
		disableDeletion: disableDeletion,
		client:          &http.Client{Timeout: 2 * time.Minute},
		log:             log.With().Str("component", "file_manager").Logger(),
		pending:         make(map[string]struct{}),
	}
	if err := m.ensurePlaceholder(); err != nil {
		return nil, err
	}
	return m, nil
}

// Fetch downloads one attachment and fills in the local fields of the file
// descriptor. Download failures do not fail the message: the returned
// descriptor points at the placeholder image and is flagged accordingly.
func (m *Manager) Fetch(ctx context.Context, f relay.File) relay.File {
	stored, err := m.reserveName(f.Name)
	if err == nil {
		err = m.download(ctx, f.RemoteRef, filepath.Join(m.dir, stored))
		m.release(stored)
	}
	if err != nil {
		m.log.Warn().Err(err).
			Str("file_id", f.SourceID).
			Str("name", f.Name).
			Msg("Attachment download failed, substituting placeholder")
		return m.placeholderFor(f)
	}

	f.StoredAs = stored
	f.Path = filepath.Join(m.dir, stored)
	if info, err := os.Stat(f.Path); err == nil {
		f.SizeBytes = info.Size()
	}
	return f
}

// Remove deletes a local attachment copy, unless deletion is disabled by
// configuration. The placeholder is never deleted.
func (m *Manager) Remove(path string) error {
	if m.disableDeletion {
		return nil
	}
	if filepath.Base(path) == placeholderName {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Dir returns the download directory, for the file server to serve from.
func (m *Manager) Dir() string {
	return m.dir
}

// reserveName claims a free filename, appending " (N)" before the extension
// until one is neither on disk nor pending.
func (m *Manager) reserveName(name string) (string, error) {
	if name == "" {
		name = "unnamed"
	}
	name = filepath.Base(name)

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i <= nameIteratorLimit; i++ {
		candidate := name
		if i > 0 {
			candidate = iterateName(name, i)
		}
		if _, taken := m.pending[candidate]; taken {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.dir, candidate)); err == nil {
			continue
		}
		m.pending[candidate] = struct{}{}
		return candidate, nil
	}
	return "", fmt.Errorf("no free filename for %q after %d attempts", name, nameIteratorLimit)
}

func (m *Manager) release(name string) {
	m.mu.Lock()
	delete(m.pending, name)
	m.mu.Unlock()
}

// iterateName turns "photo.png" into "photo (2).png".
func iterateName(name string, i int) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s (%d)%s", base, i, ext)
}

func (m *Manager) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	// Private source files require the bot token; Go keeps the header
	// across same-host redirects, which is all the source platform uses.
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return out.Close()
}

// placeholderFor returns a descriptor pointing at the stock failure image,
// keeping the original name and remote link for the card text.
func (m *Manager) placeholderFor(f relay.File) relay.File {
	path := filepath.Join(m.dir, placeholderName)
	f.Path = path
	f.StoredAs = placeholderName
	f.Extension = "png"
	f.DownloadFailed = true
	if info, err := os.Stat(path); err == nil {
		f.SizeBytes = info.Size()
	} else {
		f.SizeBytes = 0
	}
	return f
}

// ensurePlaceholder writes the failure image on first run: a plain red
// square, enough to make a broken download visible in the channel.
func (m *Manager) ensurePlaceholder() error {
	path := filepath.Join(m.dir, placeholderName)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	red := color.RGBA{R: 0xDD, G: 0x20, B: 0x20, A: 0xFF}
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, red)
		}
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create placeholder: %w", err)
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		return fmt.Errorf("encode placeholder: %w", err)
	}
	return out.Close()
}
