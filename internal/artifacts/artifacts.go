// Package artifacts stores failure snapshots (page HTML, screenshot, metadata)
// taken when a scenario fails, on local disk or in an S3 bucket.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/cas-scenarios/internal/logutil"
)

// ErrInvalidKey is returned for keys that are empty, absolute, or escape the store root.
var ErrInvalidKey = errors.New("artifacts: invalid key")

// Store persists artifact bytes under slash-separated keys.
type Store interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	// Location returns a human-readable location for key, for logs.
	Location(key string) string
}

// ValidateKey rejects keys that would escape the store root.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// FileStore writes artifacts below Dir.
type FileStore struct {
	Dir string
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) Save(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	dst := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("artifacts: create directory for %q: %w", key, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("artifacts: write %q: %w", key, err)
	}
	return nil
}

func (s *FileStore) Location(key string) string {
	return filepath.Join(s.Dir, filepath.FromSlash(key))
}

// Snapshot is the state of a page at the moment a scenario failed.
type Snapshot struct {
	Scenario   string
	RunID      string
	Driver     string
	URL        string
	Error      string
	HTML       string
	Screenshot []byte
	TakenAt    time.Time
}

type snapshotMeta struct {
	Scenario string    `json:"scenario"`
	RunID    string    `json:"run_id"`
	Driver   string    `json:"driver,omitempty"`
	URL      string    `json:"url"`
	Error    string    `json:"error"`
	TakenAt  time.Time `json:"taken_at"`
	Files    []string  `json:"files"`
}

// htmlPolicy keeps the document structure and drops scripts, styles and form
// values, so a stored page never carries typed credentials.
var htmlPolicy = func() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("main", "section", "header", "footer", "nav", "form", "label", "button", "input", "select", "option", "textarea", "title")
	p.AllowAttrs("id", "class", "name", "type", "role", "hidden", "aria-label").Globally()
	p.AllowAttrs("action", "method").OnElements("form")
	return p
}()

// SanitizeHTML returns html reduced by the snapshot policy.
func SanitizeHTML(html string) string {
	return htmlPolicy.Sanitize(html)
}

// Prefix returns the key prefix shared by all files of one snapshot.
func (s Snapshot) Prefix() string {
	return path.Join(s.Scenario, s.RunID)
}

// SaveSnapshot writes page.html, screenshot.png (when present) and meta.json under
// the snapshot prefix. It returns the keys written; a partial write returns the keys
// saved before the error.
func SaveSnapshot(ctx context.Context, store Store, snap Snapshot) ([]string, error) {
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	prefix := snap.Prefix()
	if err := ValidateKey(prefix); err != nil {
		return nil, err
	}

	var saved []string
	put := func(name string, data []byte, contentType string) error {
		key := prefix + "/" + name
		if err := store.Save(ctx, key, data, contentType); err != nil {
			return err
		}
		saved = append(saved, key)
		return nil
	}

	if snap.HTML != "" {
		if err := put("page.html", []byte(SanitizeHTML(snap.HTML)), "text/html; charset=utf-8"); err != nil {
			return saved, err
		}
	}
	if len(snap.Screenshot) > 0 {
		if err := put("screenshot.png", snap.Screenshot, "image/png"); err != nil {
			return saved, err
		}
	}

	files := make([]string, 0, len(saved))
	for _, key := range saved {
		files = append(files, path.Base(key))
	}
	meta, err := json.MarshalIndent(snapshotMeta{
		Scenario: snap.Scenario,
		RunID:    snap.RunID,
		Driver:   snap.Driver,
		URL:      logutil.RedactURLForLog(snap.URL),
		Error:    snap.Error,
		TakenAt:  snap.TakenAt,
		Files:    files,
	}, "", "  ")
	if err != nil {
		return saved, fmt.Errorf("artifacts: encode meta: %w", err)
	}
	if err := put("meta.json", meta, "application/json"); err != nil {
		return saved, err
	}
	return saved, nil
}
