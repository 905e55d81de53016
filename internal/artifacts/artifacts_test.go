package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const pageWithSecrets = `<html><head><title>CAS</title><script>steal()</script></head><body>
<main id="main-content"><div id="login"><form id="fm1" method="post" action="/cas/login">
<h3>Acceptable Usage Policy</h3>
<input id="password" name="password" type="password" value="Mellon">
<button name="submit" type="submit" onclick="go()">Accept</button>
</form></div></main></body></html>`

func TestSanitizeHTML_DropsScriptsAndValues(t *testing.T) {
	t.Parallel()

	got := SanitizeHTML(pageWithSecrets)
	for _, leaked := range []string{"steal()", "Mellon", "onclick"} {
		require.NotContains(t, got, leaked)
	}
	for _, kept := range []string{`id="main-content"`, `id="fm1"`, "Acceptable Usage Policy", `name="submit"`} {
		require.Contains(t, got, kept)
	}
}

func TestSaveSnapshot_FileStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewFileStore(dir)
	snap := Snapshot{
		Scenario:   "aup-login",
		RunID:      "run-1",
		Driver:     "http",
		URL:        "https://example.org/?ticket=ST-123",
		Error:      "assertion failed",
		HTML:       pageWithSecrets,
		Screenshot: []byte{0x89, 'P', 'N', 'G'},
		TakenAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	keys, err := SaveSnapshot(context.Background(), store, snap)
	require.NoError(t, err)
	require.Equal(t, []string{
		"aup-login/run-1/page.html",
		"aup-login/run-1/screenshot.png",
		"aup-login/run-1/meta.json",
	}, keys)

	raw, err := os.ReadFile(filepath.Join(dir, "aup-login", "run-1", "meta.json"))
	require.NoError(t, err)
	var meta snapshotMeta
	require.NoError(t, json.Unmarshal(raw, &meta))
	require.Equal(t, []string{"page.html", "screenshot.png"}, meta.Files)
	require.NotContains(t, meta.URL, "ST-123")
	require.Equal(t, "assertion failed", meta.Error)

	html, err := os.ReadFile(store.Location("aup-login/run-1/page.html"))
	require.NoError(t, err)
	require.NotContains(t, string(html), "Mellon")
}

func TestSaveSnapshot_S3Store(t *testing.T) {
	t.Parallel()

	store := TestS3Store(t, "artifacts", "ci")
	ctx := context.Background()

	keys, err := SaveSnapshot(ctx, store, Snapshot{Scenario: "aup-login", RunID: "run-2", HTML: "<p>x</p>"})
	require.NoError(t, err)
	require.Equal(t, []string{"aup-login/run-2/page.html", "aup-login/run-2/meta.json"}, keys)

	data, err := store.Load(ctx, "aup-login/run-2/page.html")
	require.NoError(t, err)
	require.Equal(t, "<p>x</p>", string(data))
	require.Equal(t, "s3://artifacts/ci/aup-login/run-2/meta.json", store.Location("aup-login/run-2/meta.json"))

	_, err = store.Load(ctx, "aup-login/run-2/screenshot.png")
	require.True(t, errors.Is(err, ErrObjectNotFound), "got %v", err)
}

func TestSaveSnapshot_RejectsEscapingRunID(t *testing.T) {
	t.Parallel()

	_, err := SaveSnapshot(context.Background(), NewFileStore(t.TempDir()), Snapshot{Scenario: "aup-login", RunID: ".."})
	require.ErrorIs(t, err, ErrInvalidKey)
}

func testValidateKey_NoEscape(t *rapid.T) {
	parts := rapid.SliceOfN(rapid.SampledFrom([]string{"a", "b", "..", ".", "", "run-1"}), 1, 5).Draw(t, "parts")
	key := strings.Join(parts, "/")

	escapes := false
	for _, p := range parts {
		if p == ".." || p == "." || p == "" {
			escapes = true
		}
	}
	err := ValidateKey(key)
	if escapes && err == nil {
		t.Fatalf("ValidateKey(%q) accepted an unsafe key", key)
	}
	if !escapes && err != nil {
		t.Fatalf("ValidateKey(%q) rejected a safe key: %v", key, err)
	}
}

func TestValidateKey_NoEscape(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidateKey_NoEscape)
}
