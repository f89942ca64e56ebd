package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stashworker/internal/domain/offline"
)

func writeFile(t *testing.T, path string, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestParseFormats(t *testing.T) {
	tests := []struct {
		name        string
		ext         string
		raw         string
		wantVersion string
	}{
		{name: "json array", ext: ".json", raw: `["/", " /offline.html ", ""]`},
		{name: "json object", ext: ".json", raw: `{"version":"v2","urls":["/","/offline.html"]}`, wantVersion: "v2"},
		{name: "yaml", ext: ".yaml", raw: "version: v2\nurls:\n  - /\n  - /offline.html\n", wantVersion: "v2"},
		{name: "yml", ext: ".YML", raw: "urls: [/, /offline.html]\n"},
		{name: "toml", ext: ".toml", raw: "version = \"v2\"\nurls = [\"/\", \"/offline.html\"]\n", wantVersion: "v2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(tt.raw), tt.ext)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(m.URLs) != 2 || m.URLs[0] != "/" || m.URLs[1] != "/offline.html" {
				t.Fatalf("URLs = %q", m.URLs)
			}
			if m.Version != tt.wantVersion {
				t.Fatalf("Version = %q, want %q", m.Version, tt.wantVersion)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse([]byte(`[]`), ".json"); !errors.Is(err, offline.ErrManifestEmpty) {
		t.Fatalf("Parse(empty) error = %v", err)
	}
	if _, err := Parse([]byte(`<urls/>`), ".xml"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Parse(xml) error = %v", err)
	}
	if _, err := Parse([]byte(`{`), ".json"); err == nil {
		t.Fatalf("Parse(bad json) expected error")
	}
}

func TestLoadDefaultAndFile(t *testing.T) {
	m, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if len(m.URLs) != len(offline.DefaultManifest().URLs) {
		t.Fatalf("Load(\"\") = %+v", m)
	}

	path := filepath.Join(t.TempDir(), "precache.json")
	writeFile(t, path, `["/","/offline.html","/app.js"]`)
	m, err = Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(m.URLs) != 3 {
		t.Fatalf("Load() URLs = %q", m.URLs)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("Load(missing) expected error")
	}
}

type fakeUpdater struct {
	mu    sync.Mutex
	calls []string
	urls  []int
	err   error
	got   chan struct{}
}

func (u *fakeUpdater) Update(_ context.Context, m offline.Manifest, version string) error {
	u.mu.Lock()
	u.calls = append(u.calls, version)
	u.urls = append(u.urls, len(m.URLs))
	u.mu.Unlock()
	if u.got != nil {
		select {
		case u.got <- struct{}{}:
		default:
		}
	}
	return u.err
}

func TestWatcherReloadUsesCurrentVersionWhenUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "precache.yaml")
	writeFile(t, path, "urls: [/, /offline.html]\n")

	up := &fakeUpdater{}
	w := NewWatcher(path, up, func() string { return "v1" })
	if err := w.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	writeFile(t, path, "version: v2\nurls: [/, /offline.html, /app.css]\n")
	if err := w.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if len(up.calls) != 2 || up.calls[0] != "v1" || up.calls[1] != "v2" || up.urls[1] != 3 {
		t.Fatalf("calls = %v urls = %v", up.calls, up.urls)
	}

	up.err = errors.New("install failed")
	if err := w.Reload(context.Background()); err == nil {
		t.Fatalf("Reload() expected update error")
	}
}

func TestWatcherRunAppliesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "precache.json")
	writeFile(t, path, `["/","/offline.html"]`)

	up := &fakeUpdater{got: make(chan struct{}, 1)}
	w := NewWatcher(path, up, func() string { return "v1" })
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()

	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		writeFile(t, path, `{"version":"v3","urls":["/","/offline.html"]}`)
		select {
		case <-up.got:
			up.mu.Lock()
			last := up.calls[len(up.calls)-1]
			up.mu.Unlock()
			if last != "v3" {
				t.Fatalf("Update() version = %q, want v3", last)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatalf("watcher did not apply manifest change")
		}
	}
}

func TestWatcherRunRequiresPath(t *testing.T) {
	w := NewWatcher("", &fakeUpdater{}, nil)
	if err := w.Run(context.Background()); err == nil {
		t.Fatalf("Run() expected error without path")
	}
}
