package manifest

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/domain/offline"
	"stashworker/internal/errs"
)

const defaultDebounce = 250 * time.Millisecond

// Updater installs and activates a new cache generation.
type Updater interface {
	Update(ctx context.Context, manifest offline.Manifest, version string) error
}

// Watcher reloads a manifest file when it changes and hands it to the
// Updater. A manifest without a version reuses the current one.
type Watcher struct {
	path     string
	updater  Updater
	version  func() string
	debounce time.Duration
}

func NewWatcher(path string, updater Updater, currentVersion func() string) *Watcher {
	return &Watcher{
		path:     filepath.Clean(strings.TrimSpace(path)),
		updater:  updater,
		version:  currentVersion,
		debounce: defaultDebounce,
	}
}

// Run watches until ctx is done. The parent directory is watched so that
// editors replacing the file by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if w.path == "" || w.path == "." {
		return errors.New("manifest file is required")
	}
	logCtx := logging.WithAttrs(logging.WithComponent(ctx, "manifest.watcher"), slog.String("path", w.path))

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(err, "create fsnotify watcher")
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return errs.Wrapf(err, "watch %s", filepath.Dir(w.path))
	}
	logging.Info(logCtx, "watching precache manifest")

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.Warn(logCtx, "manifest watch error", slog.Any("err", errs.Loggable(err)))

		case <-fire:
			fire = nil
			if err := w.Reload(ctx); err != nil {
				logging.Warn(logCtx, "manifest reload failed", slog.Any("err", errs.Loggable(err)))
			}
		}
	}
}

// Reload reads the manifest once and applies it.
func (w *Watcher) Reload(ctx context.Context) error {
	m, err := Load(w.path)
	if err != nil {
		return err
	}
	version := m.Version
	if version == "" && w.version != nil {
		version = w.version()
	}
	if err := w.updater.Update(ctx, m, version); err != nil {
		return errs.Wrapf(err, "apply manifest version %s", version)
	}
	logging.Info(logging.WithComponent(ctx, "manifest.watcher"), "precache manifest applied",
		slog.String("version", version),
		slog.Int("urls", len(m.URLs)),
	)
	return nil
}
