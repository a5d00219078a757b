// Package watcher keeps the knowledge base in step with vault changes on
// disk.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/blockbase/internal/service"
)

// EventCallback is called after a watcher-driven change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// Syncer applies disk changes to the knowledge base.
type Syncer interface {
	Sync(rel string) (service.Change, bool, error)
	Reconcile(ctx context.Context) ([]service.Change, error)
	Accepts(rel string, isDir bool) bool
}

var _ Syncer = (*service.Service)(nil)

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the vault root and processes change
// events until ctx is cancelled. It calls cb (if non-nil) after each change
// applied to the knowledge base.
//
// New directories created at runtime are added to the watch list. Rename
// events trigger a reconciliation pass that drops blocks whose files no
// longer exist and adds files that appeared under a new name.
func Watch(ctx context.Context, svc Syncer, vaultRoot string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, svc, vaultRoot, vaultRoot); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", vaultRoot))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	emit := func(c service.Change) {
		logger.Debug("watcher: applied", slog.String("path", c.Path), slog.String("op", c.Kind))
		if cb != nil {
			cb(c.Kind, filepath.ToSlash(c.Path))
		}
	}

	sync := func(rel string) {
		c, ok, err := svc.Sync(rel)
		if err != nil {
			logger.Warn("watcher: sync failed", slog.String("path", rel), slog.String("error", err.Error()))
			return
		}
		if ok {
			emit(c)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			changes, err := svc.Reconcile(ctx)
			if err != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}
			for _, c := range changes {
				emit(c)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			rel, relErr := filepath.Rel(vaultRoot, ev.Name)
			if relErr != nil {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if !svc.Accepts(rel, true) {
						continue
					}
					if addErr := addDirsRecursive(w, svc, vaultRoot, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
					// Files already inside arrive with the folder.
					sync(rel)
					continue
				}
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if !svc.Accepts(rel, false) {
					continue
				}
				sync(rel)

			case ev.Op&fsnotify.Remove != 0:
				sync(rel)

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the old path only; the new
				// path arrives as a separate Create when it stays inside a
				// watched directory.
				sync(rel)
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds dir and every accepted subdirectory to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, svc Syncer, vaultRoot, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(vaultRoot, path); relErr == nil && rel != "." && !svc.Accepts(rel, true) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
