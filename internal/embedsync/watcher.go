package embedsync

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/zettelink/internal/storage"
)

// DefaultDebounce is the quiet period after the last file event before a re-sync.
const DefaultDebounce = 500 * time.Millisecond

// Runner performs one sync pass. Watch calls it after each burst of changes.
type Runner func(ctx context.Context) (Summary, error)

// Watch starts an fsnotify watcher on root and calls run once file changes
// have settled for debounce, until ctx is cancelled.
//
// Only note files (and new directories) trigger a run. Directories matching
// opts.SkipDirs are never watched, so writes to the cache directory do not
// feed back into the watcher. New directories created at runtime are added
// to the watch list.
func Watch(ctx context.Context, root string, opts Options, debounce time.Duration, logger *slog.Logger, run Runner) error {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root, opts.SkipDirs); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			timer, timerCh = nil, nil
			sum, runErr := run(ctx)
			if runErr != nil && ctx.Err() == nil {
				logger.Error("watcher: sync failed", slog.String("error", runErr.Error()))
				continue
			}
			logger.Debug("watcher: synced", slog.Int("new", sum.New), slog.Int("removed", sum.Removed))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ignored(root, ev.Name, opts) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name, opts.SkipDirs); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					}
					schedule()
					continue
				}
			}

			// Removed or renamed directories have no extension; a sync prunes their notes.
			isNote := strings.HasSuffix(ev.Name, storage.NoteExt)
			if !isNote && ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if isNote && storage.MatchesAny(filepath.Base(ev.Name), opts.SkipFiles) {
				continue
			}
			logger.Debug("watcher: change", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// ignored reports whether path lies inside a skipped directory.
func ignored(root, path string, opts Options) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, dir := range parts[:len(parts)-1] {
		if storage.MatchesAny(dir, opts.SkipDirs) {
			return true
		}
	}
	// The last element may itself be a skipped directory being created.
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return storage.MatchesAny(parts[len(parts)-1], opts.SkipDirs)
	}
	return false
}

// addDirsRecursive adds root and all its non-skipped subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string, skipDirs []string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && storage.MatchesAny(d.Name(), skipDirs) {
			return fs.SkipDir
		}
		return w.Add(path)
	})
}
