// Package watch re-runs the build and deploy cycle when project sources
// change. It pairs with the device link's server mode: the device keeps
// listening while this side rebuilds and resends.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces editor save bursts into one rebuild.
const DefaultDebounce = 300 * time.Millisecond

// Watcher triggers a callback on debounced source changes.
type Watcher struct {
	Debounce time.Duration
	Log      *zap.Logger
}

func New(log *zap.Logger) *Watcher {
	return &Watcher{Debounce: DefaultDebounce, Log: log}
}

// Watch observes roots recursively and invokes fn after each debounced
// burst of changes. A failing fn is logged and watching continues; the
// only way out is ctx cancellation.
func (w *Watcher) Watch(ctx context.Context, roots []string, fn func(context.Context) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, root := range roots {
		if err := addRecursive(fw, root); err != nil {
			return err
		}
	}
	w.Log.Info("watching for changes", zap.Strings("roots", roots))

	addDir := func(dir string) {
		if err := addRecursive(fw, dir); err != nil {
			w.Log.Warn("cannot watch new directory", zap.String("dir", dir), zap.Error(err))
		}
	}
	return w.loop(ctx, fw.Events, fw.Errors, addDir, fn)
}

// loop is the event pump, separated from the fsnotify handle so it can be
// driven by plain channels in tests.
func (w *Watcher) loop(
	ctx context.Context,
	events <-chan fsnotify.Event,
	errs <-chan error,
	onNewDir func(string),
	fn func(context.Context) error,
) error {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			w.Log.Warn("watch error", zap.Error(err))

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ShouldIgnore(ev.Name) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) && onNewDir != nil {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					onNewDir(ev.Name)
				}
			}
			w.Log.Debug("source change", zap.String("path", ev.Name), zap.Stringer("op", ev.Op))

			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			}
			timer = time.NewTimer(w.Debounce)
			fire = timer.C

		case <-fire:
			timer, fire = nil, nil
			if err := fn(ctx); err != nil {
				w.Log.Warn("rebuild failed, still watching", zap.Error(err))
			}
		}
	}
}

// ShouldIgnore filters paths that never warrant a rebuild: dotfiles,
// editor droppings, and anything under a target directory.
func ShouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return true
	}
	for _, elem := range strings.Split(filepath.ToSlash(path), "/") {
		if elem == "target" {
			return true
		}
	}
	return false
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ShouldIgnore(path) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
