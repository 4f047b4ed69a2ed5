// Package watcher publishes file_changed events for the workspace so
// attached UIs can refresh what they show. Changes are batched; a burst of
// writes becomes one event.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"helixmind/internal/events"
)

const maxReportedPaths = 50

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
}

type Watcher struct {
	root     string
	bus      *events.Bus
	log      *zap.Logger
	debounce time.Duration
}

func New(root string, bus *events.Bus, log *zap.Logger, debounce time.Duration) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{root: root, bus: bus, log: log, debounce: debounce}
}

type changePayload struct {
	Paths     []string `json:"paths"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Run watches until ctx ends. Directories created while running are picked
// up so the watch stays recursive.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := w.addRecursive(fsw, w.root); err != nil {
		return err
	}
	w.log.Info("watching workspace", zap.String("root", w.root))

	pending := make(map[string]bool)
	flush := make(chan struct{}, 1)
	scheduled := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod || w.skip(ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(fsw, ev.Name); err != nil {
						w.log.Warn("watch add failed", zap.String("path", ev.Name), zap.Error(err))
					}
				}
			}
			pending[ev.Name] = true
			if !scheduled {
				scheduled = true
				time.AfterFunc(w.debounce, func() {
					select {
					case flush <- struct{}{}:
					default:
					}
				})
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))

		case <-flush:
			scheduled = false
			if len(pending) == 0 {
				continue
			}
			w.publish(pending)
			pending = make(map[string]bool)
		}
	}
}

func (w *Watcher) publish(pending map[string]bool) {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		if rel, err := filepath.Rel(w.root, p); err == nil {
			paths = append(paths, rel)
		} else {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	payload := changePayload{Paths: paths}
	if len(paths) > maxReportedPaths {
		payload.Paths = paths[:maxReportedPaths]
		payload.Truncated = true
	}
	w.log.Debug("workspace changed", zap.Int("paths", len(paths)))
	w.bus.Publish(events.New(events.TypeFileChanged, "", payload))
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			w.log.Warn("watch add failed", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

func (w *Watcher) skipDir(name string) bool {
	if skippedDirs[name] {
		return true
	}
	return strings.HasPrefix(name, ".") && name != "."
}

func (w *Watcher) skip(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if w.skipDir(part) {
			return true
		}
	}
	return false
}
