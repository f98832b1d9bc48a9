// Package watch turns raw fsnotify events on the package roots into
// debounced change batches the build loop can consume.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vk/assetforge/internal/ctxlog"
	"github.com/vk/assetforge/internal/pkggraph"
	"github.com/vk/assetforge/internal/rw"
)

// DefaultDebounce is how long the watcher waits after the last event before
// emitting a batch.
const DefaultDebounce = 250 * time.Millisecond

// Watcher observes every package root recursively and emits debounced
// batches of changed paths.
type Watcher struct {
	pkgs     *pkggraph.Graph
	debounce time.Duration

	watcher *fsnotify.Watcher
	batches chan []string
}

// New creates a watcher over all package roots. Call Run to start it.
func New(pkgs *pkggraph.Graph) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		pkgs:     pkgs,
		debounce: DefaultDebounce,
		watcher:  fsw,
		batches:  make(chan []string, 1),
	}
	for _, name := range pkgs.Names() {
		if err := w.addRecursive(pkgs.Package(name).Root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Batches returns the channel of debounced change batches.
func (w *Watcher) Batches() <-chan []string {
	return w.batches
}

// Run pumps events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	defer w.watcher.Close()

	var pending []string
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.ignored(event.Name) {
				continue
			}
			// New directories join the watch set so nested creations are
			// seen too.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
				}
			}
			logger.Debug("File event.", "op", event.Op.String(), "path", event.Name)
			pending = append(pending, event.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error.", "error", err)

		case <-fire:
			batch := dedupe(pending)
			pending = nil
			fire = nil
			logger.Debug("Emitting change batch.", "count", len(batch))
			select {
			case w.batches <- batch:
			default:
				// The build loop is mid-build; merge into the next batch.
				pending = append(pending, batch...)
				timer.Reset(w.debounce)
				fire = timer.C
			}
		}
	}
}

// ignored filters events inside the engine-owned cache directory, which the
// engine itself writes.
func (w *Watcher) ignored(path string) bool {
	sep := string(filepath.Separator)
	return strings.Contains(path, sep+rw.CacheDirName+sep) ||
		strings.HasSuffix(path, sep+rw.CacheDirName)
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (strings.HasPrefix(name, ".") || name == rw.CacheDirName) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	var out []string
	for _, p := range paths {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
