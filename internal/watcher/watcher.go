// Package watcher turns fsnotify events under the synchronization root
// into create, change, delete and rename notifications.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/drive-mirror/internal/models"
	"github.com/fsnotify/fsnotify"
)

const (
	// debounceInterval is how often pending events are checked. Rapid
	// writes to one file collapse into a single notification.
	debounceInterval = 500 * time.Millisecond

	// quietPeriod is how long a path must see no further events before
	// its notification is emitted.
	quietPeriod = 300 * time.Millisecond

	// renameWindow is how long a rename of an old path waits for the
	// matching create of its new name before it is treated as a delete.
	renameWindow = quietPeriod
)

// Handler receives notifications. Implementations must not block: the
// watcher loop calls them inline.
type Handler interface {
	OnCreated(ctx context.Context, path string, kind models.Kind)
	OnChanged(ctx context.Context, path string, kind models.Kind)
	OnDeleted(ctx context.Context, path string)
	OnRenamed(ctx context.Context, oldPath, newPath string, kind models.Kind)
}

// Matcher reports whether an absolute path is excluded from mirroring.
type Matcher interface {
	Match(absPath string) bool
}

type pendingOp int

const (
	opCreate pendingOp = iota
	opChange
)

type pendingEvent struct {
	op pendingOp
	at time.Time
}

type pendingRename struct {
	at time.Time
	// kind of the old path. A rename only pairs with a create of the
	// same kind.
	kind models.Kind
	// dirty is set when the old path had an unflushed write, which is
	// carried over to the new name.
	dirty bool
}

// Watcher monitors the synchronization root recursively.
type Watcher struct {
	root    string
	ignore  Matcher
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	// pending holds debounced creates and changes keyed by absolute
	// path. A create followed by writes stays a create.
	pending map[string]pendingEvent

	// renames holds old paths reported by fsnotify Rename that have not
	// yet been paired with a Create.
	renames map[string]pendingRename

	// dirs holds every directory registered by addRecursive. The old
	// name of a rename no longer exists, so its kind is looked up here.
	dirs map[string]struct{}

	ready     chan struct{}
	readyOnce sync.Once
}

// NewWatcher creates a watcher for root. ignore may be nil.
func NewWatcher(root string, ignore Matcher, logger *slog.Logger) *Watcher {
	return &Watcher{
		root:    root,
		ignore:  ignore,
		logger:  logger,
		pending: make(map[string]pendingEvent),
		renames: make(map[string]pendingRename),
		dirs:    make(map[string]struct{}),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once every directory under the root is watched.
// Changes made after that point are never missed.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Watch starts watching the root and delivers notifications to h until
// the context is cancelled.
func (w *Watcher) Watch(ctx context.Context, h Handler) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	w.watcher = watcher
	defer watcher.Close()

	if err := w.addRecursive(w.root); err != nil {
		return fmt.Errorf("watching root: %w", err)
	}

	w.logger.Info("file watcher started", slog.String("dir", w.root))
	w.readyOnce.Do(func() { close(w.ready) })

	ticker := time.NewTicker(debounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			w.process(ctx, h, event, time.Now())

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			// Overflow and watch-limit errors are not fatal. Missed paths
			// are picked up by the next startup reconciliation.
			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			w.flush(ctx, h, time.Now())
		}
	}
}

func (w *Watcher) process(ctx context.Context, h Handler, event fsnotify.Event, now time.Time) {
	path := event.Name
	if w.shouldIgnore(path) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		w.handleCreate(ctx, h, path, now)

	case event.Has(fsnotify.Write):
		if p, ok := w.pending[path]; ok {
			p.at = now
			w.pending[path] = p
		} else {
			w.pending[path] = pendingEvent{op: opChange, at: now}
		}

	case event.Has(fsnotify.Remove):
		delete(w.pending, path)
		delete(w.renames, path)
		w.unwatch(path)
		h.OnDeleted(ctx, path)

	case event.Has(fsnotify.Rename):
		// fsnotify reports the old name here. The new name, if it stays
		// under the root, arrives as a separate Create.
		p, hadPending := w.pending[path]
		delete(w.pending, path)

		kind := models.KindFile
		if _, ok := w.dirs[path]; ok {
			kind = models.KindFolder
		}

		w.unwatch(path)

		if hadPending && p.op == opCreate {
			// Never announced, so the new name is simply a create.
			return
		}

		w.renames[path] = pendingRename{at: now, kind: kind, dirty: hadPending}
	}
}

func (w *Watcher) handleCreate(ctx context.Context, h Handler, path string, now time.Time) {
	// A create that vanished before it could be inspected pairs with
	// nothing; an outstanding rename then times out into a delete.
	kind, exists := kindOf(path)

	if oldPath, ok := w.pairRename(path, kind); exists && ok {
		r := w.renames[oldPath]
		delete(w.renames, oldPath)

		if kind == models.KindFolder {
			_ = w.addRecursive(path)
		}

		w.logger.Debug("paired rename", slog.String("from", oldPath), slog.String("to", path))
		h.OnRenamed(ctx, oldPath, path, kind)

		if r.dirty {
			w.pending[path] = pendingEvent{op: opChange, at: now}
		}

		return
	}

	w.pending[path] = pendingEvent{op: opCreate, at: now}

	// Use Lstat so a symlink to a directory outside the root is never
	// watched.
	info, err := os.Lstat(path)
	if err == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
		_ = w.addRecursive(path)
	}
}

// pairRename returns the oldest unpaired rename of the given kind in
// the same directory as newPath.
func (w *Watcher) pairRename(newPath string, kind models.Kind) (string, bool) {
	dir := filepath.Dir(newPath)

	var (
		oldest string
		at     time.Time
	)

	for oldPath, r := range w.renames {
		if filepath.Dir(oldPath) != dir || oldPath == newPath || r.kind != kind {
			continue
		}

		if oldest == "" || r.at.Before(at) {
			oldest, at = oldPath, r.at
		}
	}

	return oldest, oldest != ""
}

// flush emits renames that were never paired as deletes and every
// pending create or change that has been quiet long enough. Paths are
// emitted in sorted order so a directory always precedes its contents.
func (w *Watcher) flush(ctx context.Context, h Handler, now time.Time) {
	for oldPath, r := range w.renames {
		if now.Sub(r.at) < renameWindow {
			continue
		}

		delete(w.renames, oldPath)
		h.OnDeleted(ctx, oldPath)
	}

	due := make([]string, 0, len(w.pending))
	for path, p := range w.pending {
		if now.Sub(p.at) >= quietPeriod {
			due = append(due, path)
		}
	}

	sort.Strings(due)

	for _, path := range due {
		p, ok := w.pending[path]
		if !ok {
			// Already emitted as the descendant of a created directory.
			continue
		}

		delete(w.pending, path)

		kind, ok := kindOf(path)
		if !ok {
			continue
		}

		if p.op == opChange {
			h.OnChanged(ctx, path, kind)
			continue
		}

		h.OnCreated(ctx, path, kind)

		if kind == models.KindFolder {
			w.emitDescendants(ctx, h, path)
		}
	}
}

// emitDescendants announces the contents of a directory that appeared
// with files already inside it, for example one moved in from outside
// the root. Events fsnotify queued for those paths are superseded.
func (w *Watcher) emitDescendants(ctx context.Context, h Handler, dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != dir {
				return filepath.SkipDir
			}

			return nil
		}

		if path == dir {
			return nil
		}

		if w.shouldIgnore(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		delete(w.pending, path)

		kind := models.KindFile
		if d.IsDir() {
			kind = models.KindFolder
		}

		h.OnCreated(ctx, path, kind)

		return nil
	})
	if err != nil {
		w.logger.Warn("walking created directory", slog.String("path", dir), slog.String("error", err.Error()))
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != w.root && w.shouldIgnore(path) {
			return filepath.SkipDir
		}

		// WalkDir does not follow symlinks it discovers, but check
		// explicitly so a linked directory is never watched.
		if d.Type()&os.ModeSymlink != 0 {
			return filepath.SkipDir
		}

		w.dirs[path] = struct{}{}

		if w.watcher == nil {
			return nil
		}

		return w.watcher.Add(path)
	})
}

// unwatch forgets a removed or renamed directory and everything under
// it. Inotify drops its own watches, other backends may leak. Harmless
// if path was never watched.
func (w *Watcher) unwatch(path string) {
	prefix := path + string(filepath.Separator)
	for dir := range w.dirs {
		if dir == path || strings.HasPrefix(dir, prefix) {
			delete(w.dirs, dir)
		}
	}

	if w.watcher != nil {
		_ = w.watcher.Remove(path)
	}
}

func (w *Watcher) shouldIgnore(path string) bool {
	return w.ignore != nil && w.ignore.Match(path)
}

// kindOf derives the kind of an existing path. Symlinks and paths that
// no longer exist report false.
func kindOf(path string) (models.Kind, bool) {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink != 0 {
		return models.KindUnknown, false
	}

	if info.IsDir() {
		return models.KindFolder, true
	}

	return models.KindFile, true
}
