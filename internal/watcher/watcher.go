// Package watcher reports changes under the web directory in debounced
// batches, so a statistics run that rewrites many files produces one batch.
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
	"github.com/rs/zerolog"
)

// Change is one file that changed, relative to the watched root with forward slashes.
type Change struct {
	Path string
	Op   string
}

// Handler receives each debounced batch, sorted by path.
type Handler func(changes []Change)

// Watcher watches a directory tree.
type Watcher struct {
	root     string
	debounce time.Duration
	handler  Handler
	logger   zerolog.Logger

	fsw     *fsnotify.Watcher
	pending map[string]pendingChange
}

type pendingChange struct {
	op   string
	last time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New watches root and every directory below it.
func New(root string, handler Handler, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     filepath.Clean(root),
		debounce: 300 * time.Millisecond,
		handler:  handler,
		logger:   zerolog.Nop(),
		fsw:      fsw,
		pending:  make(map[string]pendingChange),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.addTree(w.root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run processes events until ctx is cancelled. Pending changes are flushed
// before it returns. The watcher cannot be reused afterwards.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	ticker := time.NewTicker(w.debounce / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(time.Time{})
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watch error")

		case now := <-ticker.C:
			w.flush(now.Add(-w.debounce))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	var op string
	switch {
	case event.Has(fsnotify.Create):
		op = "create"
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn().Err(err).Str("dir", event.Name).Msg("watch new directory")
			}
			return
		}
	case event.Has(fsnotify.Write):
		op = "write"
	case event.Has(fsnotify.Remove):
		op = "remove"
	case event.Has(fsnotify.Rename):
		op = "rename"
	default:
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	w.pending[filepath.ToSlash(rel)] = pendingChange{op: op, last: time.Now()}
}

// flush hands over every change last seen before cutoff. A zero cutoff flushes all.
func (w *Watcher) flush(cutoff time.Time) {
	var batch []Change
	for path, p := range w.pending {
		if !cutoff.IsZero() && p.last.After(cutoff) {
			continue
		}
		batch = append(batch, Change{Path: path, Op: p.op})
		delete(w.pending, path)
	}
	if len(batch) == 0 {
		return
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })

	w.logger.Debug().Int("changes", len(batch)).Msg("files changed")
	w.handler(batch)
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}
