// Package watch enqueues bake jobs for documents dropped into a directory.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Faultbox/aobake/internal/jobs"
	"github.com/Faultbox/aobake/internal/logger"
)

// DefaultDebounce is the quiet period after the last write to a file
// before it is enqueued.
const DefaultDebounce = time.Second

// Enqueuer accepts jobs. jobs.Queue implements it.
type Enqueuer interface {
	Enqueue(args jobs.Args) string
}

// Options configures a Watcher.
type Options struct {
	// Pattern is matched against file base names, e.g. "*.igxc".
	Pattern  string
	Debounce time.Duration
	// Resolution is added to every job when positive.
	Resolution int
}

// Watcher turns file events in one directory into jobs.
type Watcher struct {
	dir   string
	opts  Options
	queue Enqueuer
	log   *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer

	fs   *fsnotify.Watcher
	done chan struct{}
}

// New creates a watcher for dir.
func New(dir string, queue Enqueuer, opts Options) *Watcher {
	if opts.Pattern == "" {
		opts.Pattern = "*.igxc"
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Watcher{
		dir:     dir,
		opts:    opts,
		queue:   queue,
		log:     logger.Named("watch"),
		pending: make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}
}

// Start begins watching. Events are processed until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := filepath.Match(w.opts.Pattern, ""); err != nil {
		return fmt.Errorf("invalid pattern %q: %w", w.opts.Pattern, err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := fs.Add(w.dir); err != nil {
		fs.Close()
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.fs = fs
	w.log.Info("watching", zap.String("dir", w.dir), zap.String("pattern", w.opts.Pattern))

	go w.loop(ctx)
	return nil
}

// Done is closed once the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} { return w.done }

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.fs.Close()
	defer w.cancelPending()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.notify(ev.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

// notify schedules path for enqueueing once it has been quiet for the
// debounce window.
func (w *Watcher) notify(path string) {
	if ok, _ := filepath.Match(w.opts.Pattern, filepath.Base(path)); !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.opts.Debounce, func() { w.fire(path) })
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()

	args := jobs.Args{"file": path}
	if w.opts.Resolution > 0 {
		args["resolution"] = w.opts.Resolution
	}
	id := w.queue.Enqueue(args)
	w.log.Info("file enqueued", zap.String("file", path), zap.String("job", id))
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
}
