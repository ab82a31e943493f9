// Package watcher keeps the index in step with directories on disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hyperjump/ragchain/internal/ingest"
	"github.com/hyperjump/ragchain/pkg/utils"
)

// DefaultDebounce is how long a file must stay quiet before it is ingested.
const DefaultDebounce = 400 * time.Millisecond

var watchEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ragchain_watch_events_total",
		Help: "File events handled by the directory watcher.",
	},
	[]string{"action", "outcome"},
)

func init() {
	prometheus.MustRegister(watchEvents)
}

// Handler ingests and removes the files the watcher reports.
// *ingest.Pipeline satisfies it.
type Handler interface {
	Supports(path string) bool
	IngestFile(ctx context.Context, path string) (*ingest.FileResult, error)
	IngestDirectory(ctx context.Context, dir string, recursive bool) ([]*ingest.FileResult, error)
	RemoveFile(ctx context.Context, path string) (int, error)
}

// Watcher re-ingests files under its roots when they change and removes the
// passages of deleted files.
type Watcher struct {
	handler   Handler
	recursive bool
	debounce  time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	roots   map[string]struct{}
	pending map[string]*time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = utils.OrNop(l) }
}

// WithDebounce sets the quiet period before a changed file is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher over roots. Nothing is watched until Start.
func New(h Handler, roots []string, recursive bool, opts ...Option) *Watcher {
	w := &Watcher{
		handler:   h,
		recursive: recursive,
		debounce:  DefaultDebounce,
		logger:    zap.NewNop(),
		roots:     make(map[string]struct{}),
		pending:   make(map[string]*time.Timer),
	}
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			w.roots[abs] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. Missing roots are created. Handler calls made by the
// watcher use a context derived from ctx.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		_ = fsw.Close()
		return errors.New("watcher already started")
	}
	w.fsw = fsw
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	var errs error
	for root := range w.roots {
		errs = multierr.Append(errs, w.watchRootLocked(root))
	}
	w.mu.Unlock()

	go w.loop(fsw, w.done)
	return errs
}

// Stop ends watching and drops pending ingests. It waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fsw, done, cancel := w.fsw, w.done, w.cancel
	w.fsw = nil
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if fsw == nil {
		return
	}
	cancel()
	_ = fsw.Close()
	<-done
}

// Sync ingests every supported file already present under the roots.
func (w *Watcher) Sync(ctx context.Context) ([]*ingest.FileResult, error) {
	var (
		all  []*ingest.FileResult
		errs error
	)
	for _, root := range w.Roots() {
		res, err := w.handler.IngestDirectory(ctx, root, w.recursive)
		all = append(all, res...)
		errs = multierr.Append(errs, err)
	}
	return all, errs
}

// AddRoot starts watching dir, creating it if missing.
func (w *Watcher) AddRoot(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.roots[abs]; ok {
		return nil
	}
	w.roots[abs] = struct{}{}
	if w.fsw == nil {
		return nil
	}
	return w.watchRootLocked(abs)
}

// RemoveRoot stops watching dir and the directories beneath it. Stored
// passages are left in place.
func (w *Watcher) RemoveRoot(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.roots[abs]; !ok {
		return fmt.Errorf("not a watched root: %s", abs)
	}
	delete(w.roots, abs)
	if w.fsw == nil {
		return nil
	}
	for _, p := range w.fsw.WatchList() {
		if inDir(abs, p) && !w.coveredLocked(p) {
			_ = w.fsw.Remove(p)
		}
	}
	return nil
}

// Roots returns the watched roots in sorted order.
func (w *Watcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.roots))
	for r := range w.roots {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) watchRootLocked(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create root %s: %w", root, err)
	}
	return w.watchTreeLocked(root)
}

// watchTreeLocked adds dir, and its subdirectories when recursive.
func (w *Watcher) watchTreeLocked(dir string) error {
	if !w.recursive {
		return w.fsw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("watch directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

// coveredLocked reports whether path is inside another root.
func (w *Watcher) coveredLocked(path string) bool {
	for r := range w.roots {
		if inDir(r, path) {
			return true
		}
	}
	return false
}

func (w *Watcher) loop(fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) {
				w.addDirectory(path)
			}
			return
		}
		if w.handler.Supports(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancelPending(path)
		if w.handler.Supports(path) {
			w.remove(path)
		}
	}
}

// addDirectory watches a directory that appeared under a root and queues its
// files, which may have been written before the watch was in place.
func (w *Watcher) addDirectory(dir string) {
	if !w.recursive || strings.HasPrefix(filepath.Base(dir), ".") {
		return
	}
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	err := w.watchTreeLocked(dir)
	w.mu.Unlock()
	if err != nil {
		w.logger.Warn("watch new directory", zap.String("path", dir), zap.Error(err))
	}

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if w.handler.Supports(path) {
			w.schedule(path)
		}
		return nil
	})
}

// schedule ingests path once it has been quiet for the debounce period.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		ctx := w.ctx
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	res, err := w.handler.IngestFile(ctx, path)
	if err != nil {
		watchEvents.WithLabelValues("ingest", "error").Inc()
		w.logger.Error("ingest file", zap.String("path", path), zap.Error(err))
		return
	}
	if res.Skipped {
		watchEvents.WithLabelValues("ingest", "skipped").Inc()
		return
	}
	watchEvents.WithLabelValues("ingest", "ok").Inc()
	fields := []zap.Field{zap.String("path", path), zap.Int("removed", res.Removed)}
	if res.Report != nil {
		fields = append(fields, zap.Int("indexed", len(res.Report.Indexed)), zap.Int("failed", len(res.Report.Failed)))
	}
	w.logger.Info("ingested file", fields...)
}

func (w *Watcher) remove(path string) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	n, err := w.handler.RemoveFile(ctx, path)
	if err != nil {
		watchEvents.WithLabelValues("remove", "error").Inc()
		w.logger.Error("remove file", zap.String("path", path), zap.Error(err))
		return
	}
	watchEvents.WithLabelValues("remove", "ok").Inc()
	if n > 0 {
		w.logger.Info("removed file", zap.String("path", path), zap.Int("passages", n))
	}
}

// inDir reports whether path is dir or lies beneath it.
func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
