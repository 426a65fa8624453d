package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName holds gitignore-style patterns for names in the watched
// directory that must never be uploaded. It is re-read whenever it changes.
const IgnoreFileName = ".cloudstackignore"

const (
	// DefaultSettle is how long a file must go without writes before it is
	// considered complete.
	DefaultSettle = 2 * time.Second

	watchErrInitBackoff = 1 * time.Second
	watchErrBackoffMult = 2
	watchErrMaxBackoff  = 30 * time.Second
)

// fsWatcher is the subset of *fsnotify.Watcher the loop uses.
type fsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (f *fsnotifyWrapper) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWrapper) Close() error                  { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error          { return f.w.Errors }

func newFsnotifyWatcher() (fsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWrapper{w: w}, nil
}

// WatchOptions configures a Watcher.
type WatchOptions struct {
	Settle time.Duration // zero means DefaultSettle
	// OnResult is called after every upload attempt. Optional.
	OnResult func(Result, error)
}

// Watcher uploads files dropped into a directory. A file is uploaded once,
// after it has been created and then gone Settle without a write. Files
// already present when the watch starts are left alone. Subdirectories are
// not descended into.
type Watcher struct {
	dir    string
	up     Uploader
	opts   WatchOptions
	logger *slog.Logger

	newWatcher func() (fsWatcher, error)
	sleepFunc  func(ctx context.Context, d time.Duration) error
	now        func() time.Time

	// pending maps a path to its last create/write time.
	pending map[string]time.Time
	// uploaded holds paths already uploaded since their last create.
	uploaded map[string]struct{}
	// ignore is the compiled IgnoreFileName, nil when absent.
	ignore *ignore.GitIgnore
}

// NewWatcher returns a Watcher for dir. Call Run to start it.
func NewWatcher(dir string, up Uploader, opts WatchOptions, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}

	return &Watcher{
		dir:        dir,
		up:         up,
		opts:       opts,
		logger:     logger,
		newWatcher: newFsnotifyWatcher,
		sleepFunc:  timeSleep,
		now:        time.Now,
		pending:    make(map[string]time.Time),
		uploaded:   make(map[string]struct{}),
	}
}

// Run watches until ctx is canceled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("watching %s: not a directory", w.dir)
	}

	watcher, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	w.loadIgnore()

	w.logger.Info("watching drop folder", slog.String("dir", w.dir), slog.Duration("settle", w.opts.Settle))

	return w.watchLoop(ctx, watcher)
}

func (w *Watcher) watchLoop(ctx context.Context, watcher fsWatcher) error {
	ticker := time.NewTicker(w.opts.Settle / 2)
	defer ticker.Stop()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			w.handleEvent(ev)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := w.sleepFunc(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}

		case <-ticker.C:
			w.flushSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	// Mode changes alone do not alter content.
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	if filepath.Base(ev.Name) == IgnoreFileName {
		w.loadIgnore()
		return
	}

	if skipName(filepath.Base(ev.Name)) || w.ignored(ev.Name) {
		w.logger.Debug("watch: skipping file", slog.String("path", ev.Name))
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		delete(w.uploaded, ev.Name)
		w.pending[ev.Name] = w.now()

	case ev.Has(fsnotify.Write):
		if _, done := w.uploaded[ev.Name]; done {
			return
		}

		w.pending[ev.Name] = w.now()

	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		delete(w.pending, ev.Name)
		delete(w.uploaded, ev.Name)
	}
}

// flushSettled uploads every pending file whose last write is older than
// the settle interval.
func (w *Watcher) flushSettled(ctx context.Context) {
	cutoff := w.now().Add(-w.opts.Settle)

	for path, last := range w.pending {
		if last.After(cutoff) {
			continue
		}

		delete(w.pending, path)

		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		res, err := uploadOne(ctx, w.up, path)
		if err != nil {
			w.logger.Error("drop-folder upload failed", slog.String("path", path), slog.String("error", err.Error()))
		} else {
			w.uploaded[path] = struct{}{}
			w.logger.Info("drop-folder upload complete", slog.String("path", path), slog.Int64("size", res.Size))
		}

		if w.opts.OnResult != nil {
			w.opts.OnResult(res, err)
		}
	}
}

// loadIgnore (re)compiles the ignore file. A missing file clears the
// patterns; an unreadable one keeps the previous patterns.
func (w *Watcher) loadIgnore() {
	path := filepath.Join(w.dir, IgnoreFileName)

	gi, err := ignore.CompileIgnoreFile(path)

	switch {
	case err == nil:
		w.ignore = gi
		w.logger.Debug("loaded ignore file", slog.String("path", path))
	case errors.Is(err, fs.ErrNotExist):
		w.ignore = nil
	default:
		w.logger.Warn("reading ignore file failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func (w *Watcher) ignored(path string) bool {
	if w.ignore == nil {
		return false
	}

	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return false
	}

	return w.ignore.MatchesPath(filepath.ToSlash(rel))
}

// skipName reports names never uploaded from a drop folder, such as
// dotfiles or in-progress downloads.
func skipName(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".partial") ||
		strings.HasSuffix(name, ".tmp")
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
