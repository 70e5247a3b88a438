// Package watcher auto-adds new eligible files appearing in tracked
// directories. One fsnotify watch per tracked directory (and, with
// recursive search, per subdirectory) feeds a bounded queue drained by a
// single dispatch goroutine; events are debounced per path so editors
// writing in several steps trigger one add.
//
// Events caused by the engine itself (the symlink swap during an add)
// are suppressed twice over: the engine marks paths in flight, and
// anything that is already a symlink is ignored.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/arthur-debert/dotz/pkg/classifier"
	"github.com/arthur-debert/dotz/pkg/engine"
	"github.com/arthur-debert/dotz/pkg/errors"
	"github.com/arthur-debert/dotz/pkg/logging"
)

// Options tunes watcher behavior. The zero value gets sensible defaults.
type Options struct {
	// Debounce is how long a path must stay quiet before it is added.
	Debounce time.Duration
	// RefreshInterval is how often subscriptions are reconciled with the
	// tracked-directory set.
	RefreshInterval time.Duration
	// QueueSize bounds the internal event queue; events beyond it are
	// dropped (and picked up by the next refresh scan of the directory).
	QueueSize int
}

func (o *Options) setDefaults() {
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 5 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
}

// Watcher monitors tracked directories and feeds new files to the
// engine.
type Watcher struct {
	engine *engine.Engine
	opts   Options
	fs     *fsnotify.Watcher
	logger zerolog.Logger

	queue chan string

	mu      sync.Mutex
	pending map[string]time.Time
	watched map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Watcher subscribed to every currently tracked directory.
// A directory that cannot be watched is logged and skipped; the others
// keep working.
func New(eng *engine.Engine, opts Options) (*Watcher, error) {
	opts.setDefaults()

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrWatcher, "failed to create filesystem watcher")
	}

	w := &Watcher{
		engine:  eng,
		opts:    opts,
		fs:      fs,
		logger:  logging.GetLogger("watcher"),
		queue:   make(chan string, opts.QueueSize),
		pending: make(map[string]time.Time),
		watched: make(map[string]struct{}),
		done:    make(chan struct{}),
	}

	if err := w.refreshSubscriptions(); err != nil {
		_ = fs.Close()
		return nil, err
	}
	return w, nil
}

// Watched returns how many directories are currently subscribed.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

// Start launches the collector and dispatch goroutines. It returns
// immediately; use Stop to shut down.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	go w.collect(ctx)
	go w.dispatch(ctx)

	w.logger.Info().Int("dirs", w.Watched()).Msg("watcher started")
}

// Stop shuts the watcher down and waits for the dispatch goroutine to
// finish. No add runs after Stop returns.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	_ = w.fs.Close()
	<-w.done
	w.logger.Info().Msg("watcher stopped")
}

// collect drains fsnotify and pushes candidate paths onto the bounded
// queue. Overflow is dropped; the next refresh scan will see the file.
func (w *Watcher) collect(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			select {
			case w.queue <- event.Name:
			default:
				w.logger.Debug().Str("path", event.Name).Msg("event queue full, dropping")
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(errors.Wrap(err, errors.ErrWatcher, "watch error")).Msg("filesystem watch error")
		}
	}
}

// dispatch is the single goroutine that debounces queued paths, runs the
// adds, and periodically reconciles subscriptions.
func (w *Watcher) dispatch(ctx context.Context) {
	defer close(w.done)

	flushTicker := time.NewTicker(w.opts.Debounce / 2)
	defer flushTicker.Stop()
	refreshTicker := time.NewTicker(w.opts.RefreshInterval)
	defer refreshTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			w.enqueue(path)
		case <-flushTicker.C:
			w.flush()
		case <-refreshTicker.C:
			if err := w.refreshSubscriptions(); err != nil {
				w.logger.Warn().Err(err).Msg("subscription refresh failed")
			}
		}
	}
}

// enqueue records a candidate path with the current time, restarting its
// debounce window. Directory creations extend the watch set instead:
// fsnotify watches are not recursive, so new subdirectories of a tracked
// tree need their own watch before files inside them produce events.
func (w *Watcher) enqueue(path string) {
	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		w.extendWatches(path)
		return
	}
	if !w.eligible(path) {
		return
	}
	w.mu.Lock()
	w.pending[path] = time.Now()
	w.mu.Unlock()
}

// extendWatches subscribes a freshly created subdirectory of a watched
// tree, then scans it: files can land in the window between the mkdir
// and the watch taking effect.
func (w *Watcher) extendWatches(dir string) {
	if !w.engine.Classifier().Settings().Recursive {
		return
	}
	if w.engine.Classifier().Classify(filepath.Base(dir)) == classifier.ResultExclude {
		return
	}

	w.mu.Lock()
	_, parentWatched := w.watched[filepath.Dir(dir)]
	w.mu.Unlock()
	if !parentWatched {
		return
	}

	if err := w.refreshSubscriptions(); err != nil {
		w.logger.Warn().Err(err).Msg("subscription refresh failed")
		return
	}

	found, err := w.engine.Classifier().ScanDir(dir, true)
	if err != nil {
		return
	}
	w.mu.Lock()
	for _, f := range found {
		w.pending[f] = time.Now()
	}
	w.mu.Unlock()
}

// eligible filters out engine-caused events, symlinks, directories and
// anything the pattern classifier rejects.
func (w *Watcher) eligible(path string) bool {
	if w.engine.Busy(path) {
		return false
	}

	info, err := os.Lstat(path)
	if err != nil || info.IsDir() || info.Mode()&os.ModeSymlink != 0 {
		return false
	}

	return w.engine.Classifier().Eligible(path)
}

// flush adds every pending path whose debounce window has elapsed.
func (w *Watcher) flush() {
	now := time.Now()

	w.mu.Lock()
	var due []string
	for path, seen := range w.pending {
		if now.Sub(seen) >= w.opts.Debounce {
			due = append(due, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range due {
		// Re-check: the file may have changed state during the window.
		if !w.eligible(path) {
			continue
		}
		if _, err := w.engine.Add(path, engine.AddOptions{}); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("auto-add failed")
			continue
		}
		w.logger.Info().Str("path", path).Msg("auto-added")
	}

	if len(due) > 0 {
		if err := w.refreshSubscriptions(); err != nil {
			w.logger.Warn().Err(err).Msg("subscription refresh failed")
		}
	}
}

// refreshSubscriptions reconciles fsnotify watches with the tracked
// directory set: new directories are added, untracked ones removed. A
// directory that cannot be watched is logged and dropped without taking
// the others down.
func (w *Watcher) refreshSubscriptions() error {
	want, err := w.desiredDirs()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for dir := range w.watched {
		if _, ok := want[dir]; !ok {
			_ = w.fs.Remove(dir)
			delete(w.watched, dir)
			w.logger.Debug().Str("dir", dir).Msg("unsubscribed")
		}
	}

	for dir := range want {
		if _, ok := w.watched[dir]; ok {
			continue
		}
		if err := w.fs.Add(dir); err != nil {
			w.logger.Warn().
				Err(errors.Wrapf(err, errors.ErrWatcher, "cannot watch %s", dir)).
				Str("dir", dir).
				Msg("skipping directory")
			continue
		}
		w.watched[dir] = struct{}{}
		w.logger.Debug().Str("dir", dir).Msg("subscribed")
	}
	return nil
}

// desiredDirs computes the full watch set: every tracked directory and,
// when recursive search is on, every non-excluded subdirectory beneath
// it (fsnotify watches only a single level). Walk errors skip the
// offending entry rather than failing the refresh.
func (w *Watcher) desiredDirs() (map[string]struct{}, error) {
	dirs, err := w.engine.Store().ListDirs()
	if err != nil {
		return nil, err
	}
	recursive := w.engine.Classifier().Settings().Recursive

	want := make(map[string]struct{}, len(dirs))
	for _, d := range dirs {
		want[d.HomeDirPath] = struct{}{}
		if !recursive {
			continue
		}
		_ = filepath.WalkDir(d.HomeDirPath, func(p string, entry os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !entry.IsDir() || p == d.HomeDirPath {
				return nil
			}
			if w.engine.Classifier().Classify(entry.Name()) == classifier.ResultExclude {
				return filepath.SkipDir
			}
			want[p] = struct{}{}
			return nil
		})
	}
	return want, nil
}
