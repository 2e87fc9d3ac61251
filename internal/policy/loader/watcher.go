package loader

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce     = 500 * time.Millisecond
	defaultPollInterval = time.Minute
)

// Watcher reloads policies when documents in a FileSource directory
// change. Filesystem events are debounced; a polling pass catches changes
// fsnotify misses (network mounts, atomic symlink swaps).
type Watcher struct {
	loader       *Loader
	dir          string
	debounce     time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

type WatcherOption func(*Watcher)

func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithPollInterval sets the polling fallback interval. Zero disables it.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.pollInterval = d }
}

func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

func NewWatcher(l *Loader, dir string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		loader:       l,
		dir:          dir,
		debounce:     defaultDebounce,
		pollInterval: defaultPollInterval,
		logger:       l.logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	var events <-chan fsnotify.Event
	var errs <-chan error

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.WarnContext(ctx, "policy watcher unavailable; polling only", "error", err)
	} else {
		defer fw.Close()
		if err := fw.Add(w.dir); err != nil {
			w.logger.WarnContext(ctx, "cannot watch policy dir; polling only", "dir", w.dir, "error", err)
		} else {
			events, errs = fw.Events, fw.Errors
			w.logger.InfoContext(ctx, "watching policy dir", "dir", w.dir)
		}
	}

	var poll <-chan time.Time
	if w.pollInterval > 0 {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()
	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			code, ok := CodeFromFilename(filepath.Base(event.Name))
			if !ok || event.Op == fsnotify.Chmod {
				continue
			}
			pending[code] = struct{}{}
			debounce.Reset(w.debounce)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.ErrorContext(ctx, "policy watcher error", "error", err)

		case <-debounce.C:
			codes := make([]string, 0, len(pending))
			for code := range pending {
				codes = append(codes, code)
			}
			clear(pending)
			w.reload(ctx, codes)

		case <-poll:
			w.reload(ctx, nil)
		}
	}
}

func (w *Watcher) reload(ctx context.Context, codes []string) {
	report, err := w.loader.ReloadAll(ctx, codes...)
	if err != nil {
		w.logger.ErrorContext(ctx, "policy reload failed", "error", err)
	}
	if len(report.Reloaded) > 0 || len(report.Errors) > 0 || len(report.Missing) > 0 {
		w.logger.InfoContext(ctx, "policy reload complete",
			"reloaded", report.Reloaded,
			"invalid", len(report.Errors),
			"missing", report.Missing,
		)
	}
}
