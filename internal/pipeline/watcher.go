package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"jt-go/internal/jt"
)

// WatchOptions configures a Watcher.
type WatchOptions struct {
	// Volumes are collected on every poll tick.
	Volumes []string
	// DumpDirs maps a dump directory to the volumes it holds. A change in
	// the directory triggers a run of those volumes once Debounce passes
	// without further changes.
	DumpDirs     map[string][]string
	PollInterval time.Duration
	Debounce     time.Duration
	// AfterRun, when set, is called after every run, e.g. to expire the hot
	// tier.
	AfterRun func(ctx context.Context, report *RunReport)
}

// Watcher triggers runs from filesystem events and a poll ticker until its
// context ends.
type Watcher struct {
	runner *Runner
	logger jt.Logger
	opts   WatchOptions
}

func NewWatcher(runner *Runner, logger jt.Logger, opts WatchOptions) *Watcher {
	return &Watcher{runner: runner, logger: logger, opts: opts}
}

// Run blocks until ctx is done. It runs every volume once at start.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	dirs := make(map[string][]string, len(w.opts.DumpDirs))
	for dir, vols := range w.opts.DumpDirs {
		clean := filepath.Clean(dir)
		if err := fw.Add(clean); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		dirs[clean] = vols
	}

	poll := w.opts.PollInterval
	if poll <= 0 {
		poll = 30 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	pending := make(map[string]bool)

	w.run(ctx, w.opts.Volumes)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			vols, watched := dirs[filepath.Dir(ev.Name)]
			if !watched || (ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write)) {
				continue
			}
			for _, v := range vols {
				pending[v] = true
			}
			debounce.Reset(w.opts.Debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)

		case <-debounce.C:
			vols := make([]string, 0, len(pending))
			for v := range pending {
				vols = append(vols, v)
			}
			clear(pending)
			sort.Strings(vols)
			w.run(ctx, vols)

		case <-ticker.C:
			w.run(ctx, w.opts.Volumes)
		}
	}
}

func (w *Watcher) run(ctx context.Context, volumes []string) {
	if len(volumes) == 0 || ctx.Err() != nil {
		return
	}
	report, err := w.runner.Run(ctx, volumes)
	if err != nil && ctx.Err() == nil {
		w.logger.Error("collection run failed", "error", err)
	}
	if report != nil && w.opts.AfterRun != nil && ctx.Err() == nil {
		w.opts.AfterRun(ctx, report)
	}
}
