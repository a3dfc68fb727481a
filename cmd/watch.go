package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"lymbo/pkg/logging"
)

// watchDebounce collapses a burst of filesystem events (a save in an
// editor often fires several) into one re-run, mirroring the teacher's
// FilesystemDetector debounce interval in internal/reconciler.
const watchDebounce = 500 * time.Millisecond

// runWatch re-collects and re-runs the pipeline every time a watched
// path changes (SPEC_FULL.md §4.10's --watch addition), until the
// command's context is cancelled (e.g. Ctrl-C).
func runWatch(ctx context.Context, opts resolvedOptions, collectOnly bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting filesystem watcher: %w", err)
	}
	defer watcher.Close()

	for _, p := range opts.paths {
		if err := addWatchRecursive(watcher, p); err != nil {
			logging.Warn("watch", "not watching %s: %v", p, err)
		}
	}

	fmt.Printf("watching %v for changes (ctrl-c to stop)\n", opts.paths)

	lastErr := runOnce(ctx, opts, collectOnly)
	if lastErr != nil && !isRunOutcome(lastErr) {
		return lastErr
	}

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return lastErr
		case event, ok := <-watcher.Events:
			if !ok {
				return lastErr
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				fmt.Println("change detected, re-running...")
				lastErr = runOnce(ctx, opts, collectOnly)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return lastErr
			}
			logging.Warn("watch", "watcher error: %v", err)
		}
	}
}

func addWatchRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
