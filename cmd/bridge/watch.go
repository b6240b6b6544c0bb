package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/logging"
)

const debounceDelay = 200 * time.Millisecond

// watchBundles re-evaluates changed bundles matching patterns until ctx is
// done. Changes are debounced and evaluated on this goroutine in name order.
func watchBundles(ctx context.Context, r *runner, patterns []string, emitDir string, logger *logging.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range watchDirs(patterns) {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	r.printf("%s\n", titleStyle.Render("watching for changes, press Ctrl+C to stop"))

	pending := make(map[string]bool)
	timer := time.NewTimer(debounceDelay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !matches(patterns, event.Name) || !r.loader.Allowed(event.Name) {
				continue
			}
			pending[event.Name] = true
			timer.Reset(debounceDelay)

		case <-timer.C:
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			clear(pending)

			bundles, err := r.loader.Files(names...)
			if err != nil {
				logger.Warn("reload failed", zap.Error(err))
				continue
			}
			r.runAll(bundles, emitDir)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

// watchDirs returns the directories that cover patterns. Directories
// named outright are watched with every subdirectory.
func watchDirs(patterns []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	for _, pattern := range patterns {
		if info, err := os.Stat(pattern); err == nil {
			if !info.IsDir() {
				add(filepath.Dir(pattern))
				continue
			}
			_ = filepath.WalkDir(pattern, func(p string, d os.DirEntry, err error) error {
				if err == nil && d.IsDir() {
					add(p)
				}
				return nil
			})
			continue
		}
		base, _ := doublestar.SplitPattern(filepath.ToSlash(pattern))
		add(filepath.FromSlash(base))
	}
	return dirs
}

// matches reports whether name is covered by one of patterns
func matches(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if info, err := os.Stat(pattern); err == nil {
			if !info.IsDir() {
				if filepath.Clean(pattern) == filepath.Clean(name) {
					return true
				}
				continue
			}
			if rel, err := filepath.Rel(pattern, name); err == nil && !filepath.IsAbs(rel) && rel != ".." && !hasParentPrefix(rel) {
				return true
			}
			continue
		}
		if ok, _ := doublestar.PathMatch(pattern, name); ok {
			return true
		}
	}
	return false
}

func hasParentPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
