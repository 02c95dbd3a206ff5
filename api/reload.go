package api

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

// reloadDebounce groups the burst of events a single save produces.
const reloadDebounce = 500 * time.Millisecond

// watch reloads the panel whenever one of files changes, until ctx is done.
// Directories are watched rather than files so atomic saves, which replace
// the inode, keep being seen. A failed reload keeps the current panel.
func (s *Server) watch(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	targets := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	s.logger.Info("api: watching inputs for changes", "files", len(targets))

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if abs, _ := filepath.Abs(event.Name); !targets[abs] {
				continue
			}
			s.logger.Debug("api: input changed", "file", event.Name, "op", event.Op.String())
			debounce = time.After(reloadDebounce)

		case <-debounce:
			debounce = nil
			_ = s.Reload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("api: watcher error", "err", err)
		}
	}
}

// schedule reloads the panel on a cron spec such as "@daily" or
// "0 6 * * 1-5". The caller stops the returned scheduler.
func (s *Server) schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		s.logger.Info("api: scheduled reload")
		_ = s.Reload(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", spec, err)
	}
	c.Start()
	s.logger.Info("api: refresh scheduled", "spec", spec)
	return c, nil
}
