package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the burst of fsnotify events editors emit for a
// single save (write + chmod + rename dance).
const debounceWindow = 250 * time.Millisecond

// Watch re-loads the config file whenever it changes on disk and delivers the
// new Config through onChange. It watches the parent directory rather than
// the file itself so atomic-rename saves keep being observed. Blocks until
// ctx is canceled. A config that fails to load is logged and skipped — the
// previous configuration stays in effect.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	logger.Info("watching config file", "path", path)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerCh = timer.C
			} else {
				timer.Reset(debounceWindow)
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", watchErr.Error()))

		case <-timerCh:
			timerCh = nil
			timer = nil

			cfg, loadErr := Load(path)
			if loadErr != nil {
				logger.Warn("config reload failed, keeping previous configuration",
					slog.String("error", loadErr.Error()))

				continue
			}

			logger.Info("config reloaded", "path", path)
			onChange(cfg)
		}
	}
}
