package sheet

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces the burst of events a spreadsheet export emits
const DefaultDebounce = 500 * time.Millisecond

// Watch calls onChange after the file at path is written or replaced and
// stays quiet for debounce. The parent directory is watched so atomic
// saves (temp file then rename) are seen. Watch blocks until ctx is done;
// onChange errors are logged and do not stop the watch.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func() error, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	logger.Info("Watching sheet", zap.String("path", target))

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := onChange(); err != nil {
				logger.Warn("Sheet change handler failed", zap.String("path", target), zap.Error(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error", zap.Error(err))
		}
	}
}
