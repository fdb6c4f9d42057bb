// Package watch monitors security-relevant system files for modification and
// feeds the SYSTEM_FILES_MODIFIED tamper probe.
package watch

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/nexivo/sentinel/pkg/logger"
)

// SystemWatcher watches a fixed set of paths and latches a modified flag on
// any write, rename, chmod or removal. The flag stays set until cleared by
// an advanced tamper sweep that has recorded the incident.
type SystemWatcher struct {
	watcher *fsnotify.Watcher
	logger  logger.Logger

	mu       sync.Mutex
	modified bool
	lastPath string
}

// NewSystemWatcher creates a watcher over the given paths. Paths that do not
// exist on this device are skipped rather than failing startup.
func NewSystemWatcher(paths []string, log logger.Logger) (*SystemWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &SystemWatcher{
		watcher: fw,
		logger:  log.WithComponent("system-watcher"),
	}

	for _, p := range paths {
		if err := fw.Add(p); err != nil {
			w.logger.Warn(context.Background(), "Skipping unwatchable path",
				logger.String("path", p),
				logger.String("reason", err.Error()),
			)
		}
	}

	return w, nil
}

// Run consumes watcher events until the context is cancelled.
func (w *SystemWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod|fsnotify.Create) != 0 {
				w.mu.Lock()
				w.modified = true
				w.lastPath = event.Name
				w.mu.Unlock()
				w.logger.Warn(ctx, "Monitored system path modified",
					logger.String("path", event.Name),
					logger.String("op", event.Op.String()),
				)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watcher errors are detection failures: logged, never fatal.
			w.logger.Error(ctx, "System watcher error", err)
		}
	}
}

// Modified reports whether any monitored path changed since the last Reset,
// together with the last affected path.
func (w *SystemWatcher) Modified() (bool, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.modified, w.lastPath
}

// Reset clears the latched flag after the finding has been recorded.
func (w *SystemWatcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.modified = false
	w.lastPath = ""
}

// Close releases the underlying watcher.
func (w *SystemWatcher) Close() error {
	return w.watcher.Close()
}
