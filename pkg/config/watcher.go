package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gatehouse-io/gatehouse/pkg/engine"
)

// Watcher reloads the chain configuration when the config file changes and
// publishes the rebuilt registry through an engine.Holder. A reload that
// fails to parse, validate or build leaves the previous registry serving.
type Watcher struct {
	path    string
	runtime *Runtime
	holder  *engine.Holder
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewWatcher starts watching the config file's directory. The directory is
// watched rather than the file itself so atomic rename-based writes (the
// common editor and configmap update pattern) are observed.
func NewWatcher(path string, runtime *Runtime, holder *engine.Holder, logger *slog.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		path:    absPath,
		runtime: runtime,
		holder:  holder,
		logger:  logger,
		watcher: fsw,
		cancel:  cancel,
	}

	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	go w.watchLoop(ctx)

	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	debounceDuration := 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// fsnotify may report relative paths or odd separators
			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, w.reload)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload rejected, keeping previous chains", "path", w.path, "error", err)
		return
	}

	registry, err := cfg.BuildRegistry(w.runtime, w.logger)
	if err != nil {
		w.logger.Error("chain rebuild failed, keeping previous chains", "path", w.path, "error", err)
		return
	}

	w.holder.Swap(registry)
	w.logger.Info("chain configuration reloaded", "path", w.path, "chains", len(registry.Chains()))
}
