package policy

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads policy tables into an engine when the table file changes.
// Changes are debounced so editors that write in several steps trigger one
// reload.
type Watcher struct {
	path     string
	engine   *Engine
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher for the given table file.
func NewWatcher(path string, engine *Engine, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		engine:   engine,
		watcher:  fsw,
		logger:   logger,
		debounce: 200 * time.Millisecond,
	}, nil
}

// Run watches until the context is cancelled. It never returns an error to
// the caller; reload failures are logged and the previous tables stay live.
func (w *Watcher) Run(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()

	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Policy table watch error", "path", w.path, "error", err)

		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	tables, err := LoadTables(w.path)
	if err != nil {
		w.logger.Warn("Policy table reload failed, keeping previous tables",
			"path", w.path,
			"error", err)
		return
	}
	w.engine.SetTables(tables)
	w.logger.Info("Policy tables reloaded",
		"path", w.path,
		"multipliers", len(tables.Multipliers),
		"recipient_tables", len(tables.Recipients))
}
