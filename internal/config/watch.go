package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of fsnotify events a single editor save
// typically produces into one reload.
const watchDebounce = 250 * time.Millisecond

// Watcher reloads the static policies document on change and hands the
// result to a callback, so a running gateway can pick up edited
// allow/deny/require-approval entries without a restart. Only the static
// policies.yaml document is watched — the dynamic-rule collection lives in
// the State Store and is never filesystem-watched (SPEC_FULL.md §2.1).
//
// Grounded on the reference internal/skills/manager.go's
// fsnotify.Watcher + debounced watchLoop shape.
type Watcher struct {
	path     string
	onChange func(PolicyConfig)
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher creates a Watcher over path (typically the policies.yaml
// document, which may itself be $include'd into the main config).
func NewWatcher(path string, onChange func(PolicyConfig), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, onChange: onChange, logger: logger.With("component", "config-watch")}
}

// Start begins watching. It is a no-op if already started.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := fw.Add(w.path); err != nil {
		fw.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(watchCtx)
	return nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fw := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	var err error
	if fw != nil {
		err = fw.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	w.mu.Lock()
	fw := w.watcher
	w.mu.Unlock()
	if fw == nil {
		return
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, w.reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	raw, err := LoadRaw(w.path)
	if err != nil {
		w.logger.Error("reloading policies document failed", "path", w.path, "error", err)
		return
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		w.logger.Error("decoding reloaded policies document failed", "path", w.path, "error", err)
		return
	}
	w.logger.Info("reloaded static policy configuration", "path", w.path)
	w.onChange(cfg.Policies)
}
