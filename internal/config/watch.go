package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"orchestra/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 100 * time.Millisecond

// Watcher reloads settings when the config file changes.
type Watcher struct {
	fs       *fsnotify.Watcher
	opts     LoadOptions
	path     string
	logger   *logging.Logger
	onChange func(Settings)
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
	once  sync.Once
}

// Watch observes the directory holding opts.Path so that editors which
// replace the file by rename are still seen. onChange receives every
// successful reload; failed reloads are logged and the old settings stay.
func Watch(ctx context.Context, opts LoadOptions, logger *logging.Logger, onChange func(Settings)) (*Watcher, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("watch config: no path")
	}
	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}
	w := &Watcher{
		fs:       fsw,
		opts:     opts,
		path:     path,
		logger:   logger,
		onChange: onChange,
		debounce: defaultWatchDebounce,
		done:     make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	var err error
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		err = w.fs.Close()
	})
	return err
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return
		case <-w.done:
			return
		case evt, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != w.path {
				continue
			}
			if evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create) || evt.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", map[string]string{"error": err.Error()})
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.reload)
		return
	}
	w.timer.Reset(w.debounce)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}
	settings, err := Load(w.opts)
	if err != nil {
		w.logger.Warn("config reload failed", map[string]string{
			"path":  w.path,
			"error": err.Error(),
		})
		return
	}
	w.logger.Info("config reloaded", map[string]string{"path": w.path})
	if w.onChange != nil {
		w.onChange(settings)
	}
}

// ApplyLogLevel returns a reload callback that moves logger to the reloaded
// log.level.
func ApplyLogLevel(logger *logging.Logger) func(Settings) {
	return func(settings Settings) {
		if logger.Level() == settings.Log.Level {
			return
		}
		logger.Info("log level changed", map[string]string{
			"from": string(logger.Level()),
			"to":   string(settings.Log.Level),
		})
		logger.SetLevel(settings.Log.Level)
	}
}
