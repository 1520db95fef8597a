package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jonwraymond/semian/observe"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Path is the config file to watch.
	Path string

	// Target receives the reloaded resolver.
	Target *ReloadingResolver

	// Debounce collapses bursts of events.
	// Default: DefaultDebounce
	Debounce time.Duration

	// Logger reports reloads and failures.
	// Default: no logging
	Logger observe.Logger

	// OnReload is called with every successfully applied configuration.
	OnReload func(*Config)
}

// Watcher reloads a config file when it changes and swaps the resolver
// behind Target. A file that fails to load leaves the previous options in
// place.
type Watcher struct {
	path     string
	target   *ReloadingResolver
	debounce time.Duration
	logger   observe.Logger
	onReload func(*Config)
}

// NewWatcher creates a watcher. Call Run to start it.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, errors.New("config: watcher path is required")
	}
	if cfg.Target == nil {
		return nil, errors.New("config: watcher target is required")
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher path: %w", err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NewLoggerWithWriter("error", io.Discard)
	}
	return &Watcher{
		path:     path,
		target:   cfg.Target,
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
		onReload: cfg.OnReload,
	}, nil
}

// Reload loads the file once and applies it.
func (w *Watcher) Reload(ctx context.Context) error {
	cfg, err := Load(ctx, w.path)
	if err != nil {
		return err
	}
	r, err := cfg.Resolver()
	if err != nil {
		return err
	}
	w.target.Swap(r)
	if w.onReload != nil {
		w.onReload(cfg)
	}
	return nil
}

// Run watches the file's directory until ctx is done. Editors that replace
// the file by rename are handled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", w.path, err)
	}
	w.logger.Info(ctx, "watching config", observe.Field{Key: "path", Value: w.path})

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := w.Reload(ctx); err != nil {
				w.logger.Error(ctx, "config reload failed",
					observe.Field{Key: "path", Value: w.path},
					observe.Field{Key: "error", Value: err},
				)
				continue
			}
			w.logger.Info(ctx, "config reloaded", observe.Field{Key: "path", Value: w.path})

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error(ctx, "config watcher error", observe.Field{Key: "error", Value: err})
		}
	}
}
