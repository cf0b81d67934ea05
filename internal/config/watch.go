package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"bridgebot/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads the config file whenever it changes and hands the reloaded bridge
// limits to onChange. Invalid reloads are logged and skipped. Watch blocks until ctx
// is done.
//
// The parent directory is watched so editors that replace the file by rename are seen.
func Watch(ctx context.Context, path string, onChange func(BridgeLimits)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	logging.Config("watching %s for changes", abs)

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(reloadDebounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.ConfigWarn("config watcher error: %v", err)
		case <-reload:
			cfg, err := Load(abs)
			if err != nil {
				logging.ConfigWarn("config reload failed: %v", err)
				continue
			}
			if err := cfg.Bridge.Validate(); err != nil {
				logging.ConfigWarn("config reload rejected: %v", err)
				continue
			}
			logging.Config("config reloaded: default_turns=%d max_turns=%d stop_token=%q",
				cfg.Bridge.DefaultTurns, cfg.Bridge.MaxTurns, cfg.Bridge.StopToken)
			onChange(cfg.Bridge)
		}
	}
}
