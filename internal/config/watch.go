package config

import (
	"context"
	"fmt"
	"path/filepath"

	"mlbot/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path whenever it is written and passes the new config to
// onChange. Invalid edits are logged and skipped. It blocks until ctx ends.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()
	// Editors often replace the file, so watch the directory.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			cfg, err := Load(abs)
			if err != nil {
				logger.Warnf("[config] reload %s: %v", abs, err)
				continue
			}
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("[config] watch: %v", err)
		}
	}
}

// ApplyLogLevel is the onChange used by the bot: only log settings are
// applied at runtime.
func ApplyLogLevel(cfg *Config) {
	logger.SetVerbose(cfg.Verbose, cfg.App.LogLevel)
	logger.Infof("[config] log level now %s", logger.Level())
}
