package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads the file at path whenever it changes and hands every valid
// result to fn. Invalid files are logged and skipped. Watch blocks until ctx
// is done.
//
// Only settings that can change at runtime should be taken from a reloaded
// config; page size and table layout are fixed once chains exist.
func Watch(ctx context.Context, path string, l *logrus.Logger, fn func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Editors often replace the file, so watch the directory.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			c, err := Load(abs)
			if err != nil {
				l.WithError(err).WithField("path", abs).Error("Failed to reload config")
				continue
			}
			l.WithField("path", abs).Info("Reloaded config")
			fn(c)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.WithError(err).Warn("Config watcher error")
		}
	}
}

// WatchLogging re-applies the logging section to l on every reload.
func WatchLogging(ctx context.Context, path string, l *logrus.Logger) error {
	return Watch(ctx, path, l, func(c Config) {
		if err := c.Logging.Apply(l); err != nil {
			l.WithError(err).Error("Failed to apply logging config")
		}
	})
}
