package config

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// OverlayWatcher reloads the accessor whenever the overlay file changes on disk.
type OverlayWatcher struct {
	accessor *Accessor
	watcher  *fsnotify.Watcher
	target   string
	reloaded chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Watch starts watching the overlay file. The parent directory is watched so that
// editors replacing the file through a rename are still seen.
func (a *Accessor) Watch() (*OverlayWatcher, error) {
	if a.overlayPath == "" {
		return nil, errors.New("no config overlay configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		a.logger.WithCaller().Error("Failed to create config watcher", a.logger.Args("error", err))
		return nil, err
	}

	target, err := filepath.Abs(a.overlayPath)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		a.logger.Warn("Failed to watch config directory", a.logger.Args("path", filepath.Dir(target), "error", err))
		return nil, err
	}

	ow := &OverlayWatcher{
		accessor: a,
		watcher:  watcher,
		target:   target,
		reloaded: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	ow.wg.Add(1)
	go ow.eventLoop()

	a.logger.Info("Watching config overlay", a.logger.Args("path", target))
	return ow, nil
}

func (ow *OverlayWatcher) eventLoop() {
	defer ow.wg.Done()
	logger := ow.accessor.logger

	for {
		select {
		case <-ow.stopCh:
			return

		case event, ok := <-ow.watcher.Events:
			if !ok {
				return
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != ow.target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}

			if err := ow.accessor.Reload(); err != nil {
				logger.WithCaller().Error("Config overlay reload failed", logger.Args("path", ow.target, "error", err))
				continue
			}
			logger.Info("Config overlay reloaded", logger.Args("path", ow.target, "op", event.Op.String()))
			select {
			case ow.reloaded <- struct{}{}:
			default:
			}

		case err, ok := <-ow.watcher.Errors:
			if !ok {
				return
			}
			logger.WithCaller().Error("Config watcher error", logger.Args("error", err))
		}
	}
}

// Reloaded signals after each successful reload. Signals coalesce when nobody is reading.
func (ow *OverlayWatcher) Reloaded() <-chan struct{} {
	return ow.reloaded
}

// Close stops the watcher.
func (ow *OverlayWatcher) Close() error {
	close(ow.stopCh)
	ow.wg.Wait()
	return ow.watcher.Close()
}
