package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/hearthd/hearth/pkg/log"
)

// Watch reloads the store when the suite config file changes on disk.
// It returns a stop function. Environment overrides survive reloads since
// they are applied on every snapshot rebuild.
func (s *Store) Watch() (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(s.moduleDir); err != nil {
		watcher.Close()
		return nil, err
	}

	logger := log.WithComponent("config")
	done := make(chan struct{})

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				// Atomic persists land as a rename onto the target path.
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					logger.Warn().Err(err).Msg("config reload failed, keeping previous snapshot")
					continue
				}
				logger.Debug().Str("file", ev.Name).Msg("config reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("config watcher error")
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
