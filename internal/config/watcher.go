// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher hot-reloads the configuration file and notifies a callback with
// each successfully parsed revision. Invalid revisions are logged and
// skipped; the previous configuration stays active.
type Watcher struct {
	path     string
	onReload func(*Config)

	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(path string, onReload func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		onReload: onReload,
		stop:     make(chan struct{}),
	}
}

// Start begins watching the config file's directory. Watching the directory
// rather than the file survives editors that replace the file on save.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					log.Infof("Configuration changed (%s), reloading...", event.Name)
					time.Sleep(100 * time.Millisecond)
					cfg, err := LoadConfig(w.path)
					if err != nil {
						log.Errorf("Failed to reload configuration: %v", err)
						continue
					}
					w.onReload(cfg)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("Configuration watcher error: %v", err)
			case <-w.stop:
				return
			}
		}
	}()

	return nil
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		select {
		case <-w.stop:
		default:
			close(w.stop)
		}
		w.watcher.Close()
	}
}
