// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the write bursts editors and config-map syncs
// produce into a single reload.
const watchDebounce = 250 * time.Millisecond

// ChangeHandler receives the freshly loaded configuration after the file
// changes on disk. It runs on the watcher goroutine; handlers that need to
// block should hand off.
type ChangeHandler func(cfg Config)

// Watcher reloads the configuration file when it changes.
//
// # Description
//
// Only runtime-safe knobs should be acted on by the handler; the watcher
// itself just reloads and revalidates the whole file and reports it. A file
// that fails to parse or validate is logged and skipped, keeping the last
// good configuration in force. Watching the parent directory, not the file,
// survives the rename-over-replace pattern config-map mounts use.
//
// # Thread Safety
//
// Start and Stop are safe to call from any goroutine. Start is idempotent
// while running.
type Watcher struct {
	path    string
	handler ChangeHandler
	log     *slog.Logger

	runningMu sync.Mutex
	running   bool
	stopChan  chan struct{}
	wg        sync.WaitGroup

	fsw *fsnotify.Watcher
}

// NewWatcher builds a watcher for the given configuration file.
func NewWatcher(path string, handler ChangeHandler, log *slog.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config watcher: path is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("config watcher: handler is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		path:    filepath.Clean(path),
		handler: handler,
		log:     log.With("component", "config_watcher"),
	}, nil
}

// Start begins watching. No-op when already running.
func (w *Watcher) Start() error {
	w.runningMu.Lock()
	defer w.runningMu.Unlock()
	if w.running {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(w.path), err)
	}

	w.fsw = fsw
	w.stopChan = make(chan struct{})
	w.running = true
	w.wg.Add(1)
	go w.loop()

	w.log.Info("watching configuration file", "path", w.path)
	return nil
}

// Stop halts watching and waits for the watch goroutine to exit.
func (w *Watcher) Stop() {
	w.runningMu.Lock()
	defer w.runningMu.Unlock()
	if !w.running {
		return
	}
	close(w.stopChan)
	w.fsw.Close()
	w.wg.Wait()
	w.running = false
}

// loop consumes fsnotify events, debounces them, and fires the handler.
func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.stopChan:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watch error", "error", err)
		}
	}
}

// reload re-reads the file and hands the result to the handler. Failures
// keep the previous configuration in force.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("ignoring invalid configuration change", "path", w.path, "error", err)
		return
	}
	w.log.Info("configuration file changed", "path", w.path)
	w.handler(cfg)
}
