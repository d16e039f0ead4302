// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rollback

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/rollback-webhook/pkg/logging"
)

// StoreWatcher logs external modifications to the version store file.
//
// # Description
//
// The store is shared mutable state: workshop setup scripts and operators
// edit it outside the webhook. The watcher does not defend against that —
// it only surfaces it, so a participant staring at a surprising pin has a
// log line explaining when the file changed under the service.
//
// The watch is on the store's directory, not the file itself, because the
// store's atomic rewrite (temp file + rename) replaces the inode and a
// file-level watch would go stale after the first write.
//
// # Lifecycle
//
// Start the watcher once at startup; it stops when the context is
// cancelled or Close is called.
type StoreWatcher struct {
	storePath string
	log       *logging.Logger
	watcher   *fsnotify.Watcher
}

// NewStoreWatcher creates a watcher for the store file at storePath.
func NewStoreWatcher(storePath string, log *logging.Logger) (*StoreWatcher, error) {
	if log == nil {
		log = logging.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(storePath)); err != nil {
		w.Close()
		return nil, err
	}
	return &StoreWatcher{storePath: storePath, log: log, watcher: w}, nil
}

// Run consumes filesystem events until the context is cancelled. Call in a
// goroutine.
func (sw *StoreWatcher) Run(ctx context.Context) {
	base := filepath.Base(sw.storePath)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				sw.log.Info("version store changed on disk",
					"path", sw.storePath, "op", event.Op.String())
			}

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.log.Warn("version store watcher error", "error", err)
		}
	}
}

// Close releases the underlying filesystem watcher.
func (sw *StoreWatcher) Close() error {
	return sw.watcher.Close()
}
