// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch reports batches of changed .lean files under a project.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// Op is the kind of change seen for a file.
type Op int

const (
	// OpWrite means the file was created or modified.
	OpWrite Op = iota

	// OpRemove means the file was deleted or renamed away.
	OpRemove
)

// String returns the string representation of the operation.
func (op Op) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Change is one debounced change to a source file.
type Change struct {
	// Path is the absolute path of the file.
	Path string

	// Rel is Path relative to the watched root, slash-separated.
	Rel string

	// Op is the latest operation seen within the batch.
	Op Op
}

// Handler receives each batch of changes, sorted by Rel.
// Handlers run one at a time on the watcher's goroutine.
type Handler func(ctx context.Context, changes []Change)

// Options configures a Watcher.
type Options struct {
	// Debounce is how long the tree must be quiet before a batch is
	// delivered. Default: 300ms
	Debounce time.Duration

	// SkipDirs are directory names never watched.
	SkipDirs []string

	// Ext selects the files reported. Default: ".lean"
	Ext string

	// BufferSize bounds undelivered raw events. Default: 1024
	BufferSize int

	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Debounce <= 0 {
		o.Debounce = 300 * time.Millisecond
	}
	if o.Ext == "" {
		o.Ext = ".lean"
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 1024
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher watches a project tree and delivers debounced batches of
// source file changes.
//
// # Debouncing
//
// Raw events are collected until no new event arrives for the debounce
// window, then deduplicated per file (latest operation wins) and handed
// to the handler. Events that arrive while the handler runs start the
// next batch.
//
// # Thread Safety
//
// Run must be called once. The handler is called from a single goroutine.
type Watcher struct {
	root    string
	opts    Options
	handler Handler
	skip    map[string]struct{}
	fsw     *fsnotify.Watcher
	changes chan Change
}

// New creates a watcher for root. Nothing is watched until Run.
func New(root string, handler Handler, opts Options) (*Watcher, error) {
	opts.applyDefaults()
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	skip := make(map[string]struct{}, len(opts.SkipDirs))
	for _, d := range opts.SkipDirs {
		skip[d] = struct{}{}
	}
	return &Watcher{
		root:    abs,
		opts:    opts,
		handler: handler,
		skip:    skip,
		fsw:     fsw,
		changes: make(chan Change, opts.BufferSize),
	}, nil
}

// Run watches until ctx is cancelled. A batch pending at cancellation is
// dropped. Returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	w.opts.Logger.Info("watching", slog.String("root", w.root), slog.Duration("debounce", w.opts.Debounce))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.processEvents(ctx) })
	g.Go(func() error { return w.debounceLoop(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.skipped(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) skipped(name string) bool {
	_, ok := w.skip[name]
	return ok
}

// relevant reports whether path is a watched source file outside any
// skipped directory.
func (w *Watcher) relevant(path string) (string, bool) {
	if filepath.Ext(path) != w.opts.Ext {
		return "", false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	dir := filepath.Dir(filepath.FromSlash(rel))
	for dir != "." && dir != string(filepath.Separator) {
		if w.skipped(filepath.Base(dir)) {
			return "", false
		}
		dir = filepath.Dir(dir)
	}
	return rel, true
}

func (w *Watcher) processEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !w.skipped(info.Name()) {
						if err := w.addRecursive(event.Name); err != nil {
							w.opts.Logger.Warn("watch new directory failed", slog.String("error", err.Error()))
						}
					}
					continue
				}
			}

			rel, ok := w.relevant(event.Name)
			if !ok {
				continue
			}
			change := Change{Path: event.Name, Rel: rel, Op: convertOp(event.Op)}

			select {
			case w.changes <- change:
			default:
				w.opts.Logger.Warn("change buffer full, dropping event", slog.String("file", rel))
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.opts.Logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func convertOp(op fsnotify.Op) Op {
	if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
		return OpRemove
	}
	return OpWrite
}

func (w *Watcher) debounceLoop(ctx context.Context) error {
	var batch []Change
	timer := time.NewTimer(w.opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case change := <-w.changes:
			batch = append(batch, change)
			timer.Reset(w.opts.Debounce)

		case <-timer.C:
			if len(batch) == 0 {
				continue
			}
			deduped := Deduplicate(batch)
			batch = nil
			if w.handler != nil {
				w.handler(ctx, deduped)
			}
		}
	}
}

// Deduplicate keeps the latest change per path and sorts by Rel.
func Deduplicate(changes []Change) []Change {
	latest := make(map[string]Change, len(changes))
	for _, c := range changes {
		latest[c.Path] = c
	}
	out := make([]Change, 0, len(latest))
	for _, c := range latest {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rel < out[j].Rel })
	return out
}
