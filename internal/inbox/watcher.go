// Package inbox feeds PDFs dropped into a directory through a handler.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler processes one file. It owns the file once called.
type Handler func(ctx context.Context, path string) error

type Watcher struct {
	dir       string
	handler   Handler
	logger    *slog.Logger
	watcher   *fsnotify.Watcher
	semaphore chan struct{}
	settle    time.Duration
	wg        sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New watches dir, creating it when missing. At most maxConcurrent files
// are handled at once.
func New(dir string, handler Handler, logger *slog.Logger, maxConcurrent int) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Watcher{
		dir:       dir,
		handler:   handler,
		logger:    logger.With(slog.String("component", "inbox")),
		watcher:   fw,
		semaphore: make(chan struct{}, maxConcurrent),
		settle:    500 * time.Millisecond,
		inflight:  make(map[string]struct{}),
	}, nil
}

// Run handles PDFs already in the directory, then every new one, until ctx
// is done. It waits for in-progress files before returning.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("inbox watcher started", slog.String("dir", w.dir), slog.Int("max_concurrent", cap(w.semaphore)))
	defer w.wg.Wait()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scan inbox: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			w.dispatch(ctx, filepath.Join(w.dir, entry.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.dispatch(ctx, event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) dispatch(ctx context.Context, path string) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return
	}
	w.mu.Lock()
	if _, busy := w.inflight[path]; busy {
		w.mu.Unlock()
		return
	}
	w.inflight[path] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.inflight, path)
			w.mu.Unlock()
		}()

		if !w.waitStable(ctx, path) {
			return
		}
		select {
		case w.semaphore <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-w.semaphore }()

		w.logger.Info("new document in inbox", slog.String("file", filepath.Base(path)))
		if err := w.handler(ctx, path); err != nil {
			w.logger.Warn("inbox document failed", slog.String("file", filepath.Base(path)), slog.String("error", err.Error()))
		}
	}()
}

// waitStable waits until the file size stops changing so half-copied files
// are not picked up. It reports false if the file vanished or ctx ended.
func (w *Watcher) waitStable(ctx context.Context, path string) bool {
	last := int64(-1)
	for range 20 {
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.Size() == last && last > 0 {
			return true
		}
		last = info.Size()
		select {
		case <-ctx.Done():
			return false
		case <-time.After(w.settle):
		}
	}
	return true
}
