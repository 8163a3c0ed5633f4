package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/fsnotify/fsnotify"
)

// Watcher feeds a Pairer from the files directly inside one input folder.
// Sub-folders are ignored so error or processed folders may live inside it.
// Filesystem events trigger an early poll; the ticker guarantees progress
// when events are lost or unsupported (network shares).
type Watcher struct {
	dir      string
	interval time.Duration
	pairer   *Pairer
	logger   *slog.Logger
}

func NewWatcher(dir string, interval time.Duration, pairer *Pairer, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{dir: dir, interval: interval, pairer: pairer, logger: logger.With("inputPath", dir)}
}

// Check fails when the input folder cannot be watched at all.
func (w *Watcher) Check() error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("input path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input path %s is not a directory", w.dir)
	}
	return nil
}

// Run scans the folder immediately, then keeps polling until ctx is done.
// Ready pairs are sent to out; Run blocks while out is full.
func (w *Watcher) Run(ctx context.Context, out chan<- models.DocumentPair) error {
	if err := w.Check(); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	// Events only bring the next poll forward; stability still needs
	// consecutive polls, so bursts collapse into one early poll.
	early := time.NewTimer(time.Hour)
	early.Stop()
	defer early.Stop()

	w.logger.Info("Watching input folder.", "interval", w.interval)
	if err := w.poll(ctx, out); err != nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-early.C:
		case _, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			early.Reset(w.interval / 4)
			continue
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Filesystem watcher error, relying on polling.", "error", err)
			continue
		}
		if err := w.poll(ctx, out); err != nil {
			return nil
		}
	}
}

func (w *Watcher) poll(ctx context.Context, out chan<- models.DocumentPair) error {
	files, err := Scan(w.dir)
	if err != nil {
		w.logger.Warn("Failed to scan input folder.", "error", err)
		return nil
	}
	for _, pair := range w.pairer.Tick(files) {
		w.logger.Info("Document pair ready.", "file", pair.PrimaryPath, "hasSidecar", pair.HasSidecar())
		select {
		case out <- pair:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Scan lists the regular files directly inside dir.
func Scan(dir string) (map[string]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make(map[string]FileInfo, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between listing and stat.
			continue
		}
		files[filepath.Join(dir, e.Name())] = FileInfo{Size: info.Size(), ModTime: info.ModTime()}
	}
	return files, nil
}
