package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/audit-reports/internal/pipeline"
)

const DefaultDebounce = 2 * time.Second

type WatchConfig struct {
	Roots       []string      // directories to watch (recursive)
	InitialScan bool          // emit PDFs already present
	Debounce    time.Duration // coalesce rapid write/rename bursts
	SkipHidden  bool
}

// StartWatcher emits paths of PDFs created or modified under cfg.Roots.
// Both channels close when ctx is done.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		return nil, nil, errors.New("no roots provided")
	}
	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	var initial []string
	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if cfg.SkipHidden && path != root && IsHidden(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return w.Add(path)
			}
			if cfg.InitialScan && IsPDF(path) {
				initial = append(initial, path)
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r); err != nil {
			logger.Error("failed to add root directory", "root", r, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	go func() {
		defer close(errCh)
		defer close(evCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("watcher close failed", "error", err)
			}
		}()

		emit := func(p string) bool {
			select {
			case evCh <- p:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, p := range initial {
			if !emit(p) {
				return
			}
		}

		var (
			mu      sync.Mutex
			pending = map[string]struct{}{}
			timer   *time.Timer
			fire    = make(chan struct{}, 1)
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		flush := func() {
			mu.Lock()
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			mu.Unlock()
			for _, p := range paths {
				if !emit(p) {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-fire:
				flush()
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op.Has(fsnotify.Create) {
					if info, err := os.Stat(e.Name); err == nil && info.IsDir() {
						if err := w.Add(e.Name); err != nil {
							logger.Warn("failed to watch new directory", "path", e.Name, "error", err)
						}
						continue
					}
				}
				if !IsPDF(e.Name) || (cfg.SkipHidden && IsHidden(e.Name)) {
					continue
				}
				if !e.Op.Has(fsnotify.Create) && !e.Op.Has(fsnotify.Write) && !e.Op.Has(fsnotify.Rename) {
					continue
				}
				mu.Lock()
				pending[e.Name] = struct{}{}
				mu.Unlock()
				if cfg.Debounce <= 0 {
					flush()
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(cfg.Debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

// Watch uploads every settled PDF until ctx is cancelled. Renamed-away or
// vanished files are skipped.
func (i *Ingestor) Watch(ctx context.Context, cfg WatchConfig, opts pipeline.Options, onResult func(pipeline.Result)) error {
	cfg.SkipHidden = i.skipHidden
	events, errs, err := StartWatcher(ctx, cfg, i.logger)
	if err != nil {
		return err
	}
	for {
		select {
		case p, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			if _, err := os.Stat(p); err != nil {
				continue
			}
			doc, err := i.read(p)
			if err != nil {
				i.logger.Warn("watch.read_failed", "path", p, "error", err)
				continue
			}
			for _, r := range i.up.UploadBatch(ctx, []pipeline.Document{doc}, opts) {
				i.logger.Info("watch.uploaded", "path", p, "status", r.Status, "fingerprint", r.Fingerprint)
				if onResult != nil {
					onResult(r)
				}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			i.logger.Warn("watch.error", "error", err)
		}
	}
}
