package index

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher rescans the vault when Markdown files change on disk. Events are
// debounced so editor save bursts trigger a single scan.
type Watcher struct {
	root     string
	indexer  *Indexer
	debounce time.Duration
	logger   *slog.Logger
	onScan   func(Summary)
}

// NewWatcher creates a watcher over the vault root. onScan, when non-nil, is
// invoked after every completed rescan.
func NewWatcher(root string, indexer *Indexer, debounce time.Duration, logger *slog.Logger, onScan func(Summary)) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{root: root, indexer: indexer, debounce: debounce, logger: logger, onScan: onScan}
}

// Run watches until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addDirs(fw); err != nil {
		return err
	}

	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				// New directories need explicit watches.
				if err := w.addDirs(fw); err != nil {
					w.logger.Warn("watch new dirs", slog.String("error", err.Error()))
				}
			}
			if !strings.HasSuffix(ev.Name, ".md") && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			sum, err := w.indexer.Scan(ctx)
			if err != nil {
				w.logger.Error("watch rescan failed", slog.String("error", err.Error()))
				continue
			}
			if w.onScan != nil {
				w.onScan(sum)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) addDirs(fw *fsnotify.Watcher) error {
	return filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && p != w.root {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
}
