package dispatch

import (
	"context"
	"crypto/sha256"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long Watch waits after the last event on a file.
const DefaultDebounce = 200 * time.Millisecond

// Watch re-runs injection on class files under roots whenever they are
// created or written. Changes are debounced per file and processed in
// batches; report receives every batch's summary and error. A file Watch
// rewrote in place is not processed again until its content changes. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, roots []string, langs []Language, opts Options, report func(*Summary, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return ioError(err, "start watcher")
	}
	defer w.Close()

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	staging := ""
	if opts.Staging != "" {
		if abs, err := filepath.Abs(opts.Staging); err == nil {
			staging = abs
		}
	}

	log := Logger().Named("watch")
	for _, root := range roots {
		if err := addTree(w, root, nil); err != nil {
			return ioError(err, "watch "+root)
		}
		log.Info("watching", zap.String("root", root))
	}

	// Rewrites land back in the watched tree; remember what was written so
	// the resulting events are not fed to the next batch.
	var (
		mu      sync.Mutex
		written = make(map[string][sha256.Size]byte)
	)
	onUnit := opts.OnUnit
	opts.OnUnit = func(r UnitReport) {
		if r.Dest == r.Path {
			mu.Lock()
			written[r.Path] = r.Digest
			mu.Unlock()
		}
		if onUnit != nil {
			onUnit(r)
		}
	}
	ownWrite := func(path string) bool {
		mu.Lock()
		defer mu.Unlock()
		digest, ok := written[path]
		if !ok {
			return false
		}
		data, err := os.ReadFile(path)
		if err == nil && sha256.Sum256(data) == digest {
			return true
		}
		delete(written, path)
		return false
	}

	pending := make(map[string]time.Time)
	queue := func(path string) {
		if _, ok := languageOf(langs, path); ok {
			pending[path] = time.Now()
		}
	}
	tick := time.NewTicker(debounce / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if staging != "" && underDir(ev.Name, staging) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 && isDir(ev.Name) {
				// Files may land before the new directory is watched.
				if err := addTree(w, ev.Name, queue); err != nil {
					log.Warn("watch directory", zap.String("dir", ev.Name), zap.Error(err))
				}
				continue
			}
			queue(ev.Name)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", zap.Error(err))

		case now := <-tick.C:
			in := Input{Enable: true, Units: make(map[string][]string)}
			for path, last := range pending {
				if now.Sub(last) < debounce {
					continue
				}
				delete(pending, path)
				if ownWrite(path) {
					log.Debug("skipping own write", zap.String("path", path))
					continue
				}
				l, _ := languageOf(langs, path)
				in.Units[l.Name] = append(in.Units[l.Name], path)
			}
			if in.Len() == 0 {
				continue
			}
			log.Debug("batch settled", zap.Int("units", in.Len()))
			sum, err := Run(ctx, in, opts)
			if report != nil {
				report(sum, err)
			}
		}
	}
}

// addTree watches dir and every directory below it, passing existing files
// to found; fsnotify is not recursive.
func addTree(w *fsnotify.Watcher, dir string, found func(string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		if found != nil {
			found(path)
		}
		return nil
	})
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func underDir(path, dir string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator))
}
