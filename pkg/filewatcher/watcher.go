// Package filewatcher reports settled changes to a set of files.
//
// Each file's directory is watched rather than the file, so editors that save by
// writing a temporary file and renaming it over the original are still seen.
package filewatcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher calls its callbacks once a watched file has stopped changing for the
// debounce interval.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]bool
	logger   *slog.Logger
	debounce time.Duration

	callbacksMu sync.RWMutex
	callbacks   []func(string)

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

// New creates a FileWatcher for the given files.
func New(files []string, opts ...Option) (*FileWatcher, error) {
	if len(files) == 0 {
		return nil, errors.New("filewatcher: no files to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &FileWatcher{
		watcher:  watcher,
		files:    make(map[string]bool, len(files)),
		logger:   slog.Default(),
		debounce: 300 * time.Millisecond,
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(fw)
	}

	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			watcher.Close()
			return nil, err
		}
		fw.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, err
		}
		fw.logger.Debug("filewatcher: watching directory", "dir", dir)
	}
	return fw, nil
}

// AddCallback adds a callback that receives the absolute path of a changed file.
func (fw *FileWatcher) AddCallback(callback func(string)) {
	fw.callbacksMu.Lock()
	defer fw.callbacksMu.Unlock()
	fw.callbacks = append(fw.callbacks, callback)
}

// Run delivers changes until ctx is done, then releases the watcher.
func (fw *FileWatcher) Run(ctx context.Context) error {
	defer fw.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || !fw.files[name] {
				continue
			}
			fw.touch(name)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			fw.logger.Error("filewatcher: watcher error", "error", err)
		}
	}
}

// touch restarts the debounce timer of file.
func (fw *FileWatcher) touch(file string) {
	fw.timersMu.Lock()
	defer fw.timersMu.Unlock()
	if t, ok := fw.timers[file]; ok {
		t.Reset(fw.debounce)
		return
	}
	fw.timers[file] = time.AfterFunc(fw.debounce, func() {
		fw.timersMu.Lock()
		delete(fw.timers, file)
		fw.timersMu.Unlock()

		fw.logger.Info("filewatcher: file changed", "file", file)
		fw.notifyCallbacks(file)
	})
}

func (fw *FileWatcher) notifyCallbacks(file string) {
	fw.callbacksMu.RLock()
	defer fw.callbacksMu.RUnlock()
	for _, callback := range fw.callbacks {
		callback(file)
	}
}

func (fw *FileWatcher) stop() {
	fw.timersMu.Lock()
	for file, t := range fw.timers {
		t.Stop()
		delete(fw.timers, file)
	}
	fw.timersMu.Unlock()
	if err := fw.watcher.Close(); err != nil {
		fw.logger.Warn("filewatcher: close", "error", err)
	}
}
