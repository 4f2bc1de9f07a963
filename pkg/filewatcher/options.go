package filewatcher

import (
	"log/slog"
	"time"
)

// Option configures a FileWatcher
type Option func(*FileWatcher)

// WithLogger sets the logger for the file watcher
func WithLogger(logger *slog.Logger) Option {
	return func(fw *FileWatcher) {
		if logger != nil {
			fw.logger = logger
		}
	}
}

// WithDebounce sets how long a file must stay unchanged before callbacks run.
func WithDebounce(d time.Duration) Option {
	return func(fw *FileWatcher) {
		if d > 0 {
			fw.debounce = d
		}
	}
}
