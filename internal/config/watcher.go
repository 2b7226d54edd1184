package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// errUnchanged marks a reload whose file content matched the last one applied.
var errUnchanged = errors.New("config: content unchanged")

// Watcher reloads a config file when it changes on disk and hands each new
// valid [Config] to a callback. It watches the parent directory, so editors
// that save by writing a temp file and renaming it over the original still
// trigger a reload. Invalid edits are logged and the previous config stays
// current.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(old, new *Config)
	fs       *fsnotify.Watcher

	mu      sync.Mutex
	current *Config
	digest  []byte

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period between the last file event and the
// reload. Editors often emit several events per save. Default 200ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher loads path (see [Load]) and starts watching it. onChange may be
// nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     filepath.Clean(path),
		debounce: 200 * time.Millisecond,
		onChange: onChange,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, err := Load(w.path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	if data, err := os.ReadFile(w.path); err == nil {
		w.digest = digest(data)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config: watch %q: %w", filepath.Dir(w.path), err)
	}
	w.fs = fsw

	go w.run()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.fs.Close()
	})
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)

	var fire <-chan time.Time
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.relevant(ev) {
				fire = time.After(w.debounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher: file system error", "path", w.path, "err", err)
		case <-fire:
			fire = nil
			switch err := w.reload(); {
			case err == nil:
				slog.Info("config watcher: configuration reloaded", "path", w.path)
			case errors.Is(err, errUnchanged), errors.Is(err, os.ErrNotExist):
			default:
				slog.Warn("config watcher: keeping previous configuration", "path", w.path, "err", err)
			}
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename)
}

// reload parses the file and, when its content is new and valid, makes it
// current and runs the callback outside the lock.
func (w *Watcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	sum := digest(data)

	w.mu.Lock()
	same := bytes.Equal(sum, w.digest)
	w.mu.Unlock()
	if same {
		return errUnchanged
	}

	cfg, err := fromBytes(data, os.LookupEnv)
	if err != nil {
		return err
	}

	w.mu.Lock()
	old := w.current
	w.current, w.digest = cfg, sum
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return nil
}

func digest(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
