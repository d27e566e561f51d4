// Package stopfile stops a training run when a marker file appears.
package stopfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/felixgeelhaar/asynctrain/infrastructure/logging"
)

// DefaultName is the conventional marker file name.
const DefaultName = "STOP"

// Watcher fires once when its marker file is created.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	fire    func()
	once    sync.Once
	done    chan struct{}
	closed  sync.Once
}

// Watch starts watching path. fire is called at most once, immediately if
// the file already exists.
func Watch(path string, fire func()) (*Watcher, error) {
	if fire == nil {
		return nil, errors.New("stopfile: fire callback is required")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:    filepath.Clean(path),
		watcher: fw,
		fire:    fire,
		done:    make(chan struct{}),
	}

	// The file may have been created before the watch was registered.
	if _, err := os.Stat(w.path); err == nil {
		w.trigger()
	}

	go w.loop()
	return w, nil
}

// Path returns the watched marker path.
func (w *Watcher) Path() string {
	return w.path
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closed.Do(func() {
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.trigger()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn().
				Add(logging.Component("stopfile")).
				Add(logging.Path(w.path)).
				Add(logging.ErrorField(err)).
				Msg("stop file watcher error")
		}
	}
}

func (w *Watcher) trigger() {
	w.once.Do(func() {
		logging.Info().Add(logging.Component("stopfile")).Add(logging.Path(w.path)).Msg("stop file detected")
		w.fire()
	})
}
