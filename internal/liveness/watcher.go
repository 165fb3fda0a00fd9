package liveness

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher calls a function as soon as the marker disappears. The host
// removes the marker on a deliberate stop, so agents release their grab
// immediately instead of waiting out the staleness threshold.
type Watcher struct {
	w    *fsnotify.Watcher
	done chan struct{}
}

// Watch starts watching path. onGone runs at most once, from the watcher's
// goroutine. Errors from the notification backend are reported to onErr,
// which may be nil; the periodic staleness check still covers those cases.
func Watch(path string, onGone func(), onErr func(error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("couldn't create fsnotify watcher: %w", err)
	}
	// Watch the parent directory: inotify watches on the file itself do not
	// survive the file being replaced.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("error adding %s to fsnotify watcher: %w", filepath.Dir(path), err)
	}
	w := &Watcher{w: fw, done: make(chan struct{})}
	target := filepath.Clean(path)
	go func() {
		defer close(w.done)
		fired := false
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if fired || filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					fired = true
					onGone()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				if onErr != nil {
					onErr(err)
				}
			}
		}
	}()
	return w, nil
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	err := w.w.Close()
	<-w.done
	return err
}
