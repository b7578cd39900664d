package logcache

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher marks the cache index dirty whenever files appear in, leave, or
// are renamed inside the log directory, so the next update bypasses the
// rescan throttle. It never scans on its own: all index mutation stays
// behind the cache lock, and the at-most-one-enumeration-per-interval bound
// still holds while the directory is quiet.
type Watcher struct {
	fw       *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// WatchDirectory starts watching the cache's log directory.
func (lc *LogCache) WatchDirectory() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("logcache: watcher: %w", err)
	}
	dir := lc.mc.LogDirectory()
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("logcache: watch %s: %w", dir, err)
	}

	w := &Watcher{fw: fw, done: make(chan struct{})}
	w.wg.Add(1)
	go w.loop(lc)
	return w, nil
}

func (w *Watcher) loop(lc *LogCache) {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				lc.MarkDirty()
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			lc.logger().Printf("logcache: watch error: %v", err)
		case <-w.done:
			return
		}
	}
}

// Stop closes the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fw.Close()
		w.wg.Wait()
	})
}
