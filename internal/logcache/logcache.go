// Package logcache maintains the in-memory index of the rotated history log
// files and drives filtered, reverse-chronological scans over them. One
// exclusive lock serializes every operation; directory rescans are throttled
// and the aggregate number of resident log lines is kept under a configured
// budget by unloading the oldest files.
package logcache

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/histlog/internal/core"
	"github.com/tinytelemetry/histlog/internal/logclass"
	"github.com/tinytelemetry/histlog/internal/logfile"
	"github.com/tinytelemetry/histlog/internal/model"
)

// LogFilter constrains one ForEach scan.
type LogFilter struct {
	// MaxLinesPerLogfile caps how many lines one file may contribute
	// (0 = unlimited).
	MaxLinesPerLogfile int
	// Classes selects the acceptable record classes.
	Classes logclass.Mask
	// Since and Until bound the scan to the closed interval [Since, Until].
	Since time.Time
	Until time.Time
}

// Config tunes the cache. Zero values fall back to the model defaults.
type Config struct {
	// MaxCachedMessages is the aggregate resident-line budget across all
	// indexed files.
	MaxCachedMessages int
	// UpdateInterval throttles directory rescans.
	UpdateInterval time.Duration
}

// LogCache is the coordinator owning the index of Logfile handles.
//
// The constructor must not call any method of the supplied Core: engine
// construction order means the Core may not be fully initialized yet. The
// first use happens inside update(), on the first public operation.
type LogCache struct {
	mc  core.Core
	cfg Config

	mu                   sync.Mutex
	logfiles             []*logfile.Logfile // ascending by Since(), unique keys
	byPath               map[string]*logfile.Logfile
	dupPaths             map[string]bool // rejected for a duplicate start timestamp
	numCachedLogMessages int
	numAtLastCheck       int
	lastIndexUpdate      time.Time

	// dirty is set by the directory watcher so the next update bypasses
	// the rescan throttle. It is the only field touched outside the lock.
	dirty atomic.Bool
}

// New creates a cache bound to mc. No method of mc is invoked here.
func New(mc core.Core, cfg Config) *LogCache {
	if cfg.MaxCachedMessages <= 0 {
		cfg.MaxCachedMessages = model.DefaultMaxCachedMessages
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = model.DefaultUpdateInterval
	}
	return &LogCache{
		mc:       mc,
		cfg:      cfg,
		byPath:   make(map[string]*logfile.Logfile),
		dupPaths: make(map[string]bool),
	}
}

// LogFiles is the read-only view over the index handed to Apply callbacks.
// It is valid only for the duration of the callback.
type LogFiles struct {
	files []*logfile.Logfile
}

// Len returns the number of indexed log files.
func (v LogFiles) Len() int { return len(v.files) }

// Ascend walks the index oldest-first until fn returns false.
func (v LogFiles) Ascend(fn func(*logfile.Logfile) bool) {
	for _, lf := range v.files {
		if !fn(lf) {
			return
		}
	}
}

// Descend walks the index newest-first until fn returns false.
func (v LogFiles) Descend(fn func(*logfile.Logfile) bool) {
	for i := len(v.files) - 1; i >= 0; i-- {
		if !fn(v.files[i]) {
			return
		}
	}
}

// Apply locks the cache, refreshes the index if due, and invokes f with a
// read-only view over it. The lock is held for the whole call.
//
// f must not block on external I/O, must not call back into the cache, and
// must not retain the view or any handle past its return.
func (lc *LogCache) Apply(f func(view LogFiles) error) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if err := lc.update(); err != nil {
		return err
	}
	return f(LogFiles{files: lc.logfiles})
}

// LogLineHasBeenAdded is invoked by a Logfile for every line it materializes
// during a lazy load. It keeps the aggregate resident-line counter accurate
// without the cache inspecting handle internals. Loads only happen while the
// cache lock is held, so no further synchronization is needed here.
func (lc *LogCache) LogLineHasBeenAdded(_ *logfile.Logfile, _ logclass.Mask) {
	lc.numCachedLogMessages++
}

// MarkDirty makes the next update bypass the rescan throttle. Safe to call
// from any goroutine.
func (lc *LogCache) MarkDirty() { lc.dirty.Store(true) }

// Refresh runs one (possibly throttled) index update.
func (lc *LogCache) Refresh() error {
	return lc.Apply(func(LogFiles) error { return nil })
}

// update refreshes the index from the log directory. Called with the lock
// held at the top of every public operation.
//
// Enumeration failures propagate to the caller; per-file failures are logged
// and the file is skipped for this cycle, leaving the last-known-good index
// intact.
func (lc *LogCache) update() error {
	now := time.Now()
	if !lc.dirty.Swap(false) &&
		!lc.lastIndexUpdate.IsZero() &&
		now.Sub(lc.lastIndexUpdate) < lc.cfg.UpdateInterval {
		return nil
	}

	dir := lc.mc.LogDirectory()
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("logcache: scan %s: %w", dir, err)
	}

	seen := make(map[string]bool, len(dirEntries))
	for _, de := range dirEntries {
		if !de.IsDir() {
			seen[filepath.Join(dir, de.Name())] = true
		}
	}

	// Drop handles whose file was rotated away past retention.
	kept := lc.logfiles[:0]
	removed := false
	for _, lf := range lc.logfiles {
		if seen[lf.Path()] {
			kept = append(kept, lf)
			continue
		}
		lc.numCachedLogMessages -= lf.Flush()
		delete(lc.byPath, lf.Path())
		removed = true
	}
	lc.logfiles = kept

	// Duplicate rejections hold only while the winning handle stays indexed.
	for path := range lc.dupPaths {
		if removed || !seen[path] {
			delete(lc.dupPaths, path)
		}
	}

	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		path := filepath.Join(dir, de.Name())
		if _, ok := lc.byPath[path]; ok {
			// Already indexed; the handle and its loaded lines survive.
			continue
		}
		if lc.dupPaths[path] {
			continue
		}
		lf, err := logfile.New(path, lc.logger(), lc.LogLineHasBeenAdded)
		if err != nil {
			// Files routinely vanish between the directory listing and the
			// probe when rotation is in progress.
			if !logfile.IsNotExist(err) {
				lc.logger().Printf("logcache: skipping %s: %v", path, err)
			}
			continue
		}
		if !lc.addToIndex(lf) {
			lc.dupPaths[path] = true
		}
	}

	lc.lastIndexUpdate = now

	if lc.numCachedLogMessages > lc.numAtLastCheck &&
		lc.numCachedLogMessages > lc.cfg.MaxCachedMessages {
		lc.evict()
	}
	lc.numAtLastCheck = lc.numCachedLogMessages
	return nil
}

// evict unloads the oldest loaded files until the resident-line count is
// back under budget. Scans are reverse-chronological, so recent files are
// the ones worth keeping warm.
func (lc *LogCache) evict() {
	for _, lf := range lc.logfiles {
		if lc.numCachedLogMessages <= lc.cfg.MaxCachedMessages {
			return
		}
		if n := lf.Flush(); n > 0 {
			lc.numCachedLogMessages -= n
			lc.logger().Printf("logcache: unloaded %d lines of %s", n, lf.Path())
		}
	}
}

// addToIndex inserts an owned handle at its start-timestamp key and reports
// whether it was accepted. Inserting a key that already exists is a rejected
// no-op: rotation races can make the file system report transient duplicates,
// and the first handle wins.
func (lc *LogCache) addToIndex(lf *logfile.Logfile) bool {
	i := sort.Search(len(lc.logfiles), func(i int) bool {
		return !lc.logfiles[i].Since().Before(lf.Since())
	})
	if i < len(lc.logfiles) && lc.logfiles[i].Since().Equal(lf.Since()) {
		lc.logger().Printf("logcache: duplicate start timestamp %v for %s, keeping %s",
			lf.Since(), lf.Path(), lc.logfiles[i].Path())
		return false
	}
	lc.logfiles = append(lc.logfiles, nil)
	copy(lc.logfiles[i+1:], lc.logfiles[i:])
	lc.logfiles[i] = lf
	lc.byPath[lf.Path()] = lf
	return true
}

// PathsSince returns the paths of all log files whose range intersects
// [since, now], most recent first, plus the path of the first file that fell
// entirely before the horizon (empty when none was skipped).
//
// A file's effective range ends where the next newer file begins, so the
// decision needs no file contents: the newest file always qualifies, and an
// older file qualifies exactly when its newer neighbor starts after the
// horizon.
func (lc *LogCache) PathsSince(since time.Time) (model.PathsResult, error) {
	var res model.PathsResult
	err := lc.Apply(func(view LogFiles) error {
		var newerStart time.Time
		view.Descend(func(lf *logfile.Logfile) bool {
			if !newerStart.IsZero() && !newerStart.After(since) {
				res.Skipped = lf.Path()
				return false
			}
			res.Paths = append(res.Paths, lf.Path())
			newerStart = lf.Since()
			return true
		})
		return nil
	})
	if err != nil {
		return model.PathsResult{}, err
	}
	return res, nil
}

// ForEach scans the indexed files newest-first, lazily loading the lines
// each relevant file needs, and invokes process for every record matching
// the filter, in strictly descending timestamp order across all files. If
// process returns false the whole scan stops immediately.
//
// Files that fail to load are logged and skipped; the scan continues with
// the next older file.
func (lc *LogCache) ForEach(filter LogFilter, process func(*model.LogRecord) bool) error {
	if filter.Classes == 0 {
		return nil
	}
	return lc.Apply(func(view LogFiles) error {
		view.Descend(func(lf *logfile.Logfile) bool {
			if !filter.Until.IsZero() && lf.Since().After(filter.Until) {
				// Entirely newer than the requested interval.
				return true
			}
			if lf.NeedsReload(filter.Classes, filter.MaxLinesPerLogfile, filter.Since, filter.Until) {
				lc.numCachedLogMessages -= lf.Flush()
			}
			if _, err := lf.LoadRange(filter.Classes, filter.MaxLinesPerLogfile, filter.Since, filter.Until); err != nil {
				lc.logger().Printf("logcache: loading %s: %v", lf.Path(), err)
			} else if !lf.EachDescending(filter.Since, filter.Until, filter.Classes, filter.MaxLinesPerLogfile, process) {
				return false
			}
			// This file reaches back to the horizon; older files are
			// strictly before it.
			return lf.Since().After(filter.Since)
		})
		return nil
	})
}

func (lc *LogCache) logger() *log.Logger {
	if l := lc.mc.Logger(); l != nil {
		return l
	}
	return log.Default()
}
