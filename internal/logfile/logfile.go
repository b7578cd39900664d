// Package logfile represents one rotated history log file: its time-range
// metadata, lazily loaded line contents, and the parser for the on-disk
// format. Loaded lines can be dropped and re-read at any time; the start
// timestamp that keys the file in the cache index is read once and kept.
package logfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/tinytelemetry/histlog/internal/logclass"
	"github.com/tinytelemetry/histlog/internal/model"
)

const (
	// scannerInitBufSize is the initial buffer size for the line scanner (64 KB).
	scannerInitBufSize = 64 * 1024
	// scannerMaxTokenSize is the longest log line the scanner will accept (1 MB).
	scannerMaxTokenSize = 1024 * 1024
	// headerProbeLines bounds how far New searches for the first parseable
	// line before giving up on a file.
	headerProbeLines = 100
)

// GrowthFunc is invoked once per line a load materializes, while the owning
// cache holds its lock. It is the feedback channel that keeps the cache's
// aggregate line counter accurate.
type GrowthFunc func(lf *Logfile, classes logclass.Mask)

type entry struct {
	rec    model.LogRecord
	lineno int
}

// Logfile is the in-memory representative of one rotated history log file.
//
// A Logfile is not safe for concurrent use; the owning cache serializes all
// access behind its lock.
type Logfile struct {
	path     string
	since    time.Time // timestamp of the first line, index key, never changes
	end      time.Time // newest timestamp seen while reading
	logger   *log.Logger
	onGrowth GrowthFunc

	entries     []entry // loaded lines, ascending by (timestamp, lineno)
	classesRead logclass.Mask
	loadedSince time.Time // window of the resident lines; zero bounds are open
	loadedUntil time.Time
	readCap     int  // per-file cap in effect at the last load, 0 = unlimited
	truncated   bool // the last load dropped lines to honor readCap
}

// New opens the file far enough to read its start timestamp and returns an
// unloaded handle. The file's contents are not kept; lines are materialized
// later by LoadRange.
func New(path string, logger *log.Logger, onGrowth GrowthFunc) (*Logfile, error) {
	lf := &Logfile{path: path, logger: logger, onGrowth: onGrowth}

	r, closer, err := lf.open()
	if err != nil {
		return nil, err
	}
	defer closer()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	for i := 0; i < headerProbeLines && scanner.Scan(); i++ {
		rec, perr := parseLine(scanner.Text())
		if perr != nil {
			continue
		}
		lf.since = rec.Timestamp
		lf.end = rec.Timestamp
		return lf, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("logfile: probe %s: %w", path, err)
	}
	return nil, fmt.Errorf("logfile: %s has no parseable line", path)
}

// Path returns the file-system path of the log file.
func (lf *Logfile) Path() string { return lf.path }

// Since returns the timestamp of the file's first line. It keys the file in
// the cache index and never changes, even across unload/reload cycles.
func (lf *Logfile) Since() time.Time { return lf.since }

// End returns the newest timestamp observed in the file so far.
func (lf *Logfile) End() time.Time { return lf.end }

// NumLoadedLines returns the number of lines currently held in memory.
func (lf *Logfile) NumLoadedLines() int { return len(lf.entries) }

// ClassesRead returns the classes whose lines are currently resident.
func (lf *Logfile) ClassesRead() logclass.Mask { return lf.classesRead }

// NeedsReload reports whether resident lines must be dropped before a load
// with the given classes, per-file cap, and time window can serve correct
// results: the requested window reaches outside the loaded one, an earlier
// truncated load used a smaller cap or a higher upper bound, or merging
// additional classes would push the resident set over the cap and evict lines
// that were already counted.
func (lf *Logfile) NeedsReload(classes logclass.Mask, maxLines int, since, until time.Time) bool {
	if lf.classesRead == 0 {
		return false
	}
	if !lf.loadedSince.IsZero() && (since.IsZero() || since.Before(lf.loadedSince)) {
		return true
	}
	if !lf.loadedUntil.IsZero() && (until.IsZero() || until.After(lf.loadedUntil)) {
		return true
	}
	if lf.truncated {
		if maxLines == 0 || maxLines > lf.readCap {
			return true
		}
		// The cap dropped the oldest in-window lines; a lower upper bound
		// needs exactly those.
		if !until.IsZero() && (lf.loadedUntil.IsZero() || until.Before(lf.loadedUntil)) {
			return true
		}
	}
	missing := classes &^ lf.classesRead
	return missing != 0 && maxLines > 0 && len(lf.entries) >= maxLines
}

// LoadRange materializes the lines of the requested classes within
// [since, until] that are not yet resident (zero bounds are open), keeping at
// most maxLines lines in total (0 = unlimited; when the cap bites, the newest
// in-window lines win). It returns the number of newly loaded lines and
// reports each of them through the growth callback.
//
// Callers that change the cap or the window must consult NeedsReload and
// Flush first.
func (lf *Logfile) LoadRange(classes logclass.Mask, maxLines int, since, until time.Time) (int, error) {
	missing := classes &^ lf.classesRead
	if missing == 0 {
		return 0, nil
	}

	loaded, newestSeen, err := lf.read(missing, since, until)
	if err != nil {
		return 0, err
	}
	if newestSeen.After(lf.end) {
		lf.end = newestSeen
	}

	merged := mergeEntries(lf.entries, loaded)
	lf.truncated = false
	if maxLines > 0 && len(merged) > maxLines {
		merged = merged[len(merged)-maxLines:]
		lf.truncated = true
	}

	added := len(merged) - len(lf.entries)
	lf.entries = merged
	lf.classesRead |= missing
	lf.readCap = maxLines

	// Bounds that do not cut into the file are recorded as open, so rolling
	// upper bounds like "now" do not force a reload on every scan.
	if !since.After(lf.since) {
		since = time.Time{}
	}
	if !until.IsZero() && !until.Before(lf.end) {
		until = time.Time{}
	}
	if !since.IsZero() && (lf.loadedSince.IsZero() || since.After(lf.loadedSince)) {
		lf.loadedSince = since
	}
	if !until.IsZero() && (lf.loadedUntil.IsZero() || until.Before(lf.loadedUntil)) {
		lf.loadedUntil = until
	}

	if lf.onGrowth != nil {
		for i := 0; i < added; i++ {
			lf.onGrowth(lf, missing)
		}
	}
	return added, nil
}

// Flush drops all resident lines, retaining only the time-range metadata,
// and returns how many lines were dropped. A later LoadRange re-reads the
// file; the index key is never re-derived.
func (lf *Logfile) Flush() int {
	dropped := len(lf.entries)
	lf.entries = nil
	lf.classesRead = 0
	lf.loadedSince = time.Time{}
	lf.loadedUntil = time.Time{}
	lf.readCap = 0
	lf.truncated = false
	return dropped
}

// EachDescending walks the resident lines newest-first, delivering at most
// maxLines records (0 = unlimited) whose timestamp lies in [since, until]
// and whose class is selected. It returns false as soon as fn does.
func (lf *Logfile) EachDescending(since, until time.Time, classes logclass.Mask, maxLines int, fn func(*model.LogRecord) bool) bool {
	delivered := 0
	for i := len(lf.entries) - 1; i >= 0; i-- {
		e := &lf.entries[i]
		if !until.IsZero() && e.rec.Timestamp.After(until) {
			continue
		}
		if e.rec.Timestamp.Before(since) {
			// Entries are ordered by timestamp; everything below is older.
			break
		}
		if !classes.Has(e.rec.Class) {
			continue
		}
		if maxLines > 0 && delivered >= maxLines {
			break
		}
		delivered++
		if !fn(&e.rec) {
			return false
		}
	}
	return true
}

// read scans the whole file and returns the parsed lines of the wanted
// classes within [since, until] (zero bounds are open), plus the newest
// timestamp seen across all lines. Malformed lines are dropped with a
// diagnostic.
func (lf *Logfile) read(wanted logclass.Mask, since, until time.Time) ([]entry, time.Time, error) {
	r, closer, err := lf.open()
	if err != nil {
		return nil, time.Time{}, err
	}
	defer closer()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)

	var (
		loaded    []entry
		newest    time.Time
		malformed int
		lineno    int
	)
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if line == "" {
			continue
		}
		rec, perr := parseLine(line)
		if perr != nil {
			malformed++
			continue
		}
		if rec.Timestamp.After(newest) {
			newest = rec.Timestamp
		}
		if !since.IsZero() && rec.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && rec.Timestamp.After(until) {
			continue
		}
		if wanted.Has(rec.Class) {
			loaded = append(loaded, entry{rec: rec, lineno: lineno})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("logfile: read %s: %w", lf.path, err)
	}
	if malformed > 0 && lf.logger != nil {
		lf.logger.Printf("logfile: dropped %d malformed lines in %s", malformed, lf.path)
	}
	return loaded, newest, nil
}

// open returns a line reader for the file, transparently decompressing
// rotated .gz archives.
func (lf *Logfile) open() (io.Reader, func(), error) {
	f, err := os.Open(lf.path)
	if err != nil {
		return nil, nil, fmt.Errorf("logfile: open %s: %w", lf.path, err)
	}
	if !strings.HasSuffix(lf.path, ".gz") {
		return f, func() { _ = f.Close() }, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("logfile: gunzip %s: %w", lf.path, err)
	}
	return gz, func() {
		_ = gz.Close()
		_ = f.Close()
	}, nil
}

// mergeEntries merges two entry slices, each ordered by (timestamp, lineno),
// into one ordered slice.
func mergeEntries(a, b []entry) []entry {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	merged := make([]entry, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].rec.Timestamp.Equal(merged[j].rec.Timestamp) {
			return merged[i].rec.Timestamp.Before(merged[j].rec.Timestamp)
		}
		return merged[i].lineno < merged[j].lineno
	})
	return merged
}

// IsNotExist reports whether err means the underlying file vanished, e.g.
// because it was rotated away between the directory scan and the read.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
