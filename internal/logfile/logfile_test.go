package logfile

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/tinytelemetry/histlog/internal/logclass"
	"github.com/tinytelemetry/histlog/internal/model"
)

const testEpoch = int64(1700000000)

func alertLine(epoch int64, n int) string {
	return fmt.Sprintf("[%d] SERVICE ALERT: web%02d;disk;CRITICAL;HARD;3;disk full", epoch, n)
}

func commandLine(epoch int64) string {
	return fmt.Sprintf("[%d] EXTERNAL COMMAND: SCHEDULE_SVC_CHECK;web01;disk;%d", epoch, epoch)
}

func writeHistoryFile(t *testing.T, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	var data []byte
	for _, line := range lines {
		data = append(data, line...)
		data = append(data, '\n')
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestNewReadsStartTimestamp(t *testing.T) {
	path := writeHistoryFile(t, "history.log", []string{
		alertLine(testEpoch, 1),
		alertLine(testEpoch+10, 2),
	})

	lf, err := New(path, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := time.Unix(testEpoch, 0).UTC()
	if !lf.Since().Equal(want) {
		t.Fatalf("Since = %v, want %v", lf.Since(), want)
	}
	if lf.NumLoadedLines() != 0 {
		t.Fatalf("NumLoadedLines = %d, want 0 before any load", lf.NumLoadedLines())
	}
}

func TestNewSkipsMalformedHeader(t *testing.T) {
	path := writeHistoryFile(t, "history.log", []string{
		"garbage before the first real line",
		alertLine(testEpoch, 1),
	})

	lf, err := New(path, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !lf.Since().Equal(time.Unix(testEpoch, 0).UTC()) {
		t.Fatalf("Since = %v", lf.Since())
	}
}

func TestNewRejectsUnparseableFile(t *testing.T) {
	path := writeHistoryFile(t, "notes.txt", []string{"just", "prose"})
	if _, err := New(path, nil, nil); err == nil {
		t.Fatal("New did not fail on a file with no parseable line")
	}
}

func TestLoadRangeByClass(t *testing.T) {
	path := writeHistoryFile(t, "history.log", []string{
		alertLine(testEpoch, 1),
		commandLine(testEpoch + 5),
		alertLine(testEpoch+10, 2),
	})

	lf, err := New(path, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := lf.LoadRange(logclass.ClassAlert.Bit(), 0, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("LoadRange alerts: %v", err)
	}
	if n != 2 || lf.NumLoadedLines() != 2 {
		t.Fatalf("alerts loaded = %d (resident %d), want 2", n, lf.NumLoadedLines())
	}

	// Loading the same class again is a no-op.
	n, err = lf.LoadRange(logclass.ClassAlert.Bit(), 0, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("LoadRange repeat: %v", err)
	}
	if n != 0 {
		t.Fatalf("repeat load added %d lines, want 0", n)
	}

	// Adding a class merges in timestamp order.
	n, err = lf.LoadRange(logclass.ClassCommand.Bit(), 0, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("LoadRange commands: %v", err)
	}
	if n != 1 || lf.NumLoadedLines() != 3 {
		t.Fatalf("commands loaded = %d (resident %d), want 1/3", n, lf.NumLoadedLines())
	}

	var got []time.Time
	lf.EachDescending(time.Time{}, time.Time{}, logclass.AllClasses, 0, func(r *model.LogRecord) bool {
		got = append(got, r.Timestamp)
		return true
	})
	if len(got) != 3 {
		t.Fatalf("delivered %d records, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].After(got[i-1]) {
			t.Fatalf("records out of order: %v after %v", got[i], got[i-1])
		}
	}
}

func TestLoadRangeCapKeepsNewest(t *testing.T) {
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, alertLine(testEpoch+int64(i), i))
	}
	path := writeHistoryFile(t, "history.log", lines)

	lf, err := New(path, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n, err := lf.LoadRange(logclass.ClassAlert.Bit(), 4, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("LoadRange: %v", err)
	}
	if n != 4 || lf.NumLoadedLines() != 4 {
		t.Fatalf("loaded %d (resident %d), want 4", n, lf.NumLoadedLines())
	}

	var newest time.Time
	lf.EachDescending(time.Time{}, time.Time{}, logclass.AllClasses, 0, func(r *model.LogRecord) bool {
		if newest.IsZero() {
			newest = r.Timestamp
		}
		return true
	})
	if !newest.Equal(time.Unix(testEpoch+9, 0).UTC()) {
		t.Fatalf("newest resident = %v, want the file's last line", newest)
	}

	if !lf.NeedsReload(logclass.ClassAlert.Bit(), 8, time.Time{}, time.Time{}) {
		t.Fatal("NeedsReload = false after a truncated load with a larger cap")
	}
	if lf.NeedsReload(logclass.ClassAlert.Bit(), 4, time.Time{}, time.Time{}) {
		t.Fatal("NeedsReload = true for the same cap")
	}
	if !lf.NeedsReload(logclass.ClassAlert.Bit(), 4, time.Time{}, time.Unix(testEpoch+5, 0).UTC()) {
		t.Fatal("NeedsReload = false for an upper bound below the truncated window")
	}
}

func TestLoadRangeWindowCap(t *testing.T) {
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, alertLine(testEpoch+int64(i), i))
	}
	path := writeHistoryFile(t, "history.log", lines)

	lf, err := New(path, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	since := time.Unix(testEpoch, 0).UTC()
	until := time.Unix(testEpoch+9, 0).UTC()
	n, err := lf.LoadRange(logclass.ClassAlert.Bit(), 5, since, until)
	if err != nil {
		t.Fatalf("LoadRange: %v", err)
	}
	if n != 5 || lf.NumLoadedLines() != 5 {
		t.Fatalf("loaded %d (resident %d), want the 5 newest in-window lines", n, lf.NumLoadedLines())
	}

	// The cap bites on the lines inside the window, not on the whole file.
	var got []time.Time
	lf.EachDescending(since, until, logclass.AllClasses, 0, func(r *model.LogRecord) bool {
		got = append(got, r.Timestamp)
		return true
	})
	if len(got) != 5 {
		t.Fatalf("delivered %d in-window records, want 5", len(got))
	}
	if !got[0].Equal(until) {
		t.Fatalf("newest resident = %v, want %v", got[0], until)
	}
	if !got[len(got)-1].Equal(time.Unix(testEpoch+5, 0).UTC()) {
		t.Fatalf("oldest resident = %v, want the window's fifth-newest line", got[len(got)-1])
	}

	// Same window and cap serve from the resident set.
	if lf.NeedsReload(logclass.ClassAlert.Bit(), 5, since, until) {
		t.Fatal("NeedsReload = true for an identical scan")
	}
	// Raising or dropping the upper bound needs lines the window excluded.
	if !lf.NeedsReload(logclass.ClassAlert.Bit(), 5, since, time.Unix(testEpoch+19, 0).UTC()) {
		t.Fatal("NeedsReload = false for a higher upper bound")
	}
	if !lf.NeedsReload(logclass.ClassAlert.Bit(), 5, since, time.Time{}) {
		t.Fatal("NeedsReload = false for an unbounded upper bound")
	}
}

func TestLoadRangeLowerBoundWatermark(t *testing.T) {
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, alertLine(testEpoch+int64(i), i))
	}
	path := writeHistoryFile(t, "history.log", lines)

	lf, err := New(path, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	since := time.Unix(testEpoch+5, 0).UTC()
	n, err := lf.LoadRange(logclass.ClassAlert.Bit(), 0, since, time.Time{})
	if err != nil {
		t.Fatalf("LoadRange: %v", err)
	}
	if n != 5 {
		t.Fatalf("loaded %d, want the 5 lines at or after the bound", n)
	}

	if lf.NeedsReload(logclass.ClassAlert.Bit(), 0, since, time.Time{}) {
		t.Fatal("NeedsReload = true for the loaded window")
	}
	if !lf.NeedsReload(logclass.ClassAlert.Bit(), 0, time.Unix(testEpoch+2, 0).UTC(), time.Time{}) {
		t.Fatal("NeedsReload = false for a lower bound before the loaded window")
	}
	if !lf.NeedsReload(logclass.ClassAlert.Bit(), 0, time.Time{}, time.Time{}) {
		t.Fatal("NeedsReload = false for an unbounded lower bound")
	}
	// Narrowing stays within the resident set.
	if lf.NeedsReload(logclass.ClassAlert.Bit(), 0, time.Unix(testEpoch+8, 0).UTC(), time.Time{}) {
		t.Fatal("NeedsReload = true for a narrower scan")
	}
}

func TestFlushAndReloadYieldsIdenticalRecords(t *testing.T) {
	path := writeHistoryFile(t, "history.log", []string{
		alertLine(testEpoch, 1),
		commandLine(testEpoch + 5),
		alertLine(testEpoch+10, 2),
	})

	lf, err := New(path, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	collect := func() []model.LogRecord {
		var out []model.LogRecord
		lf.EachDescending(time.Time{}, time.Time{}, logclass.AllClasses, 0, func(r *model.LogRecord) bool {
			out = append(out, *r)
			return true
		})
		return out
	}

	if _, err := lf.LoadRange(logclass.AllClasses, 0, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("LoadRange: %v", err)
	}
	before := collect()

	dropped := lf.Flush()
	if dropped != len(before) {
		t.Fatalf("Flush dropped %d, want %d", dropped, len(before))
	}
	if lf.NumLoadedLines() != 0 || lf.ClassesRead() != 0 {
		t.Fatal("Flush left resident state behind")
	}
	if !lf.Since().Equal(time.Unix(testEpoch, 0).UTC()) {
		t.Fatal("Flush disturbed the index key")
	}

	if _, err := lf.LoadRange(logclass.AllClasses, 0, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("LoadRange after Flush: %v", err)
	}
	after := collect()

	if len(before) != len(after) {
		t.Fatalf("record count changed across reload: %d != %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("record %d changed across reload: %+v != %+v", i, before[i], after[i])
		}
	}
}

func TestEachDescendingBoundsAndStop(t *testing.T) {
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, alertLine(testEpoch+int64(i), i))
	}
	path := writeHistoryFile(t, "history.log", lines)

	lf, err := New(path, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := lf.LoadRange(logclass.AllClasses, 0, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("LoadRange: %v", err)
	}

	since := time.Unix(testEpoch+3, 0).UTC()
	until := time.Unix(testEpoch+7, 0).UTC()

	var got []time.Time
	lf.EachDescending(since, until, logclass.AllClasses, 0, func(r *model.LogRecord) bool {
		got = append(got, r.Timestamp)
		return true
	})
	if len(got) != 5 {
		t.Fatalf("delivered %d records in [3,7], want 5", len(got))
	}
	for _, ts := range got {
		if ts.Before(since) || ts.After(until) {
			t.Fatalf("record %v outside [%v, %v]", ts, since, until)
		}
	}

	// Per-call cap.
	count := 0
	lf.EachDescending(time.Time{}, time.Time{}, logclass.AllClasses, 3, func(*model.LogRecord) bool {
		count++
		return true
	})
	if count != 3 {
		t.Fatalf("cap delivered %d records, want 3", count)
	}

	// Early exit propagates.
	count = 0
	cont := lf.EachDescending(time.Time{}, time.Time{}, logclass.AllClasses, 0, func(*model.LogRecord) bool {
		count++
		return count < 2
	})
	if cont {
		t.Fatal("EachDescending = true after the callback signaled stop")
	}
	if count != 2 {
		t.Fatalf("callback ran %d times after stop at 2", count)
	}
}

func TestGrowthCallback(t *testing.T) {
	path := writeHistoryFile(t, "history.log", []string{
		alertLine(testEpoch, 1),
		alertLine(testEpoch+1, 2),
		commandLine(testEpoch + 2),
	})

	grown := 0
	var lf *Logfile
	lf, err := New(path, nil, func(got *Logfile, _ logclass.Mask) {
		if got != lf {
			t.Error("growth callback received a different handle")
		}
		grown++
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := lf.LoadRange(logclass.ClassAlert.Bit(), 0, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("LoadRange: %v", err)
	}
	if grown != 2 {
		t.Fatalf("growth callback fired %d times, want 2", grown)
	}
	if _, err := lf.LoadRange(logclass.ClassCommand.Bit(), 0, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("LoadRange: %v", err)
	}
	if grown != 3 {
		t.Fatalf("growth callback fired %d times, want 3", grown)
	}
}

func TestGzipArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history-1.log.gz")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	gz := gzip.NewWriter(f)
	for i := 0; i < 3; i++ {
		fmt.Fprintln(gz, alertLine(testEpoch+int64(i), i))
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("file close: %v", err)
	}

	lf, err := New(path, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !lf.Since().Equal(time.Unix(testEpoch, 0).UTC()) {
		t.Fatalf("Since = %v", lf.Since())
	}
	n, err := lf.LoadRange(logclass.AllClasses, 0, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("LoadRange: %v", err)
	}
	if n != 3 {
		t.Fatalf("loaded %d lines from archive, want 3", n)
	}
}
