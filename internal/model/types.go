package model

import (
	"time"

	"github.com/tinytelemetry/histlog/internal/logclass"
)

// LogRecord represents a single parsed history log line. It is the canonical
// type for scanning, transport (socket RPC), and the HTTP API.
type LogRecord struct {
	Timestamp time.Time
	Class     logclass.Class
	Kind      string // message type token, e.g. "SERVICE ALERT"; empty for untyped lines
	Text      string // payload after the type token, or the whole line
}

// LogQuery holds the caller-facing query parameters of the read surfaces.
// Zero values select the widest scan: all classes, no lower bound, now as
// the upper bound, and the configured default limits.
type LogQuery struct {
	Since              time.Time
	Until              time.Time
	Classes            []string // class names; empty = all
	Limit              int      // total records returned; 0 = default
	MaxLinesPerLogfile int      // per-file scan cap; 0 = default
}

// PathsResult is the outcome of a PathsSince lookup: the log file paths
// covering the horizon, most recent first, and the first file that fell
// entirely before it (empty when none was skipped).
type PathsResult struct {
	Paths   []string
	Skipped string
}

// CacheStats is a point-in-time snapshot of the cache index.
type CacheStats struct {
	NumLogfiles          int
	NumCachedLogMessages int
	LastIndexUpdate      time.Time
}
