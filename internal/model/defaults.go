package model

import "time"

// Shared defaults used by the daemon and the query CLI.
const (
	// DefaultUpdateInterval throttles directory rescans.
	DefaultUpdateInterval = 10 * time.Second
	// DefaultMaxCachedMessages bounds the aggregate number of log lines kept
	// in memory across all indexed files before old files are unloaded.
	DefaultMaxCachedMessages = 500000
	// DefaultMaxLinesPerLogfile caps how many lines one file may contribute
	// to a single scan.
	DefaultMaxLinesPerLogfile = 100000
	// DefaultQueryLimit bounds the records returned by one read-surface query.
	DefaultQueryLimit = 1000
)
