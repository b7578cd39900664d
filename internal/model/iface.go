package model

import "time"

// HistoryReader is the read contract shared by the HTTP API and socket RPC.
type HistoryReader interface {
	QueryLogs(q LogQuery) ([]LogRecord, error)
	PathsSince(since time.Time) (PathsResult, error)
	Stats() (CacheStats, error)
}
