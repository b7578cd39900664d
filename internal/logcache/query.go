package logcache

import (
	"time"

	"github.com/tinytelemetry/histlog/internal/logclass"
	"github.com/tinytelemetry/histlog/internal/model"
)

// QueryLogs runs one reverse-chronological scan for the read surfaces and
// collects up to q.Limit matching records. Together with PathsSince and
// Stats it makes the cache a model.HistoryReader.
func (lc *LogCache) QueryLogs(q model.LogQuery) ([]model.LogRecord, error) {
	classes, err := logclass.ParseMask(q.Classes)
	if err != nil {
		return nil, err
	}

	until := q.Until
	if until.IsZero() {
		until = time.Now()
	}
	limit := q.Limit
	if limit <= 0 {
		limit = model.DefaultQueryLimit
	}
	maxLines := q.MaxLinesPerLogfile
	if maxLines <= 0 {
		maxLines = model.DefaultMaxLinesPerLogfile
	}

	filter := LogFilter{
		MaxLinesPerLogfile: maxLines,
		Classes:            classes,
		Since:              q.Since,
		Until:              until,
	}

	out := make([]model.LogRecord, 0, min(limit, 256))
	err = lc.ForEach(filter, func(r *model.LogRecord) bool {
		out = append(out, *r)
		return len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns a snapshot of the index.
func (lc *LogCache) Stats() (model.CacheStats, error) {
	var stats model.CacheStats
	err := lc.Apply(func(view LogFiles) error {
		stats.NumLogfiles = view.Len()
		stats.NumCachedLogMessages = lc.numCachedLogMessages
		stats.LastIndexUpdate = lc.lastIndexUpdate
		return nil
	})
	if err != nil {
		return model.CacheStats{}, err
	}
	return stats, nil
}
