package logfile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/histlog/internal/logclass"
	"github.com/tinytelemetry/histlog/internal/model"
)

// kindClasses maps the message type token of a typed history line to its
// class. Typed lines not listed here are classified as info.
var kindClasses = map[string]logclass.Class{
	"HOST ALERT":                    logclass.ClassAlert,
	"SERVICE ALERT":                 logclass.ClassAlert,
	"HOST DOWNTIME ALERT":           logclass.ClassAlert,
	"SERVICE DOWNTIME ALERT":        logclass.ClassAlert,
	"HOST FLAPPING ALERT":           logclass.ClassAlert,
	"SERVICE FLAPPING ALERT":        logclass.ClassAlert,
	"HOST ACKNOWLEDGE ALERT":        logclass.ClassAlert,
	"SERVICE ACKNOWLEDGE ALERT":     logclass.ClassAlert,
	"HOST NOTIFICATION":             logclass.ClassNotification,
	"SERVICE NOTIFICATION":          logclass.ClassNotification,
	"HOST NOTIFICATION RESULT":      logclass.ClassNotification,
	"SERVICE NOTIFICATION RESULT":   logclass.ClassNotification,
	"HOST NOTIFICATION PROGRESS":    logclass.ClassNotification,
	"SERVICE NOTIFICATION PROGRESS": logclass.ClassNotification,
	"PASSIVE HOST CHECK":            logclass.ClassPassive,
	"PASSIVE SERVICE CHECK":         logclass.ClassPassive,
	"EXTERNAL COMMAND":              logclass.ClassCommand,
	"INITIAL HOST STATE":            logclass.ClassState,
	"INITIAL SERVICE STATE":         logclass.ClassState,
	"CURRENT HOST STATE":            logclass.ClassState,
	"CURRENT SERVICE STATE":         logclass.ClassState,
	"TIMEPERIOD TRANSITION":         logclass.ClassState,
}

// programPrefixes identify untyped lines emitted by the engine itself.
var programPrefixes = []string{
	"starting...",
	"shutting down...",
	"restarting...",
	"active mode...",
	"standby mode...",
	"logging initial states",
	"LOG ROTATION",
	"LOG VERSION",
}

// parseLine parses one raw history line of the form
//
//	[<epoch seconds>] <TYPE>: <payload>
//	[<epoch seconds>] <free text>
//
// and classifies it.
func parseLine(line string) (model.LogRecord, error) {
	if !strings.HasPrefix(line, "[") {
		return model.LogRecord{}, fmt.Errorf("logfile: line has no timestamp bracket")
	}
	bracket := strings.IndexByte(line, ']')
	if bracket < 0 {
		return model.LogRecord{}, fmt.Errorf("logfile: unterminated timestamp bracket")
	}
	epoch, err := strconv.ParseInt(strings.TrimSpace(line[1:bracket]), 10, 64)
	if err != nil {
		return model.LogRecord{}, fmt.Errorf("logfile: parse timestamp: %w", err)
	}

	rec := model.LogRecord{Timestamp: time.Unix(epoch, 0).UTC()}
	rest := strings.TrimSpace(line[bracket+1:])

	if idx := strings.Index(rest, ": "); idx > 0 {
		rec.Kind = rest[:idx]
		rec.Text = rest[idx+2:]
		if class, ok := kindClasses[rec.Kind]; ok {
			rec.Class = class
		} else {
			rec.Class = logclass.ClassInfo
		}
		return rec, nil
	}

	rec.Text = rest
	rec.Class = logclass.ClassText
	for _, prefix := range programPrefixes {
		if strings.HasPrefix(rest, prefix) {
			rec.Class = logclass.ClassProgram
			break
		}
	}
	return rec, nil
}
