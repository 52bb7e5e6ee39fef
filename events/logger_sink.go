package events

import (
	"github.com/contentmigrate/migrate-framework/pkg/logger"
)

// LoggerSink writes events as structured log lines. Failed rows are warnings, everything
// else is logged at info or debug level.
type LoggerSink struct {
	lggr logger.Logger
}

var _ Sink = &LoggerSink{}

// NewLoggerSink returns a sink logging to lggr.
func NewLoggerSink(lggr logger.Logger) *LoggerSink {
	return &LoggerSink{lggr: lggr}
}

func (s *LoggerSink) Emit(e Event) {
	kv := []any{"event", string(e.Type), "eventID", e.ID, "migration", e.MigrationID}
	if len(e.SourceIDs) > 0 {
		kv = append(kv, "sourceIDs", e.SourceIDs.String())
	}
	if len(e.DestinationIDs) > 0 {
		kv = append(kv, "destinationIDs", e.DestinationIDs.String())
	}
	if e.Message != "" {
		kv = append(kv, "message", e.Message)
	}
	if e.Counts != nil {
		kv = append(kv,
			"state", e.Counts.State,
			"processed", e.Counts.Processed,
			"created", e.Counts.Created,
			"updated", e.Counts.Updated,
			"skipped", e.Counts.Skipped,
			"failed", e.Counts.Failed,
			"upToDate", e.Counts.UpToDate,
			"rolledBack", e.Counts.RolledBack,
		)
	}

	switch e.Type {
	case RowFailed:
		s.lggr.Warnw("Row failed", kv...)
	case RowSkipped:
		s.lggr.Infow("Row skipped", kv...)
	case RunStarted:
		s.lggr.Infow("Migration run started", kv...)
	case RunCompleted:
		s.lggr.Infow("Migration run finished", kv...)
	default:
		s.lggr.Debugw("Row event", kv...)
	}
}
