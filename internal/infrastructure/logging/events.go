package logging

import (
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-persist/internal/persist"
)

// EventLogger logs persist Events.
//
// Successful operations are logged at debug level. Operations slower than
// SlowThreshold are logged at warn level, and failed operations other than
// empty query results at error level. A zero SlowThreshold disables
// slow-operation warnings.
type EventLogger struct {
	logger        *Logger
	SlowThreshold time.Duration
}

// NewEventLogger returns an EventLogger writing through l with the
// "component=persist" attribute.
func NewEventLogger(l *Logger, slow time.Duration) *EventLogger {
	return &EventLogger{
		logger:        l.With("component", "persist"),
		SlowThreshold: slow,
	}
}

// OnEvent implements persist.Observer.
func (e *EventLogger) OnEvent(ev persist.Event) {
	args := []any{
		"op", string(ev.Kind),
		"duration_ms", ev.Duration.Milliseconds(),
	}
	if ev.TxID != "" {
		args = append(args, "tx_id", ev.TxID)
	}
	if ev.SQL != "" {
		args = append(args, "sql", ev.SQL)
	}
	if ev.Kind == persist.EventPersist || ev.Kind == persist.EventQuery {
		args = append(args, "rows", ev.Rows)
	}

	switch {
	case errors.Is(ev.Err, persist.ErrNoResult):
		e.logger.Debug("persist query returned no rows", args...)
	case !ev.Succeeded():
		e.logger.Error("persist operation failed", append(args, "error", ev.Err)...)
	case e.SlowThreshold > 0 && ev.Duration >= e.SlowThreshold:
		e.logger.Warn("slow persist operation", args...)
	default:
		e.logger.Debug("persist operation", args...)
	}
}

var _ persist.Observer = (*EventLogger)(nil)
