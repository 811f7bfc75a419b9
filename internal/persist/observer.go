package persist

import "time"

// EventKind identifies the operation an Event describes.
type EventKind string

// Event kinds emitted by Transaction and Query.
const (
	EventBegin    EventKind = "begin"
	EventPersist  EventKind = "persist"
	EventCommit   EventKind = "commit"
	EventRollback EventKind = "rollback"
	EventQuery    EventKind = "query"
)

// Event describes one completed operation.
//
// Events are emitted after the operation finishes, successfully or not.
// Err is nil on success.
type Event struct {
	Kind     EventKind
	TxID     string // empty for queries
	SQL      string // statement text for persist and query events
	Rows     int64  // rows affected (persist) or rows buffered (query)
	InsertID int64  // generated key for persist events
	Duration time.Duration
	Time     time.Time
	Err      error
}

// Succeeded reports whether the operation completed without error.
func (e Event) Succeeded() bool {
	return e.Err == nil
}

// Observer receives Events from managers.
//
// OnEvent is called synchronously on the caller's goroutine, so
// implementations must not block. Publishing to a network sink should hand
// the event off (buffered channel, async client) rather than wait for I/O.
type Observer interface {
	OnEvent(ev Event)
}

// ObserverFunc adapts an ordinary function to the Observer interface.
type ObserverFunc func(ev Event)

// OnEvent calls f(ev).
func (f ObserverFunc) OnEvent(ev Event) {
	f(ev)
}

// Observers fans an Event out to every non-nil member in order.
type Observers []Observer

// OnEvent forwards ev to each observer.
func (o Observers) OnEvent(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.OnEvent(ev)
		}
	}
}

// emit stamps ev and delivers it to obs when one is configured.
func emit(obs Observer, ev Event, started time.Time) {
	if obs == nil {
		return
	}
	ev.Time = started
	ev.Duration = time.Since(started)
	obs.OnEvent(ev)
}
