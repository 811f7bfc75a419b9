package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-persist/internal/persist"
)

// DefaultSource labels entries written by a Recorder without SetSource.
const DefaultSource = "persistd"

// writeTimeout bounds a single audit insert.
const writeTimeout = 5 * time.Second

// Logger is the subset of logging used by Recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Recorder is a persist.Observer that writes commit and rollback events to
// a Repository.
//
// Entries are queued and written serially by one goroutine so OnEvent never
// blocks the transaction that produced the event. When the queue is full
// entries are dropped and counted.
type Recorder struct {
	repo   Repository
	source string

	queue chan *Entry
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64

	logger Logger
}

// NewRecorder starts a Recorder writing to repo with a queue of buffer
// entries (minimum 1).
func NewRecorder(repo Repository, buffer int) *Recorder {
	if buffer < 1 {
		buffer = 1
	}
	r := &Recorder{
		repo:   repo,
		source: DefaultSource,
		queue:  make(chan *Entry, buffer),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// SetLogger sets a logger for write failures and dropped entries.
// Must be called before events are delivered.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// SetSource sets the source column of subsequent entries.
// Must be called before events are delivered.
func (r *Recorder) SetSource(source string) {
	r.source = source
}

// OnEvent implements persist.Observer. Only commit and rollback events are
// recorded.
func (r *Recorder) OnEvent(ev persist.Event) {
	var action string
	switch ev.Kind {
	case persist.EventCommit:
		action = ActionCommit
	case persist.EventRollback:
		action = ActionRollback
	default:
		return
	}

	entry := &Entry{
		TxID:       ev.TxID,
		Action:     action,
		Rows:       ev.Rows,
		DurationMS: ev.Duration.Milliseconds(),
		Source:     r.source,
		CreatedAt:  ev.Time.UTC(),
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- entry:
	default:
		if r.dropped.Add(1) == 1 && r.logger != nil {
			r.logger.Warn("audit queue full, dropping entries", "capacity", cap(r.queue))
		}
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for entry := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := r.repo.Create(ctx, entry)
		cancel()
		if err != nil {
			r.failed.Add(1)
			if r.logger != nil {
				r.logger.Error("audit write failed", "tx_id", entry.TxID, "action", entry.Action, "error", err)
			}
			continue
		}
		r.written.Add(1)
	}
}

// Close stops accepting events and waits for queued entries to be written.
// Calling Close more than once is safe.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

// Written returns the number of entries stored.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Dropped returns the number of entries discarded because the queue was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Failed returns the number of entries the repository rejected.
func (r *Recorder) Failed() uint64 { return r.failed.Load() }

var _ persist.Observer = (*Recorder)(nil)
