package mqtt

import (
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-persist/internal/persist"
)

type sentMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakePublisher records messages. When gate is non-nil each Publish signals
// started and then waits for gate to close.
type fakePublisher struct {
	mu      sync.Mutex
	sent    []sentMessage
	err     error
	started chan struct{}
	gate    chan struct{}
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if f.gate != nil {
		f.started <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{topic, payload, qos, retained})
	return nil
}

func (f *fakePublisher) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type warnLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *warnLogger) Error(msg string, _ ...any) { l.Warn(msg) }

func (l *warnLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *warnLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

func TestEventPublisher_Publishes(t *testing.T) {
	fake := &fakePublisher{}
	p := NewEventPublisher(fake, Topics{Prefix: "ledger"}, 1, 8)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p.OnEvent(persist.Event{
		Kind:     persist.EventPersist,
		TxID:     "tx-1",
		SQL:      "INSERT INTO account (name) VALUES (?)",
		Rows:     1,
		InsertID: 42,
		Duration: 1500 * time.Microsecond,
		Time:     started,
	})
	p.OnEvent(persist.Event{Kind: persist.EventCommit, TxID: "tx-1"})

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	msgs := fake.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	if msgs[0].topic != "ledger/events/persist" || msgs[1].topic != "ledger/events/commit" {
		t.Errorf("topics = %q, %q", msgs[0].topic, msgs[1].topic)
	}
	if msgs[0].qos != 1 || msgs[0].retained {
		t.Errorf("qos = %d retained = %v, want 1 false", msgs[0].qos, msgs[0].retained)
	}

	var got EventMessage
	if err := json.Unmarshal(msgs[0].payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Kind != "persist" || got.TxID != "tx-1" || got.Rows != 1 || got.InsertID != 42 {
		t.Errorf("message = %+v", got)
	}
	if got.DurationMS != 1.5 || !got.Timestamp.Equal(started) || !got.Success {
		t.Errorf("duration = %v timestamp = %v success = %v", got.DurationMS, got.Timestamp, got.Success)
	}
	if p.Published() != 2 || p.Dropped() != 0 || p.Failed() != 0 {
		t.Errorf("published/dropped/failed = %d/%d/%d", p.Published(), p.Dropped(), p.Failed())
	}
}

func TestEventPublisher_FailureMessage(t *testing.T) {
	msg := NewEventMessage(persist.Event{Kind: persist.EventRollback, Err: errors.New("disk full")})
	if msg.Success || msg.Error != "disk full" {
		t.Errorf("message = %+v, want failed with error text", msg)
	}
}

func TestEventPublisher_DropsWhenFull(t *testing.T) {
	fake := &fakePublisher{
		started: make(chan struct{}, 3),
		gate:    make(chan struct{}),
	}
	logger := &warnLogger{}
	p := NewEventPublisher(fake, Topics{}, 0, 1)
	p.SetLogger(logger)

	p.OnEvent(persist.Event{Kind: persist.EventBegin})
	<-fake.started // first event is in flight

	p.OnEvent(persist.Event{Kind: persist.EventPersist}) // queued
	p.OnEvent(persist.Event{Kind: persist.EventCommit})  // dropped
	p.OnEvent(persist.Event{Kind: persist.EventQuery})   // dropped

	if p.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", p.Dropped())
	}
	if logger.count() != 1 {
		t.Errorf("logged %d warnings, want 1 for the first drop", logger.count())
	}

	close(fake.gate)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if p.Published() != 2 {
		t.Errorf("Published() = %d, want 2", p.Published())
	}
}

func TestEventPublisher_PublishError(t *testing.T) {
	fake := &fakePublisher{err: ErrNotConnected}
	logger := &warnLogger{}
	p := NewEventPublisher(fake, Topics{}, 0, 0)
	p.SetLogger(logger)

	p.OnEvent(persist.Event{Kind: persist.EventQuery})
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if p.Failed() != 1 || p.Published() != 0 {
		t.Errorf("failed/published = %d/%d, want 1/0", p.Failed(), p.Published())
	}
	if logger.count() != 1 {
		t.Errorf("logged %d warnings, want 1", logger.count())
	}
}

func TestEventPublisher_CloseIdempotent(t *testing.T) {
	fake := &fakePublisher{}
	p := NewEventPublisher(fake, Topics{}, 0, 0)

	if err := p.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	// Events after Close are ignored, not a panic on a closed channel.
	p.OnEvent(persist.Event{Kind: persist.EventCommit})
	if len(fake.messages()) != 0 {
		t.Errorf("sent %d messages after Close, want 0", len(fake.messages()))
	}
}

func TestPublishPoolStats(t *testing.T) {
	fake := &fakePublisher{}
	stats := sql.DBStats{OpenConnections: 3, InUse: 1, Idle: 2, WaitCount: 4, WaitDuration: 20 * time.Millisecond}

	if err := PublishPoolStats(fake, Topics{Prefix: "ledger"}, "pgx", stats, true); err != nil {
		t.Fatalf("PublishPoolStats() error = %v", err)
	}

	msgs := fake.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "ledger/system/pool" || !msgs[0].retained {
		t.Errorf("topic = %q retained = %v", msgs[0].topic, msgs[0].retained)
	}

	var got PoolMessage
	if err := json.Unmarshal(msgs[0].payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Driver != "pgx" || got.OpenConnections != 3 || got.InUse != 1 || got.Idle != 2 || got.WaitDurationMS != 20 || !got.Healthy {
		t.Errorf("message = %+v", got)
	}
}

func TestPoolReporter_LogsFailure(t *testing.T) {
	logger := &warnLogger{}
	r := PoolReporter{Pub: &fakePublisher{err: ErrNotConnected}, Topics: Topics{}, Logger: logger}

	r.WritePoolStats("sqlite3", sql.DBStats{}, false)

	if logger.count() != 1 {
		t.Errorf("logged %d warnings, want 1", logger.count())
	}
}
