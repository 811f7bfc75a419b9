package mqtt

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-persist/internal/persist"
)

// defaultEventBuffer is the queue length used when NewEventPublisher is given 0.
const defaultEventBuffer = 256

// Publisher is the subset of Client used by EventPublisher.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// EventMessage is the JSON payload published for each persist.Event.
type EventMessage struct {
	Kind       string    `json:"kind"`
	TxID       string    `json:"tx_id,omitempty"`
	SQL        string    `json:"sql,omitempty"`
	Rows       int64     `json:"rows"`
	InsertID   int64     `json:"insert_id,omitempty"`
	DurationMS float64   `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// NewEventMessage converts ev to its wire form.
func NewEventMessage(ev persist.Event) EventMessage {
	msg := EventMessage{
		Kind:       string(ev.Kind),
		TxID:       ev.TxID,
		SQL:        ev.SQL,
		Rows:       ev.Rows,
		InsertID:   ev.InsertID,
		DurationMS: float64(ev.Duration.Microseconds()) / 1000,
		Timestamp:  ev.Time.UTC(),
		Success:    ev.Succeeded(),
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}

// EventPublisher is a persist.Observer that publishes every Event to
// {prefix}/events/{kind}.
//
// OnEvent never blocks: events are queued on a bounded channel and sent by a
// single background goroutine. When the queue is full the event is dropped
// and counted.
//
// Thread Safety:
//   - OnEvent may be called from any goroutine.
//   - Close waits for queued events to be sent.
type EventPublisher struct {
	pub    Publisher
	topics Topics
	qos    byte

	queue chan persist.Event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	logger Logger
}

// NewEventPublisher starts an EventPublisher sending through pub.
//
// Parameters:
//   - pub: usually a connected *Client
//   - topics: topic builder carrying the configured prefix
//   - qos: QoS for event messages (0, 1 or 2)
//   - buffer: queue length; 0 selects a default
//
// Returns:
//   - *EventPublisher: running publisher; call Close on shutdown
func NewEventPublisher(pub Publisher, topics Topics, qos byte, buffer int) *EventPublisher {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	p := &EventPublisher{
		pub:    pub,
		topics: topics,
		qos:    qos,
		queue:  make(chan persist.Event, buffer),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// SetLogger sets a logger for publish failures and dropped events.
// Must be called before events are delivered.
func (p *EventPublisher) SetLogger(logger Logger) {
	p.logger = logger
}

// OnEvent implements persist.Observer.
func (p *EventPublisher) OnEvent(ev persist.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- ev:
	default:
		if p.dropped.Add(1) == 1 && p.logger != nil {
			p.logger.Warn("MQTT event queue full, dropping events", "capacity", cap(p.queue))
		}
	}
}

func (p *EventPublisher) run() {
	defer p.wg.Done()
	for ev := range p.queue {
		if err := p.send(ev); err != nil {
			p.failed.Add(1)
			if p.logger != nil {
				p.logger.Warn("MQTT event publish failed", "kind", ev.Kind, "error", err)
			}
			continue
		}
		p.published.Add(1)
	}
}

func (p *EventPublisher) send(ev persist.Event) error {
	payload, err := json.Marshal(NewEventMessage(ev))
	if err != nil {
		return fmt.Errorf("%w: encoding event: %w", ErrPublishFailed, err)
	}
	return p.pub.Publish(p.topics.Event(string(ev.Kind)), payload, p.qos, false)
}

// Close stops accepting events and waits for the queue to drain.
// Calling Close more than once is safe.
func (p *EventPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// Published returns the number of events sent successfully.
func (p *EventPublisher) Published() uint64 { return p.published.Load() }

// Dropped returns the number of events discarded because the queue was full.
func (p *EventPublisher) Dropped() uint64 { return p.dropped.Load() }

// Failed returns the number of events the broker did not accept.
func (p *EventPublisher) Failed() uint64 { return p.failed.Load() }

// PoolMessage is the retained payload published to {prefix}/system/pool.
type PoolMessage struct {
	Driver          string    `json:"driver"`
	OpenConnections int       `json:"open_connections"`
	InUse           int       `json:"in_use"`
	Idle            int       `json:"idle"`
	WaitCount       int64     `json:"wait_count"`
	WaitDurationMS  int64     `json:"wait_duration_ms"`
	Healthy         bool      `json:"healthy"`
	Timestamp       time.Time `json:"timestamp"`
}

// PublishPoolStats publishes a retained pool snapshot through pub.
//
// Parameters:
//   - pub: usually a connected *Client
//   - topics: topic builder carrying the configured prefix
//   - driver: database/sql driver name
//   - stats: database/sql pool statistics
//   - healthy: result of the most recent database health check
//
// Returns:
//   - error: if encoding or publishing fails
func PublishPoolStats(pub Publisher, topics Topics, driver string, stats sql.DBStats, healthy bool) error {
	payload, err := json.Marshal(PoolMessage{
		Driver:          driver,
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDurationMS:  stats.WaitDuration.Milliseconds(),
		Healthy:         healthy,
		Timestamp:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: encoding pool stats: %w", ErrPublishFailed, err)
	}
	return pub.Publish(topics.SystemPool(), payload, 1, true)
}

// PoolReporter publishes pool snapshots on each WritePoolStats call.
type PoolReporter struct {
	Pub    Publisher
	Topics Topics
	Logger Logger // optional
}

// WritePoolStats publishes a retained snapshot, logging rather than
// returning publish failures.
func (r PoolReporter) WritePoolStats(driver string, stats sql.DBStats, healthy bool) {
	if err := PublishPoolStats(r.Pub, r.Topics, driver, stats, healthy); err != nil && r.Logger != nil {
		r.Logger.Warn("MQTT pool stats publish failed", "error", err)
	}
}

var (
	_ persist.Observer = (*EventPublisher)(nil)
	_ Publisher        = (*Client)(nil)
)
