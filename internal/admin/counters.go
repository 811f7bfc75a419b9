package admin

import (
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-persist/internal/persist"
)

// Counters tallies persist Events per kind for the stats endpoint.
type Counters struct {
	ops map[persist.EventKind]*opCounter
}

type opCounter struct {
	total    atomic.Int64
	failed   atomic.Int64
	rows     atomic.Int64
	duration atomic.Int64 // nanoseconds
}

// OpStats is the JSON form of one kind's counters.
type OpStats struct {
	Total         int64   `json:"total"`
	Failed        int64   `json:"failed"`
	Rows          int64   `json:"rows"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// NewCounters returns zeroed counters for every event kind.
func NewCounters() *Counters {
	c := &Counters{ops: make(map[persist.EventKind]*opCounter)}
	for _, k := range []persist.EventKind{
		persist.EventBegin,
		persist.EventPersist,
		persist.EventCommit,
		persist.EventRollback,
		persist.EventQuery,
	} {
		c.ops[k] = &opCounter{}
	}
	return c
}

// OnEvent implements persist.Observer.
func (c *Counters) OnEvent(ev persist.Event) {
	oc, ok := c.ops[ev.Kind]
	if !ok {
		return
	}
	oc.total.Add(1)
	if !ev.Succeeded() {
		oc.failed.Add(1)
	}
	oc.rows.Add(ev.Rows)
	oc.duration.Add(int64(ev.Duration))
}

// Snapshot returns the current counters keyed by kind.
func (c *Counters) Snapshot() map[string]OpStats {
	out := make(map[string]OpStats, len(c.ops))
	for kind, oc := range c.ops {
		st := OpStats{
			Total:  oc.total.Load(),
			Failed: oc.failed.Load(),
			Rows:   oc.rows.Load(),
		}
		if st.Total > 0 {
			avg := time.Duration(oc.duration.Load() / st.Total)
			st.AvgDurationMS = float64(avg.Microseconds()) / 1000
		}
		out[string(kind)] = st
	}
	return out
}

var _ persist.Observer = (*Counters)(nil)
