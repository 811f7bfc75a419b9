package influxdb

import (
	"database/sql"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-persist/internal/persist"
)

// Measurement names written by persistd.
const (
	// MeasurementOps holds one point per persist operation.
	MeasurementOps = "persist_ops"

	// MeasurementPool holds periodic connection pool snapshots.
	MeasurementPool = "db_pool"
)

// OperationPoint converts a persist.Event to a persist_ops point.
//
// Only kind and outcome are tags. Statement text and transaction ids never
// enter the series key.
func OperationPoint(ev persist.Event) *write.Point {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	success := "true"
	if !ev.Succeeded() {
		success = "false"
	}

	return write.NewPoint(
		MeasurementOps,
		map[string]string{
			"kind":    string(ev.Kind),
			"success": success,
		},
		map[string]interface{}{
			"duration_ms": float64(ev.Duration.Microseconds()) / 1000,
			"rows":        ev.Rows,
		},
		ts,
	)
}

// PoolPoint converts database/sql pool statistics to a db_pool point.
//
// Parameters:
//   - driver: database/sql driver name, used as the only tag
//   - stats: pool statistics from sql.DB.Stats
//   - healthy: result of the most recent health check
//   - ts: sample time
func PoolPoint(driver string, stats sql.DBStats, healthy bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementPool,
		map[string]string{
			"driver": driver,
		},
		map[string]interface{}{
			"open":             stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
			"wait_count":       stats.WaitCount,
			"wait_duration_ms": stats.WaitDuration.Milliseconds(),
			"healthy":          healthy,
		},
		ts,
	)
}

// OnEvent implements persist.Observer.
//
// The write is non-blocking; points are batched and sent asynchronously.
func (c *Client) OnEvent(ev persist.Event) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(OperationPoint(ev))
}

// WritePoolStats records a connection pool snapshot.
func (c *Client) WritePoolStats(driver string, stats sql.DBStats, healthy bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(PoolPoint(driver, stats, healthy, time.Now()))
}

var _ persist.Observer = (*Client)(nil)
