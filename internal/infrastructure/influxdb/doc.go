// Package influxdb records persist operation metrics in InfluxDB v2.
//
// # Measurements
//
//	persist_ops   tags: kind, success       fields: duration_ms, rows
//	db_pool       tags: driver              fields: open, in_use, idle, wait_count, wait_duration_ms, healthy
//
// Tags from the influxdb.tags config section are added to every point.
// Timestamps are written with millisecond precision.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	factory.SetObserver(persist.Observers{eventLogger, client})
//
// The monitor package feeds db_pool through WritePoolStats.
package influxdb
