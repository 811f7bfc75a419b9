// Package monitor periodically checks database health and records
// connection pool statistics.
//
// Checks run on a robfig/cron schedule from the monitor config section:
//
//	monitor:
//	  enabled: true
//	  schedule: "@every 30s"   # or "*/15 * * * * *" with seconds
//	  timeout: 5               # seconds per check
//
// Each check pings the database and forwards a pool snapshot to every
// PoolRecorder (InfluxDB db_pool points, retained MQTT pool topic).
package monitor
