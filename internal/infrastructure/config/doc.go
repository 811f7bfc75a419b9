// Package config loads persistd configuration.
//
// Values are resolved in three layers: built-in defaults, then the YAML
// file, then PERSIST_* environment variables. Load validates the result and
// reports every problem in one error.
//
// # Sections
//
//	database   driver, DSN or file path, pool limits, statement cache, migrations
//	mqtt       event publishing (off by default)
//	influxdb   operation metrics (off by default)
//	admin      HTTP API and event stream (off by default)
//	monitor    cron-scheduled health checks (off by default)
//	audit      transaction audit trail (off by default)
//	logging    level, format, output
//
// Secrets (database password, broker credentials, InfluxDB token, admin JWT
// secret) belong in the environment rather than the file.
//
//	cfg, err := config.Load(os.Getenv("PERSIST_CONFIG"))
//	if err != nil {
//	    return err
//	}
package config
