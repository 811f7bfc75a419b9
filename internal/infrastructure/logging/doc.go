// Package logging builds the service-wide slog logger and the EventLogger
// observer.
//
// Every record carries service and version attributes. The format is json
// unless logging.format is "text"; output is stdout, stderr or discard.
// At debug level the source location is attached.
//
// EventLogger logs each persist.Event: successes at debug, operations slower
// than the configured threshold at warn, failures at error. An empty query
// result is not a failure. Bound parameter values are never logged.
package logging
