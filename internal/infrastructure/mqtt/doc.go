// Package mqtt mirrors persist activity onto an MQTT broker.
//
// A Client owns the paho connection and keeps a retained status document on
// {prefix}/system/status: "online" after every (re)connect, "offline" with
// reason graceful_shutdown on Close, and a broker-side will with reason
// unexpected_disconnect. Reconnects() counts how often the link came back.
//
// EventPublisher implements persist.Observer. Events are queued and
// published from a single goroutine, so a slow broker never stalls a
// transaction; overflow is dropped and counted. PoolReporter feeds the
// monitor with retained pool snapshots.
//
// Topics:
//
//	{prefix}/events/{kind}   begin, persist, commit, rollback, query
//	{prefix}/system/status   retained
//	{prefix}/system/pool     retained
//
// Payloads include statement text but never bound parameter values. Enable
// broker.tls for anything beyond a loopback broker.
package mqtt
