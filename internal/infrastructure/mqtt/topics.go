package mqtt

import "strings"

// DefaultTopicPrefix is used when Topics.Prefix is empty.
const DefaultTopicPrefix = "persist"

// Topics builds the MQTT topic names persistd publishes to.
//
// Topic layout:
//
//	{prefix}/events/{kind}     one message per persist operation
//	{prefix}/system/status     retained online/offline status (LWT)
//	{prefix}/system/pool       retained connection pool snapshot
//
// Usage:
//
//	t := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}
//	topic := t.Event("commit") // "persist/events/commit"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// Event returns the topic for operation events of the given kind.
func (t Topics) Event(kind string) string {
	return t.prefix() + "/events/" + kind
}

// AllEvents returns a wildcard matching every event topic.
func (t Topics) AllEvents() string {
	return t.prefix() + "/events/+"
}

// SystemStatus returns the retained online/offline status topic.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// SystemPool returns the retained pool statistics topic.
func (t Topics) SystemPool() string {
	return t.prefix() + "/system/pool"
}
