package testutil

import (
	"encoding/json"
	"time"
)

// ServiceCall records a service call for testing/verification
type ServiceCall struct {
	Timestamp time.Time
	Service   string
	Args      map[string]any
}

// PublishedMessage records a message a client published
type PublishedMessage struct {
	Timestamp time.Time
	Topic     string
	Msg       json.RawMessage
}

// Decode unmarshals the message payload into out
func (m PublishedMessage) Decode(out any) error {
	return json.Unmarshal(m.Msg, out)
}

// FilterServiceCalls filters service calls by service name
func FilterServiceCalls(calls []ServiceCall, service string) []ServiceCall {
	var filtered []ServiceCall
	for _, call := range calls {
		if call.Service == service {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

// FilterPublished filters published messages by topic
func FilterPublished(msgs []PublishedMessage, topic string) []PublishedMessage {
	var filtered []PublishedMessage
	for _, m := range msgs {
		if m.Topic == topic {
			filtered = append(filtered, m)
		}
	}
	return filtered
}
