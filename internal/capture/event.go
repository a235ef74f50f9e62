// Package capture holds the event model shared by the pipelines and the
// uplink transports: one captured unit (an SMS or a posted notification),
// the filter rule gating acceptance, and the repeat suppressor.
package capture

import "time"

// StreamType identifies which capture stream an event belongs to.
// The values double as wire identifiers (keypath segments, archive keys).
type StreamType string

const (
	StreamSMS          StreamType = "sms"
	StreamNotification StreamType = "notification"
)

// SMS direction values, carried in the event's "direction" extra field.
// The batch API expects "received"/"sent" verbatim.
const (
	DirectionReceived = "received"
	DirectionSent     = "sent"
)

// Well-known extra field keys.
const (
	ExtraDirection = "direction"
	ExtraTitle     = "title"
)

// Field is one auxiliary key/value pair attached to an event.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Fields is an insertion-ordered set of auxiliary string fields
// (e.g. notification category/priority). Order is preserved on transports
// that carry it; transports that can't are allowed to drop it.
type Fields []Field

// Get returns the value for key and whether it is present.
func (f Fields) Get(key string) (string, bool) {
	for _, kv := range f {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// With returns a copy of f with key set to value, replacing an existing
// entry in place or appending a new one.
func (f Fields) With(key, value string) Fields {
	out := append(Fields(nil), f...)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, Field{Key: key, Value: value})
}

// Event is one captured unit. Immutable after creation; the buffer owns it
// until a flush hands it to a transport.
//
// Sender is a phone number for SMS (possibly SIM-slot qualified by the
// source; opaque here) or an app package name for notifications.
// Timestamp is capture time in unix milliseconds.
type Event struct {
	Stream    StreamType `json:"stream"`
	Sender    string     `json:"sender"`
	Body      string     `json:"body"`
	Timestamp int64      `json:"timestamp"`
	Extra     Fields     `json:"extra,omitempty"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(stream StreamType, sender, body string, extra Fields) Event {
	return Event{
		Stream:    stream,
		Sender:    sender,
		Body:      body,
		Timestamp: time.Now().UnixMilli(),
		Extra:     extra,
	}
}

// Direction returns the SMS direction, defaulting to received when the
// extra field is absent or unrecognized.
func (e Event) Direction() string {
	if v, ok := e.Extra.Get(ExtraDirection); ok && v == DirectionSent {
		return DirectionSent
	}
	return DirectionReceived
}

// Title returns the notification title extra (empty when absent).
func (e Event) Title() string {
	v, _ := e.Extra.Get(ExtraTitle)
	return v
}
