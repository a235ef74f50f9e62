package uplink

import "syncwire/internal/capture"

// MessageRecord is the batch-API wire shape for one SMS.
type MessageRecord struct {
	DeviceID    string `json:"device_id"`
	MessageType string `json:"message_type"` // "received" | "sent"
	Phone       string `json:"phone"`
	Body        string `json:"body"`
	Timestamp   int64  `json:"timestamp"`
	Read        bool   `json:"read"`
}

// NotificationRecord is the batch-API wire shape for one posted notification.
type NotificationRecord struct {
	DeviceID    string            `json:"device_id"`
	PackageName string            `json:"package_name"`
	Title       string            `json:"title"`
	Text        string            `json:"text"`
	Timestamp   int64             `json:"timestamp"`
	Extra       map[string]string `json:"extra,omitempty"`
}

func messageRecords(device string, events []capture.Event) []MessageRecord {
	out := make([]MessageRecord, 0, len(events))
	for _, ev := range events {
		out = append(out, MessageRecord{
			DeviceID:    device,
			MessageType: ev.Direction(),
			Phone:       ev.Sender,
			Body:        ev.Body,
			Timestamp:   ev.Timestamp,
			Read:        false,
		})
	}
	return out
}

func notificationRecords(device string, events []capture.Event) []NotificationRecord {
	out := make([]NotificationRecord, 0, len(events))
	for _, ev := range events {
		r := NotificationRecord{
			DeviceID:    device,
			PackageName: ev.Sender,
			Title:       ev.Title(),
			Text:        ev.Body,
			Timestamp:   ev.Timestamp,
		}
		for _, kv := range ev.Extra {
			if kv.Key == capture.ExtraTitle {
				continue
			}
			if r.Extra == nil {
				r.Extra = make(map[string]string, len(ev.Extra))
			}
			r.Extra[kv.Key] = kv.Value
		}
		out = append(out, r)
	}
	return out
}
