// Package audit records the lifecycle outcome of remotely issued commands.
//
// An Entry is built terminal (executed or failed) and written once; the only
// legal transition received -> {executed | failed} is enforced by
// construction, not by mutation.
package audit

import "time"

type Status string

const (
	StatusReceived Status = "received"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

// Entry is one remote-command execution outcome.
//
// ReceivedAt/ExecutedAt are unix milliseconds. ReceivedAt <= 0 is the
// "not remotely triggered" sentinel: such entries are never written
// (local-only operations are not audited).
type Entry struct {
	Device   string `json:"device_id"`
	Command  string `json:"command"`
	Value    string `json:"value,omitempty"`
	Status   Status `json:"status"`
	Error    string `json:"error_message,omitempty"`

	ReceivedAt int64 `json:"received_at"`
	ExecutedAt int64 `json:"executed_at,omitempty"`
}

// Executed builds a terminal success entry stamped now.
func Executed(device, command, value string, receivedAt int64) Entry {
	return Entry{
		Device:     device,
		Command:    command,
		Value:      value,
		Status:     StatusExecuted,
		ReceivedAt: receivedAt,
		ExecutedAt: time.Now().UnixMilli(),
	}
}

// Failed builds a terminal failure entry stamped now.
func Failed(device, command, value string, receivedAt int64, err error) Entry {
	e := Entry{
		Device:     device,
		Command:    command,
		Value:      value,
		Status:     StatusFailed,
		ReceivedAt: receivedAt,
		ExecutedAt: time.Now().UnixMilli(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
