// Package command decodes and executes remotely issued control commands.
//
// Commands arrive as single strings on the device's keypath command node.
// The wire grammar is "verb" or "verb:value"; every decoded command keeps
// its verb/value split so the audit trail records exactly what arrived.
package command

import (
	"fmt"
	"strconv"
	"strings"

	"syncwire/internal/capture"
)

// Command is one decoded remote instruction. Verb and Value echo the wire
// form for auditing.
type Command interface {
	Verb() string
	Value() string
}

// SetFlushInterval changes one stream's flush timeout.
type SetFlushInterval struct {
	Stream  capture.StreamType
	Seconds int
	raw     string
}

func (c SetFlushInterval) Verb() string {
	if c.Stream == capture.StreamNotification {
		return "notifybatchenable"
	}
	return "smsbatchenable"
}
func (c SetFlushInterval) Value() string { return c.raw }

// SetFilter replaces one stream's keyword filter rule.
type SetFilter struct {
	Stream capture.StreamType
	Rule   capture.Rule
	raw    string
}

func (c SetFilter) Verb() string {
	if c.Stream == capture.StreamNotification {
		return "notifyword"
	}
	return "smsword"
}
func (c SetFilter) Value() string { return c.raw }

// FlushNow forces an immediate flush of one stream's buffer.
type FlushNow struct {
	Stream capture.StreamType
}

func (c FlushNow) Verb() string {
	if c.Stream == capture.StreamNotification {
		return "notifyflush"
	}
	return "smsflush"
}
func (c FlushNow) Value() string { return "" }

// ExportBackup runs the archive exporter in the requested format.
type ExportBackup struct {
	Format string // "json" | "csv"
}

func (c ExportBackup) Verb() string  { return "backup" }
func (c ExportBackup) Value() string { return c.Format }

// ShowNotification surfaces a message on the device.
type ShowNotification struct {
	Title string
	Body  string
	raw   string
}

func (c ShowNotification) Verb() string  { return "shownotification" }
func (c ShowNotification) Value() string { return c.raw }

// Unknown carries an unrecognized wire string; executing it always fails,
// which gets the verb into the audit trail instead of silently dropping it.
type Unknown struct {
	verb  string
	value string
}

func (c Unknown) Verb() string  { return c.verb }
func (c Unknown) Value() string { return c.value }

// Decode parses one wire string. A recognized verb with a malformed value
// returns the best-effort command plus a non-nil error; the caller audits
// the failure with the decoded verb/value.
func Decode(raw string) (Command, error) {
	raw = strings.TrimSpace(raw)
	verb, value := raw, ""
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		verb, value = raw[:i], raw[i+1:]
	}

	switch verb {
	case "smsbatchenable", "notifybatchenable":
		stream := capture.StreamSMS
		if verb == "notifybatchenable" {
			stream = capture.StreamNotification
		}
		secs, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return SetFlushInterval{Stream: stream, raw: value}, fmt.Errorf("%s: not a number: %q", verb, value)
		}
		return SetFlushInterval{Stream: stream, Seconds: secs, raw: value}, nil

	case "smsword":
		return SetFilter{Stream: capture.StreamSMS, Rule: capture.ParseRule(value), raw: value}, nil
	case "notifyword":
		return SetFilter{Stream: capture.StreamNotification, Rule: capture.ParseRule(value), raw: value}, nil

	case "smsflush":
		return FlushNow{Stream: capture.StreamSMS}, nil
	case "notifyflush":
		return FlushNow{Stream: capture.StreamNotification}, nil

	case "backup":
		format := strings.ToLower(strings.TrimSpace(value))
		switch format {
		case "json", "csv":
			return ExportBackup{Format: format}, nil
		case "":
			return ExportBackup{Format: "json"}, nil
		default:
			return ExportBackup{Format: format}, fmt.Errorf("backup: unsupported format %q", format)
		}

	case "shownotification":
		title, body := value, ""
		if i := strings.IndexByte(value, '|'); i >= 0 {
			title, body = value[:i], value[i+1:]
		}
		return ShowNotification{Title: title, Body: body, raw: value}, nil

	default:
		return Unknown{verb: verb, value: value}, nil
	}
}
