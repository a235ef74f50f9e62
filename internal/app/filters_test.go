package app

import (
	"testing"

	"syncwire/internal/capture"
)

func TestFilterStoreLiveRule(t *testing.T) {
	t.Parallel()

	fs := newFilterStore()
	ruleFn := fs.RuleFunc(capture.StreamSMS)

	if r := ruleFn(); !r.Matches("anything") {
		t.Fatalf("zero rule rejects, want accept-all")
	}

	fs.Set(capture.StreamSMS, capture.ParseRule("bank~contains"))
	if r := ruleFn(); !r.Matches("bank alert") || r.Matches("hello") {
		t.Fatalf("rule via RuleFunc does not behave like bank~contains")
	}

	// Streams are independent.
	if r := fs.Rule(capture.StreamNotification); !r.Matches("hello") {
		t.Fatalf("sms rule leaked into the notification stream")
	}

	fs.Set(capture.StreamSMS, capture.ParseRule(capture.RuleDisabled))
	if r := ruleFn(); r.Matches("bank alert") {
		t.Fatalf("disabled rule still accepts events")
	}
}
