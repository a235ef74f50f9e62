package command

import (
	"testing"

	"syncwire/internal/capture"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Command
		wantErr bool
	}{
		{
			name: "sms flush interval",
			raw:  "smsbatchenable:30",
			want: SetFlushInterval{Stream: capture.StreamSMS, Seconds: 30, raw: "30"},
		},
		{
			name: "notification flush interval",
			raw:  "notifybatchenable:120",
			want: SetFlushInterval{Stream: capture.StreamNotification, Seconds: 120, raw: "120"},
		},
		{
			name:    "flush interval not a number",
			raw:     "smsbatchenable:soon",
			want:    SetFlushInterval{Stream: capture.StreamSMS, raw: "soon"},
			wantErr: true,
		},
		{
			name: "sms filter rule",
			raw:  "smsword:otp~startsWith",
			want: SetFilter{Stream: capture.StreamSMS, Rule: capture.ParseRule("otp~startsWith"), raw: "otp~startsWith"},
		},
		{
			name: "notification filter disabled",
			raw:  "notifyword:~DISABLED~",
			want: SetFilter{Stream: capture.StreamNotification, Rule: capture.ParseRule("~DISABLED~"), raw: "~DISABLED~"},
		},
		{
			name: "sms flush now",
			raw:  "smsflush",
			want: FlushNow{Stream: capture.StreamSMS},
		},
		{
			name: "notification flush now",
			raw:  "notifyflush",
			want: FlushNow{Stream: capture.StreamNotification},
		},
		{
			name: "backup csv",
			raw:  "backup:csv",
			want: ExportBackup{Format: "csv"},
		},
		{
			name: "backup default format",
			raw:  "backup:",
			want: ExportBackup{Format: "json"},
		},
		{
			name:    "backup bad format",
			raw:     "backup:xml",
			want:    ExportBackup{Format: "xml"},
			wantErr: true,
		},
		{
			name: "show notification",
			raw:  "shownotification:Update|Please check in",
			want: ShowNotification{Title: "Update", Body: "Please check in", raw: "Update|Please check in"},
		},
		{
			name: "show notification title only",
			raw:  "shownotification:Hello",
			want: ShowNotification{Title: "Hello", raw: "Hello"},
		},
		{
			name: "unknown verb",
			raw:  "reboot:now",
			want: Unknown{verb: "reboot", value: "now"},
		},
		{
			name: "surrounding whitespace",
			raw:  "  smsflush  ",
			want: FlushNow{Stream: capture.StreamSMS},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Decode(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("Decode(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestDecodeSplitsOnFirstColon(t *testing.T) {
	t.Parallel()

	got, err := Decode("shownotification:Alert|Visit https://example.com:8443/x")
	if err != nil {
		t.Fatalf("Decode() error = %v, want nil", err)
	}
	n, ok := got.(ShowNotification)
	if !ok {
		t.Fatalf("Decode() = %T, want ShowNotification", got)
	}
	if n.Title != "Alert" || n.Body != "Visit https://example.com:8443/x" {
		t.Fatalf("decoded = %q/%q, want Alert and full body", n.Title, n.Body)
	}
}
