package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"syncwire/internal/capture"
	logx "syncwire/pkg/logx"
)

type fakeArchive struct {
	messages      []capture.Event
	notifications []capture.Event
	err           error
}

func (f *fakeArchive) Events(_ context.Context, stream capture.StreamType, _ int) ([]capture.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	if stream == capture.StreamSMS {
		return f.messages, nil
	}
	return f.notifications, nil
}

type fakeBlobSink struct {
	paths []string
	blobs []any
	err   error
}

func (f *fakeBlobSink) PutBlob(_ context.Context, path string, v any) error {
	if f.err != nil {
		return f.err
	}
	f.paths = append(f.paths, path)
	f.blobs = append(f.blobs, v)
	return nil
}

func testEvents() *fakeArchive {
	sms := capture.NewEvent(capture.StreamSMS, "+15550100", "hello", nil)
	sms.Timestamp = 1000
	notif := capture.NewEvent(capture.StreamNotification, "com.example", "ping",
		capture.Fields{{Key: capture.ExtraTitle, Value: "Example"}})
	notif.Timestamp = 2000
	return &fakeArchive{
		messages:      []capture.Event{sms},
		notifications: []capture.Event{notif},
	}
}

func TestExportJSONUploads(t *testing.T) {
	t.Parallel()

	sink := &fakeBlobSink{}
	e := New(testEvents(), sink, Options{Device: "dev-1", Dir: t.TempDir()}, logx.Nop())

	sum, err := e.Run(context.Background(), "json")
	if err != nil {
		t.Fatalf("Run(json) = %v, want nil", err)
	}
	if sum.Messages != 1 || sum.Notifications != 1 || sum.Format != "json" {
		t.Fatalf("summary = %+v, want 1/1 json", sum)
	}
	if sum.JobID == "" {
		t.Fatalf("summary has empty job id")
	}
	if len(sink.paths) != 1 {
		t.Fatalf("uploads = %d, want 1", len(sink.paths))
	}
	if want := "backup/dev-1/" + sum.JobID; sink.paths[0] != want || sum.Destination != want {
		t.Fatalf("upload path = %q dest = %q, want both %q", sink.paths[0], sum.Destination, want)
	}

	raw, ok := sink.blobs[0].(string)
	if !ok {
		t.Fatalf("blob = %T, want string", sink.blobs[0])
	}
	var archive jsonArchive
	if err := json.Unmarshal([]byte(raw), &archive); err != nil {
		t.Fatalf("blob is not a JSON archive: %v", err)
	}
	if archive.DeviceID != "dev-1" || len(archive.Messages) != 1 || len(archive.Notifications) != 1 {
		t.Fatalf("archive = %+v, want dev-1 with 1/1 events", archive)
	}
	if archive.Messages[0].Body != "hello" || archive.Notifications[0].Title() != "Example" {
		t.Fatalf("archive content = %+v, want original events", archive)
	}
}

func TestExportCSV(t *testing.T) {
	t.Parallel()

	sink := &fakeBlobSink{}
	e := New(testEvents(), sink, Options{Device: "dev-1", Dir: t.TempDir()}, logx.Nop())

	sum, err := e.Run(context.Background(), "csv")
	if err != nil {
		t.Fatalf("Run(csv) = %v, want nil", err)
	}
	if sum.Format != "csv" {
		t.Fatalf("format = %q, want csv", sum.Format)
	}

	raw := sink.blobs[0].(string)
	rows, err := csv.NewReader(bytes.NewReader([]byte(raw))).ReadAll()
	if err != nil {
		t.Fatalf("blob is not CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("csv rows = %d, want header plus 2", len(rows))
	}
	if rows[1][0] != "sms" || rows[1][3] != "hello" {
		t.Fatalf("sms row = %v, want stream sms body hello", rows[1])
	}
	if rows[2][0] != "notification" || rows[2][2] != "Example" {
		t.Fatalf("notification row = %v, want title Example", rows[2])
	}
}

func TestExportFallsBackToLocalDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := &fakeBlobSink{err: errors.New("store unreachable")}
	e := New(testEvents(), sink, Options{Device: "dev-1", Dir: dir}, logx.Nop())

	sum, err := e.Run(context.Background(), "json")
	if err != nil {
		t.Fatalf("Run() = %v, want nil with local fallback", err)
	}
	if want := filepath.Join(dir, sum.JobID+".json"); sum.Destination != want {
		t.Fatalf("destination = %q, want %q", sum.Destination, want)
	}
	if _, err := os.Stat(sum.Destination); err != nil {
		t.Fatalf("local backup missing: %v", err)
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	t.Parallel()

	e := New(testEvents(), &fakeBlobSink{}, Options{Device: "dev-1", Dir: t.TempDir()}, logx.Nop())
	if _, err := e.Run(context.Background(), "xml"); err == nil || !strings.Contains(err.Error(), "xml") {
		t.Fatalf("Run(xml) = %v, want unsupported-format error", err)
	}
}

func TestExportArchiveReadError(t *testing.T) {
	t.Parallel()

	e := New(&fakeArchive{err: errors.New("disk gone")}, &fakeBlobSink{}, Options{Device: "dev-1", Dir: t.TempDir()}, logx.Nop())
	if _, err := e.Run(context.Background(), "json"); err == nil {
		t.Fatalf("Run() = nil, want read error")
	}
}

func TestScheduleApply(t *testing.T) {
	t.Parallel()

	s := NewSchedule(logx.Nop())
	defer s.Stop()

	ran := func() {}
	if err := s.Apply("0 3 * * *", ran); err != nil {
		t.Fatalf("Apply(valid) = %v, want nil", err)
	}
	if err := s.Apply("0 3 * * *", ran); err != nil {
		t.Fatalf("Apply(same) = %v, want nil", err)
	}
	if err := s.Apply("not a cron spec", ran); err == nil {
		t.Fatalf("Apply(invalid) = nil, want error")
	}
	if err := s.Apply("", ran); err != nil {
		t.Fatalf("Apply(empty) = %v, want nil", err)
	}
}
