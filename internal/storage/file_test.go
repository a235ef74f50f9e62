package storage

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"syncwire/internal/audit"
	"syncwire/internal/capture"
	logx "syncwire/pkg/logx"
)

func openTestStore(t *testing.T, keep int) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:     "file",
		Path:       filepath.Join(t.TempDir(), "archive.db"),
		KeepEvents: keep,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() = %v, want nil", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q) error = %v, want nil", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) = %v, want nil store", driver, st)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("Open(redis) = nil error, want error")
	}
}

func TestFileStoreEventsRoundTrip(t *testing.T) {
	t.Parallel()

	st := openTestStore(t, 0)
	ctx := context.Background()

	sms := capture.NewEvent(capture.StreamSMS, "+15550100", "hello", nil)
	sms.Timestamp = 1000
	notif := capture.NewEvent(capture.StreamNotification, "com.example", "ping",
		capture.Fields{{Key: capture.ExtraTitle, Value: "Example"}})
	notif.Timestamp = 2000

	if err := st.AppendEvent(ctx, sms); err != nil {
		t.Fatalf("AppendEvent(sms) = %v, want nil", err)
	}
	if err := st.AppendEvent(ctx, notif); err != nil {
		t.Fatalf("AppendEvent(notif) = %v, want nil", err)
	}

	got, err := st.Events(ctx, capture.StreamSMS, 0)
	if err != nil {
		t.Fatalf("Events(sms) = %v, want nil", err)
	}
	if len(got) != 1 || got[0].Sender != "+15550100" || got[0].Body != "hello" {
		t.Fatalf("Events(sms) = %+v, want the one sms", got)
	}

	got, err = st.Events(ctx, capture.StreamNotification, 0)
	if err != nil {
		t.Fatalf("Events(notification) = %v, want nil", err)
	}
	if len(got) != 1 || got[0].Title() != "Example" {
		t.Fatalf("Events(notification) = %+v, want one with title Example", got)
	}
}

func TestFileStoreEventsLimit(t *testing.T) {
	t.Parallel()

	st := openTestStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ev := capture.NewEvent(capture.StreamSMS, "s", "msg-"+strconv.Itoa(i), nil)
		ev.Timestamp = int64(i)
		if err := st.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent(#%d) = %v, want nil", i, err)
		}
	}

	got, err := st.Events(ctx, capture.StreamSMS, 3)
	if err != nil {
		t.Fatalf("Events() = %v, want nil", err)
	}
	if len(got) != 3 {
		t.Fatalf("Events(limit 3) = %d events, want 3", len(got))
	}
	if got[0].Body != "msg-7" || got[2].Body != "msg-9" {
		t.Fatalf("Events(limit 3) = %q..%q, want msg-7..msg-9", got[0].Body, got[2].Body)
	}
}

func TestFileStoreCompaction(t *testing.T) {
	t.Parallel()

	st := openTestStore(t, 100)
	ctx := context.Background()

	// Cross the compaction threshold so the prune runs at least once.
	for i := 0; i < compactEvery+50; i++ {
		ev := capture.NewEvent(capture.StreamSMS, "s", "msg-"+strconv.Itoa(i), nil)
		ev.Timestamp = int64(i)
		if err := st.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent(#%d) = %v, want nil", i, err)
		}
	}

	got, err := st.Events(ctx, capture.StreamSMS, 0)
	if err != nil {
		t.Fatalf("Events() = %v, want nil", err)
	}
	// 100 kept at compaction plus the 50 appended after it.
	if len(got) != 150 {
		t.Fatalf("Events() after compaction = %d events, want 150", len(got))
	}
	if got[len(got)-1].Body != "msg-"+strconv.Itoa(compactEvery+49) {
		t.Fatalf("newest event = %q, want the last appended", got[len(got)-1].Body)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "archive.db")
	cfg := Config{Driver: "file", Path: path}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open() = %v, want nil", err)
	}
	ev := capture.NewEvent(capture.StreamSMS, "s", "persisted", nil)
	if err := st.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("AppendEvent() = %v, want nil", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close() = %v, want nil", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen = %v, want nil", err)
	}
	defer st.Close()
	got, err := st.Events(ctx, capture.StreamSMS, 0)
	if err != nil {
		t.Fatalf("Events() after reopen = %v, want nil", err)
	}
	if len(got) != 1 || got[0].Body != "persisted" {
		t.Fatalf("Events() after reopen = %+v, want the persisted event", got)
	}
}

func TestFileStoreCommandLog(t *testing.T) {
	t.Parallel()

	st := openTestStore(t, 0)
	entry := audit.Executed("dev-1", "smsflush", "", 1700000000000)
	if err := st.AppendCommandLog(context.Background(), entry); err != nil {
		t.Fatalf("AppendCommandLog() = %v, want nil", err)
	}
}

func TestFileStoreAppendAfterClose(t *testing.T) {
	t.Parallel()

	st := openTestStore(t, 0)
	_ = st.Close()
	ev := capture.NewEvent(capture.StreamSMS, "s", "b", nil)
	if err := st.AppendEvent(context.Background(), ev); err == nil {
		t.Fatalf("AppendEvent() after Close = nil, want error")
	}
}
