package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"syncwire/internal/capture"
)

type recordingRouter struct {
	mu        sync.Mutex
	calls     [][]capture.Event
	immediate []bool
	err       error

	// When set, Route blocks until release is closed (simulates a slow
	// transport for concurrency tests).
	block   chan struct{}
	entered chan struct{}
}

func (r *recordingRouter) Route(ctx context.Context, events []capture.Event, immediate bool) error {
	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := append([]capture.Event(nil), events...)
	r.calls = append(r.calls, cp)
	r.immediate = append(r.immediate, immediate)
	return r.err
}

func (r *recordingRouter) batches() [][]capture.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]capture.Event(nil), r.calls...)
}

func ev(stream capture.StreamType, sender, body string) capture.Event {
	return capture.Event{Stream: stream, Sender: sender, Body: body, Timestamp: 1}
}

func TestConfigureClamps(t *testing.T) {
	t.Parallel()
	p := New(Options{Stream: capture.StreamSMS, Router: &recordingRouter{}})

	tests := []struct {
		in   int
		want int
	}{
		{in: 0, want: 1},
		{in: -5, want: 1},
		{in: 1, want: 1},
		{in: 30, want: 30},
		{in: 3600, want: 3600},
		{in: 5000, want: 3600},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("configure(%d)", tt.in), func(t *testing.T) {
			if got := p.Configure(tt.in); got != tt.want {
				t.Fatalf("Configure(%d) = %d, want %d", tt.in, got, tt.want)
			}
			if got := p.Timeout(); got != tt.want {
				t.Fatalf("Timeout() = %d, want %d", got, tt.want)
			}
		})
	}

	// Last write wins.
	p.Configure(10)
	p.Configure(5)
	if got := p.Timeout(); got != 5 {
		t.Fatalf("Timeout() = %d, want 5", got)
	}
}

func TestDefaultTimeout(t *testing.T) {
	t.Parallel()
	p := New(Options{Stream: capture.StreamSMS, Router: &recordingRouter{}})
	if got := p.Timeout(); got != DefaultFlushSeconds {
		t.Fatalf("Timeout() = %d, want %d", got, DefaultFlushSeconds)
	}
}

func TestEnqueueBuffersAndCounts(t *testing.T) {
	t.Parallel()
	r := &recordingRouter{}
	p := New(Options{Stream: capture.StreamSMS, Router: r})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := p.Enqueue(ctx, ev(capture.StreamSMS, "+1555", fmt.Sprintf("msg %d", i)), false); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if got := p.Size(); got != 10 {
		t.Fatalf("Size() = %d, want 10", got)
	}
	if len(r.batches()) != 0 {
		t.Fatal("no flush expected before threshold/timer")
	}
}

func TestThresholdTriggersSingleSynchronousFlush(t *testing.T) {
	t.Parallel()
	r := &recordingRouter{}
	p := New(Options{Stream: capture.StreamSMS, Router: r})
	ctx := context.Background()

	for i := 0; i < DefaultThreshold; i++ {
		if err := p.Enqueue(ctx, ev(capture.StreamSMS, "+1555", fmt.Sprintf("msg %d", i)), false); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	batches := r.batches()
	if len(batches) != 1 {
		t.Fatalf("flush calls = %d, want 1", len(batches))
	}
	if len(batches[0]) != DefaultThreshold {
		t.Fatalf("flushed %d events, want %d", len(batches[0]), DefaultThreshold)
	}
	if got := p.Size(); got != 0 {
		t.Fatalf("Size() after threshold flush = %d, want 0", got)
	}
}

func TestDuplicateSuppressedInBatchedMode(t *testing.T) {
	t.Parallel()
	r := &recordingRouter{}
	p := New(Options{Stream: capture.StreamNotification, Router: r})
	ctx := context.Background()

	a := ev(capture.StreamNotification, "com.app", "payload A")
	b := ev(capture.StreamNotification, "com.app", "payload B")
	for _, e := range []capture.Event{a, a, b} {
		if err := p.Enqueue(ctx, e, false); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if got := p.Size(); got != 2 {
		t.Fatalf("Size() = %d, want 2 (A deduped)", got)
	}

	n, err := p.Flush(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Flush = (%d, %v), want (2, nil)", n, err)
	}
	batch := r.batches()[0]
	if batch[0].Body != "payload A" || batch[1].Body != "payload B" {
		t.Fatalf("unexpected batch order: %q, %q", batch[0].Body, batch[1].Body)
	}
}

func TestImmediateBypassesBuffer(t *testing.T) {
	t.Parallel()
	r := &recordingRouter{}
	p := New(Options{Stream: capture.StreamSMS, Router: r})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := p.Enqueue(ctx, ev(capture.StreamSMS, "+1555", fmt.Sprintf("msg %d", i)), true); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if got := p.Size(); got != 0 {
		t.Fatalf("Size() = %d, want 0 in immediate mode", got)
	}

	batches := r.batches()
	if len(batches) != 5 {
		t.Fatalf("route calls = %d, want 5 (one per event)", len(batches))
	}
	for i, b := range batches {
		if len(b) != 1 {
			t.Fatalf("call %d carried %d events, want 1", i, len(b))
		}
		if !r.immediate[i] {
			t.Fatalf("call %d not marked immediate", i)
		}
	}
}

func TestFilterGatesEnqueue(t *testing.T) {
	t.Parallel()
	rule := capture.Rule{Word: "keep", Mode: capture.ModeContains}
	p := New(Options{
		Stream: capture.StreamSMS,
		Router: &recordingRouter{},
		Rule:   func() capture.Rule { return rule },
	})
	ctx := context.Background()

	_ = p.Enqueue(ctx, ev(capture.StreamSMS, "+1555", "keep this one"), false)
	_ = p.Enqueue(ctx, ev(capture.StreamSMS, "+1555", "drop this one"), false)
	if got := p.Size(); got != 1 {
		t.Fatalf("Size() = %d, want 1", got)
	}

	// Flip to disabled: everything drops.
	rule = capture.ParseRule(capture.RuleDisabled)
	_ = p.Enqueue(ctx, ev(capture.StreamSMS, "+1555", "keep this too"), false)
	if got := p.Size(); got != 1 {
		t.Fatalf("Size() = %d after disable, want 1", got)
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	t.Parallel()
	r := &recordingRouter{}
	p := New(Options{Stream: capture.StreamSMS, Router: r})

	n, err := p.Flush(context.Background())
	if n != 0 || err != nil {
		t.Fatalf("Flush on empty = (%d, %v), want (0, nil)", n, err)
	}
	if len(r.batches()) != 0 {
		t.Fatal("empty flush must not hit the router")
	}
}

func TestFlushFailureDropsBatch(t *testing.T) {
	t.Parallel()
	r := &recordingRouter{err: errors.New("backend down")}
	p := New(Options{Stream: capture.StreamSMS, Router: r})
	ctx := context.Background()

	_ = p.Enqueue(ctx, ev(capture.StreamSMS, "+1555", "one"), false)
	_ = p.Enqueue(ctx, ev(capture.StreamSMS, "+1555", "two"), false)

	n, err := p.Flush(ctx)
	if n != 2 || err == nil {
		t.Fatalf("Flush = (%d, %v), want (2, error)", n, err)
	}
	// No re-queue: buffer stays empty after a failed flush.
	if got := p.Size(); got != 0 {
		t.Fatalf("Size() after failed flush = %d, want 0", got)
	}
}

func TestShutdownFlushesBufferedEvents(t *testing.T) {
	t.Parallel()
	r := &recordingRouter{}
	p := New(Options{Stream: capture.StreamSMS, Router: r})
	ctx := context.Background()
	p.Start(ctx)

	const n = 7
	for i := 0; i < n; i++ {
		if err := p.Enqueue(ctx, ev(capture.StreamSMS, "+1555", fmt.Sprintf("msg %d", i)), false); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	batches := r.batches()
	if len(batches) != 1 {
		t.Fatalf("shutdown flush calls = %d, want 1", len(batches))
	}
	if len(batches[0]) != n {
		t.Fatalf("shutdown flush carried %d events, want %d", len(batches[0]), n)
	}
	if got := p.Size(); got != 0 {
		t.Fatalf("Size() after shutdown = %d, want 0", got)
	}

	// Enqueue after shutdown is rejected; a second Shutdown is a no-op.
	if err := p.Enqueue(ctx, ev(capture.StreamSMS, "+1555", "late"), false); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after shutdown = %v, want ErrStopped", err)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func waitFor(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTimerTickFlushesBufferedEvents(t *testing.T) {
	t.Parallel()
	r := &recordingRouter{}
	p := New(Options{Stream: capture.StreamSMS, Router: r, FlushEvery: 1})
	ctx := context.Background()
	p.Start(ctx)
	defer p.Shutdown(ctx)

	if err := p.Enqueue(ctx, ev(capture.StreamSMS, "+1555", "first cycle"), false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return len(r.batches()) == 1 })
	b := r.batches()[0]
	if len(b) != 1 || b[0].Body != "first cycle" {
		t.Fatalf("tick flush carried %v, want the one buffered event", b)
	}
	if got := p.Size(); got != 0 {
		t.Fatalf("Size() after tick flush = %d, want 0", got)
	}

	// The timer is rearmed after each flush, so a later arrival goes out
	// on the following cycle.
	if err := p.Enqueue(ctx, ev(capture.StreamSMS, "+1555", "second cycle"), false); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return len(r.batches()) == 2 })
	if b := r.batches()[1]; len(b) != 1 || b[0].Body != "second cycle" {
		t.Fatalf("second tick flush carried %v, want the later event", b)
	}
}

func TestTimerTickDuringInFlightFlushIsNoop(t *testing.T) {
	t.Parallel()
	r := &recordingRouter{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := New(Options{Stream: capture.StreamSMS, Router: r, FlushEvery: 1})
	ctx := context.Background()
	p.Start(ctx)

	_ = p.Enqueue(ctx, ev(capture.StreamSMS, "+1555", "only"), false)

	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		_, _ = p.Flush(ctx)
	}()
	<-r.entered

	// Hold the transport past at least one timer cycle. The tick drains
	// the already-swapped (empty) buffer and must not reach the router.
	time.Sleep(1200 * time.Millisecond)

	close(r.block)
	<-flushDone

	if got := len(r.batches()); got != 1 {
		t.Fatalf("route calls = %d, want 1 (tick on drained buffer is a no-op)", got)
	}
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestAppendsDuringInFlightFlushLandInFreshBuffer(t *testing.T) {
	t.Parallel()
	r := &recordingRouter{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := New(Options{Stream: capture.StreamSMS, Router: r})
	ctx := context.Background()

	_ = p.Enqueue(ctx, ev(capture.StreamSMS, "+1555", "before"), false)

	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		_, _ = p.Flush(ctx)
	}()

	// Wait until the router call is in flight (buffer already swapped).
	<-r.entered

	// Producers are not blocked by the slow transport.
	if err := p.Enqueue(ctx, ev(capture.StreamSMS, "+1555", "during"), false); err != nil {
		t.Fatalf("Enqueue during flush: %v", err)
	}
	if got := p.Size(); got != 1 {
		t.Fatalf("Size() during in-flight flush = %d, want 1", got)
	}

	close(r.block)
	<-flushDone

	batches := r.batches()
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][0].Body != "before" {
		t.Fatalf("in-flight flush carried %v, want exactly the swapped prefix", batches[0])
	}
	if got := p.Size(); got != 1 {
		t.Fatalf("Size() after flush = %d, want 1 (the 'during' event)", got)
	}
}
