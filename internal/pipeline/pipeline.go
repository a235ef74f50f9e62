// Package pipeline implements the per-stream telemetry batching pipeline:
// filter and repeat-suppression gating on enqueue, a bounded-by-threshold
// buffer, and a single flush path driven by three triggers (timer tick,
// threshold crossing, shutdown).
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"syncwire/internal/capture"
	logx "syncwire/pkg/logx"
)

var ErrStopped = errors.New("pipeline stopped")

const (
	// Flush timeout bounds, whole seconds. Out-of-range values are clamped,
	// never rejected.
	MinFlushSeconds = 1
	MaxFlushSeconds = 3600

	DefaultFlushSeconds = 5
	DefaultThreshold    = 100
)

// Router dispatches accepted events to one of the two uplink channels.
// immediate=true sends each event singly on the low-latency channel;
// immediate=false sends the slice as one batch call.
type Router interface {
	Route(ctx context.Context, events []capture.Event, immediate bool) error
}

// FlushResult describes one completed flush (or immediate send).
type FlushResult struct {
	Stream    capture.StreamType
	Count     int
	Immediate bool
	Err       error
	Took      time.Duration
}

// Options configures one stream's pipeline.
type Options struct {
	Stream     capture.StreamType
	Router     Router
	Log        logx.Logger
	FlushEvery int // seconds; clamped, 0 means DefaultFlushSeconds
	Threshold  int // 0 means DefaultThreshold

	// Rule is fetched per enqueue so filter changes (config reload, remote
	// command) take effect without touching the pipeline. Nil accepts all.
	Rule func() capture.Rule

	// OnResult observes flush outcomes (may be nil). Called outside the
	// pipeline mutex; must not block for long.
	OnResult func(FlushResult)
}

// Pipeline owns one stream's buffer, dedup key, and flush timer.
//
// Concurrency model: buf and dedup are the only shared mutable state and
// every mutation happens under mu; the outbound network call runs outside
// mu, after the buffer swap, so a slow transport never blocks producers.
// The timer is single-shot and rearmed after each flush completes (never
// fixed-rate), so flushes cannot overlap from the timer path.
type Pipeline struct {
	stream    capture.StreamType
	router    Router
	log       logx.Logger
	rule      func() capture.Rule
	onResult  func(FlushResult)
	threshold int

	mu         sync.Mutex
	buf        batchBuffer
	dedup      capture.Deduplicator
	timeoutSec int
	timer      *time.Timer
	runCtx     context.Context
	stopped    bool

	flushWG sync.WaitGroup
}

func New(opts Options) *Pipeline {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	every := clampSeconds(opts.FlushEvery)
	if opts.FlushEvery == 0 {
		every = DefaultFlushSeconds
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Pipeline{
		stream:     opts.Stream,
		router:     opts.Router,
		log:        log.With(logx.String("stream", string(opts.Stream))),
		rule:       opts.Rule,
		onResult:   opts.OnResult,
		threshold:  threshold,
		timeoutSec: every,
	}
}

func (p *Pipeline) Stream() capture.StreamType { return p.stream }

// Start arms the flush timer. ctx bounds all timer-triggered flushes; it is
// typically the app supervisor context.
func (p *Pipeline) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	p.runCtx = ctx
	p.armLocked()
	p.mu.Unlock()
}

// Configure clamps seconds to [MinFlushSeconds, MaxFlushSeconds], stores it,
// and returns the applied value. The new interval takes effect at the next
// rearm; an in-flight wait is not preempted.
func (p *Pipeline) Configure(seconds int) int {
	applied := clampSeconds(seconds)
	p.mu.Lock()
	p.timeoutSec = applied
	p.mu.Unlock()
	p.log.Debug("flush timeout configured", logx.Int("seconds", applied))
	return applied
}

// Timeout returns the current flush timeout in seconds.
func (p *Pipeline) Timeout() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeoutSec
}

// Size returns the number of buffered (pending) events.
func (p *Pipeline) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.size()
}

// Enqueue gates ev through the filter rule and the deduplicator, then either
// sends it immediately (immediate=true, buffer bypassed) or appends it to
// the buffer and flushes synchronously when the threshold is reached.
//
// The immediate flag is supplied by the caller per event, derived from the
// platform's privilege state at capture time; the pipeline never
// re-evaluates it.
func (p *Pipeline) Enqueue(ctx context.Context, ev capture.Event, immediate bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Filter first: rejected events must not consume the dedup key.
	if p.rule != nil {
		if r := p.rule(); !r.Matches(ev.Body) {
			p.log.Trace("event filtered", logx.String("sender", ev.Sender))
			return nil
		}
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if !p.dedup.Accept(ev.Sender, ev.Body) {
		p.mu.Unlock()
		p.log.Trace("duplicate suppressed", logx.String("sender", ev.Sender))
		return nil
	}

	if immediate {
		p.mu.Unlock()
		// Single-event send on the low-latency channel, outside the lock.
		start := time.Now()
		err := p.router.Route(ctx, []capture.Event{ev}, true)
		p.report(FlushResult{Stream: p.stream, Count: 1, Immediate: true, Err: err, Took: time.Since(start)})
		if err != nil {
			p.log.Warn("immediate send failed", logx.Err(err))
			return err
		}
		return nil
	}

	p.buf.append(ev)
	full := p.buf.size() >= p.threshold
	p.mu.Unlock()

	if full {
		// Size trigger: same flush path as the timer.
		_, err := p.Flush(ctx)
		return err
	}
	return nil
}

// Flush drains the buffer and dispatches the drained batch on the deferred
// channel. Safe to call with an empty buffer (no-op). On transport failure
// the drained events are NOT re-queued; the error is returned and logged.
func (p *Pipeline) Flush(ctx context.Context) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	p.flushWG.Add(1)
	defer p.flushWG.Done()

	p.mu.Lock()
	events := p.buf.drain()
	p.mu.Unlock()

	var err error
	if len(events) > 0 {
		start := time.Now()
		err = p.router.Route(ctx, events, false)
		took := time.Since(start)
		if err != nil {
			// Accepted data loss: the batch is gone. Documented behavior.
			p.log.Error("flush failed; batch dropped", logx.Int("count", len(events)), logx.Err(err), logx.Duration("took", took))
		} else {
			p.log.Debug("flushed", logx.Int("count", len(events)), logx.Duration("took", took))
		}
		p.report(FlushResult{Stream: p.stream, Count: len(events), Err: err, Took: took})
	}

	// Rearm for the next cycle (single-shot timer discipline).
	p.mu.Lock()
	p.armLocked()
	p.mu.Unlock()

	return len(events), err
}

// Shutdown cancels the timer and performs one final synchronous flush.
// No buffered event is silently dropped on a normal shutdown, and no flush
// is left running detached after Shutdown returns.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	_, err := p.Flush(ctx)

	// Wait out any flush that was already in flight when we stopped.
	done := make(chan struct{})
	go func() {
		p.flushWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (p *Pipeline) armLocked() {
	if p.stopped || p.runCtx == nil {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	d := time.Duration(p.timeoutSec) * time.Second
	p.timer = time.AfterFunc(d, p.tick)
}

func (p *Pipeline) tick() {
	p.mu.Lock()
	ctx := p.runCtx
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return
	}
	// A concurrent threshold flush may already have swapped the buffer;
	// this then no-ops on the fresh (empty) one.
	_, _ = p.Flush(ctx)
}

func (p *Pipeline) report(r FlushResult) {
	if p.onResult != nil {
		p.onResult(r)
	}
}

func clampSeconds(s int) int {
	if s < MinFlushSeconds {
		return MinFlushSeconds
	}
	if s > MaxFlushSeconds {
		return MaxFlushSeconds
	}
	return s
}
