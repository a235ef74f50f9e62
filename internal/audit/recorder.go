package audit

import (
	"context"
	"math/rand"
	"time"

	logx "syncwire/pkg/logx"
)

// Sink is the backend write for command log entries.
// Implemented by the batch API client.
type Sink interface {
	WriteCommandLog(ctx context.Context, e Entry) error
}

// Journal is an optional local mirror of audit writes (the storage layer).
// Best-effort: journal failures never affect Record's result.
type Journal interface {
	AppendCommandLog(ctx context.Context, e Entry) error
}

// Recorder writes terminal command entries to the backend with a small
// bounded retry, mirroring each write to the local journal.
//
// The returned error reflects only the audit write itself; it is
// independent of whether the audited command succeeded.
type Recorder struct {
	sink    Sink
	journal Journal
	log     logx.Logger

	retryMax  int
	retryBase time.Duration
}

func NewRecorder(sink Sink, journal Journal, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{
		sink:      sink,
		journal:   journal,
		log:       log,
		retryMax:  2,
		retryBase: 500 * time.Millisecond,
	}
}

// Record writes e once. Entries with ReceivedAt <= 0 are skipped entirely
// (not remotely triggered; nothing to audit).
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if e.ReceivedAt <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// Local mirror first so the archive has the entry even when the
	// backend write fails.
	if r.journal != nil {
		jctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		if err := r.journal.AppendCommandLog(jctx, e); err != nil {
			r.log.Debug("command log journal write failed", logx.Err(err))
		}
		cancel()
	}

	if r.sink == nil {
		return nil
	}

	var lastErr error
	attempts := 1 + r.retryMax
	for attempt := 1; attempt <= attempts; attempt++ {
		err := r.sink.WriteCommandLog(ctx, e)
		if err == nil {
			r.log.Debug("command log recorded",
				logx.String("command", e.Command),
				logx.String("status", string(e.Status)),
			)
			return nil
		}
		lastErr = err
		if attempt >= attempts {
			break
		}
		delay := r.retryBase << (attempt - 1)
		// Jitter 0.7..1.3 to avoid thundering retries across devices.
		delay = time.Duration(float64(delay) * (0.7 + rand.Float64()*0.6))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	r.log.Warn("command log write failed",
		logx.String("command", e.Command),
		logx.String("status", string(e.Status)),
		logx.Err(lastErr),
	)
	return lastErr
}
