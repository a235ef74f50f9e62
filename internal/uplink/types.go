// Package uplink carries accepted events to one of the two backends: the
// low-latency keypath store (one write per event, immediate mode) or the
// REST batch API (one call per flush). Event-to-wire conversion happens
// here, at the boundary, so raw strings never travel through the pipeline.
package uplink

import (
	"context"
	"fmt"

	"syncwire/internal/capture"
)

// Realtime is the low-latency channel: one keypath write per event.
type Realtime interface {
	Push(ctx context.Context, ev capture.Event) error
}

// Batch is the high-throughput channel: one call per flush.
type Batch interface {
	Sync(ctx context.Context, stream capture.StreamType, events []capture.Event) error
}

// TransportError wraps a failed uplink call with the channel that failed.
type TransportError struct {
	Channel string // "realtime" | "batch"
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("uplink %s: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
