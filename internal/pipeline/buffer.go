package pipeline

import "syncwire/internal/capture"

// batchBuffer is the per-stream pending-event sequence. Insertion ordered,
// unbounded in principle; the pipeline flushes it at the count threshold.
//
// Not safe for concurrent use on its own; the pipeline's mutex serializes
// append/drain/size.
type batchBuffer struct {
	events []capture.Event
}

func (b *batchBuffer) append(ev capture.Event) {
	b.events = append(b.events, ev)
}

// drain atomically empties the buffer and returns its contents. New appends
// after drain land in a fresh backing slice, so an in-flight flush never
// races with producers.
func (b *batchBuffer) drain() []capture.Event {
	out := b.events
	b.events = nil
	return out
}

func (b *batchBuffer) size() int { return len(b.events) }
