package uplink

import (
	"context"

	"syncwire/internal/capture"
	logx "syncwire/pkg/logx"
)

// Router dispatches events to the channel the caller selected.
//
// The routing decision (immediate or deferred) is made per enqueue by the
// event source, from the platform's privilege state at capture time; the
// router never re-evaluates it.
type Router struct {
	realtime Realtime
	batch    Batch
	log      logx.Logger
}

func NewRouter(realtime Realtime, batch Batch, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{realtime: realtime, batch: batch, log: log}
}

// Route sends events on the selected channel. immediate=true sends each
// event individually and synchronously on the realtime channel; otherwise
// the whole slice goes out as one batch call. The first failure aborts the
// rest (the pipeline does not re-queue either way).
func (r *Router) Route(ctx context.Context, events []capture.Event, immediate bool) error {
	if len(events) == 0 {
		return nil
	}

	if immediate {
		for _, ev := range events {
			if err := r.realtime.Push(ctx, ev); err != nil {
				return &TransportError{Channel: "realtime", Err: err}
			}
		}
		return nil
	}

	// One batch call per stream; a flush batch normally carries one stream.
	byStream := map[capture.StreamType][]capture.Event{}
	order := make([]capture.StreamType, 0, 2)
	for _, ev := range events {
		if _, ok := byStream[ev.Stream]; !ok {
			order = append(order, ev.Stream)
		}
		byStream[ev.Stream] = append(byStream[ev.Stream], ev)
	}
	for _, stream := range order {
		if err := r.batch.Sync(ctx, stream, byStream[stream]); err != nil {
			return &TransportError{Channel: "batch", Err: err}
		}
	}
	return nil
}
