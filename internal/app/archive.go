package app

import (
	"context"

	"syncwire/internal/capture"
	"syncwire/internal/pipeline"
	"syncwire/internal/storage"
	logx "syncwire/pkg/logx"
)

// archivingRouter mirrors every outbound event into the local store before
// handing the batch to the real uplink router.
//
// The mirror is best-effort: an archive write failure is logged and the
// upload still happens. The archive exists for backups and offline
// inspection, not as a delivery guarantee.
type archivingRouter struct {
	next  pipeline.Router
	store storage.Store
	log   logx.Logger
}

func newArchivingRouter(next pipeline.Router, store storage.Store, log logx.Logger) pipeline.Router {
	if store == nil {
		return next
	}
	return &archivingRouter{next: next, store: store, log: log}
}

func (r *archivingRouter) Route(ctx context.Context, events []capture.Event, immediate bool) error {
	for _, ev := range events {
		if err := r.store.AppendEvent(ctx, ev); err != nil {
			r.log.Warn("archive write failed",
				logx.String("stream", string(ev.Stream)), logx.Err(err))
			break
		}
	}
	return r.next.Route(ctx, events, immediate)
}
