package command

import (
	"context"
	"fmt"
	"time"

	logx "syncwire/pkg/logx"
)

// Source is a readable/deletable command node, usually the keypath store.
type Source interface {
	GetText(ctx context.Context, path string) (string, bool, error)
	Delete(ctx context.Context, path string) error
}

// Poller checks the device's command node on an interval and hands any
// pending command to the dispatcher.
//
// The node is cleared after execution, success or failure, so on the
// normal path a command runs once. If the clear itself fails the node
// survives and the command is dispatched again after restart; delivery
// is at-least-once, and the audit trail records every attempt. Run
// returns on store errors and relies on the supervisor's restart
// backoff instead of looping on a broken transport.
type Poller struct {
	source     Source
	dispatcher *Dispatcher
	path       string
	every      time.Duration
	log        logx.Logger
}

func NewPoller(source Source, dispatcher *Dispatcher, device string, every time.Duration, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	if every <= 0 {
		every = 15 * time.Second
	}
	return &Poller{
		source:     source,
		dispatcher: dispatcher,
		path:       "device/" + device + "/command",
		every:      every,
		log:        log.With(logx.String("component", "command-poller")),
	}
}

// Run polls until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				return err
			}
		}
	}
}

func (p *Poller) poll(ctx context.Context) error {
	raw, ok, err := p.source.GetText(ctx, p.path)
	if err != nil {
		return fmt.Errorf("read command node: %w", err)
	}
	if !ok {
		return nil
	}

	receivedAt := time.Now().UnixMilli()
	p.log.Info("command received", logx.String("raw", raw))

	// Execution outcome lands in the audit trail; a failed command is
	// still consumed rather than retried on the next tick.
	_ = p.dispatcher.Dispatch(ctx, raw, receivedAt)

	if err := p.source.Delete(ctx, p.path); err != nil {
		return fmt.Errorf("clear command node: %w", err)
	}
	return nil
}
