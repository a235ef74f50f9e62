package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"syncwire/internal/audit"
	"syncwire/internal/capture"
	logx "syncwire/pkg/logx"
)

// StreamControl is the slice of the pipeline a command can drive.
type StreamControl interface {
	Configure(seconds int) int
	Flush(ctx context.Context) (int, error)
}

// FilterStore holds the live per-stream filter rules.
type FilterStore interface {
	Set(stream capture.StreamType, rule capture.Rule)
}

// Backuper runs one archive export and returns where it landed.
type Backuper interface {
	Backup(ctx context.Context, format string) (destination string, err error)
}

// Notifier surfaces a message on the device.
type Notifier interface {
	Show(ctx context.Context, title, body string) error
}

// Dispatcher executes decoded commands and writes their audit outcome.
//
// Every remotely triggered command (receivedAt > 0) ends in exactly one
// audit entry, executed or failed. Locally triggered calls pass
// receivedAt=0 and are not audited.
type Dispatcher struct {
	device   string
	streams  map[capture.StreamType]StreamControl
	filters  FilterStore
	backuper Backuper
	notifier Notifier
	recorder *audit.Recorder
	log      logx.Logger
}

type DispatcherDeps struct {
	Device   string
	SMS      StreamControl
	Notify   StreamControl
	Filters  FilterStore
	Backuper Backuper
	Notifier Notifier
	Recorder *audit.Recorder
}

func NewDispatcher(deps DispatcherDeps, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		device: deps.Device,
		streams: map[capture.StreamType]StreamControl{
			capture.StreamSMS:          deps.SMS,
			capture.StreamNotification: deps.Notify,
		},
		filters:  deps.Filters,
		backuper: deps.Backuper,
		notifier: deps.Notifier,
		recorder: deps.Recorder,
		log:      log.With(logx.String("component", "command")),
	}
}

// Dispatch decodes and executes one wire string, then records the outcome.
// The returned error is the execution error; audit write failures are
// logged by the recorder and do not change the result.
func (d *Dispatcher) Dispatch(ctx context.Context, raw string, receivedAt int64) error {
	cmd, err := Decode(raw)
	if err == nil {
		err = d.execute(ctx, cmd)
	}

	var entry audit.Entry
	if err != nil {
		d.log.Warn("command failed",
			logx.String("verb", cmd.Verb()), logx.Err(err))
		entry = audit.Failed(d.device, cmd.Verb(), cmd.Value(), receivedAt, err)
	} else {
		d.log.Info("command executed",
			logx.String("verb", cmd.Verb()), logx.String("value", cmd.Value()))
		entry = audit.Executed(d.device, cmd.Verb(), cmd.Value(), receivedAt)
	}
	if rerr := d.recorder.Record(ctx, entry); rerr != nil {
		d.log.Warn("command audit write failed", logx.Err(rerr))
	}
	return err
}

func (d *Dispatcher) execute(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case SetFlushInterval:
		ctrl, ok := d.streams[c.Stream]
		if !ok || ctrl == nil {
			return fmt.Errorf("stream %q not running", c.Stream)
		}
		applied := ctrl.Configure(c.Seconds)
		if applied != c.Seconds {
			d.log.Info("flush interval clamped",
				logx.String("stream", string(c.Stream)),
				logx.Int("requested", c.Seconds), logx.Int("applied", applied))
		}
		return nil

	case SetFilter:
		if d.filters == nil {
			return errors.New("filter store not configured")
		}
		d.filters.Set(c.Stream, c.Rule)
		return nil

	case FlushNow:
		ctrl, ok := d.streams[c.Stream]
		if !ok || ctrl == nil {
			return fmt.Errorf("stream %q not running", c.Stream)
		}
		flushCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		_, err := ctrl.Flush(flushCtx)
		return err

	case ExportBackup:
		if d.backuper == nil {
			return errors.New("exporter not configured")
		}
		dest, err := d.backuper.Backup(ctx, c.Format)
		if err != nil {
			return err
		}
		d.log.Info("backup written", logx.String("dest", dest))
		return nil

	case ShowNotification:
		if d.notifier == nil {
			return errors.New("notifier not configured")
		}
		return d.notifier.Show(ctx, c.Title, c.Body)

	case Unknown:
		return fmt.Errorf("unknown command %q", c.Verb())

	default:
		return fmt.Errorf("unhandled command type %T", cmd)
	}
}
