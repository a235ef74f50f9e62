// Package app is the composition root: it builds every component from the
// config file, owns their lifecycles, and applies hot reloads.
package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"syncwire/internal/audit"
	"syncwire/internal/capture"
	"syncwire/internal/command"
	"syncwire/internal/config"
	"syncwire/internal/eventbus"
	"syncwire/internal/export"
	"syncwire/internal/pipeline"
	"syncwire/internal/runtime/supervisor"
	"syncwire/internal/storage"
	"syncwire/internal/uplink"
	logx "syncwire/pkg/logx"
	"syncwire/pkg/systemd"
)

// ErrStreamDisabled is returned by Submit for a stream the config turned off.
var ErrStreamDisabled = errors.New("stream disabled")

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	keypath *uplink.KeypathClient
	rest    *uplink.RESTClient

	filters   *filterStore
	pipelines map[capture.StreamType]*pipeline.Pipeline

	recorder   *audit.Recorder
	dispatcher *command.Dispatcher
	poller     *command.Poller

	exporter *export.Exporter
	schedule *export.Schedule
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	// The boot config passes the same gate reloads do, so a file that
	// would be rejected on a hot edit cannot start the agent either.
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	a := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		filters:   newFilterStore(),
		pipelines: map[capture.StreamType]*pipeline.Pipeline{},
	}

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		a.store = st
		log.Info("archive enabled", logx.String("driver", sc.Driver))
	}

	// Uplink clients
	kpCfg, err := mapKeypathConfig(cfg)
	if err != nil {
		a.closeEarly()
		return nil, err
	}
	a.keypath = uplink.NewKeypath(kpCfg, log.With(logx.String("comp", "keypath")))

	restCfg, err := mapRESTConfig(cfg)
	if err != nil {
		a.closeEarly()
		return nil, err
	}
	a.rest = uplink.NewREST(restCfg, log.With(logx.String("comp", "batch")))

	router := uplink.NewRouter(a.keypath, a.rest, log.With(logx.String("comp", "uplink")))
	routed := newArchivingRouter(router, a.store, log.With(logx.String("comp", "archive")))

	// One pipeline per enabled stream
	streamCfgs := map[capture.StreamType]config.StreamConfig{
		capture.StreamSMS:          cfg.Streams.SMS,
		capture.StreamNotification: cfg.Streams.Notifications,
	}
	for stream, sc := range streamCfgs {
		a.filters.Set(stream, capture.ParseRule(sc.Filter))
		if !sc.On() {
			log.Info("stream disabled", logx.String("stream", string(stream)))
			continue
		}
		stream := stream
		a.pipelines[stream] = pipeline.New(pipeline.Options{
			Stream:     stream,
			Router:     routed,
			Log:        log.With(logx.String("comp", "pipeline")),
			FlushEvery: sc.FlushTimeout,
			Rule:       a.filters.RuleFunc(stream),
			OnResult: func(r pipeline.FlushResult) {
				bus.Publish(eventbus.Event{Type: eventbus.FlushResult, Time: time.Now(), Data: r})
			},
		})
	}

	// Command handling: audit recorder, dispatcher, poller
	a.recorder = audit.NewRecorder(
		&busSink{next: a.rest, bus: bus},
		a.store,
		log.With(logx.String("comp", "audit")),
	)

	a.exporter = export.New(a.store, a.keypath, export.Options{
		Device: cfg.Device.ID,
		Dir:    cfg.Export.Dir,
	}, log)
	a.schedule = export.NewSchedule(log)

	a.dispatcher = command.NewDispatcher(command.DispatcherDeps{
		Device:   cfg.Device.ID,
		SMS:      streamControl(a.pipelines[capture.StreamSMS]),
		Notify:   streamControl(a.pipelines[capture.StreamNotification]),
		Filters:  a.filters,
		Backuper: a.exporter,
		Notifier: &displayNotifier{log: a.log, bus: bus},
		Recorder: a.recorder,
	}, log)

	pollEvery, err := config.ParseDurationField("commands.poll_every", cfg.Commands.PollEvery)
	if err != nil {
		a.closeEarly()
		return nil, err
	}
	if pollEvery > 0 {
		a.poller = command.NewPoller(a.keypath, a.dispatcher, cfg.Device.ID, pollEvery, log)
	}

	return a, nil
}

// streamControl keeps the dispatcher's nil check working: a typed-nil
// *Pipeline inside the interface would defeat it.
func streamControl(p *pipeline.Pipeline) command.StreamControl {
	if p == nil {
		return nil
	}
	return p
}

func (a *App) closeEarly() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		a.logs.Close()
	}
}

// Submit hands one captured event to its stream's pipeline. immediate=true
// bypasses the buffer and writes on the realtime channel.
func (a *App) Submit(ctx context.Context, ev capture.Event, immediate bool) error {
	p, ok := a.pipelines[ev.Stream]
	if !ok {
		return ErrStreamDisabled
	}
	return p.Enqueue(ctx, ev, immediate)
}

// Dispatch runs one command string locally (untracked; receivedAt=0, so no
// audit entry is written).
func (a *App) Dispatch(ctx context.Context, raw string) error {
	return a.dispatcher.Dispatch(ctx, raw, 0)
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return validate(c)
	})

	for _, p := range a.pipelines {
		p.Start(runCtx)
	}

	if err := a.schedule.Apply(cfg.Export.Schedule, a.runScheduledExport); err != nil {
		return err
	}
	a.schedule.Start()

	if a.poller != nil {
		a.sup.GoRestart("command.poll", a.poller.Run,
			supervisor.WithRestartBackoff(time.Second, time.Minute))
	}

	if every := heartbeatEvery(cfg); every > 0 {
		a.sup.Go0("heartbeat", func(c context.Context) { a.heartbeatLoop(c, every) })
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", systemd.RunWatchdog)
	systemd.NotifyReady()

	a.log.Info("agent started",
		logx.String("device", cfg.Device.ID),
		logx.Int("streams", len(a.pipelines)))
	return nil
}

// reloadLoop applies committed config changes: logging, flush timeouts,
// filter rules, export schedule. Storage and uplink endpoints need a
// restart and only log a warning.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			lastApplied = newCfg

			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})

			a.applyStream(capture.StreamSMS, newCfg.Streams.SMS)
			a.applyStream(capture.StreamNotification, newCfg.Streams.Notifications)

			if err := a.schedule.Apply(newCfg.Export.Schedule, a.runScheduledExport); err != nil {
				a.log.Warn("invalid export schedule; keeping previous", logx.Err(err))
			}

			for _, s := range sections {
				if s == "storage" || s == "uplink" {
					a.log.Warn("config changed; restart required for changes to take effect",
						logx.String("section", s))
				}
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) applyStream(stream capture.StreamType, sc config.StreamConfig) {
	a.filters.Set(stream, capture.ParseRule(sc.Filter))
	p, ok := a.pipelines[stream]
	if !ok {
		if sc.On() {
			a.log.Warn("stream enable changed; restart required",
				logx.String("stream", string(stream)))
		}
		return
	}
	if sc.FlushTimeout > 0 {
		applied := p.Configure(sc.FlushTimeout)
		if applied != sc.FlushTimeout {
			a.log.Info("flush timeout clamped",
				logx.String("stream", string(stream)),
				logx.Int("requested", sc.FlushTimeout), logx.Int("applied", applied))
		}
	}
}

func (a *App) runScheduledExport() {
	cfg := a.cfgm.Get()
	ctx, cancel := context.WithTimeout(a.sup.Context(), 2*time.Minute)
	defer cancel()

	sum, err := a.exporter.Run(ctx, cfg.Export.Format)
	if err != nil {
		a.log.Warn("scheduled backup failed", logx.Err(err))
		return
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ExportDone, Time: time.Now(), Data: sum})
}

func (a *App) heartbeatLoop(ctx context.Context, every time.Duration) {
	send := func() {
		cfg := a.cfgm.Get()
		hctx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		err := a.rest.RegisterDevice(hctx, uplink.DeviceInfo{
			DeviceID:          cfg.Device.ID,
			Name:              cfg.Device.Name,
			Model:             cfg.Device.Model,
			Phone:             cfg.Device.Phone,
			Code:              cfg.Device.Code,
			IsActive:          true,
			LastSeen:          time.Now().UnixMilli(),
			BatteryPercentage: cfg.Heartbeat.BatteryPercentage,
		})
		if err != nil {
			a.log.Warn("heartbeat failed", logx.Err(err))
		}
	}

	send()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			send()
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	systemd.NotifyStopping()
	a.log.Info("stopping")

	// Cancel the run context first so pollers and timers start unwinding.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end",
			logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("export.schedule", 5*time.Second, func(context.Context) error {
		a.schedule.Stop()
		return nil
	})

	// Final flush: pipelines drain synchronously before the stores close.
	for stream, p := range a.pipelines {
		stream, p := stream, p
		step("pipeline."+string(stream), 10*time.Second, func(c context.Context) error {
			return p.Shutdown(c)
		})
	}

	step("storage", 2*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	step("supervisor", 3*time.Second, func(c context.Context) error {
		return a.sup.Wait(c)
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// busSink forwards audit writes to the backend and announces the outcome
// on the bus.
type busSink struct {
	next audit.Sink
	bus  eventbus.Bus
}

func (s *busSink) WriteCommandLog(ctx context.Context, e audit.Entry) error {
	err := s.next.WriteCommandLog(ctx, e)
	if err == nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.CommandStatus(string(e.Status)), Time: time.Now(), Data: e})
	}
	return err
}

// displayNotifier is the device-display surrogate for shownotification:
// the agent has no UI, so the message lands in the log and on the bus.
type displayNotifier struct {
	log logx.Logger
	bus eventbus.Bus
}

func (n *displayNotifier) Show(_ context.Context, title, body string) error {
	n.log.Info("display notification",
		logx.String("title", title), logx.String("body", body))
	n.bus.Publish(eventbus.Event{
		Type: eventbus.NotificationShow,
		Time: time.Now(),
		Data: map[string]string{"title": title, "body": body},
	})
	return nil
}
