package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"notifyd/internal/config"
	"notifyd/internal/eventbus"
	"notifyd/internal/fdn"
	"notifyd/internal/runtime/supervisor"
	"notifyd/internal/schedule"
	"notifyd/internal/script"
	logx "notifyd/pkg/logx"
)

const pruneJob = "history.prune"

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	srv     *fdn.Server
	ep      *fdn.Endpoint
	sched   *schedule.Runner
	scripts *script.Runner
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	st, err := buildSettings(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogConfig())
	bus := eventbus.New()

	srv := fdn.NewServer(st,
		fdn.WithLogger(log.With(logx.String("comp", "fdn"))),
		fdn.WithEventBus(bus),
	)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		srv:     srv,
		sched:   schedule.NewRunner(log.With(logx.String("comp", "schedule")), time.Local),
		scripts: script.New(log.With(logx.String("comp", "script")), scriptConfig(cfg)),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	ep, err := fdn.Open(a.sup.Context(), a.srv, cfg.Bus.Name, a.log.With(logx.String("comp", "bus")))
	if err != nil {
		a.sup.Cancel()
		return err
	}
	a.ep = ep

	a.sup.Go("fdn.loop", a.srv.Run)
	a.sup.Go("fdn.name", a.ep.WatchNameLost)

	scriptEvents, unsubScripts := a.bus.Subscribe(64)
	a.sup.Go("scripts", func(c context.Context) error {
		defer unsubScripts()
		return a.scripts.Run(c, scriptEvents)
	})

	// Debug view of everything the loop publishes.
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
				a.log.Debug("event", eventFields(e)...)
			}
		}
	})

	if err := a.setPrune(cfg); err != nil {
		a.log.Warn("history prune not scheduled", logx.Err(err))
	}
	a.sched.Start()

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := cfg
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	// Watcher failures are retried with backoff.
	a.sup.GoRestart("config.watch", time.Second, 30*time.Second, 0, a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdog(c, a.log)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("config", a.cfgPath), logx.String("version", fdn.Version))
	return nil
}

// applyConfig fans a reloaded config out to the parts that changed.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	ch := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Debug("config change summary", fields...)
	if len(ch.Rules) > 0 {
		a.log.Debug("rule changes detected", logx.Strs("rules", ch.Rules))
	}
	if ch.RestartRequired {
		a.log.Warn("bus config changed; restart required for changes to take effect")
	}

	if ch.Has("logging") {
		a.logs.Apply(newCfg.LogConfig())
	}

	if ch.Has("queue") || ch.Has("timeouts") || ch.Has("markup") || ch.Has("rules") || ch.Has("history_prune") {
		st, err := buildSettings(newCfg)
		if err != nil {
			a.log.Warn("invalid settings; keeping previous", logx.Err(err))
		} else {
			a.srv.Apply(st)
		}
	}
	if ch.Has("history_prune") {
		if err := a.setPrune(newCfg); err != nil {
			a.log.Warn("invalid history_prune.schedule; keeping previous", logx.Err(err))
		}
	}
	if ch.Has("scripts") {
		a.scripts.Configure(scriptConfig(newCfg))
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) setPrune(cfg *config.Config) error {
	return a.sched.Set(pruneJob, cfg.HistoryPrune.Schedule, func() {
		ctx, cancel := context.WithTimeout(a.sup.Context(), 5*time.Second)
		defer cancel()
		if _, err := a.srv.Prune(ctx); err != nil {
			a.log.Warn("history prune failed", logx.Err(err))
		}
	})
}

func eventFields(e eventbus.Event) []logx.Field {
	fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
	switch d := e.Data.(type) {
	case fdn.ClosedEvent:
		fields = append(fields, logx.Uint64("id", uint64(d.Notification.ID)), logx.String("reason", d.Reason.String()))
	case fdn.ActionEvent:
		fields = append(fields, logx.Uint64("id", uint64(d.Notification.ID)), logx.String("key", d.Key))
	case fdn.DisplayedEvent:
		fields = append(fields, logx.Uint64("id", uint64(d.Notification.ID)), logx.Bool("first", d.First))
	case bool:
		fields = append(fields, logx.Bool("running", d))
	}
	return fields
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("schedule", 2*time.Second, a.sched.Stop)
	// The loop and the script runner exit on the canceled context; Wait
	// covers them together with the config watcher.
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("bus", 1*time.Second, func(context.Context) error { return a.ep.Close() })

	c := a.sup.Counters()
	a.log.Info("stopped", logx.Int("goroutines_left", int(c.Active)), logx.Int("goroutines_started", int(c.Started)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
