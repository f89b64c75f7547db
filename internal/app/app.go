package app

import (
	"context"
	"time"

	sdnotify "github.com/coreos/go-systemd/v22/daemon"

	"github.com/ssathy2/backgroundtime/internal/config"
	"github.com/ssathy2/backgroundtime/internal/eventbus"
	"github.com/ssathy2/backgroundtime/internal/eventlog"
	"github.com/ssathy2/backgroundtime/internal/monitor"
	"github.com/ssathy2/backgroundtime/internal/runner"
	rtsup "github.com/ssathy2/backgroundtime/internal/runtime/supervisor"
	"github.com/ssathy2/backgroundtime/internal/scheduler"
	"github.com/ssathy2/backgroundtime/internal/storage"
	logx "github.com/ssathy2/backgroundtime/pkg/logx"
)

// App wires the daemon together: config, logging, monitor, storage,
// scheduler and runner.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	mon   *monitor.Monitor
	run   *runner.Service
	sched *scheduler.Service

	persistEvery time.Duration
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
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

	// Storage (optional)
	var store storage.Store
	if sc := cfg.Storage; sc != nil {
		busyTimeout, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return nil, err
		}
		st, err := storage.Open(storage.Config{
			Driver:      sc.Driver,
			Path:        sc.Path,
			BusyTimeout: busyTimeout,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		if store != nil {
			log.Info("storage enabled", logx.String("driver", sc.Driver))
		}
	}

	mon := monitor.New(cfg.Monitor.CapacityOrDefault(), log.With(logx.String("comp", "monitor")), bus)

	runCfg, err := mapRunnerConfig(cfg)
	if err != nil {
		return nil, err
	}
	runSvc := runner.New(runCfg, mon, log.With(logx.String("comp", "runner")), bus)

	schedSvc := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, mon, runSvc, log.With(logx.String("comp", "scheduler")))

	persistEvery, err := cfg.Monitor.PersistIntervalOrDefault()
	if err != nil {
		return nil, err
	}

	return &App{
		cfgPath:      cfgPath,
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		bus:          bus,
		store:        store,
		mon:          mon,
		run:          runSvc,
		sched:        schedSvc,
		persistEvery: persistEvery,
	}, nil
}

// Monitor exposes the event monitor for reporting commands.
func (a *App) Monitor() *monitor.Monitor { return a.mon }

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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	cfg := a.cfgm.Get()

	// Restore persisted events before producers start appending.
	if a.store != nil {
		snap, err := a.store.LoadSnapshot(a.sup.Context())
		if err != nil {
			a.log.Warn("restore failed; starting empty", logx.Err(err))
		} else if snap != nil {
			restored := *snap
			// The configured capacity wins over whatever was persisted.
			restored.Capacity = cfg.Monitor.CapacityOrDefault()
			if err := a.mon.Restore(restored); err != nil {
				a.log.Warn("restore rejected; starting empty", logx.Err(err))
			} else {
				a.log.Info("event log restored", logx.Int("events", len(restored.Elements)))
			}
		}
	}

	a.run.Start(a.sup.Context())
	if err := a.sched.SetJobs(jobSpecs(cfg)); err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	// Journal every appended event so a crash between snapshots loses little.
	if a.store != nil {
		signals, unsub := a.bus.Subscribe(256)
		a.sup.Go0("storage.journal", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case sig, ok := <-signals:
					if !ok {
						return
					}
					if sig.Type != eventbus.TypeAppended {
						continue
					}
					e, ok := sig.Data.(eventlog.Event)
					if !ok {
						continue
					}
					if err := a.store.AppendEvent(c, e); err != nil {
						a.log.Debug("journal append failed", logx.Err(err))
					}
				}
			}
		})

		a.sup.Go0("storage.persist", func(c context.Context) {
			t := time.NewTicker(a.persistEvery)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					a.persist(c)
				}
			}
		})
	}

	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c) })
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// Tell systemd we're up. No-op outside a systemd unit.
	if ok, err := sdnotify.SdNotify(false, sdnotify.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify: ready")
	}

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = sdnotify.SdNotify(false, sdnotify.SdNotifyStopping)

	// Scheduler first so no new work is queued while the runner drains.
	a.sched.Stop(ctx)
	a.run.Stop(ctx)

	if a.sup != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(ctx)
	}

	if a.store != nil {
		a.persist(context.Background())
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}

	if a.logs != nil {
		_ = a.logs.Close()
	}
	a.log.Info("app stopped")
	return nil
}

func (a *App) persist(ctx context.Context) {
	if a.store == nil {
		return
	}
	if err := a.store.SaveSnapshot(ctx, a.mon.Snapshot()); err != nil {
		a.log.Warn("snapshot persist failed", logx.Err(err))
	}
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

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
			change := config.Diff(lastApplied, newCfg)
			lastApplied = newCfg
			if !change.Any() {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			a.applyChange(ctx, newCfg, change)
		}
	}
}

func (a *App) applyChange(ctx context.Context, cfg *config.Config, change config.Change) {
	if change.Logging {
		a.logs.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
	}

	if change.Capacity {
		dropped := a.mon.Resize(cfg.Monitor.CapacityOrDefault())
		if dropped > 0 {
			a.log.Info("event log resized", logx.Int("capacity", cfg.Monitor.CapacityOrDefault()), logx.Int("dropped", dropped))
		}
	}

	if change.Storage {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if change.Runner {
		runCfg, err := mapRunnerConfig(cfg)
		if err != nil {
			a.log.Warn("invalid runner config; keeping previous", logx.Err(err))
		} else {
			a.run.Apply(ctx, runCfg)
		}
	}

	if change.Jobs {
		if err := a.sched.SetJobs(jobSpecs(cfg)); err != nil {
			a.log.Warn("invalid jobs config; keeping previous", logx.Err(err))
		}
	}

	if change.Scheduler {
		prevEnabled := a.sched.Enabled()
		a.sched.Apply(scheduler.Config{
			Enabled:  cfg.Scheduler.Enabled,
			Timezone: cfg.Scheduler.Timezone,
		})
		switch {
		case prevEnabled && !cfg.Scheduler.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !prevEnabled && cfg.Scheduler.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	a.log.Info("config reloaded")
}

func mapRunnerConfig(cfg *config.Config) (runner.Config, error) {
	r := cfg.Runner.Effective()
	defaultTimeout, err := config.ParseDurationField("runner.default_timeout", r.DefaultTimeout)
	if err != nil {
		return runner.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("runner.max_queue_delay", r.MaxQueueDelay)
	if err != nil {
		return runner.Config{}, err
	}
	return runner.Config{
		Workers:        r.Workers,
		QueueSize:      r.QueueSize,
		DefaultTimeout: defaultTimeout,
		MaxQueueDelay:  maxQueueDelay,
	}, nil
}

// jobSpecs maps enabled config jobs into schedule definitions. Durations were
// validated at load time; parse errors here fall back to zero.
func jobSpecs(cfg *config.Config) []scheduler.JobSpec {
	specs := make([]scheduler.JobSpec, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		if j.Disabled {
			continue
		}
		timeout, _ := config.ParseDurationField("timeout", j.Timeout)
		delay, _ := config.ParseDurationField("delay", j.Delay)
		specs = append(specs, scheduler.JobSpec{
			Schedule: j.Schedule,
			Job: runner.Job{
				Name:            j.Name,
				Command:         append([]string(nil), j.Command...),
				Timeout:         timeout,
				Delay:           delay,
				RequiresNetwork: j.RequiresNetwork,
				RequiresPower:   j.RequiresPower,
			},
		})
	}
	return specs
}
