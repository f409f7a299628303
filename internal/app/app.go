package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"eventbot/internal/bot"
	"eventbot/internal/config"
	"eventbot/internal/eventbus"
	"eventbot/internal/observability/status"
	"eventbot/internal/reminder"
	rtsup "eventbot/internal/runtime/supervisor"
	"eventbot/internal/storage"
	kit "eventbot/internal/transport"
	telegram "eventbot/internal/transport/telegram/adapter"
	"eventbot/internal/transport/telegram/router"
	logx "eventbot/pkg/logx"
)

type Option func(*options)

type options struct {
	adapter kit.Adapter
	version string
}

// WithAdapter replaces the Telegram adapter (tests, alternative transports).
func WithAdapter(a kit.Adapter) Option {
	return func(o *options) { o.adapter = a }
}

func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter kit.Adapter

	ledger   *reminder.Ledger
	sched    *reminder.Scheduler
	status   *status.Service
	cmdm     *router.CommandManager
	registry *rtsup.Registry
	sd       sdNotifier

	persistLedger bool

	mu          sync.Mutex
	remindersOn bool

	updates chan kit.Update
}

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	pollTimeout, cmdTimeout, err := mapAdapterTimeouts(cfg)
	if err != nil {
		return nil, err
	}

	ad := o.adapter
	if ad == nil {
		bootLog := logx.NewConsole("info").With(logx.String("comp", "telegram"))
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
		}, bootLog)
		if err != nil {
			return nil, err
		}
		ad = tg
	}

	lc, err := mapLogConfig(cfg)
	if err != nil {
		return nil, err
	}
	logSvc, log := logx.New(lc, ad)
	appLog := log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	appLog.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	ledgerOpts := []reminder.LedgerOption{reminder.WithLedgerLogger(log.With(logx.String("comp", "reminder.ledger")))}
	if cfg.Reminders.PersistLedger {
		ledgerOpts = append(ledgerOpts, reminder.WithLedgerStore(store))
	}
	ledger := reminder.NewLedger(ledgerOpts...)

	bus := eventbus.New()
	rcfg, err := mapReminderConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched, err := reminder.New(rcfg, reminder.Deps{
		Store:   store,
		Adapter: ad,
		Ledger:  ledger,
		Bus:     bus,
		Log:     log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	stc, err := mapStatusConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	registry := rtsup.NewRegistry()
	statusSvc := status.New(stc, status.Sources{
		Reminders:   sched,
		Ledger:      ledger,
		Supervisors: registry,
		Version:     o.version,
	}, log.With(logx.String("comp", "status")))

	handlers := bot.New(store, log,
		bot.WithLocation(rcfg.Location),
		bot.WithReminderStatus(sched),
	)
	cmdm := router.NewCommandManager(log, ad, router.Options{
		Owners:         cfg.Telegram.OwnerUserIDs,
		DefaultTimeout: cmdTimeout,
	})
	cmdm.SetRegistry(handlers.Commands())
	cmdm.SetTextHandler(handlers.Text)

	a := &App{
		cfgm:          cfgm,
		log:           appLog,
		logs:          logSvc,
		bus:           bus,
		store:         store,
		adapter:       ad,
		ledger:        ledger,
		sched:         sched,
		status:        statusSvc,
		cmdm:          cmdm,
		registry:      registry,
		sd:            sdNotifier{log: appLog},
		persistLedger: cfg.Reminders.PersistLedger,
		updates:       make(chan kit.Update, 256),
	}
	registry.Set("app", rtsup.SourceFunc(func() *rtsup.Supervisor { return a.sup }))
	registry.Set("reminders", sched)
	registry.Set("commands", cmdm)
	registry.Set("status", statusSvc)
	if src, ok := ad.(rtsup.Source); ok {
		registry.Set("telegram.adapter", src)
	}
	return a, nil
}

// Scheduler exposes the reminder engine (status, tests).
func (a *App) Scheduler() *reminder.Scheduler { return a.sched }

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
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if a.persistLedger {
		n, err := a.ledger.Restore(ctx)
		if err != nil {
			return fmt.Errorf("restore reminder ledger: %w", err)
		}
		a.log.Info("reminder ledger restored", logx.Int("keys", n))
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	cfg := a.cfgm.Get()
	if cfg.Reminders.IsEnabled() {
		a.setReminders(a.sup.Context(), true)
	} else {
		a.log.Info("reminders disabled via config")
	}
	if a.status.Enabled() {
		a.status.Start(a.sup.Context())
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
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.Watchdog(c, a.remindersAlive)
	})

	a.sd.Ready()
	a.log.Info("app started")
	return nil
}

func (a *App) setReminders(ctx context.Context, on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if on == a.remindersOn {
		return
	}
	a.remindersOn = on
	if on {
		if err := a.sched.Start(ctx); err != nil {
			a.log.Error("reminder scheduler start failed", logx.Err(err))
		}
		return
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.sched.Stop(stopCtx); err != nil {
		a.log.Warn("reminder scheduler stop timed out", logx.Err(err))
	}
}

// remindersAlive is false when the reminder loop is overdue by more than a
// grace period, which withholds the systemd watchdog ping.
func (a *App) remindersAlive() bool {
	snap := a.sched.Snapshot()
	if !snap.Running || snap.NextTick.IsZero() {
		return true
	}
	return time.Now().Before(snap.NextTick.Add(10 * time.Minute))
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	if prev.Storage != next.Storage {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if prev.Telegram.Token != next.Telegram.Token || prev.Telegram.PollTimeout != next.Telegram.PollTimeout {
		a.log.Warn("telegram connection settings changed; restart required for changes to take effect")
	}
	if prev.Reminders.PersistLedger != next.Reminders.PersistLedger {
		a.log.Warn("reminders.persist_ledger changed; restart required for changes to take effect")
	}

	if lc, err := mapLogConfig(next); err != nil {
		a.log.Warn("invalid logging config; keeping previous", logx.Err(err))
	} else {
		a.logs.Apply(lc)
	}
	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)

	if rcfg, err := mapReminderConfig(next); err != nil {
		a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
	} else if err := a.sched.Apply(rcfg); err != nil {
		a.log.Warn("reminders config rejected; keeping previous", logx.Err(err))
	}
	a.setReminders(ctx, next.Reminders.IsEnabled())

	if stc, err := mapStatusConfig(next); err != nil {
		a.log.Warn("invalid status config; keeping previous", logx.Err(err))
	} else {
		a.status.Reconfigure(ctx, stc)
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < limit {
				limit = max(rem, 0)
			}
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

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
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("reminders", 5*time.Second, func(c context.Context) error { return a.sched.Stop(c) })
	step("status", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
