package reminder

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"eventbot/internal/eventbus"
	rtsup "eventbot/internal/runtime/supervisor"
	"eventbot/internal/storage"
	kit "eventbot/internal/transport"
	logx "eventbot/pkg/logx"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

// Event types published on the bus.
const (
	EventTick   = "reminder.tick"
	EventSent   = "reminder.sent"
	EventFailed = "reminder.failed"
)

// Store is the read side the scheduler needs.
type Store interface {
	ListEvents(ctx context.Context) ([]storage.Event, error)
	GetUser(ctx context.Context, id string) (storage.User, bool, error)
}

// Config is the runtime configuration of the scheduler.
type Config struct {
	Poll        string
	Location    *time.Location
	SendDelay   time.Duration
	SendTimeout time.Duration
	Strategies  []string
	Tiers       []Tier
}

// Deps are the collaborators of a Scheduler. Store, Adapter and Ledger are
// required.
type Deps struct {
	Store   Store
	Adapter kit.Adapter
	Ledger  *Ledger
	Bus     eventbus.Bus
	Log     logx.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// TickReport summarizes one pass over the events.
type TickReport struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Took     time.Duration `json:"took"`
	Events   int           `json:"events"`
	Due      int           `json:"due"`
	Deduped  int           `json:"deduped"`
	Sent     int           `json:"sent"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Errors   int           `json:"errors"`
	Marked   []string      `json:"marked,omitempty"`
	FetchErr string        `json:"fetch_error,omitempty"`
}

// SentEvent is the payload of EventSent.
type SentEvent struct {
	Key        string `json:"key"`
	EventID    int    `json:"event_id"`
	Tier       string `json:"tier"`
	Recipients int    `json:"recipients"`
}

// FailedEvent is the payload of EventFailed.
type FailedEvent struct {
	Key     string `json:"key"`
	EventID int    `json:"event_id"`
	UserID  string `json:"user_id"`
}

type Snapshot struct {
	Running    bool       `json:"running"`
	Poll       string     `json:"poll"`
	Timezone   string     `json:"timezone"`
	Strategies []string   `json:"strategies"`
	Tiers      []Tier     `json:"tiers"`
	Ticks      uint64     `json:"ticks"`
	NextTick   time.Time  `json:"next_tick,omitempty"`
	LedgerSize int        `json:"ledger_size"`
	Last       TickReport `json:"last"`
}

// runtimeCfg is the validated form of Config swapped atomically by Apply.
type runtimeCfg struct {
	poll      string
	cadence   cron.Schedule
	loc       *time.Location
	delay     time.Duration
	matcher   *Matcher
	attempter *Attempter
}

// Scheduler is the reminder loop. Ticks never overlap.
type Scheduler struct {
	log    logx.Logger
	store  Store
	adapt  kit.Adapter
	ledger *Ledger
	bus    eventbus.Bus
	now    func() time.Time

	tickMu sync.Mutex

	mu      sync.Mutex
	rc      *runtimeCfg
	running bool
	wake    chan struct{}
	done    chan struct{}
	sup     *rtsup.Supervisor
	ticks   uint64
	next    time.Time
	last    TickReport
}

func New(cfg Config, d Deps) (*Scheduler, error) {
	if d.Store == nil {
		return nil, errors.New("reminder: store is required")
	}
	if d.Adapter == nil {
		return nil, errors.New("reminder: adapter is required")
	}
	if d.Ledger == nil {
		return nil, errors.New("reminder: ledger is required")
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	s := &Scheduler{
		log:    log.With(logx.String("comp", "reminder")),
		store:  d.Store,
		adapt:  d.Adapter,
		ledger: d.Ledger,
		bus:    d.Bus,
		now:    now,
	}
	rc, err := s.build(cfg)
	if err != nil {
		return nil, err
	}
	s.rc = rc
	return s, nil
}

func (s *Scheduler) build(cfg Config) (*runtimeCfg, error) {
	cadence, err := ParseCadence(cfg.Poll)
	if err != nil {
		return nil, err
	}
	matcher, err := NewMatcher(cfg.Tiers)
	if err != nil {
		return nil, err
	}
	strategies, err := StrategiesFor(s.adapt, cfg.Strategies)
	if err != nil {
		return nil, err
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	poll := cfg.Poll
	if poll == "" {
		poll = "1m"
	}
	delay := cfg.SendDelay
	if delay < 0 {
		delay = 0
	}
	return &runtimeCfg{
		poll:      poll,
		cadence:   cadence,
		loc:       loc,
		delay:     delay,
		matcher:   matcher,
		attempter: NewAttempter(strategies, cfg.SendTimeout, s.log),
	}, nil
}

// Apply swaps in a new configuration. It takes effect from the next tick;
// a tick in progress keeps the configuration it started with.
func (s *Scheduler) Apply(cfg Config) error {
	rc, err := s.build(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rc = rc
	s.mu.Unlock()
	s.log.Info("reminder config applied",
		logx.String("poll", rc.poll),
		logx.Strings("strategies", rc.attempter.Names()),
		logx.Duration("send_delay", rc.delay),
	)
	return nil
}

func (s *Scheduler) current() *runtimeCfg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rc
}

// Start launches the loop. The first tick runs immediately. Calling Start on
// a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	if s.done != nil {
		select {
		case <-s.done:
		default:
			// The previous loop has not exited yet; it picks the flag back up.
			s.mu.Unlock()
			return nil
		}
	}
	s.wake = make(chan struct{}, 1)
	s.done = make(chan struct{})
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log))
	wake, done, sup := s.wake, s.done, s.sup
	s.mu.Unlock()

	s.log.Info("reminder scheduler started", logx.String("poll", s.current().poll))
	sup.GoRestart("reminder.loop", func(c context.Context) error {
		s.loop(c, wake)
		return nil
	}, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	go func() {
		_ = sup.Wait(context.Background())
		sup.Cancel()
		close(done)
	}()
	return nil
}

// Supervisor returns the supervisor of the current loop, nil before Start.
func (s *Scheduler) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Stop clears the running flag and waits for the loop to exit. A tick in
// progress completes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	select {
	case s.wake <- struct{}{}:
	default:
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.log.Info("reminder scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// loop runs until the running flag is cleared or ctx is done. A panic
// escaping it is recovered by the supervisor, which restarts the loop.
func (s *Scheduler) loop(ctx context.Context, wake <-chan struct{}) {
	tickCtx := context.WithoutCancel(ctx)
	for {
		if !s.isRunning() {
			return
		}
		s.Tick(tickCtx)

		rc := s.current()
		now := s.now()
		next := rc.cadence.Next(now)
		s.mu.Lock()
		s.next = next
		s.mu.Unlock()

		t := time.NewTimer(next.Sub(now))
		select {
		case <-t.C:
		case <-wake:
			t.Stop()
		case <-ctx.Done():
			t.Stop()
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		}
	}
}

// Tick runs one pass: fetch events, classify, fan out, mark sent. It is safe
// to call directly; concurrent calls are serialized.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	rc := s.current()
	now := s.now()
	rep := TickReport{ID: uuid.NewString(), Started: now}
	log := s.log.With(logx.String("tick", rep.ID))

	events, err := s.fetch(ctx)
	if err != nil {
		rep.FetchErr = err.Error()
		log.Error("reminder tick skipped: list events failed", logx.Err(err))
		return s.finish(rep)
	}
	rep.Events = len(events)
	log.Debug("checking reminders", logx.Int("events", len(events)))

	for _, ev := range events {
		if err := s.processEvent(ctx, rc, log, ev, now, &rep); err != nil {
			rep.Errors++
			log.Error("reminder event failed", logx.Int("event_id", ev.ID), logx.Err(err))
		}
	}
	return s.finish(rep)
}

func (s *Scheduler) fetch(ctx context.Context) (events []storage.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Debug("list events panic stack", logx.String("stack", string(debug.Stack())))
		}
	}()
	return s.store.ListEvents(ctx)
}

func (s *Scheduler) finish(rep TickReport) TickReport {
	rep.Took = s.now().Sub(rep.Started)
	s.mu.Lock()
	s.ticks++
	s.last = rep
	s.mu.Unlock()
	s.publish(EventTick, rep)
	if rep.Sent > 0 || rep.Failed > 0 || rep.Errors > 0 {
		s.log.Info("reminder tick done",
			logx.String("tick", rep.ID),
			logx.Int("due", rep.Due),
			logx.Int("sent", rep.Sent),
			logx.Int("failed", rep.Failed),
			logx.Int("errors", rep.Errors),
			logx.Duration("took", rep.Took),
		)
	}
	return rep
}

func (s *Scheduler) processEvent(ctx context.Context, rc *runtimeCfg, log logx.Logger, ev storage.Event, now time.Time, rep *TickReport) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Debug("reminder event panic stack", logx.String("stack", string(debug.Stack())))
		}
	}()

	start, err := ev.Start(rc.loc)
	if err != nil {
		return err
	}
	tier, ok := rc.matcher.Classify(start, now)
	if !ok {
		return nil
	}
	key := KeyFor(ev.ID, tier.Name)
	rep.Due++
	if s.ledger.AlreadySent(key) {
		rep.Deduped++
		log.Debug("reminder already sent", logx.String("key", string(key)))
		return nil
	}

	sent := s.fanOut(ctx, rc, log, ev, tier, key, rep)
	// Partial success counts: the tier is marked once anyone got it.
	if sent > 0 {
		s.ledger.MarkSent(key)
		rep.Marked = append(rep.Marked, string(key))
		s.publish(EventSent, SentEvent{Key: string(key), EventID: ev.ID, Tier: tier.Name, Recipients: sent})
		log.Info("reminder sent",
			logx.String("key", string(key)),
			logx.String("title", ev.Title),
			logx.Int("recipients", sent),
		)
	}
	return nil
}

func (s *Scheduler) fanOut(ctx context.Context, rc *runtimeCfg, log logx.Logger, ev storage.Event, tier Tier, key Key, rep *TickReport) int {
	if len(ev.Subscribers) == 0 {
		log.Debug("no subscribers", logx.Int("event_id", ev.ID))
		return 0
	}
	text := FormatReminder(ev, tier)
	pace := newPacer(rc.delay)
	sent := 0
	for _, uid := range ev.Subscribers {
		ok, err := s.sendOne(ctx, rc, pace, uid, text)
		if err != nil {
			rep.Errors++
			log.Error("reminder recipient failed", logx.String("user_id", uid), logx.Err(err))
			continue
		}
		switch ok {
		case sendSkipped:
			rep.Skipped++
		case sendOK:
			sent++
			rep.Sent++
		case sendFailed:
			rep.Failed++
			s.publish(EventFailed, FailedEvent{Key: string(key), EventID: ev.ID, UserID: uid})
		}
	}
	return sent
}

type sendResult int

const (
	sendSkipped sendResult = iota
	sendOK
	sendFailed
)

func (s *Scheduler) sendOne(ctx context.Context, rc *runtimeCfg, pace *rate.Limiter, uid, text string) (res sendResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	u, ok, err := s.store.GetUser(ctx, uid)
	if err != nil {
		return sendSkipped, err
	}
	if !ok || !u.NotificationsEnabled {
		return sendSkipped, nil
	}
	if err := pace.Wait(ctx); err != nil {
		return sendSkipped, err
	}
	if rc.attempter.Send(ctx, uid, text) {
		return sendOK, nil
	}
	return sendFailed, nil
}

// newPacer spaces the sends of one fan-out at most one per delay. A send
// slower than delay is followed by the next one without a further pause.
func newPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	rc := s.rc
	snap := Snapshot{
		Running:  s.running,
		Ticks:    s.ticks,
		NextTick: s.next,
		Last:     s.last,
	}
	s.mu.Unlock()

	snap.Poll = rc.poll
	snap.Timezone = rc.loc.String()
	snap.Strategies = rc.attempter.Names()
	snap.Tiers = rc.matcher.Tiers()
	snap.LedgerSize = s.ledger.Len()
	return snap
}

// Ledger exposes the injected ledger for read-only reporting.
func (s *Scheduler) Ledger() *Ledger { return s.ledger }
