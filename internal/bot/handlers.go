package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"eventbot/internal/reminder"
	"eventbot/internal/storage"
	"eventbot/internal/transport/telegram/router"
	logx "eventbot/pkg/logx"
)

// Store is the slice of storage the commands use.
type Store interface {
	ListEvents(ctx context.Context) ([]storage.Event, error)
	GetEvent(ctx context.Context, id int) (storage.Event, error)
	RegisterUser(ctx context.Context, id, username, fullName string) (bool, error)
	GetUser(ctx context.Context, id string) (storage.User, bool, error)
	SetNotifications(ctx context.Context, id string, enabled bool) error
	UserEvents(ctx context.Context, userID string) ([]storage.Event, error)
	Subscribe(ctx context.Context, userID string, eventID int) error
	Unsubscribe(ctx context.Context, userID string, eventID int) error
}

// ReminderStatus reports the reminder engine state for /reminders.
type ReminderStatus interface {
	Snapshot() reminder.Snapshot
}

const (
	msgNotRegistered = "❌ You are not registered. Use /start and /register"
	msgNoEvents      = "📅 There are no events yet"
)

type Handlers struct {
	store  Store
	loc    *time.Location
	log    logx.Logger
	status ReminderStatus
}

type Option func(*Handlers)

func WithLocation(loc *time.Location) Option {
	return func(h *Handlers) {
		if loc != nil {
			h.loc = loc
		}
	}
}

func WithReminderStatus(s ReminderStatus) Option {
	return func(h *Handlers) { h.status = s }
}

func New(store Store, log logx.Logger, opts ...Option) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handlers{store: store, loc: time.Local, log: log.With(logx.String("comp", "bot"))}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Commands returns the command table in menu order.
func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "start using the bot", Handle: h.start},
		{Name: "register", Description: "register", Handle: h.register},
		{Name: "event", Aliases: []string{"events"}, Usage: "/event [id]", Description: "list events or show one", Handle: h.event},
		{Name: "calendar", Description: "calendar of campus events", Handle: h.calendar},
		{Name: "my_events", Aliases: []string{"myevents"}, Description: "your subscriptions", Handle: h.myEvents},
		{Name: "subscribe", Usage: "/subscribe <id>", Description: "subscribe to an event", Handle: h.subscribe},
		{Name: "unsubscribe", Usage: "/unsubscribe <id>", Description: "unsubscribe from an event", Handle: h.unsubscribe},
		{Name: "notify", Usage: "/notify on|off", Description: "turn reminders on or off", Handle: h.notify},
		{Name: "help", Description: "list commands", Handle: h.help},
		{Name: "reminders", Description: "reminder engine status", Access: router.AccessOwnerOnly, Handle: h.reminders},
	}
}

// Text handles plain messages. "subscribe" (or its Russian form) lists the
// events available for subscription; anything else is ignored.
func (h *Handlers) Text(ctx context.Context, req *router.Request) error {
	switch strings.ToLower(strings.TrimSpace(req.Text)) {
	case "subscribe", "подписаться":
		return h.listForSubscribe(ctx, req)
	}
	return nil
}

func userKey(req *router.Request) string { return strconv.FormatInt(req.FromID, 10) }

// registered replies with a hint and returns false for unknown users.
func (h *Handlers) registered(ctx context.Context, req *router.Request) (storage.User, bool, error) {
	u, ok, err := h.store.GetUser(ctx, userKey(req))
	if err != nil {
		return storage.User{}, false, err
	}
	if !ok {
		return storage.User{}, false, req.Reply(ctx, msgNotRegistered)
	}
	return u, true, nil
}

func (h *Handlers) start(ctx context.Context, req *router.Request) error {
	_, ok, err := h.store.GetUser(ctx, userKey(req))
	if err != nil {
		return err
	}
	if ok {
		return req.Reply(ctx, "👋 Welcome back!\n\n"+
			"Use the commands to get around:\n"+
			"📅 /event - all events\n"+
			"📅 /calendar - events calendar\n"+
			"📋 /my_events - my events\n"+
			"ℹ️ /help - help")
	}
	return req.Reply(ctx, "👋 Welcome to the campus events bot!\n\n"+
		"I can help you with:\n"+
		"• signing up for events\n"+
		"• event reminders\n"+
		"• the calendar of extracurricular events\n\n"+
		"📌 To register, send:\n/register")
}

func (h *Handlers) register(ctx context.Context, req *router.Request) error {
	created, err := h.store.RegisterUser(ctx, userKey(req), req.FromUsername, req.FromName)
	if err != nil {
		return err
	}
	if !created {
		return req.Reply(ctx, "✅ You are already registered!")
	}
	req.Logger.Info("user registered")
	return req.Reply(ctx, "✅ Registration complete!\n\n"+
		"You can now:\n"+
		"• browse events: /event\n"+
		"• view the calendar: /calendar\n"+
		"• subscribe to events: /subscribe <id>\n"+
		"• view your events: /my_events\n\n"+
		"Start by browsing events: /event")
}

func (h *Handlers) event(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return h.listEvents(ctx, req)
	}
	id, ok := router.EventID(req.Args)
	if !ok {
		return req.Reply(ctx, "❌ Invalid format. Use a number, for example: /event 0")
	}
	ev, err := h.store.GetEvent(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return req.Reply(ctx, fmt.Sprintf("❌ Event #%d not found", id))
	}
	if err != nil {
		return err
	}

	u, _, err := h.store.GetUser(ctx, userKey(req))
	if err != nil {
		return err
	}
	subscribed := false
	for _, sid := range u.SubscribedEvents {
		if sid == id {
			subscribed = true
			break
		}
	}
	text := formatEvent(ev)
	if subscribed {
		text += fmt.Sprintf("\n\n✅ You are subscribed to this event\n\nTo unsubscribe: /unsubscribe %d", id)
	} else {
		text += fmt.Sprintf("\n\n❌ You are not subscribed\n\nTo subscribe: /subscribe %d", id)
	}
	return req.Reply(ctx, text)
}

func (h *Handlers) listEvents(ctx context.Context, req *router.Request) error {
	if _, ok, err := h.registered(ctx, req); !ok || err != nil {
		return err
	}
	evs, err := h.store.ListEvents(ctx)
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		return req.Reply(ctx, msgNoEvents)
	}
	text := formatEventList("📅 Available events:", evs, h.loc) +
		"To subscribe: /subscribe <id>\n" +
		"For details: /event <id>\n" +
		"For example: /event 0"
	return req.Reply(ctx, text)
}

func (h *Handlers) listForSubscribe(ctx context.Context, req *router.Request) error {
	if _, ok, err := h.registered(ctx, req); !ok || err != nil {
		return err
	}
	evs, err := h.store.ListEvents(ctx)
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		return req.Reply(ctx, msgNoEvents)
	}
	text := formatEventList("📅 Events open for subscription:", evs, h.loc) +
		"To subscribe: /subscribe <id>\n" +
		"For example: /subscribe 0"
	return req.Reply(ctx, text)
}

func (h *Handlers) calendar(ctx context.Context, req *router.Request) error {
	if _, ok, err := h.registered(ctx, req); !ok || err != nil {
		return err
	}
	evs, err := h.store.ListEvents(ctx)
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		return req.Reply(ctx, "📅 The events calendar is empty.\n\nThere are no extracurricular events yet.")
	}
	return req.Reply(ctx, formatCalendar(evs, h.loc))
}

func (h *Handlers) myEvents(ctx context.Context, req *router.Request) error {
	if _, ok, err := h.registered(ctx, req); !ok || err != nil {
		return err
	}
	evs, err := h.store.UserEvents(ctx, userKey(req))
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		return req.Reply(ctx, "📅 You are not subscribed to any events")
	}
	var b strings.Builder
	b.WriteString("📅 Your events:\n\n")
	for _, ev := range evs {
		b.WriteString(formatEvent(ev) + "\n\n")
	}
	b.WriteString("Use /unsubscribe <id> to unsubscribe")
	return req.Reply(ctx, b.String())
}

func (h *Handlers) subscribe(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return h.listForSubscribe(ctx, req)
	}
	if _, ok, err := h.registered(ctx, req); !ok || err != nil {
		return err
	}
	id, ok := router.EventID(req.Args)
	if !ok {
		return req.Reply(ctx, "❌ Invalid format. Use a number, for example: /subscribe 0")
	}
	ev, err := h.store.GetEvent(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return req.Reply(ctx, fmt.Sprintf("❌ Event #%d not found", id))
	}
	if err != nil {
		return err
	}
	if err := h.store.Subscribe(ctx, userKey(req), id); err != nil {
		return err
	}
	req.Logger.Info("subscribed", logx.Int("event_id", id))
	return req.Reply(ctx, fmt.Sprintf("✅ You subscribed to:\n📅 %s\n🗓 %s\n\nYou will get reminders about it!", ev.Title, ev.Date))
}

func (h *Handlers) unsubscribe(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, "❌ Give the event id: /unsubscribe <id>")
	}
	id, ok := router.EventID(req.Args)
	if !ok {
		return req.Reply(ctx, "❌ Invalid id format. Use a number")
	}
	err := h.store.Unsubscribe(ctx, userKey(req), id)
	if errors.Is(err, storage.ErrNotFound) {
		return req.Reply(ctx, "❌ Event not found")
	}
	if err != nil {
		return err
	}
	req.Logger.Info("unsubscribed", logx.Int("event_id", id))
	return req.Reply(ctx, fmt.Sprintf("✅ You unsubscribed from event #%d", id))
}

func (h *Handlers) notify(ctx context.Context, req *router.Request) error {
	u, ok, err := h.registered(ctx, req)
	if !ok || err != nil {
		return err
	}
	if len(req.Args) == 0 {
		state := "off"
		if u.NotificationsEnabled {
			state = "on"
		}
		return req.Reply(ctx, "🔔 Reminders are "+state+".\n\nUse /notify on or /notify off")
	}
	var enabled bool
	switch strings.ToLower(req.Args[0]) {
	case "on", "yes", "1", "enable":
		enabled = true
	case "off", "no", "0", "disable":
		enabled = false
	default:
		return req.Reply(ctx, "❌ Use /notify on or /notify off")
	}
	if err := h.store.SetNotifications(ctx, userKey(req), enabled); err != nil {
		return err
	}
	if enabled {
		return req.Reply(ctx, "🔔 Reminders turned on")
	}
	return req.Reply(ctx, "🔕 Reminders turned off")
}

func (h *Handlers) help(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, "📚 Available commands:\n\n"+
		"🚀 Getting started:\n"+
		"/start - start using the bot\n"+
		"/register - register\n\n"+
		"📅 Calendar and events:\n"+
		"/calendar - calendar of campus events\n"+
		"/event <id> - event details\n"+
		"/my_events - my events\n"+
		"/subscribe <id> - subscribe to an event\n"+
		"/unsubscribe <id> - unsubscribe from an event\n\n"+
		"🔔 Reminders:\n"+
		"/notify on|off - turn reminders on or off\n\n"+
		"ℹ️ Help:\n"+
		"/help - list of commands")
}

func (h *Handlers) reminders(ctx context.Context, req *router.Request) error {
	if h.status == nil {
		return req.Reply(ctx, "Reminder engine is disabled")
	}
	s := h.status.Snapshot()
	state := "stopped"
	if s.Running {
		state = "running"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 Reminders: %s\n", state)
	fmt.Fprintf(&b, "Poll: %s (%s)\n", s.Poll, s.Timezone)
	fmt.Fprintf(&b, "Strategies: %s\n", strings.Join(s.Strategies, ", "))
	fmt.Fprintf(&b, "Ticks: %d, ledger: %d\n", s.Ticks, s.LedgerSize)
	if !s.Last.Started.IsZero() {
		fmt.Fprintf(&b, "Last tick: %s, events %d, due %d, sent %d, failed %d, errors %d",
			s.Last.Started.In(h.loc).Format(dayTimeLayout), s.Last.Events, s.Last.Due, s.Last.Sent, s.Last.Failed, s.Last.Errors)
		if s.Last.FetchErr != "" {
			b.WriteString("\nFetch error: " + s.Last.FetchErr)
		}
	}
	return req.Reply(ctx, b.String())
}
