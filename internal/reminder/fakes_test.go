package reminder

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"eventbot/internal/eventbus"
	"eventbot/internal/storage"
	kit "eventbot/internal/transport"
)

type fakeAdapter struct {
	mu    sync.Mutex
	fail  map[int64]bool
	calls map[string]int
	sent  map[int64][]string
	block bool
}

func newFakeAdapter(failing ...int64) *fakeAdapter {
	f := &fakeAdapter{fail: map[int64]bool{}, calls: map[string]int{}, sent: map[int64][]string{}}
	for _, id := range failing {
		f.fail[id] = true
	}
	return f
}

var errRejected = errors.New("chat not found")

func (f *fakeAdapter) record(method string, id int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if f.fail[id] {
		return errRejected
	}
	f.sent[id] = append(f.sent[id], text)
	return nil
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if f.block {
		<-ctx.Done()
		return kit.MessageRef{}, ctx.Err()
	}
	return kit.MessageRef{ChatID: to.ChatID}, f.record("chat_id", to.ChatID, text)
}

func (f *fakeAdapter) SendToRecipient(ctx context.Context, recipient, text string) error {
	id, _ := strconv.ParseInt(recipient, 10, 64)
	return f.record("chat_id_string", id, text)
}

func (f *fakeAdapter) SendToUser(ctx context.Context, userID int64, text string) error {
	return f.record("user_id", userID, text)
}

func (f *fakeAdapter) SendPlain(ctx context.Context, chatID int64, text string) error {
	return f.record("plain", chatID, text)
}

func (f *fakeAdapter) Raw(ctx context.Context, method string, params map[string]string) ([]byte, error) {
	id, _ := strconv.ParseInt(params["chat_id"], 10, 64)
	return nil, f.record("raw_api", id, params["text"])
}

func (f *fakeAdapter) sentTo(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[id])
}

func (f *fakeAdapter) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// bareAdapter only implements the required interface.
type bareAdapter struct{ f *fakeAdapter }

func (b bareAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (b bareAdapter) Stop(ctx context.Context) error                         { return nil }
func (b bareAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return b.f.SendText(ctx, to, text, opt)
}

type fakeStore struct {
	mu      sync.Mutex
	events  []storage.Event
	users   map[string]storage.User
	listErr error
	lists   int
	sent    map[string]time.Time

	// listPanic and panicUser make the store panic like a broken driver.
	listPanic bool
	panicUser string
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]storage.User{}, sent: map[string]time.Time{}}
}

func (s *fakeStore) addUser(id string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = storage.User{ID: id, NotificationsEnabled: enabled}
}

func (s *fakeStore) ListEvents(ctx context.Context) ([]storage.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.listPanic {
		var m map[string]int
		m["boom"] = 1
	}
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]storage.Event, len(s.events))
	copy(out, s.events)
	return out, nil
}

func (s *fakeStore) GetUser(ctx context.Context, id string) (storage.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicUser != "" && id == s.panicUser {
		panic("user row corrupted")
	}
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *fakeStore) PutSent(ctx context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[key] = at
	return nil
}

func (s *fakeStore) SentKeys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for k := range s.sent {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

const dateLayout = "2006-01-02T15:04:05"

func eventAt(id int, start time.Time, subscribers ...string) storage.Event {
	return storage.Event{
		ID:          id,
		Title:       "Event " + strconv.Itoa(id),
		Date:        start.Format(dateLayout),
		Subscribers: subscribers,
	}
}

// panicBus panics when an event matching hit is published.
type panicBus struct {
	eventbus.Bus
	hit func(e eventbus.Event) bool
}

func (b panicBus) Publish(e eventbus.Event) {
	if b.hit(e) {
		panic("subscriber exploded")
	}
	b.Bus.Publish(e)
}
