package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	kit "eventbot/internal/transport"
	logx "eventbot/pkg/logx"
)

type recAdapter struct {
	mu   sync.Mutex
	sent []string
	menu []kit.BotCommand
}

func (a *recAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *recAdapter) Stop(ctx context.Context) error                         { return nil }
func (a *recAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.sent = append(a.sent, text)
	a.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID}, nil
}
func (a *recAdapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	a.menu = cmds
	a.mu.Unlock()
	return nil
}

func (a *recAdapter) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: text}}
}

// runJobs drains queued jobs synchronously.
func runJobs(m *CommandManager) {
	for {
		select {
		case job := <-m.jobs:
			job()
		default:
			return
		}
	}
}

func TestRouteResolvesAliasesAndArgs(t *testing.T) {
	t.Parallel()
	ad := &recAdapter{}
	m := NewCommandManager(logx.Nop(), ad, Options{})
	var got []string
	m.SetRegistry([]Command{{
		Name:    "subscribe",
		Aliases: []string{"sub"},
		Handle: func(ctx context.Context, req *Request) error {
			got = append(got, req.Command+":"+strings.Join(req.Args, ","))
			return nil
		},
	}})

	m.Route(context.Background(), msg(1, "/subscribe 3"))
	m.Route(context.Background(), msg(1, "/sub@campus_bot 4"))
	runJobs(m)

	if len(got) != 2 || got[0] != "subscribe:3" || got[1] != "subscribe:4" {
		t.Fatalf("got %v", got)
	}
}

func TestRouteUnknownCommand(t *testing.T) {
	t.Parallel()
	ad := &recAdapter{}
	m := NewCommandManager(logx.Nop(), ad, Options{UnknownText: "unknown, see /help"})
	m.SetRegistry(nil)
	m.Route(context.Background(), msg(1, "/nope"))
	if txt := ad.texts(); len(txt) != 1 || txt[0] != "unknown, see /help" {
		t.Fatalf("sent %v", txt)
	}
}

func TestRouteOwnerOnly(t *testing.T) {
	t.Parallel()
	ad := &recAdapter{}
	m := NewCommandManager(logx.Nop(), ad, Options{Owners: []int64{9}})
	calls := 0
	m.SetRegistry([]Command{{Name: "status", Access: AccessOwnerOnly, Handle: func(ctx context.Context, req *Request) error {
		calls++
		return nil
	}}})

	m.Route(context.Background(), msg(1, "/status"))
	m.Route(context.Background(), msg(9, "/status"))
	runJobs(m)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if len(ad.texts()) != 1 {
		t.Fatalf("expected one denial, got %v", ad.texts())
	}
}

func TestRouteTextHandler(t *testing.T) {
	t.Parallel()
	ad := &recAdapter{}
	m := NewCommandManager(logx.Nop(), ad, Options{})
	m.SetRegistry(nil)
	var seen string
	m.SetTextHandler(func(ctx context.Context, req *Request) error {
		seen = req.Text
		return nil
	})
	m.Route(context.Background(), msg(1, "  subscribe "))
	runJobs(m)
	if seen != "subscribe" {
		t.Fatalf("text = %q", seen)
	}
}

func TestHelpListsVisibleCommands(t *testing.T) {
	t.Parallel()
	m := NewCommandManager(logx.Nop(), &recAdapter{}, Options{})
	noop := func(ctx context.Context, req *Request) error { return nil }
	m.SetRegistry([]Command{
		{Name: "event", Usage: "/event [id]", Description: "list events", Handle: noop},
		{Name: "secret", Hidden: true, Handle: noop},
		{Name: "status", Access: AccessOwnerOnly, Handle: noop},
	})
	help := m.HelpText(false)
	if !strings.Contains(help, "/event [id] - list events") || !strings.Contains(help, "/help") {
		t.Fatalf("help = %q", help)
	}
	if strings.Contains(help, "secret") || strings.Contains(help, "status") {
		t.Fatalf("help leaks hidden commands: %q", help)
	}
	if !strings.Contains(m.HelpText(true), "/status 🔒") {
		t.Fatal("owner help misses owner command")
	}
}

func TestDispatchLoopRunsHandlers(t *testing.T) {
	t.Parallel()
	ad := &recAdapter{}
	m := NewCommandManager(logx.Nop(), ad, Options{Workers: 2})
	done := make(chan string, 1)
	m.SetRegistry([]Command{
		{Name: "ping", Description: "pong", Handle: func(ctx context.Context, req *Request) error {
			done <- req.ReqID
			return nil
		}},
		{Name: "boom", Handle: func(ctx context.Context, req *Request) error { panic("boom") }},
		{Name: "fail", Handle: func(ctx context.Context, req *Request) error { return errors.New("fail") }},
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 4)
	errc := make(chan error, 1)
	go func() { errc <- m.DispatchLoop(ctx, updates) }()

	updates <- msg(1, "/boom")
	updates <- msg(1, "/fail")
	updates <- msg(1, "/ping")
	select {
	case rid := <-done:
		if rid == "" {
			t.Fatal("request id missing")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("DispatchLoop: %v", err)
	}
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()
	noop := func(ctx context.Context, req *Request) error { return nil }
	got := menuCommands([]Command{
		{Name: "my-events", Description: "your events", Handle: noop},
		{Name: "status", Access: AccessOwnerOnly, Handle: noop},
		{Name: "calendar", Handle: noop},
	})
	if len(got) != 2 || got[0].Command != "my_events" || got[1].Description != "calendar" {
		t.Fatalf("menu = %+v", got)
	}
}

func TestTimeoutTellsUser(t *testing.T) {
	t.Parallel()
	ad := &recAdapter{}
	h := Chain(func(ctx context.Context, req *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, Timeout(10*time.Millisecond))
	if err := h(context.Background(), &Request{Adapter: ad}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if got := ad.texts(); len(got) != 1 || got[0] != msgHandlerSlow {
		t.Fatalf("replies = %q", got)
	}
}

func TestRecoverRepliesAndReturnsError(t *testing.T) {
	t.Parallel()
	ad := &recAdapter{}
	h := Chain(func(ctx context.Context, req *Request) error {
		panic("nil store")
	}, Recover(logx.Nop()), Log(logx.Nop()))
	err := h(context.Background(), &Request{Adapter: ad, Command: "event", Args: []string{"3"}})
	if err == nil || !strings.Contains(err.Error(), "nil store") {
		t.Fatalf("err = %v", err)
	}
	if got := ad.texts(); len(got) != 1 || got[0] != msgHandlerFailed {
		t.Fatalf("replies = %q", got)
	}
}

func TestLogRecordsCommandAndEventID(t *testing.T) {
	t.Parallel()
	var buf safeBuffer
	h := Chain(func(ctx context.Context, req *Request) error {
		return errors.New("store closed")
	}, Log(logx.NewWriter(&buf, "debug")))
	_ = h(context.Background(), &Request{Command: "subscribe", Args: []string{"#7"}})

	out := buf.String()
	for _, want := range []string{`"command":"subscribe"`, `"event_id":7`, `"message":"command failed"`, `"err":"store closed"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log %q missing %s", out, want)
		}
	}
}

func TestParseCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		name string
		bot  string
		args []string
		ok   bool
	}{
		{in: "/event 3", name: "event", args: []string{"3"}, ok: true},
		{in: "/Event@campus_bot  «3»", name: "event", bot: "campus_bot", args: []string{"3"}, ok: true},
		{in: `/subscribe "4",`, name: "subscribe", args: []string{"4"}, ok: true},
		{in: "/my_events", name: "my_events", ok: true},
		{in: "/ 3", ok: false},
		{in: "subscribe 3", ok: false},
		{in: "   ", ok: false},
	}
	for _, tt := range tests {
		cl, ok := parseCommandLine(tt.in)
		if ok != tt.ok {
			t.Fatalf("%q: ok = %v", tt.in, ok)
		}
		if !ok {
			continue
		}
		if cl.Name != tt.name || cl.Bot != tt.bot || strings.Join(cl.Args, "|") != strings.Join(tt.args, "|") {
			t.Fatalf("%q: got %+v", tt.in, cl)
		}
	}
}

func TestEventID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		args []string
		id   int
		ok   bool
	}{
		{args: []string{"3"}, id: 3, ok: true},
		{args: []string{"#12", "extra"}, id: 12, ok: true},
		{args: []string{"-1"}},
		{args: []string{"three"}},
		{args: nil},
	}
	for _, tt := range tests {
		id, ok := EventID(tt.args)
		if id != tt.id || ok != tt.ok {
			t.Fatalf("%v: got %d,%v", tt.args, id, ok)
		}
	}
}

type safeBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}
