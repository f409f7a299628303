package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "eventbot/internal/runtime/supervisor"
	kit "eventbot/internal/transport"
	logx "eventbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Hidden commands are routable but left out of /help and the menu.
	Hidden  bool
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	FromName     string
	Command      string
	Args         []string
	Text         string
	ReqID        string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// Options tune a CommandManager. Zero values pick defaults.
type Options struct {
	Owners         []int64
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	UnknownText    string
	BusyText       string
	DeniedText     string
}

type CommandManager struct {
	mu       sync.RWMutex
	byName   map[string]*Command
	ordered  []Command
	text     HandlerFunc
	owners   []int64
	timeout  time.Duration
	unknown  string
	busy     string
	denied   string
	workers  int
	log      logx.Logger
	adapter  kit.Adapter
	runMu    sync.Mutex
	running  bool
	sup      *rtsup.Supervisor
	jobs     chan func()
	menuSync func(ctx context.Context)
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := opt.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 2)
	}
	queue := opt.QueueSize
	if queue <= 0 {
		queue = 256
	}
	timeout := opt.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	m := &CommandManager{
		byName:  map[string]*Command{},
		owners:  append([]int64(nil), opt.Owners...),
		timeout: timeout,
		unknown: firstNonEmpty(opt.UnknownText, "Unknown command. Try /help"),
		busy:    firstNonEmpty(opt.BusyText, "Busy, try again in a moment."),
		denied:  firstNonEmpty(opt.DeniedText, "This command is not available to you."),
		workers: workers,
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		jobs:    make(chan func(), queue),
	}
	return m
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// Supervisor returns the dispatcher's supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	ownCopy := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = ownCopy
	m.mu.Unlock()
}

func (m *CommandManager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

// SetTextHandler installs the handler for messages that are not commands.
func (m *CommandManager) SetTextHandler(h HandlerFunc) {
	m.mu.Lock()
	m.text = h
	m.mu.Unlock()
}

// SetRegistry replaces the command table. A /help command is always added
// unless cmds already defines one.
func (m *CommandManager) SetRegistry(cmds []Command) {
	byName := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds)+1)

	hasHelp := false
	for _, c := range cmds {
		if normalizeName(c.Name) == "help" {
			hasHelp = true
		}
	}
	if !hasHelp {
		cmds = append(cmds, Command{
			Name:        "help",
			Description: "show available commands",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, m.HelpText(m.isOwner(req.FromID)))
			},
		})
	}

	for _, c := range cmds {
		name := normalizeName(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		ordered = append(ordered, cc)
	}
	for i := range ordered {
		c := &ordered[i]
		byName[c.Name] = c
		for _, a := range c.Aliases {
			if a = normalizeName(a); a != "" {
				if _, exists := byName[a]; !exists {
					byName[a] = c
				}
			}
		}
	}

	var menuSync func(ctx context.Context)
	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := menuCommands(ordered)
		menuSync = func(ctx context.Context) {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}
	}

	m.mu.Lock()
	m.byName = byName
	m.ordered = ordered
	m.menuSync = menuSync
	m.mu.Unlock()

	// Publish right away when the dispatcher is already running.
	if sup := m.Supervisor(); sup != nil && menuSync != nil {
		sup.Go0("telegram.menu.update", menuSync)
	}
}

// Commands returns the registered commands in registration order.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Command, len(m.ordered))
	copy(out, m.ordered)
	return out
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/"))
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	m.mu.RLock()
	menuSync := m.menuSync
	m.mu.RUnlock()
	if menuSync != nil {
		sup.Go0("telegram.menu.update", menuSync)
	}

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		m.setSupervisor(sup, false)
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.Route(ctx, up)
		}
	}
}

// Route resolves one update and queues its handler.
func (m *CommandManager) Route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	if !strings.HasPrefix(text, "/") {
		m.mu.RLock()
		h := m.text
		m.mu.RUnlock()
		if h != nil {
			m.enqueue(ctx, up, Command{Name: "text", Handle: h}, nil)
		}
		return
	}

	cl, ok := parseCommandLine(text)
	if !ok {
		return
	}

	m.mu.RLock()
	cmd := m.byName[cl.Name]
	m.mu.RUnlock()
	if cmd == nil {
		_, _ = m.adapter.SendText(ctx, chat, m.unknown, nil)
		return
	}
	if cmd.Access == AccessOwnerOnly && !m.isOwner(msg.FromID) {
		_, _ = m.adapter.SendText(ctx, chat, m.denied, nil)
		return
	}
	m.enqueue(ctx, up, *cmd, cl.Args)
}

func (m *CommandManager) enqueue(ctx context.Context, up kit.Update, cmd Command, args []string) {
	msg := up.Message
	rid := uuid.NewString()
	req := &Request{
		Update:       up,
		Chat:         kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		FromName:     msg.FromName,
		Command:      cmd.Name,
		Args:         args,
		Text:         strings.TrimSpace(msg.Text),
		ReqID:        rid,
		Adapter:      m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("command", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.timeout
	}
	final := Chain(
		cmd.Handle,
		Recover(m.log),
		Log(m.log),
		Timeout(timeout),
	)

	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, req.Chat, m.busy, nil)
	}
}
