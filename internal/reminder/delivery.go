package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	kit "eventbot/internal/transport"
	logx "eventbot/pkg/logx"
)

// Strategy is one addressing form for delivering a reminder to a user.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, userID string, text string) error
}

const (
	StrategyChatID       = "chat_id"
	StrategyChatIDString = "chat_id_string"
	StrategyUserID       = "user_id"
	StrategyPlain        = "plain"
	StrategyRawAPI       = "raw_api"
)

// DefaultStrategyOrder is the order strategies are tried in when none is configured.
var DefaultStrategyOrder = []string{
	StrategyChatID,
	StrategyChatIDString,
	StrategyUserID,
	StrategyPlain,
	StrategyRawAPI,
}

// DefaultSendTimeout bounds one delivery attempt when none is configured.
const DefaultSendTimeout = 10 * time.Second

// KnownStrategy reports whether name is a recognised strategy.
func KnownStrategy(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case StrategyChatID, StrategyChatIDString, StrategyUserID, StrategyPlain, StrategyRawAPI:
		return true
	}
	return false
}

func parseUserID(userID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(userID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("user id %q is not numeric", userID)
	}
	return id, nil
}

type chatIDStrategy struct{ a kit.Adapter }

func (chatIDStrategy) Name() string { return StrategyChatID }
func (s chatIDStrategy) Attempt(ctx context.Context, userID, text string) error {
	id, err := parseUserID(userID)
	if err != nil {
		return err
	}
	_, err = s.a.SendText(ctx, kit.ChatTarget{ChatID: id}, text, nil)
	return err
}

type chatIDStringStrategy struct{ s kit.RecipientSender }

func (chatIDStringStrategy) Name() string { return StrategyChatIDString }
func (s chatIDStringStrategy) Attempt(ctx context.Context, userID, text string) error {
	return s.s.SendToRecipient(ctx, userID, text)
}

type userIDStrategy struct{ s kit.UserSender }

func (userIDStrategy) Name() string { return StrategyUserID }
func (s userIDStrategy) Attempt(ctx context.Context, userID, text string) error {
	id, err := parseUserID(userID)
	if err != nil {
		return err
	}
	return s.s.SendToUser(ctx, id, text)
}

type plainStrategy struct{ s kit.PlainSender }

func (plainStrategy) Name() string { return StrategyPlain }
func (s plainStrategy) Attempt(ctx context.Context, userID, text string) error {
	id, err := parseUserID(userID)
	if err != nil {
		return err
	}
	return s.s.SendPlain(ctx, id, text)
}

type rawAPIStrategy struct{ c kit.RawCaller }

func (rawAPIStrategy) Name() string { return StrategyRawAPI }
func (s rawAPIStrategy) Attempt(ctx context.Context, userID, text string) error {
	id, err := parseUserID(userID)
	if err != nil {
		return err
	}
	_, err = s.c.Raw(ctx, "sendMessage", map[string]string{
		"chat_id": strconv.FormatInt(id, 10),
		"text":    text,
	})
	return err
}

// StrategiesFor builds strategies in the given order (DefaultStrategyOrder
// when empty). Forms the adapter does not implement are left out; unknown
// names are an error.
func StrategiesFor(a kit.Adapter, order []string) ([]Strategy, error) {
	if a == nil {
		return nil, errors.New("adapter is nil")
	}
	if len(order) == 0 {
		order = DefaultStrategyOrder
	}
	out := make([]Strategy, 0, len(order))
	seen := map[string]struct{}{}
	for _, raw := range order {
		name := strings.ToLower(strings.TrimSpace(raw))
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		switch name {
		case StrategyChatID:
			out = append(out, chatIDStrategy{a: a})
		case StrategyChatIDString:
			if s, ok := a.(kit.RecipientSender); ok {
				out = append(out, chatIDStringStrategy{s: s})
			}
		case StrategyUserID:
			if s, ok := a.(kit.UserSender); ok {
				out = append(out, userIDStrategy{s: s})
			}
		case StrategyPlain:
			if s, ok := a.(kit.PlainSender); ok {
				out = append(out, plainStrategy{s: s})
			}
		case StrategyRawAPI:
			if c, ok := a.(kit.RawCaller); ok {
				out = append(out, rawAPIStrategy{c: c})
			}
		default:
			return nil, fmt.Errorf("unknown delivery strategy %q", raw)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no delivery strategy available")
	}
	return out, nil
}

// Attempter delivers a text to one user by trying each strategy in order.
type Attempter struct {
	strategies []Strategy
	timeout    time.Duration
	log        logx.Logger
}

// NewAttempter uses DefaultSendTimeout when timeout <= 0.
func NewAttempter(strategies []Strategy, timeout time.Duration, log logx.Logger) *Attempter {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cp := make([]Strategy, len(strategies))
	copy(cp, strategies)
	return &Attempter{strategies: cp, timeout: timeout, log: log}
}

func (a *Attempter) Names() []string {
	out := make([]string, 0, len(a.strategies))
	for _, s := range a.strategies {
		out = append(out, s.Name())
	}
	return out
}

// Send reports whether any strategy succeeded. Attempt failures are logged
// at debug; exhausting every strategy is logged at warn.
func (a *Attempter) Send(ctx context.Context, userID, text string) bool {
	for _, s := range a.strategies {
		err := a.attempt(ctx, s, userID, text)
		if err == nil {
			a.log.Debug("reminder delivered",
				logx.String("user_id", userID),
				logx.String("strategy", s.Name()),
			)
			return true
		}
		a.log.Debug("delivery strategy failed",
			logx.String("user_id", userID),
			logx.String("strategy", s.Name()),
			logx.Err(err),
		)
	}
	a.log.Warn("all delivery strategies failed",
		logx.String("user_id", userID),
		logx.Int("strategies", len(a.strategies)),
	)
	return false
}

// attempt bounds one strategy call. A strategy that ignores ctx is abandoned
// once the timeout fires.
func (a *Attempter) attempt(ctx context.Context, s Strategy, userID, text string) (err error) {
	actx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- s.Attempt(actx, userID, text)
	}()

	select {
	case err = <-done:
		return err
	case <-actx.Done():
		return fmt.Errorf("%s: %w", s.Name(), actx.Err())
	}
}
