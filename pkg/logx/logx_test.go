package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	kit "eventbot/internal/transport"
)

func TestNewWriterEmitsFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3), Err(errors.New("boom")), Strings("tags", []string{"a", "b"}))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not json: %v (%q)", err, buf.String())
	}
	if rec["message"] != "hello" || rec["comp"] != "test" || rec["n"] != float64(3) || rec["err"] != "boom" {
		t.Fatalf("record=%v", rec)
	}
}

func TestLevelFilter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn: %q", buf.String())
	}
	if log.Enabled(LevelInfo) {
		t.Fatalf("Enabled(info) at warn level")
	}
	log.Warn("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Fatalf("warn missing: %q", buf.String())
	}
}

func TestNopIsSilentAndNotZero(t *testing.T) {
	t.Parallel()
	n := Nop()
	if n.IsZero() {
		t.Fatalf("Nop should not report IsZero")
	}
	n.Error("ignored")
	var zero Logger
	if !zero.IsZero() {
		t.Fatalf("zero Logger should report IsZero")
	}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()
	line := `{"level":"warn","time":"2026-01-01T00:00:00Z","message":"send failed","user":"42","event":7}`
	got := formatAlert([]byte(line))
	want := "[WARN] send failed\n- event=7\n- user=42"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	if got := formatAlert([]byte("  not json  ")); got != "not json" {
		t.Fatalf("non-json passthrough=%q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("abcdefghijklmnop", 12); got != "abcdefghi..." {
		t.Fatalf("got %q", got)
	}
	if got := truncate("short", 12); got != "short" {
		t.Fatalf("got %q", got)
	}
}

type captureSender struct {
	mu   sync.Mutex
	msgs []string
	to   []kit.ChatTarget
}

func (c *captureSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, text)
	c.to = append(c.to, to)
	return kit.MessageRef{}, nil
}

func (c *captureSender) snapshot() ([]string, []kit.ChatTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...), append([]kit.ChatTarget(nil), c.to...)
}

func TestServiceRoutesWarningsToAlertChat(t *testing.T) {
	t.Parallel()
	sender := &captureSender{}
	svc, log := New(Config{
		Level: "debug",
		Telegram: TelegramConfig{
			Enabled:    true,
			ChatID:     -100,
			ThreadID:   7,
			MinLevel:   "warn",
			RatePerSec: 50,
		},
	}, sender)
	defer svc.Close()

	log.Info("routine")
	log.Warn("disk almost full", String("path", "/data"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, to := sender.snapshot()
		if len(msgs) == 1 {
			if !strings.HasPrefix(msgs[0], "[WARN] disk almost full") || !strings.Contains(msgs[0], "path=/data") {
				t.Fatalf("alert=%q", msgs[0])
			}
			if to[0] != (kit.ChatTarget{ChatID: -100, ThreadID: 7}) {
				t.Fatalf("target=%+v", to[0])
			}
			break
		}
		if len(msgs) > 1 {
			t.Fatalf("info leaked to alerts: %q", msgs)
		}
		if time.Now().After(deadline) {
			t.Fatalf("alert never delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServiceWithoutAlertChatDropsAlerts(t *testing.T) {
	t.Parallel()
	sender := &captureSender{}
	svc, log := New(Config{Level: "info", Telegram: TelegramConfig{Enabled: true}}, sender)
	log.Error("nobody listens")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if msgs, _ := sender.snapshot(); len(msgs) != 0 {
		t.Fatalf("unexpected alerts %q", msgs)
	}
}
