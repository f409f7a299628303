package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eventbot/internal/config"
	"eventbot/internal/storage"
	kit "eventbot/internal/transport"
	logx "eventbot/pkg/logx"
)

type sent struct {
	chat int64
	text string
}

type stubAdapter struct {
	mu   sync.Mutex
	out  chan<- kit.Update
	sent []sent
}

func (s *stubAdapter) Start(_ context.Context, out chan<- kit.Update) error {
	s.mu.Lock()
	s.out = out
	s.mu.Unlock()
	return nil
}

func (s *stubAdapter) Stop(context.Context) error { return nil }

func (s *stubAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{chat: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (s *stubAdapter) push(up kit.Update) {
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()
	out <- up
}

func (s *stubAdapter) texts(chat int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.sent {
		if m.chat == chat {
			out = append(out, m.text)
		}
	}
	return out
}

func writeConfig(t *testing.T, dir string, mutate func(*config.Config)) string {
	t.Helper()
	cfg := config.Default()
	cfg.Telegram.Token = "test-token"
	cfg.Logging.Level = "error"
	cfg.Logging.File.Enabled = false
	cfg.Reminders.Timezone = "UTC"
	cfg.Reminders.SendDelay = "1ms"
	cfg.Storage.Path = filepath.Join(dir, "database.json")
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "config.yaml")
	b, err := config.Encode(path, cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func seedSubscribedEvent(t *testing.T, dbPath string, userID string, startsIn time.Duration) {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: dbPath}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	id, err := st.AddEvent(ctx, storage.NewEvent{
		Title:     "Hackathon",
		Date:      time.Now().UTC().Add(startsIn).Format(storage.IsoLayout),
		Organizer: "CS club",
	})
	require.NoError(t, err)
	_, err = st.RegisterUser(ctx, userID, "ada", "Ada L")
	require.NoError(t, err)
	require.NoError(t, st.Subscribe(ctx, userID, id))
}

func TestAppDeliversReminderAndServesCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, func(c *config.Config) { c.Reminders.PersistLedger = true })
	seedSubscribedEvent(t, filepath.Join(dir, "database.json"), "42", time.Hour)

	ad := &stubAdapter{}
	a, err := New(cfgPath, WithAdapter(ad), WithVersion("test"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool { return len(ad.texts(42)) > 0 }, 5*time.Second, 20*time.Millisecond)
	reminderText := ad.texts(42)[0]
	require.Contains(t, reminderText, "Hackathon")
	require.Contains(t, reminderText, "in 1 hour")

	ad.push(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: 42, FromID: 42, FromUsername: "ada", Text: "/my_events",
	}})
	require.Eventually(t, func() bool {
		for _, txt := range ad.texts(42) {
			if txt != reminderText && strings.Contains(txt, "Hackathon") {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))

	journal, err := os.ReadFile(filepath.Join(dir, "database.ledger.jsonl"))
	require.NoError(t, err)
	require.Contains(t, string(journal), `"0_1hour"`)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, func(c *config.Config) {
		c.Reminders.Tiers = []config.TierConfig{
			{Name: "a", Min: "1h", Max: "3h"},
			{Name: "b", Min: "2h", Max: "4h"},
		}
	})
	_, err := New(cfgPath, WithAdapter(&stubAdapter{}))
	require.ErrorContains(t, err, "overlap")
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	dir := t.TempDir()
	a, err := New(writeConfig(t, dir, nil), WithAdapter(&stubAdapter{}))
	require.NoError(t, err)
	require.NoError(t, a.Stop(context.Background(), StopUnknown))
	require.NoError(t, a.store.Close())
}
