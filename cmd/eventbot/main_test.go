package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eventbot/internal/config"
	"eventbot/internal/storage"
	logx "eventbot/pkg/logx"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func writeTestConfig(t *testing.T, dir string, mutate ...func(*config.Config)) string {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "data", "database.json")
	for _, fn := range mutate {
		fn(cfg)
	}
	path := filepath.Join(dir, "config.yaml")
	b, err := config.Encode(path, cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestSetupSeedAndList(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	out := execute(t, "setup", "--config", cfgPath)
	require.Contains(t, out, "created")
	require.FileExists(t, filepath.Join(dir, "data", "database.json"))

	out = execute(t, "setup", "--config", cfgPath)
	require.Contains(t, out, "already exists")

	out = execute(t, "seed", "--config", cfgPath)
	require.Contains(t, out, "5 events in the database")

	out = execute(t, "event", "add", "--config", cfgPath,
		"--title", "Open day", "--date", "2030-05-01T10:00:00", "--organizer", "Admissions")
	require.Contains(t, out, "(ID: 5)")

	out = execute(t, "event", "list", "--config", cfgPath)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 7)
	require.Contains(t, lines[6], "Open day")
	require.Contains(t, lines[6], "2030-05-01T10:00:00.000000")
}

func TestEventAddRejectsBadDate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"event", "add", "--config", cfgPath, "--title", "x", "--date", "next tuesday"})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "--date")
}

func TestSetupWritesDefaultConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	var out bytes.Buffer
	require.NoError(t, setupFileStore(&out, filepath.Join(dir, "data", "database.json")))
	require.NoError(t, writeDefaultConfig(&out, cfgPath))

	cfg, err := config.NewConfigManager(cfgPath).Parse()
	require.NoError(t, err)
	require.Equal(t, "file", cfg.Storage.Driver)
	require.Contains(t, out.String(), config.TokenEnv)
}

func TestEventDatesUseReminderTimezone(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, func(c *config.Config) { c.Reminders.Timezone = "Asia/Tokyo" })
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	execute(t, "setup", "--config", cfgPath)
	execute(t, "event", "add", "--config", cfgPath,
		"--title", "Offset", "--date", "2030-05-01T10:00:00Z")
	execute(t, "event", "add", "--config", cfgPath,
		"--title", "Wall clock", "--date", "2030-05-01T10:00:00")
	before := time.Now()
	execute(t, "seed", "--config", cfgPath)

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "data", "database.json")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	evs, err := st.ListEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 7)

	require.Equal(t, "2030-05-01T19:00:00.000000", evs[0].Date)
	require.Equal(t, "2030-05-01T10:00:00.000000", evs[1].Date)

	// The first sample event starts a day after seeding, read in the same zone.
	start, err := storage.ParseDate(evs[2].Date, tokyo)
	require.NoError(t, err)
	require.WithinDuration(t, before.Add(24*time.Hour), start, time.Minute)
}
