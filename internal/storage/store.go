package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "eventbot/pkg/logx"
)

// Store is the persistence API used by the command handlers and the
// reminder engine.
type Store interface {
	ListEvents(ctx context.Context) ([]Event, error)
	// GetEvent returns ErrNotFound when id is out of range.
	GetEvent(ctx context.Context, id int) (Event, error)
	// AddEvent assigns the next sequential id (the current event count).
	AddEvent(ctx context.Context, e NewEvent) (int, error)

	// RegisterUser returns false when the user already exists.
	RegisterUser(ctx context.Context, id, username, fullName string) (bool, error)
	GetUser(ctx context.Context, id string) (User, bool, error)
	SetNotifications(ctx context.Context, id string, enabled bool) error
	// UserEvents returns the user's events in subscription order.
	UserEvents(ctx context.Context, userID string) ([]Event, error)

	// Subscribe and Unsubscribe keep the event's subscriber list and the
	// user's subscription list in sync. Both are idempotent and return
	// ErrNotFound for an unknown event.
	Subscribe(ctx context.Context, userID string, eventID int) error
	Unsubscribe(ctx context.Context, userID string, eventID int) error

	// PutSent and SentKeys persist the reminder ledger.
	PutSent(ctx context.Context, key string, at time.Time) error
	SentKeys(ctx context.Context) ([]string, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file", "json":
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = ResolvePath()
		}
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("storage.path is required for sqlite driver")
		}
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// ResolvePath picks the JSON database location when none is configured:
// $DATABASE_FILE, else a legacy ./database.json if present, else
// $DATABASE_DIR/database.json with DATABASE_DIR defaulting to "data".
func ResolvePath() string {
	if f := strings.TrimSpace(os.Getenv("DATABASE_FILE")); f != "" {
		return filepath.Clean(f)
	}
	if _, err := os.Stat("database.json"); err == nil {
		return "database.json"
	}
	dir := strings.TrimSpace(os.Getenv("DATABASE_DIR"))
	if dir == "" {
		dir = "data"
	}
	return filepath.Join(dir, "database.json")
}
