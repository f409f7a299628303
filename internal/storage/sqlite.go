package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "eventbot/pkg/logx"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newSQLiteStore(db, log), nil
}

func newSQLiteStore(db *sql.DB, log logx.Logger) *sqliteStore {
	return &sqliteStore{db: db, log: log}
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const eventColumns = `id, title, description, date, organizer, created_at`

func scanEvent(sc interface{ Scan(...any) error }) (Event, error) {
	var e Event
	err := sc.Scan(&e.ID, &e.Title, &e.Description, &e.Date, &e.Organizer, &e.CreatedAt)
	return e, err
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// readTx runs fn inside one read-only transaction so multi-statement reads
// see a single snapshot.
func (s *sqliteStore) readTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// attachSubscribers fills Subscribers for every event in evs.
func attachSubscribers(ctx context.Context, q querier, evs []Event) error {
	if len(evs) == 0 {
		return nil
	}
	idx := make(map[int]int, len(evs))
	for i := range evs {
		idx[evs[i].ID] = i
		evs[i].Subscribers = []string{}
	}
	rows, err := q.QueryContext(ctx, `SELECT event_id, user_id FROM subscriptions ORDER BY rowid`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			eid int
			uid string
		)
		if err := rows.Scan(&eid, &uid); err != nil {
			return err
		}
		if i, ok := idx[eid]; ok {
			evs[i].Subscribers = append(evs[i].Subscribers, uid)
		}
	}
	return rows.Err()
}

func scanEvents(ctx context.Context, q querier, query string, args ...any) ([]Event, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	var out []Event
	err := s.readTx(ctx, func(q querier) error {
		evs, err := scanEvents(ctx, q, query, args...)
		if err != nil {
			return err
		}
		if err := attachSubscribers(ctx, q, evs); err != nil {
			return err
		}
		out = evs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqliteStore) ListEvents(ctx context.Context) ([]Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events ORDER BY id`)
}

func (s *sqliteStore) GetEvent(ctx context.Context, id int) (Event, error) {
	var ev Event
	err := s.readTx(ctx, func(q querier) error {
		e, err := scanEvent(q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		evs := []Event{e}
		if err := attachSubscribers(ctx, q, evs); err != nil {
			return err
		}
		ev = evs[0]
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (s *sqliteStore) AddEvent(ctx context.Context, ne NewEvent) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return -1, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&id); err != nil {
		return -1, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events(`+eventColumns+`) VALUES(?,?,?,?,?,?)`,
		id, ne.Title, ne.Description, ne.Date, ne.Organizer, nowISO(),
	); err != nil {
		return -1, err
	}
	if err := tx.Commit(); err != nil {
		return -1, err
	}
	return id, nil
}

func (s *sqliteStore) RegisterUser(ctx context.Context, id, username, fullName string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, username, full_name, registered_at, notifications_enabled)
		 VALUES(?,?,?,?,1) ON CONFLICT(id) DO NOTHING`,
		id, nullStr(username), nullStr(fullName), nowISO(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) GetUser(ctx context.Context, id string) (User, bool, error) {
	var u User
	err := s.readTx(ctx, func(q querier) error {
		var (
			username, fullName sql.NullString
			enabled            int
		)
		err := q.QueryRowContext(ctx,
			`SELECT id, username, full_name, registered_at, notifications_enabled FROM users WHERE id = ?`, id,
		).Scan(&u.ID, &username, &fullName, &u.RegisteredAt, &enabled)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		u.Username = username.String
		u.FullName = fullName.String
		u.NotificationsEnabled = enabled != 0

		rows, err := q.QueryContext(ctx, `SELECT event_id FROM subscriptions WHERE user_id = ? ORDER BY rowid`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		u.SubscribedEvents = []int{}
		for rows.Next() {
			var eid int
			if err := rows.Scan(&eid); err != nil {
				return err
			}
			u.SubscribedEvents = append(u.SubscribedEvents, eid)
		}
		return rows.Err()
	})
	if errors.Is(err, ErrNotFound) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (s *sqliteStore) SetNotifications(ctx context.Context, id string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET notifications_enabled = ? WHERE id = ?`, v, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) UserEvents(ctx context.Context, userID string) ([]Event, error) {
	return s.queryEvents(ctx,
		`SELECT e.id, e.title, e.description, e.date, e.organizer, e.created_at
		   FROM subscriptions s
		   JOIN users u ON u.id = s.user_id
		   JOIN events e ON e.id = s.event_id
		  WHERE s.user_id = ?
		  ORDER BY s.rowid`, userID)
}

func (s *sqliteStore) eventExists(ctx context.Context, id int) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *sqliteStore) Subscribe(ctx context.Context, userID string, eventID int) error {
	if err := s.eventExists(ctx, eventID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(user_id, event_id, subscribed_at) VALUES(?,?,?)
		 ON CONFLICT(user_id, event_id) DO NOTHING`,
		userID, eventID, nowISO(),
	)
	return err
}

func (s *sqliteStore) Unsubscribe(ctx context.Context, userID string, eventID int) error {
	if err := s.eventExists(ctx, eventID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE user_id = ? AND event_id = ?`, userID, eventID)
	return err
}

func (s *sqliteStore) PutSent(ctx context.Context, key string, at time.Time) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_ledger(key, sent_at) VALUES(?,?) ON CONFLICT(key) DO NOTHING`,
		key, at.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) SentKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM reminder_ledger ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
