package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "eventbot/pkg/logx"
)

// fileStore keeps the whole database in one JSON document.
//
// Files:
//   - <path>                 the document, replaced via temp file + rename
//   - <prefix>.ledger.jsonl  append-only reminder ledger journal
//
// Other processes (the CLI) may rewrite the document while the bot runs;
// every operation re-reads it when its size or mtime changed.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.RWMutex
	doc    document
	stamp  fileStamp
	closed bool

	ledgerPath string
	ledger     *os.File
}

type document struct {
	Users  map[string]*fileUser `json:"users"`
	Events []*Event             `json:"events"`
}

type fileUser struct {
	Username             *string `json:"username"`
	FullName             *string `json:"full_name"`
	RegisteredAt         string  `json:"registered_at"`
	SubscribedEvents     []int   `json:"subscribed_events"`
	NotificationsEnabled *bool   `json:"notifications_enabled,omitempty"`
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

type ledgerRecord struct {
	Key string    `json:"key"`
	At  time.Time `json:"at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := filepath.Clean(strings.TrimSpace(cfg.Path))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &fileStore{log: log, path: path, doc: emptyDocument()}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeDocument(path, s.doc); err != nil {
			return nil, err
		}
	}
	if err := s.refreshLocked(); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	s.ledgerPath = filepath.Join(filepath.Dir(path), base+".ledger.jsonl")
	lf, err := os.OpenFile(s.ledgerPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.ledger = lf
	return s, nil
}

// InitFile creates an empty database document at path unless one exists.
// It reports whether a new file was written.
func InitFile(path string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	return true, writeDocument(path, emptyDocument())
}

func emptyDocument() document {
	return document{Users: map[string]*fileUser{}, Events: []*Event{}}
}

func writeDocument(path string, doc document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// refreshLocked reloads the document when the file changed on disk.
// Caller holds mu for writing.
func (s *fileStore) refreshLocked() error {
	fi, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	st := fileStamp{size: fi.Size(), modTime: fi.ModTime()}
	if st == s.stamp {
		return nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	doc := emptyDocument()
	if len(bytes.TrimSpace(b)) > 0 {
		if err := json.Unmarshal(b, &doc); err != nil {
			return fmt.Errorf("decode %s: %w", s.path, err)
		}
	}
	if doc.Users == nil {
		doc.Users = map[string]*fileUser{}
	}
	s.doc = doc
	s.stamp = st
	return nil
}

// read runs fn against a fresh, consistent view of the document.
func (s *fileStore) read(fn func(doc *document) error) error {
	s.mu.RLock()
	fresh := !s.closed && s.isFresh()
	if fresh {
		defer s.mu.RUnlock()
		return fn(&s.doc)
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.refreshLocked(); err != nil {
		return err
	}
	return fn(&s.doc)
}

func (s *fileStore) isFresh() bool {
	fi, err := os.Stat(s.path)
	if err != nil {
		return false
	}
	return fileStamp{size: fi.Size(), modTime: fi.ModTime()} == s.stamp
}

// write applies fn and persists the document when fn reports a change.
func (s *fileStore) write(fn func(doc *document) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.refreshLocked(); err != nil {
		return err
	}
	changed, err := fn(&s.doc)
	if err != nil || !changed {
		return err
	}
	if err := writeDocument(s.path, s.doc); err != nil {
		return err
	}
	if fi, err := os.Stat(s.path); err == nil {
		s.stamp = fileStamp{size: fi.Size(), modTime: fi.ModTime()}
	}
	return nil
}

func cloneEvent(e *Event) Event {
	cp := *e
	cp.Subscribers = append([]string(nil), e.Subscribers...)
	return cp
}

func (s *fileStore) ListEvents(ctx context.Context) ([]Event, error) {
	var out []Event
	err := s.read(func(doc *document) error {
		out = make([]Event, 0, len(doc.Events))
		for _, e := range doc.Events {
			if e != nil {
				out = append(out, cloneEvent(e))
			}
		}
		return nil
	})
	return out, err
}

func (s *fileStore) GetEvent(ctx context.Context, id int) (Event, error) {
	var out Event
	err := s.read(func(doc *document) error {
		if id < 0 || id >= len(doc.Events) || doc.Events[id] == nil {
			return ErrNotFound
		}
		out = cloneEvent(doc.Events[id])
		return nil
	})
	return out, err
}

func (s *fileStore) AddEvent(ctx context.Context, ne NewEvent) (int, error) {
	id := -1
	err := s.write(func(doc *document) (bool, error) {
		id = len(doc.Events)
		doc.Events = append(doc.Events, &Event{
			ID:          id,
			Title:       ne.Title,
			Description: ne.Description,
			Date:        ne.Date,
			Organizer:   ne.Organizer,
			CreatedAt:   nowISO(),
			Subscribers: []string{},
		})
		return true, nil
	})
	return id, err
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *fileStore) RegisterUser(ctx context.Context, id, username, fullName string) (bool, error) {
	created := false
	err := s.write(func(doc *document) (bool, error) {
		if _, ok := doc.Users[id]; ok {
			return false, nil
		}
		enabled := true
		doc.Users[id] = &fileUser{
			Username:             strPtr(username),
			FullName:             strPtr(fullName),
			RegisteredAt:         nowISO(),
			SubscribedEvents:     []int{},
			NotificationsEnabled: &enabled,
		}
		created = true
		return true, nil
	})
	return created, err
}

func (u *fileUser) toUser(id string) User {
	out := User{
		ID:                   id,
		RegisteredAt:         u.RegisteredAt,
		SubscribedEvents:     append([]int(nil), u.SubscribedEvents...),
		NotificationsEnabled: u.NotificationsEnabled == nil || *u.NotificationsEnabled,
	}
	if u.Username != nil {
		out.Username = *u.Username
	}
	if u.FullName != nil {
		out.FullName = *u.FullName
	}
	return out
}

func (s *fileStore) GetUser(ctx context.Context, id string) (User, bool, error) {
	var (
		out User
		ok  bool
	)
	err := s.read(func(doc *document) error {
		u := doc.Users[id]
		if u == nil {
			return nil
		}
		out, ok = u.toUser(id), true
		return nil
	})
	return out, ok, err
}

func (s *fileStore) SetNotifications(ctx context.Context, id string, enabled bool) error {
	return s.write(func(doc *document) (bool, error) {
		u := doc.Users[id]
		if u == nil {
			return false, ErrNotFound
		}
		if u.NotificationsEnabled != nil && *u.NotificationsEnabled == enabled {
			return false, nil
		}
		u.NotificationsEnabled = &enabled
		return true, nil
	})
}

func (s *fileStore) UserEvents(ctx context.Context, userID string) ([]Event, error) {
	var out []Event
	err := s.read(func(doc *document) error {
		u := doc.Users[userID]
		if u == nil {
			return nil
		}
		for _, id := range u.SubscribedEvents {
			if id >= 0 && id < len(doc.Events) && doc.Events[id] != nil {
				out = append(out, cloneEvent(doc.Events[id]))
			}
		}
		return nil
	})
	return out, err
}

func (s *fileStore) Subscribe(ctx context.Context, userID string, eventID int) error {
	return s.write(func(doc *document) (bool, error) {
		if eventID < 0 || eventID >= len(doc.Events) || doc.Events[eventID] == nil {
			return false, ErrNotFound
		}
		changed := false
		ev := doc.Events[eventID]
		if !ev.HasSubscriber(userID) {
			ev.Subscribers = append(ev.Subscribers, userID)
			changed = true
		}
		if u := doc.Users[userID]; u != nil && !containsInt(u.SubscribedEvents, eventID) {
			u.SubscribedEvents = append(u.SubscribedEvents, eventID)
			changed = true
		}
		return changed, nil
	})
}

func (s *fileStore) Unsubscribe(ctx context.Context, userID string, eventID int) error {
	return s.write(func(doc *document) (bool, error) {
		if eventID < 0 || eventID >= len(doc.Events) || doc.Events[eventID] == nil {
			return false, ErrNotFound
		}
		changed := false
		ev := doc.Events[eventID]
		if i := indexString(ev.Subscribers, userID); i >= 0 {
			ev.Subscribers = append(ev.Subscribers[:i], ev.Subscribers[i+1:]...)
			changed = true
		}
		if u := doc.Users[userID]; u != nil {
			if i := indexInt(u.SubscribedEvents, eventID); i >= 0 {
				u.SubscribedEvents = append(u.SubscribedEvents[:i], u.SubscribedEvents[i+1:]...)
				changed = true
			}
		}
		return changed, nil
	})
}

func (s *fileStore) PutSent(ctx context.Context, key string, at time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ledger == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.ledger).Encode(ledgerRecord{Key: key, At: at})
}

func (s *fileStore) SentKeys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	path := s.ledgerPath
	s.mu.RUnlock()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := map[string]struct{}{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r ledgerRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			s.log.Debug("skipping malformed ledger line", logx.String("path", path))
			continue
		}
		seen[r.Key] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ledger != nil {
		err := s.ledger.Close()
		s.ledger = nil
		return err
	}
	return nil
}

func containsInt(xs []int, v int) bool { return indexInt(xs, v) >= 0 }

func indexInt(xs []int, v int) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}

func indexString(xs []string, v string) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
