package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON document
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Event is a campus event. Date keeps the stored ISO-8601 text; it carries
// no offset in practice and is interpreted in the configured location.
type Event struct {
	ID          int      `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Date        string   `json:"date"`
	Organizer   string   `json:"organizer"`
	CreatedAt   string   `json:"created_at"`
	Subscribers []string `json:"subscribers"`
}

// NewEvent is the input of AddEvent.
type NewEvent struct {
	Title       string
	Description string
	Date        string
	Organizer   string
}

type User struct {
	ID                   string
	Username             string
	FullName             string
	RegisteredAt         string
	SubscribedEvents     []int
	NotificationsEnabled bool
}

// IsoLayout is the timestamp layout written for dates, created_at and
// registered_at.
const IsoLayout = "2006-01-02T15:04:05.000000"

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDate parses the ISO-8601 forms accepted for event dates. Values
// without an offset are taken in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// Start parses the event start time.
func (e Event) Start(loc *time.Location) (time.Time, error) {
	t, err := ParseDate(e.Date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("event %d: %w", e.ID, err)
	}
	return t, nil
}

// HasSubscriber reports whether userID is in the subscriber list.
func (e Event) HasSubscriber(userID string) bool {
	for _, s := range e.Subscribers {
		if s == userID {
			return true
		}
	}
	return false
}

func nowISO() string { return time.Now().Format(IsoLayout) }
