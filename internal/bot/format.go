package bot

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"eventbot/internal/storage"
)

const (
	dayLayout     = "02.01.2006"
	dayTimeLayout = "02.01.2006 15:04"
	timeLayout    = "15:04"
	undated       = "No date"
)

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// formatEvent renders the event card shown by /event <id> and /my_events.
func formatEvent(ev storage.Event) string {
	return fmt.Sprintf("📅 %s\n📝 %s\n🗓 Date: %s\n👤 Organizer: %s\n🆔 ID: %d",
		ev.Title,
		orDefault(ev.Description, "No description"),
		ev.Date,
		orDefault(ev.Organizer, "Not specified"),
		ev.ID,
	)
}

func displayDate(ev storage.Event, loc *time.Location) string {
	t, err := storage.ParseDate(ev.Date, loc)
	if err != nil {
		return ev.Date
	}
	return t.Format(dayTimeLayout)
}

// formatEventList renders the numbered list used by /event and /subscribe.
func formatEventList(header string, evs []storage.Event, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(header + "\n\n")
	for _, ev := range evs {
		b.WriteString(strconv.Itoa(ev.ID) + ". " + ev.Title + "\n")
		b.WriteString("   📅 " + displayDate(ev, loc) + "\n")
		b.WriteString("   👤 " + orDefault(ev.Organizer, "Not specified") + "\n\n")
	}
	return b.String()
}

type calendarDay struct {
	key    string
	day    time.Time
	events []storage.Event
}

// formatCalendar groups events by day. Days are sorted; events whose date
// does not parse are listed last under "No date".
func formatCalendar(evs []storage.Event, loc *time.Location) string {
	days := map[string]*calendarDay{}
	var noDate []storage.Event
	for _, ev := range evs {
		t, err := storage.ParseDate(ev.Date, loc)
		if err != nil {
			noDate = append(noDate, ev)
			continue
		}
		key := t.Format(dayLayout)
		d := days[key]
		if d == nil {
			y, m, dd := t.Date()
			d = &calendarDay{key: key, day: time.Date(y, m, dd, 0, 0, 0, 0, loc)}
			days[key] = d
		}
		d.events = append(d.events, ev)
	}

	ordered := make([]*calendarDay, 0, len(days))
	for _, d := range days {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].day.Before(ordered[j].day) })

	var b strings.Builder
	b.WriteString("📅 Campus events calendar:\n\n")
	for _, d := range ordered {
		b.WriteString("🗓 " + d.key + ":\n")
		for _, ev := range d.events {
			t, _ := storage.ParseDate(ev.Date, loc)
			fmt.Fprintf(&b, "  ⏰ %s - %s (#%d)\n", t.Format(timeLayout), ev.Title, ev.ID)
		}
		b.WriteString("\n")
	}
	if len(noDate) > 0 {
		b.WriteString("🗓 " + undated + ":\n")
		for _, ev := range noDate {
			fmt.Fprintf(&b, "  📌 %s (#%d)\n", ev.Title, ev.ID)
		}
		b.WriteString("\n")
	}
	b.WriteString("To subscribe: /subscribe <id>\n")
	b.WriteString("Details: /event <id>")
	return b.String()
}
