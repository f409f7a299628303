package reminder

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Tier is a lead-time window before an event start. Min and Max are both
// inclusive.
type Tier struct {
	Name  string
	Label string
	Min   time.Duration
	Max   time.Duration
}

func (t Tier) contains(d time.Duration) bool { return d >= t.Min && d <= t.Max }

// DefaultTiers returns the stock windows, longest lead first.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "1day", Label: "in 1 day", Min: 23 * time.Hour, Max: 25 * time.Hour},
		{Name: "1hour", Label: "in 1 hour", Min: 50 * time.Minute, Max: 70 * time.Minute},
		{Name: "15min", Label: "in 15 minutes", Min: 10 * time.Minute, Max: 20 * time.Minute},
	}
}

// Key identifies one fired reminder: "<eventID>_<tierName>".
type Key string

func KeyFor(eventID int, tier string) Key {
	return Key(strconv.Itoa(eventID) + "_" + tier)
}

// Matcher classifies a time-until-start into at most one tier.
type Matcher struct {
	tiers []Tier
}

// NewMatcher validates tiers and orders them longest lead first. Names must
// be unique and windows must not overlap.
func NewMatcher(tiers []Tier) (*Matcher, error) {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	out := make([]Tier, len(tiers))
	copy(out, tiers)

	seen := map[string]struct{}{}
	for i := range out {
		t := &out[i]
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return nil, fmt.Errorf("tier %d: name required", i)
		}
		if strings.Contains(t.Name, "_") {
			return nil, fmt.Errorf("tier %q: name must not contain '_'", t.Name)
		}
		if _, dup := seen[t.Name]; dup {
			return nil, fmt.Errorf("tier %q: duplicate name", t.Name)
		}
		seen[t.Name] = struct{}{}
		if t.Min < 0 || t.Max < t.Min {
			return nil, fmt.Errorf("tier %q: invalid window [%s, %s]", t.Name, t.Min, t.Max)
		}
		if strings.TrimSpace(t.Label) == "" {
			t.Label = "in " + t.Name
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Max > out[j].Max })
	for i := 1; i < len(out); i++ {
		if out[i].Max >= out[i-1].Min {
			return nil, errors.New("tier windows overlap: " + out[i-1].Name + " and " + out[i].Name)
		}
	}
	return &Matcher{tiers: out}, nil
}

// Tiers returns a copy of the ordered tiers.
func (m *Matcher) Tiers() []Tier {
	out := make([]Tier, len(m.tiers))
	copy(out, m.tiers)
	return out
}

// Classify returns the tier whose window contains start-now. Past events
// never match.
func (m *Matcher) Classify(start, now time.Time) (Tier, bool) {
	d := start.Sub(now)
	if d < 0 {
		return Tier{}, false
	}
	for _, t := range m.tiers {
		if t.contains(d) {
			return t, true
		}
	}
	return Tier{}, false
}

var defaultMatcher, _ = NewMatcher(DefaultTiers())

// Classify matches against DefaultTiers.
func Classify(start, now time.Time) (Tier, bool) {
	return defaultMatcher.Classify(start, now)
}
