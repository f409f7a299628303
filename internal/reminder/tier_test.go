package reminder

import (
	"testing"
	"time"
)

func TestClassifyDefaultWindows(t *testing.T) {
	t.Parallel()
	now := time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		delta time.Duration
		tier  string
	}{
		{25 * time.Hour, "1day"},
		{24*time.Hour + 10*time.Minute, "1day"},
		{23 * time.Hour, "1day"},
		{25*time.Hour + time.Second, ""},
		{22 * time.Hour, ""},
		{70 * time.Minute, "1hour"},
		{50 * time.Minute, "1hour"},
		{49 * time.Minute, ""},
		{20 * time.Minute, "15min"},
		{10 * time.Minute, "15min"},
		{5 * time.Minute, ""},
		{0, ""},
		{-30 * time.Second, ""},
	}
	for _, tt := range tests {
		got, ok := Classify(now.Add(tt.delta), now)
		if tt.tier == "" {
			if ok {
				t.Fatalf("delta %s matched %s, want none", tt.delta, got.Name)
			}
			continue
		}
		if !ok || got.Name != tt.tier {
			t.Fatalf("delta %s = %q (%v), want %q", tt.delta, got.Name, ok, tt.tier)
		}
	}
}

func TestClassifyPastNeverMatches(t *testing.T) {
	t.Parallel()
	m, err := NewMatcher([]Tier{{Name: "late", Min: 0, Max: time.Hour}})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	for _, d := range []time.Duration{-time.Nanosecond, -time.Minute, -48 * time.Hour} {
		if _, ok := m.Classify(now.Add(d), now); ok {
			t.Fatalf("delta %s matched", d)
		}
	}
}

func TestNewMatcherValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		tiers []Tier
	}{
		{"overlap", []Tier{{Name: "a", Min: time.Hour, Max: 3 * time.Hour}, {Name: "b", Min: 2 * time.Hour, Max: 4 * time.Hour}}},
		{"touching edges", []Tier{{Name: "a", Min: time.Hour, Max: 2 * time.Hour}, {Name: "b", Min: 0, Max: time.Hour}}},
		{"duplicate", []Tier{{Name: "a", Max: time.Hour}, {Name: "a", Min: 2 * time.Hour, Max: 3 * time.Hour}}},
		{"inverted", []Tier{{Name: "a", Min: 2 * time.Hour, Max: time.Hour}}},
		{"underscore", []Tier{{Name: "a_b", Max: time.Hour}}},
		{"empty name", []Tier{{Max: time.Hour}}},
	}
	for _, tt := range tests {
		if _, err := NewMatcher(tt.tiers); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestNewMatcherOrdersLongestFirst(t *testing.T) {
	t.Parallel()
	m, err := NewMatcher([]Tier{
		{Name: "short", Min: time.Minute, Max: 2 * time.Minute},
		{Name: "long", Min: time.Hour, Max: 2 * time.Hour},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := m.Tiers()
	if got[0].Name != "long" || got[1].Name != "short" {
		t.Fatalf("order = %v", got)
	}
	if got[0].Label != "in long" {
		t.Fatalf("default label = %q", got[0].Label)
	}
}

func TestKeyFor(t *testing.T) {
	t.Parallel()
	if k := KeyFor(7, "1day"); k != "7_1day" {
		t.Fatalf("KeyFor = %q", k)
	}
}
