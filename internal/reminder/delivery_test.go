package reminder

import (
	"context"
	"testing"
	"time"

	logx "eventbot/pkg/logx"
)

func TestStrategiesForDefaultOrder(t *testing.T) {
	t.Parallel()
	ss, err := StrategiesFor(newFakeAdapter(), nil)
	if err != nil {
		t.Fatal(err)
	}
	a := NewAttempter(ss, time.Second, logx.Nop())
	got := a.Names()
	if len(got) != len(DefaultStrategyOrder) {
		t.Fatalf("names = %v", got)
	}
	for i, n := range DefaultStrategyOrder {
		if got[i] != n {
			t.Fatalf("names[%d] = %s, want %s", i, got[i], n)
		}
	}
}

func TestStrategiesForSkipsMissingCapabilities(t *testing.T) {
	t.Parallel()
	ss, err := StrategiesFor(bareAdapter{newFakeAdapter()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ss) != 1 || ss[0].Name() != StrategyChatID {
		t.Fatalf("strategies = %v", NewAttempter(ss, 0, logx.Nop()).Names())
	}
}

func TestStrategiesForRejectsUnknown(t *testing.T) {
	t.Parallel()
	if _, err := StrategiesFor(newFakeAdapter(), []string{"chat_id", "carrier_pigeon"}); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestAttempterStopsAtFirstSuccess(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	ss, _ := StrategiesFor(fa, []string{"plain", "chat_id"})
	a := NewAttempter(ss, time.Second, logx.Nop())
	if !a.Send(context.Background(), "5", "hi") {
		t.Fatal("Send failed")
	}
	if fa.callCount("plain") != 1 || fa.callCount("chat_id") != 0 {
		t.Fatalf("calls = %v", fa.calls)
	}
}

func TestAttempterExhaustsAllStrategies(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter(9)
	ss, _ := StrategiesFor(fa, nil)
	a := NewAttempter(ss, time.Second, logx.Nop())
	if a.Send(context.Background(), "9", "hi") {
		t.Fatal("Send should fail")
	}
	for _, n := range DefaultStrategyOrder {
		if fa.callCount(n) != 1 {
			t.Fatalf("strategy %s called %d times", n, fa.callCount(n))
		}
	}
}

func TestAttempterTimesOutHungStrategy(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	fa.block = true
	ss, _ := StrategiesFor(fa, []string{"chat_id", "user_id"})
	a := NewAttempter(ss, 20*time.Millisecond, logx.Nop())

	start := time.Now()
	if !a.Send(context.Background(), "3", "hi") {
		t.Fatal("fallback strategy should succeed")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("hung strategy was not bounded")
	}
	if fa.callCount("user_id") != 1 {
		t.Fatal("fallback not attempted")
	}
}

func TestAttempterNonNumericUser(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	ss, _ := StrategiesFor(fa, nil)
	a := NewAttempter(ss, time.Second, logx.Nop())
	// chat_id_string accepts any recipient text.
	if !a.Send(context.Background(), "@someone", "hi") {
		t.Fatal("string recipient strategy should succeed")
	}
	if fa.callCount("chat_id_string") != 1 {
		t.Fatalf("calls = %v", fa.calls)
	}
}

func TestKnownStrategy(t *testing.T) {
	t.Parallel()
	for _, name := range DefaultStrategyOrder {
		if !KnownStrategy(name) {
			t.Fatalf("%q should be known", name)
		}
	}
	if !KnownStrategy(" Chat_ID ") {
		t.Fatalf("names are case and space insensitive")
	}
	if KnownStrategy("carrier_pigeon") {
		t.Fatalf("unexpected strategy accepted")
	}
}

type panickingStrategy struct{}

func (panickingStrategy) Name() string { return "panicking" }
func (panickingStrategy) Attempt(context.Context, string, string) error {
	panic("nil adapter handle")
}

func TestAttempterFallsThroughPanickingStrategy(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()
	ss, err := StrategiesFor(fa, []string{"user_id"})
	if err != nil {
		t.Fatal(err)
	}
	a := NewAttempter(append([]Strategy{panickingStrategy{}}, ss...), time.Second, logx.Nop())
	if !a.Send(context.Background(), "4", "hi") {
		t.Fatal("next strategy should succeed after a panic")
	}
	if fa.callCount("user_id") != 1 || fa.sentTo(4) != 1 {
		t.Fatalf("calls = %v", fa.calls)
	}
}

func TestAttempterOnlyPanickingStrategyFails(t *testing.T) {
	t.Parallel()
	a := NewAttempter([]Strategy{panickingStrategy{}}, time.Second, logx.Nop())
	if a.Send(context.Background(), "4", "hi") {
		t.Fatal("Send should report failure")
	}
}
