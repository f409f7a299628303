package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoErrorCancelsWhenConfigured(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("failing", func(context.Context) error { return boom })
	s.Go0("waiter", func(ctx context.Context) { <-ctx.Done() })

	if err := s.Wait(waitCtx(t)); !errors.Is(err, boom) {
		t.Fatalf("Wait err=%v want boom", err)
	}
	if s.Context().Err() == nil {
		t.Fatalf("context should be cancelled")
	}
}

func TestGoCanceledIsNotAnError(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("worker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop err=%v", err)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	s.Go("panicky", func(context.Context) error { panic("nope") })
	err := s.Wait(waitCtx(t))
	if err == nil {
		t.Fatalf("panic should surface as the supervisor error")
	}
	snap := s.Snapshot()
	if len(snap.Goroutines) != 1 || snap.Goroutines[0].Panics != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestGoRestartUntilCleanExit(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait err=%v (first error is only published on request)", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs=%d want 3", got)
	}
	st := s.Snapshot().Goroutines[0]
	if st.Restarts != 2 || st.Active != 0 || st.LastErr == "" {
		t.Fatalf("stats=%+v", st)
	}
}

func TestGoRestartPublishesFirstError(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("first")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithPublishFirstError(true))

	err := s.Wait(waitCtx(t))
	if err == nil || err.Error() != "flaky: first" {
		t.Fatalf("err=%v", err)
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	started := make(chan struct{}, 1)
	s.GoRestart("loop", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil
	}, WithStopOnCleanExit(false))

	<-started
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop err=%v", err)
	}
	if s.Snapshot().Active != 0 {
		t.Fatalf("goroutines still active")
	}
}

func TestRegistrySnapshotsSkipStoppedSources(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	live := NewSupervisor(context.Background())
	r.Set("live", Static(live))
	r.Set("idle", SourceFunc(func() *Supervisor { return nil }))

	if names := r.Names(); len(names) != 2 || names[0] != "idle" || names[1] != "live" {
		t.Fatalf("names=%v", names)
	}
	snaps := r.Snapshots()
	if _, ok := snaps["live"]; !ok || len(snaps) != 1 {
		t.Fatalf("snapshots=%v", snaps)
	}

	r.Delete("live")
	if len(r.Snapshots()) != 0 {
		t.Fatalf("delete did not remove the source")
	}

	var nilReg *Registry
	nilReg.Set("x", Static(live))
	if nilReg.Snapshots() != nil {
		t.Fatalf("nil registry should be inert")
	}
}
