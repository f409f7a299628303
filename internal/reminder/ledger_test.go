package reminder

import (
	"context"
	"testing"
)

func TestLedgerMarkSentIdempotent(t *testing.T) {
	t.Parallel()
	l := NewLedger()
	if l.AlreadySent("1_1day") {
		t.Fatal("empty ledger reports key")
	}
	l.MarkSent("1_1day")
	l.MarkSent("1_1day")
	if !l.AlreadySent("1_1day") {
		t.Fatal("key not recorded")
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
}

func TestLedgerPersistsAndRestores(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	l := NewLedger(WithLedgerStore(st))
	l.MarkSent("2_1hour")
	l.MarkSent("1_1day")
	l.MarkSent("1_1day")

	restored := NewLedger(WithLedgerStore(st))
	n, err := restored.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 2 {
		t.Fatalf("restored %d keys, want 2", n)
	}
	keys := restored.Keys()
	if len(keys) != 2 || keys[0] != "1_1day" || keys[1] != "2_1hour" {
		t.Fatalf("Keys = %v", keys)
	}
}

func TestLedgerRestoreWithoutStore(t *testing.T) {
	t.Parallel()
	n, err := NewLedger().Restore(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
}
