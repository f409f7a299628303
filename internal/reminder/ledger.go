package reminder

import (
	"context"
	"sort"
	"sync"
	"time"

	logx "eventbot/pkg/logx"
)

// LedgerStore persists sent keys across restarts.
type LedgerStore interface {
	PutSent(ctx context.Context, key string, at time.Time) error
	SentKeys(ctx context.Context) ([]string, error)
}

// Ledger is the set of reminder keys already delivered. Keys are never
// removed. Without a store the set lives as long as the process.
type Ledger struct {
	mu    sync.RWMutex
	keys  map[Key]time.Time
	store LedgerStore
	log   logx.Logger
	now   func() time.Time
}

type LedgerOption func(*Ledger)

// WithLedgerStore writes every new key through to st.
func WithLedgerStore(st LedgerStore) LedgerOption {
	return func(l *Ledger) { l.store = st }
}

func WithLedgerLogger(log logx.Logger) LedgerOption {
	return func(l *Ledger) { l.log = log }
}

func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{keys: map[Key]time.Time{}, log: logx.Nop(), now: time.Now}
	for _, o := range opts {
		if o != nil {
			o(l)
		}
	}
	return l
}

func (l *Ledger) AlreadySent(k Key) bool {
	l.mu.RLock()
	_, ok := l.keys[k]
	l.mu.RUnlock()
	return ok
}

// MarkSent records k. Marking a key twice is a no-op.
func (l *Ledger) MarkSent(k Key) {
	at := l.now()
	l.mu.Lock()
	if _, ok := l.keys[k]; ok {
		l.mu.Unlock()
		return
	}
	l.keys[k] = at
	st := l.store
	l.mu.Unlock()

	if st == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.PutSent(ctx, string(k), at); err != nil {
		l.log.Warn("ledger persist failed", logx.String("key", string(k)), logx.Err(err))
	}
}

// Restore loads persisted keys. It is a no-op without a store.
func (l *Ledger) Restore(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	keys, err := l.store.SentKeys(ctx)
	if err != nil {
		return 0, err
	}
	at := l.now()
	n := 0
	l.mu.Lock()
	for _, k := range keys {
		if _, ok := l.keys[Key(k)]; !ok {
			l.keys[Key(k)] = at
			n++
		}
	}
	l.mu.Unlock()
	return n, nil
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.keys)
}

// Keys returns the recorded keys sorted.
func (l *Ledger) Keys() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.keys))
	for k := range l.keys {
		out = append(out, string(k))
	}
	l.mu.RUnlock()
	sort.Strings(out)
	return out
}
