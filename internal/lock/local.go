package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aurum-pay/aurum_pay/internal/ledger"
)

type slot struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process Controller. Each key maps to a one-slot channel;
// slots are reference counted and dropped once nobody waits on them.
type Local struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[ledger.AccountKey]*slot
}

// NewLocal creates an in-process controller that gives up after wait.
func NewLocal(wait time.Duration) *Local {
	return &Local{wait: wait, slots: make(map[ledger.AccountKey]*slot)}
}

// WithExclusive implements Controller.
func (l *Local) WithExclusive(ctx context.Context, keys []ledger.AccountKey, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	keys = ordered(keys)

	deadline := time.NewTimer(l.wait)
	defer deadline.Stop()

	held := make([]ledger.AccountKey, 0, len(keys))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}()

	for _, key := range keys {
		s := l.retain(key)
		select {
		case s.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			l.drop(key)
			return ctx.Err()
		case <-deadline.C:
			l.drop(key)
			return fmt.Errorf("%s: %w", key, ErrTimeout)
		}
	}

	return fn(context.WithoutCancel(ctx))
}

func (l *Local) retain(key ledger.AccountKey) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

// drop forgets a reference taken by retain without releasing the slot.
func (l *Local) drop(key ledger.AccountKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *Local) release(key ledger.AccountKey) {
	l.mu.Lock()
	s := l.slots[key]
	l.mu.Unlock()
	<-s.ch
	l.drop(key)
}
