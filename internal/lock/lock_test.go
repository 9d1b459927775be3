package lock

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/aurum-pay/aurum_pay/internal/ledger"
	"github.com/aurum-pay/aurum_pay/internal/logging"
)

func controllers(t *testing.T, wait time.Duration) map[string]Controller {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return map[string]Controller{
		"local": NewLocal(wait),
		"redis": NewRedis(client, wait, 5*time.Second, nil),
	}
}

func TestWithExclusiveSerialisesOverlappingKeys(t *testing.T) {
	for name, c := range controllers(t, 5*time.Second) {
		t.Run(name, func(t *testing.T) {
			key := ledger.GoldOf("user-1")
			var (
				inside  int32
				maxSeen int32
				wg      sync.WaitGroup
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := c.WithExclusive(context.Background(), []ledger.AccountKey{key}, func(context.Context) error {
						n := atomic.AddInt32(&inside, 1)
						for {
							m := atomic.LoadInt32(&maxSeen)
							if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
								break
							}
						}
						time.Sleep(2 * time.Millisecond)
						atomic.AddInt32(&inside, -1)
						return nil
					})
					if err != nil {
						t.Errorf("with exclusive: %v", err)
					}
				}()
			}
			wg.Wait()
			if maxSeen != 1 {
				t.Fatalf("expected one holder at a time, saw %d", maxSeen)
			}
		})
	}
}

func TestWithExclusiveTimesOut(t *testing.T) {
	for name, c := range controllers(t, 50*time.Millisecond) {
		t.Run(name, func(t *testing.T) {
			key := ledger.MoneyOf("user-2")
			held := make(chan struct{})
			done := make(chan struct{})
			go func() {
				c.WithExclusive(context.Background(), []ledger.AccountKey{key}, func(context.Context) error {
					close(held)
					<-done
					return nil
				})
			}()
			<-held

			called := false
			err := c.WithExclusive(context.Background(), []ledger.AccountKey{key}, func(context.Context) error {
				called = true
				return nil
			})
			close(done)

			if !errors.Is(err, ErrTimeout) || !IsRetryable(err) {
				t.Fatalf("expected retryable timeout, got %v", err)
			}
			if called {
				t.Fatal("critical section must not run without the lock")
			}
		})
	}
}

func TestWithExclusiveReleasesOnError(t *testing.T) {
	for name, c := range controllers(t, time.Second) {
		t.Run(name, func(t *testing.T) {
			keys := []ledger.AccountKey{ledger.MoneyOf("a"), ledger.MoneyOf("b")}
			boom := errors.New("boom")
			if err := c.WithExclusive(context.Background(), keys, func(context.Context) error { return boom }); !errors.Is(err, boom) {
				t.Fatalf("expected fn error to propagate, got %v", err)
			}
			if err := c.WithExclusive(context.Background(), keys, func(context.Context) error { return nil }); err != nil {
				t.Fatalf("locks were not released: %v", err)
			}
		})
	}
}

func TestWithExclusiveOpposingOrderDoesNotDeadlock(t *testing.T) {
	for name, c := range controllers(t, 5*time.Second) {
		t.Run(name, func(t *testing.T) {
			a, b := ledger.GoldOf("alice"), ledger.GoldOf("bob")
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				keys := []ledger.AccountKey{a, b}
				if i%2 == 1 {
					keys = []ledger.AccountKey{b, a}
				}
				wg.Add(1)
				go func(keys []ledger.AccountKey) {
					defer wg.Done()
					if err := c.WithExclusive(context.Background(), keys, func(context.Context) error { return nil }); err != nil {
						t.Errorf("with exclusive: %v", err)
					}
				}(keys)
			}
			wg.Wait()
		})
	}
}

func TestWithExclusiveCancelledBeforeEntry(t *testing.T) {
	for name, c := range controllers(t, time.Second) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := c.WithExclusive(ctx, []ledger.AccountKey{ledger.GoldOf("c")}, func(context.Context) error {
				t.Fatal("critical section must not run after cancellation")
				return nil
			})
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context canceled, got %v", err)
			}
		})
	}
}

func TestWithExclusiveIgnoresCancellationInside(t *testing.T) {
	c := NewLocal(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	err := c.WithExclusive(ctx, []ledger.AccountKey{ledger.GoldOf("d")}, func(inner context.Context) error {
		cancel()
		return inner.Err()
	})
	if err != nil {
		t.Fatalf("inner context should survive caller cancellation, got %v", err)
	}
}

func TestOrderedDeduplicatesAndSorts(t *testing.T) {
	keys := ordered([]ledger.AccountKey{
		ledger.MoneyOf("b"), ledger.GoldOf("a"), ledger.MoneyOf("a"), ledger.MoneyOf("b"),
	})
	want := []ledger.AccountKey{ledger.GoldOf("a"), ledger.MoneyOf("a"), ledger.MoneyOf("b")}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("position %d: expected %v got %v", i, want[i], keys[i])
		}
	}
}

func TestRedisLogsFailedRelease(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	closed := false
	defer func() {
		if !closed {
			mr.Close()
		}
	}()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	var buf bytes.Buffer
	c := NewRedis(client, time.Second, 5*time.Second, logging.NewWithWriter(&buf, "info"))
	err = c.WithExclusive(context.Background(), []ledger.AccountKey{ledger.MoneyOf("user-1")}, func(context.Context) error {
		mr.Close()
		closed = true
		return nil
	})
	if err != nil {
		t.Fatalf("with exclusive: %v", err)
	}
	if !strings.Contains(buf.String(), "lock release failed") || !strings.Contains(buf.String(), "lock:v1:") {
		t.Fatalf("expected a warning for the unreleased lock, got %q", buf.String())
	}
}
