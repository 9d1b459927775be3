package ledger

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aurum-pay/aurum_pay/internal/infra"
	"github.com/aurum-pay/aurum_pay/migrations"
)

func newPostgresStore(t *testing.T) (*PostgresStore, *pgxpool.Pool) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := infra.NewPostgresPool(ctx, url)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := infra.Migrate(ctx, pool, migrations.FS); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewPostgresStore(pool), pool
}

// pgUser inserts a user row with zero-balance accounts and returns its id.
func pgUser(t *testing.T, s *PostgresStore, pool *pgxpool.Pool) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	phone := "+" + id
	if _, err := pool.Exec(ctx, `INSERT INTO users (id, phone, tier, pin_hash, created_at)
        VALUES ($1, $2, 'basic', '\x00', $3)`, id, phone, time.Now()); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := s.EnsureAccounts(ctx, id); err != nil {
		t.Fatalf("ensure accounts: %v", err)
	}
	return id
}

func pgSeed(t *testing.T, s *PostgresStore, key AccountKey, amount string) {
	t.Helper()
	if err := s.Atomically(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.ApplyDelta(ctx, key, d(amount))
		return err
	}); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

func TestPostgresStore_DebitWithinBalance(t *testing.T) {
	s, pool := newPostgresStore(t)
	ctx := context.Background()
	alice := pgUser(t, s, pool)
	pgSeed(t, s, MoneyOf(alice), "500")

	err := s.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		bal, err := tx.ApplyDelta(ctx, MoneyOf(alice), d("-100"))
		if err != nil {
			return err
		}
		if !bal.Equal(d("400")) {
			t.Errorf("expected 400 after debit, got %s", bal)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	bal, _ := s.Balance(ctx, MoneyOf(alice))
	if !bal.Equal(d("400")) {
		t.Fatalf("expected committed balance 400, got %s", bal)
	}
}

func TestPostgresStore_Overdraw(t *testing.T) {
	s, pool := newPostgresStore(t)
	ctx := context.Background()
	alice := pgUser(t, s, pool)
	pgSeed(t, s, GoldOf(alice), "5")

	err := s.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.ApplyDelta(ctx, GoldOf(alice), d("-5.001"))
		return err
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	bal, _ := s.Balance(ctx, GoldOf(alice))
	if !bal.Equal(d("5")) {
		t.Fatalf("expected untouched balance, got %s", bal)
	}
}

func TestPostgresStore_UnknownUser(t *testing.T) {
	s, _ := newPostgresStore(t)
	ghost := uuid.NewString()
	for _, delta := range []string{"10", "-10"} {
		err := s.Atomically(context.Background(), func(ctx context.Context, tx Tx) error {
			_, err := tx.ApplyDelta(ctx, MoneyOf(ghost), d(delta))
			return err
		})
		if !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("delta %s: expected account not found, got %v", delta, err)
		}
	}
}

func TestPostgresStore_FailedUnitRollsBack(t *testing.T) {
	s, pool := newPostgresStore(t)
	ctx := context.Background()
	alice := pgUser(t, s, pool)
	pgSeed(t, s, MoneyOf(alice), "100")

	boom := errors.New("boom")
	err := s.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.ApplyDelta(ctx, MoneyOf(alice), d("-40")); err != nil {
			return err
		}
		if _, err := tx.Append(ctx, Draft{Kind: KindWithdraw, SenderID: alice, Amount: d("40"), Asset: AssetMoney, Status: StatusCompleted}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	bal, _ := s.Balance(ctx, MoneyOf(alice))
	if !bal.Equal(d("100")) {
		t.Fatalf("expected untouched balance, got %s", bal)
	}
	if n, _ := s.CountByParticipant(ctx, alice, Filter{}); n != 0 {
		t.Fatalf("expected no records, got %d", n)
	}
}

func TestPostgresStore_TransferAndTransition(t *testing.T) {
	s, pool := newPostgresStore(t)
	ctx := context.Background()
	alice := pgUser(t, s, pool)
	bob := pgUser(t, s, pool)
	pgSeed(t, s, GoldOf(alice), "3")

	var pending Transaction
	err := s.Atomically(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.ApplyDelta(ctx, GoldOf(alice), d("-1")); err != nil {
			return err
		}
		if _, err := tx.ApplyDelta(ctx, GoldOf(bob), d("1")); err != nil {
			return err
		}
		if _, err := tx.Append(ctx, Draft{Kind: KindTransfer, SenderID: alice, ReceiverID: bob, Amount: d("1"), Asset: AssetGold, Status: StatusCompleted}); err != nil {
			return err
		}
		var err error
		pending, err = tx.Append(ctx, Draft{Kind: KindPhysicalCollection, SenderID: alice, Amount: d("1"), Asset: AssetGold, Status: StatusPending})
		return err
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	a, _ := s.Balance(ctx, GoldOf(alice))
	b, _ := s.Balance(ctx, GoldOf(bob))
	if !a.Equal(d("2")) || !b.Equal(d("1")) {
		t.Fatalf("unexpected balances alice=%s bob=%s", a, b)
	}
	if n, _ := s.CountByParticipant(ctx, bob, Filter{}); n != 1 {
		t.Fatalf("receiver should see the transfer, got %d records", n)
	}

	transition := func(id string, to Status) error {
		return s.Atomically(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.Transition(ctx, id, to)
			return err
		})
	}
	if err := transition(pending.ID, StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := transition(pending.ID, StatusFailed); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected terminal status to be final, got %v", err)
	}
	if err := transition(uuid.NewString(), StatusCompleted); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
