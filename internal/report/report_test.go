package report

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/aurum-pay/aurum_pay/internal/ledger"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func appendAt(t *testing.T, store ledger.Store, c *clock, at time.Time, draft ledger.Draft) ledger.Transaction {
	t.Helper()
	c.t = at
	var rec ledger.Transaction
	err := store.Atomically(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		var err error
		rec, err = tx.Append(ctx, draft)
		return err
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return rec
}

func completed(kind ledger.Kind, sender, receiver, amount string, asset ledger.Asset) ledger.Draft {
	return ledger.Draft{
		Kind:       kind,
		SenderID:   sender,
		ReceiverID: receiver,
		Amount:     d(amount),
		Asset:      asset,
		Status:     ledger.StatusCompleted,
	}
}

func seed(t *testing.T) (ledger.Store, *clock) {
	t.Helper()
	c := &clock{}
	store := ledger.NewInMemory(ledger.WithClock(c.now))
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	appendAt(t, store, c, day.Add(-time.Nanosecond), completed(ledger.KindDeposit, "alice", "", "999", ledger.AssetMoney))
	appendAt(t, store, c, day, completed(ledger.KindDeposit, "alice", "", "100", ledger.AssetMoney))
	appendAt(t, store, c, day.Add(2*time.Hour), completed(ledger.KindTransfer, "bob", "alice", "25.50", ledger.AssetMoney))
	appendAt(t, store, c, day.Add(3*time.Hour), completed(ledger.KindTransfer, "alice", "bob", "1.5", ledger.AssetGold))
	appendAt(t, store, c, day.Add(4*time.Hour), completed(ledger.KindTransfer, "alice", "alice", "2", ledger.AssetGold))
	appendAt(t, store, c, day.Add(5*time.Hour), completed(ledger.KindBuyGold, "alice", "", "0.5", ledger.AssetGold))
	appendAt(t, store, c, day.Add(24*time.Hour), completed(ledger.KindWithdraw, "alice", "", "10", ledger.AssetMoney))
	appendAt(t, store, c, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), completed(ledger.KindWithdraw, "alice", "", "7", ledger.AssetMoney))

	c.t = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return store, c
}

func TestDailySummaryUsesHalfOpenWindow(t *testing.T) {
	store, c := seed(t)
	svc := NewService(store, WithClock(c.now))

	r, err := svc.Daily(context.Background(), "alice", time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if len(r.Transactions) != 5 {
		t.Fatalf("expected 5 records in the day, got %d", len(r.Transactions))
	}
	money := r.Summary[ledger.AssetMoney]
	if !money.Outgoing.Equal(d("100")) || !money.Incoming.Equal(d("25.50")) {
		t.Fatalf("unexpected money summary: %+v", money)
	}
	gold := r.Summary[ledger.AssetGold]
	if !gold.Outgoing.Equal(d("4")) || !gold.Incoming.Equal(d("2")) {
		t.Fatalf("self transfer should count both ways: %+v", gold)
	}
	if gold.ByKind != nil {
		t.Fatal("daily summaries carry no per-kind totals")
	}
}

func TestDailySummaryEmptyDay(t *testing.T) {
	store, c := seed(t)
	svc := NewService(store, WithClock(c.now))
	r, err := svc.Daily(context.Background(), "alice", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if len(r.Summary) != 0 || len(r.Transactions) != 0 {
		t.Fatalf("expected empty report, got %+v", r)
	}
}

func TestDailySummaryRespectsTimeZone(t *testing.T) {
	store, c := seed(t)
	// UTC+2: the local day 2024-03-10 runs from 03-09T22:00Z to 03-10T22:00Z.
	svc := NewService(store, WithClock(c.now), WithLocation(time.FixedZone("CAT", 2*60*60)))
	date, err := svc.ParseDate("2024-03-10")
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	r, err := svc.Daily(context.Background(), "alice", date)
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if !r.Summary[ledger.AssetMoney].Outgoing.Equal(d("1099")) {
		t.Fatalf("expected the late deposit of the previous UTC day, got %s", r.Summary[ledger.AssetMoney].Outgoing)
	}
}

func TestMonthlySummaryByKind(t *testing.T) {
	store, c := seed(t)
	svc := NewService(store, WithClock(c.now))

	r, err := svc.Monthly(context.Background(), "alice", 3, 2024)
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	money := r.Summary[ledger.AssetMoney]
	if !money.Outgoing.Equal(d("1109")) {
		t.Fatalf("expected March money outgoing 1109, got %s", money.Outgoing)
	}
	deposits := money.ByKind[ledger.KindDeposit]
	if deposits == nil || deposits.Count != 2 || !deposits.Total.Equal(d("1099")) {
		t.Fatalf("unexpected deposit totals: %+v", deposits)
	}
	transfers := r.Summary[ledger.AssetGold].ByKind[ledger.KindTransfer]
	if transfers.Count != 2 || !transfers.Total.Equal(d("3.5")) {
		t.Fatalf("unexpected gold transfer totals: %+v", transfers)
	}

	if _, err := svc.Monthly(context.Background(), "alice", 13, 2024); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected invalid month, got %v", err)
	}
}

func TestHistoryPagingAndFilters(t *testing.T) {
	store, c := seed(t)
	svc := NewService(store, WithClock(c.now))
	ctx := context.Background()

	page, err := svc.History(ctx, "alice", Query{Page: 2, Limit: 3})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Total != 8 || page.Pages != 3 || len(page.Transactions) != 3 {
		t.Fatalf("unexpected page: total=%d pages=%d len=%d", page.Total, page.Pages, len(page.Transactions))
	}

	withdrawals, err := svc.History(ctx, "alice", Query{Kind: ledger.KindWithdraw})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if withdrawals.Total != 2 || !withdrawals.Transactions[0].Amount.Equal(d("7")) {
		t.Fatalf("expected newest withdrawal first, got %+v", withdrawals.Transactions)
	}

	if _, err := svc.History(ctx, "alice", Query{Limit: 1000}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected limit rejection, got %v", err)
	}
	for _, p := range []int{math.MaxInt/10 + 2, math.MaxInt32/10 + 1} {
		if _, err := svc.History(ctx, "alice", Query{Page: p, Limit: 10}); !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("page %d: expected out of range, got %v", p, err)
		}
	}
	beyond, err := svc.History(ctx, "alice", Query{Page: 50, Limit: 10})
	if err != nil || len(beyond.Transactions) != 0 || beyond.Total != 8 {
		t.Fatalf("expected an empty page past the end, got %+v %v", beyond, err)
	}
}

func TestGetOnlyForParticipants(t *testing.T) {
	store, c := seed(t)
	svc := NewService(store, WithClock(c.now))
	ctx := context.Background()

	page, _ := svc.History(ctx, "bob", Query{})
	id := page.Transactions[0].ID
	if _, err := svc.Get(ctx, "alice", id); err != nil {
		t.Fatalf("participant should see transaction: %v", err)
	}
	if _, err := svc.Get(ctx, "mallory", id); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found for outsider, got %v", err)
	}
}

func TestClosedWindowsAreCached(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store, c := seed(t)
	svc := NewService(store, WithClock(c.now), WithCache(client, time.Hour))
	ctx := context.Background()

	first, err := svc.Monthly(ctx, "alice", 3, 2024)
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("expected one cached report, got %v", mr.Keys())
	}

	// A record written into the closed window after caching is not seen.
	appendAt(t, store, c, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), completed(ledger.KindDeposit, "alice", "", "1", ledger.AssetMoney))
	c.t = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	second, err := svc.Monthly(ctx, "alice", 3, 2024)
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if !second.Summary[ledger.AssetMoney].Outgoing.Equal(first.Summary[ledger.AssetMoney].Outgoing) {
		t.Fatalf("expected cached summary, got %s", second.Summary[ledger.AssetMoney].Outgoing)
	}

	// The current month is still open and never cached.
	if _, err := svc.Monthly(ctx, "alice", 6, 2024); err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("open window must not be cached, keys %v", mr.Keys())
	}
}

func TestPendingRecordsAreNotCached(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := &clock{}
	store := ledger.NewInMemory(ledger.WithClock(c.now))
	draft := completed(ledger.KindPhysicalCollection, "alice", "", "1", ledger.AssetGold)
	draft.Status = ledger.StatusPending
	appendAt(t, store, c, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), draft)
	c.t = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	svc := NewService(store, WithClock(c.now), WithCache(client, time.Hour))
	if _, err := svc.Daily(context.Background(), "alice", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("daily: %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("windows with pending records must not be cached, keys %v", mr.Keys())
	}
}

func TestCacheOutageFallsBackToComputing(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	store, c := seed(t)
	svc := NewService(store, WithClock(c.now), WithCache(client, time.Hour))
	r, err := svc.Monthly(context.Background(), "alice", 4, 2024)
	if err != nil {
		t.Fatalf("monthly should not fail on cache outage: %v", err)
	}
	if !r.Summary[ledger.AssetMoney].Outgoing.Equal(d("7")) {
		t.Fatalf("unexpected April summary: %+v", r.Summary[ledger.AssetMoney])
	}
}
