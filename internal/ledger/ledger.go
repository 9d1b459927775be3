package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance occurs when a delta would drive an account balance
	// below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAccountNotFound indicates the owning user is unknown to the store. A
	// known user with a zero balance never produces this error.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNotFound indicates a transaction (or another referenced record) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a status change is not PENDING -> COMPLETED|FAILED.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrPersistence wraps storage failures. Nothing from the failed unit of work
	// is visible afterwards.
	ErrPersistence = errors.New("persistence failure")
)

// Asset identifies one of the two balances a user holds.
type Asset string

const (
	AssetMoney Asset = "MONEY"
	AssetGold  Asset = "GOLD"
)

// ParseAsset converts user input into an Asset. Matching is case-insensitive.
func ParseAsset(s string) (Asset, error) {
	switch Asset(strings.ToUpper(strings.TrimSpace(s))) {
	case AssetMoney:
		return AssetMoney, nil
	case AssetGold:
		return AssetGold, nil
	default:
		return "", fmt.Errorf("unknown asset %q", s)
	}
}

// Valid reports whether a is one of the known assets.
func (a Asset) Valid() bool {
	return a == AssetMoney || a == AssetGold
}

// Scale is the number of decimal places an amount of this asset may carry:
// currency cents for money, milligrams for gold.
func (a Asset) Scale() int32 {
	if a == AssetGold {
		return 3
	}
	return 2
}

// Kind is the operation that produced a transaction.
type Kind string

const (
	KindBuyGold            Kind = "BUY_GOLD"
	KindSellGold           Kind = "SELL_GOLD"
	KindDeposit            Kind = "DEPOSIT"
	KindWithdraw           Kind = "WITHDRAW"
	KindTransfer           Kind = "TRANSFER"
	KindPhysicalCollection Kind = "PHYSICAL_COLLECTION"
)

// ParseKind validates a transaction kind filter value.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case KindBuyGold, KindSellGold, KindDeposit, KindWithdraw, KindTransfer, KindPhysicalCollection:
		return k, nil
	default:
		return "", fmt.Errorf("unknown transaction kind %q", s)
	}
}

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// ParseStatus validates a transaction status filter value.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusCompleted, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown transaction status %q", s)
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	return from == StatusPending && to.Terminal()
}

// AccountKey addresses one balance: a (user, asset) pair.
type AccountKey struct {
	UserID string
	Asset  Asset
}

// MoneyOf returns the money account key for a user.
func MoneyOf(userID string) AccountKey { return AccountKey{UserID: userID, Asset: AssetMoney} }

// GoldOf returns the gold account key for a user.
func GoldOf(userID string) AccountKey { return AccountKey{UserID: userID, Asset: AssetGold} }

// Less orders keys by user id then asset. Every multi-account lock is taken
// in this order.
func (k AccountKey) Less(other AccountKey) bool {
	if k.UserID != other.UserID {
		return k.UserID < other.UserID
	}
	return k.Asset < other.Asset
}

func (k AccountKey) String() string {
	return "account:" + k.UserID + ":" + string(k.Asset)
}

// Transaction is an immutable record of one balance movement.
type Transaction struct {
	ID          string
	Kind        Kind
	SenderID    string
	ReceiverID  string
	Amount      decimal.Decimal
	Asset       Asset
	UnitPrice   decimal.Decimal
	Reference   string
	Status      Status
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Draft is the caller-supplied part of a transaction; the writer assigns the
// id and timestamps.
type Draft struct {
	Kind        Kind
	SenderID    string
	ReceiverID  string
	Amount      decimal.Decimal
	Asset       Asset
	UnitPrice   decimal.Decimal
	Reference   string
	Status      Status
	Description string
}

func (d Draft) validate() error {
	if d.SenderID == "" {
		return errors.New("ledger: sender is required")
	}
	if !d.Amount.IsPositive() {
		return errors.New("ledger: amount must be positive")
	}
	if !d.Asset.Valid() {
		return fmt.Errorf("ledger: unknown asset %q", d.Asset)
	}
	if _, err := ParseKind(string(d.Kind)); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if _, err := ParseStatus(string(d.Status)); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if (d.Kind == KindTransfer) != (d.ReceiverID != "") {
		return errors.New("ledger: receiver is set only on transfers")
	}
	return nil
}

// BuyCost is the money debited when buying amount grams at price per gram.
// Fractions of a cent round up.
func BuyCost(amount, price decimal.Decimal) decimal.Decimal {
	return amount.Mul(price).RoundCeil(AssetMoney.Scale())
}

// SellProceeds is the money credited when selling amount grams at price per
// gram. Fractions of a cent round down.
func SellProceeds(amount, price decimal.Decimal) decimal.Decimal {
	return amount.Mul(price).RoundFloor(AssetMoney.Scale())
}

// Effect is one signed balance change implied by a transaction.
type Effect struct {
	Account AccountKey
	Delta   decimal.Decimal
}

// Effects lists the balance changes t accounts for. FAILED transactions have
// none: their deltas were either never applied or reversed on failure.
func (t Transaction) Effects() []Effect {
	if t.Status == StatusFailed {
		return nil
	}
	switch t.Kind {
	case KindBuyGold:
		return []Effect{
			{Account: MoneyOf(t.SenderID), Delta: BuyCost(t.Amount, t.UnitPrice).Neg()},
			{Account: GoldOf(t.SenderID), Delta: t.Amount},
		}
	case KindSellGold:
		return []Effect{
			{Account: GoldOf(t.SenderID), Delta: t.Amount.Neg()},
			{Account: MoneyOf(t.SenderID), Delta: SellProceeds(t.Amount, t.UnitPrice)},
		}
	case KindDeposit:
		return []Effect{{Account: MoneyOf(t.SenderID), Delta: t.Amount}}
	case KindWithdraw:
		return []Effect{{Account: MoneyOf(t.SenderID), Delta: t.Amount.Neg()}}
	case KindTransfer:
		return []Effect{
			{Account: AccountKey{UserID: t.SenderID, Asset: t.Asset}, Delta: t.Amount.Neg()},
			{Account: AccountKey{UserID: t.ReceiverID, Asset: t.Asset}, Delta: t.Amount},
		}
	case KindPhysicalCollection:
		return []Effect{{Account: GoldOf(t.SenderID), Delta: t.Amount.Neg()}}
	default:
		return nil
	}
}

// Filter narrows participant queries. From is inclusive, To exclusive; zero
// values disable the bound. Limit 0 means no limit.
type Filter struct {
	From   time.Time
	To     time.Time
	Kind   Kind
	Status Status
	Limit  int
	Offset int
}

func (f Filter) matches(t Transaction) bool {
	if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.CreatedAt.Before(f.To) {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

// Tx is the scope of one atomic unit: balance deltas (AccountStore) and record
// writes (LedgerWriter) made through it commit together or not at all.
type Tx interface {
	Balance(ctx context.Context, key AccountKey) (decimal.Decimal, error)
	ApplyDelta(ctx context.Context, key AccountKey, delta decimal.Decimal) (decimal.Decimal, error)
	Append(ctx context.Context, draft Draft) (Transaction, error)
	Transition(ctx context.Context, id string, to Status) (Transaction, error)
	Get(ctx context.Context, id string) (Transaction, error)
}

// Reader is the read path over committed transactions.
type Reader interface {
	Get(ctx context.Context, id string) (Transaction, error)
	ListByParticipant(ctx context.Context, userID string, filter Filter) ([]Transaction, error)
	CountByParticipant(ctx context.Context, userID string, filter Filter) (int, error)
}

// Store is implemented by ledger backends (in-memory, Postgres).
type Store interface {
	Reader
	EnsureAccounts(ctx context.Context, userID string) error
	Balance(ctx context.Context, key AccountKey) (decimal.Decimal, error)
	Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Option customises a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp transactions.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
