package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aurum-pay/aurum_pay/internal/identity"
	"github.com/aurum-pay/aurum_pay/internal/ledger"
	"github.com/aurum-pay/aurum_pay/internal/lock"
	"github.com/aurum-pay/aurum_pay/internal/logging"
	"github.com/aurum-pay/aurum_pay/internal/notification"
)

const (
	priceScale           = 4
	minCollectionAddress = 10
)

// ErrValidation marks malformed input. It is always returned before any
// account is locked.
var ErrValidation = errors.New("validation failed")

// BankAccounts answers whether a bank account reference may be used by a user.
type BankAccounts interface {
	IsVerified(ctx context.Context, userID, ref string) (bool, error)
}

// Directory resolves transfer receivers.
type Directory interface {
	FindByPhone(ctx context.Context, phone string) (identity.User, error)
}

// Service executes balance-changing operations. Each operation locks every
// account it touches, re-reads balances inside the critical section, applies
// its deltas and appends exactly one transaction record as one atomic unit.
type Service struct {
	store    ledger.Store
	locks    lock.Controller
	banks    BankAccounts
	users    Directory
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds a wallet service. notifier and logger may be nil.
func NewService(store ledger.Store, locks lock.Controller, banks BankAccounts, users Directory, notifier notification.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		store:    store,
		locks:    locks,
		banks:    banks,
		users:    users,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Balances returns the committed money and gold balances of a user.
func (s *Service) Balances(ctx context.Context, userID string) (Balance, error) {
	money, err := s.store.Balance(ctx, ledger.MoneyOf(userID))
	if err != nil {
		return Balance{}, err
	}
	gold, err := s.store.Balance(ctx, ledger.GoldOf(userID))
	if err != nil {
		return Balance{}, err
	}
	return Balance{UserID: userID, Money: money, Gold: gold, AsOf: s.now()}, nil
}

// BuyGold converts money into gold at the caller-supplied price per gram.
func (s *Service) BuyGold(ctx context.Context, userID string, amount, price decimal.Decimal) (ledger.Transaction, error) {
	if err := validateAmount(amount, ledger.AssetGold); err != nil {
		return ledger.Transaction{}, err
	}
	if err := validatePrice(price); err != nil {
		return ledger.Transaction{}, err
	}
	cost := ledger.BuyCost(amount, price)
	money, gold := ledger.MoneyOf(userID), ledger.GoldOf(userID)

	rec, err := s.execute(ctx, []ledger.AccountKey{money, gold}, func(ctx context.Context, tx ledger.Tx) (ledger.Transaction, error) {
		if err := requireBalance(ctx, tx, money, cost, "insufficient funds in money wallet"); err != nil {
			return ledger.Transaction{}, err
		}
		if _, err := tx.ApplyDelta(ctx, money, cost.Neg()); err != nil {
			return ledger.Transaction{}, err
		}
		if _, err := tx.ApplyDelta(ctx, gold, amount); err != nil {
			return ledger.Transaction{}, err
		}
		return tx.Append(ctx, ledger.Draft{
			Kind:        ledger.KindBuyGold,
			SenderID:    userID,
			Amount:      amount,
			Asset:       ledger.AssetGold,
			UnitPrice:   price,
			Status:      ledger.StatusCompleted,
			Description: fmt.Sprintf("Bought %sg of gold at %s per gram", amount, price),
		})
	})
	return s.finish(ctx, "buy_gold", rec, err)
}

// SellGold converts gold into money at the caller-supplied price per gram.
func (s *Service) SellGold(ctx context.Context, userID string, amount, price decimal.Decimal) (ledger.Transaction, error) {
	if err := validateAmount(amount, ledger.AssetGold); err != nil {
		return ledger.Transaction{}, err
	}
	if err := validatePrice(price); err != nil {
		return ledger.Transaction{}, err
	}
	proceeds := ledger.SellProceeds(amount, price)
	money, gold := ledger.MoneyOf(userID), ledger.GoldOf(userID)

	rec, err := s.execute(ctx, []ledger.AccountKey{gold, money}, func(ctx context.Context, tx ledger.Tx) (ledger.Transaction, error) {
		if err := requireBalance(ctx, tx, gold, amount, "insufficient gold balance"); err != nil {
			return ledger.Transaction{}, err
		}
		if _, err := tx.ApplyDelta(ctx, gold, amount.Neg()); err != nil {
			return ledger.Transaction{}, err
		}
		if proceeds.IsPositive() {
			if _, err := tx.ApplyDelta(ctx, money, proceeds); err != nil {
				return ledger.Transaction{}, err
			}
		}
		return tx.Append(ctx, ledger.Draft{
			Kind:        ledger.KindSellGold,
			SenderID:    userID,
			Amount:      amount,
			Asset:       ledger.AssetGold,
			UnitPrice:   price,
			Status:      ledger.StatusCompleted,
			Description: fmt.Sprintf("Sold %sg of gold at %s per gram", amount, price),
		})
	})
	return s.finish(ctx, "sell_gold", rec, err)
}

// DepositMoney credits money from one of the user's verified bank accounts.
func (s *Service) DepositMoney(ctx context.Context, userID string, amount decimal.Decimal, bankAccountRef string) (ledger.Transaction, error) {
	if err := validateAmount(amount, ledger.AssetMoney); err != nil {
		return ledger.Transaction{}, err
	}
	if err := s.checkBankAccount(ctx, userID, bankAccountRef); err != nil {
		return ledger.Transaction{}, err
	}
	money := ledger.MoneyOf(userID)

	rec, err := s.execute(ctx, []ledger.AccountKey{money}, func(ctx context.Context, tx ledger.Tx) (ledger.Transaction, error) {
		if _, err := tx.ApplyDelta(ctx, money, amount); err != nil {
			return ledger.Transaction{}, err
		}
		return tx.Append(ctx, ledger.Draft{
			Kind:        ledger.KindDeposit,
			SenderID:    userID,
			Amount:      amount,
			Asset:       ledger.AssetMoney,
			Reference:   bankAccountRef,
			Status:      ledger.StatusCompleted,
			Description: fmt.Sprintf("Deposit from bank account %s", bankAccountRef),
		})
	})
	return s.finish(ctx, "deposit", rec, err)
}

// WithdrawMoney debits money towards one of the user's verified bank accounts.
func (s *Service) WithdrawMoney(ctx context.Context, userID string, amount decimal.Decimal, bankAccountRef string) (ledger.Transaction, error) {
	if err := validateAmount(amount, ledger.AssetMoney); err != nil {
		return ledger.Transaction{}, err
	}
	if err := s.checkBankAccount(ctx, userID, bankAccountRef); err != nil {
		return ledger.Transaction{}, err
	}
	money := ledger.MoneyOf(userID)

	rec, err := s.execute(ctx, []ledger.AccountKey{money}, func(ctx context.Context, tx ledger.Tx) (ledger.Transaction, error) {
		if err := requireBalance(ctx, tx, money, amount, "insufficient funds"); err != nil {
			return ledger.Transaction{}, err
		}
		if _, err := tx.ApplyDelta(ctx, money, amount.Neg()); err != nil {
			return ledger.Transaction{}, err
		}
		return tx.Append(ctx, ledger.Draft{
			Kind:        ledger.KindWithdraw,
			SenderID:    userID,
			Amount:      amount,
			Asset:       ledger.AssetMoney,
			Reference:   bankAccountRef,
			Status:      ledger.StatusCompleted,
			Description: fmt.Sprintf("Withdrawal to bank account %s", bankAccountRef),
		})
	})
	return s.finish(ctx, "withdraw", rec, err)
}

// TransferFunds moves amount of asset from the user to the user registered
// under receiverPhone. Both accounts and the record change together.
func (s *Service) TransferFunds(ctx context.Context, userID, receiverPhone string, amount decimal.Decimal, asset ledger.Asset) (ledger.Transaction, error) {
	if !asset.Valid() {
		return ledger.Transaction{}, fmt.Errorf("%w: unknown asset %q", ErrValidation, asset)
	}
	if err := validateAmount(amount, asset); err != nil {
		return ledger.Transaction{}, err
	}
	if strings.TrimSpace(receiverPhone) == "" {
		return ledger.Transaction{}, fmt.Errorf("%w: receiver phone is required", ErrValidation)
	}

	receiver, err := s.users.FindByPhone(ctx, receiverPhone)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return ledger.Transaction{}, fmt.Errorf("receiver not found: %w", ledger.ErrNotFound)
		}
		return ledger.Transaction{}, err
	}
	if receiver.ID == userID {
		return ledger.Transaction{}, fmt.Errorf("%w: cannot transfer to yourself", ErrValidation)
	}

	from := ledger.AccountKey{UserID: userID, Asset: asset}
	to := ledger.AccountKey{UserID: receiver.ID, Asset: asset}

	rec, err := s.execute(ctx, []ledger.AccountKey{from, to}, func(ctx context.Context, tx ledger.Tx) (ledger.Transaction, error) {
		if err := requireBalance(ctx, tx, from, amount, "insufficient funds"); err != nil {
			return ledger.Transaction{}, err
		}
		if _, err := tx.ApplyDelta(ctx, from, amount.Neg()); err != nil {
			return ledger.Transaction{}, err
		}
		if _, err := tx.ApplyDelta(ctx, to, amount); err != nil {
			return ledger.Transaction{}, err
		}
		return tx.Append(ctx, ledger.Draft{
			Kind:        ledger.KindTransfer,
			SenderID:    userID,
			ReceiverID:  receiver.ID,
			Amount:      amount,
			Asset:       asset,
			Status:      ledger.StatusCompleted,
			Description: fmt.Sprintf("Transfer %s %s to %s", amount, asset, receiver.Phone),
		})
	})
	rec, err = s.finish(ctx, "transfer", rec, err)
	if err == nil {
		s.notify(ctx, notification.Message{
			Kind:        notification.KindTransferReceived,
			Destination: receiver.ID,
			Body:        fmt.Sprintf("You received %s %s", amount, asset),
		})
	}
	return rec, err
}

// RequestPhysicalCollection reserves gold for pickup at address. The gold
// leaves the balance now; the record stays PENDING until resolved.
func (s *Service) RequestPhysicalCollection(ctx context.Context, userID string, amount decimal.Decimal, address string) (ledger.Transaction, error) {
	if err := validateAmount(amount, ledger.AssetGold); err != nil {
		return ledger.Transaction{}, err
	}
	address = strings.TrimSpace(address)
	if len(address) < minCollectionAddress {
		return ledger.Transaction{}, fmt.Errorf("%w: collection address must be at least %d characters", ErrValidation, minCollectionAddress)
	}
	gold := ledger.GoldOf(userID)

	rec, err := s.execute(ctx, []ledger.AccountKey{gold}, func(ctx context.Context, tx ledger.Tx) (ledger.Transaction, error) {
		if err := requireBalance(ctx, tx, gold, amount, "insufficient gold balance"); err != nil {
			return ledger.Transaction{}, err
		}
		if _, err := tx.ApplyDelta(ctx, gold, amount.Neg()); err != nil {
			return ledger.Transaction{}, err
		}
		return tx.Append(ctx, ledger.Draft{
			Kind:        ledger.KindPhysicalCollection,
			SenderID:    userID,
			Amount:      amount,
			Asset:       ledger.AssetGold,
			Reference:   address,
			Status:      ledger.StatusPending,
			Description: fmt.Sprintf("Physical collection request for %sg of gold at %s", amount, address),
		})
	})
	rec, err = s.finish(ctx, "physical_collection", rec, err)
	if err == nil {
		s.notify(ctx, notification.Message{
			Kind:        notification.KindCollectionRequested,
			Destination: userID,
			Body:        fmt.Sprintf("Your request to collect %sg of gold is pending", amount),
		})
	}
	return rec, err
}

// ResolveCollection settles a pending physical collection. COMPLETED keeps
// the gold out of the balance; FAILED returns it to the owner in the same
// atomic unit as the status change.
func (s *Service) ResolveCollection(ctx context.Context, transactionID string, outcome ledger.Status) (ledger.Transaction, error) {
	if !outcome.Terminal() {
		return ledger.Transaction{}, fmt.Errorf("%w: outcome must be %s or %s", ErrValidation, ledger.StatusCompleted, ledger.StatusFailed)
	}
	current, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if current.Kind != ledger.KindPhysicalCollection {
		return ledger.Transaction{}, fmt.Errorf("transaction %s is %s: %w", transactionID, current.Kind, ledger.ErrInvalidTransition)
	}
	gold := ledger.GoldOf(current.SenderID)

	rec, err := s.execute(ctx, []ledger.AccountKey{gold}, func(ctx context.Context, tx ledger.Tx) (ledger.Transaction, error) {
		updated, err := tx.Transition(ctx, transactionID, outcome)
		if err != nil {
			return ledger.Transaction{}, err
		}
		if outcome == ledger.StatusFailed {
			if _, err := tx.ApplyDelta(ctx, gold, updated.Amount); err != nil {
				return ledger.Transaction{}, err
			}
		}
		return updated, nil
	})
	rec, err = s.finish(ctx, "resolve_collection", rec, err)
	if err == nil {
		s.notify(ctx, notification.Message{
			Kind:        notification.KindCollectionResolved,
			Destination: rec.SenderID,
			Body:        fmt.Sprintf("Your collection of %sg of gold is %s", rec.Amount, strings.ToLower(string(rec.Status))),
		})
	}
	return rec, err
}

// execute runs op as one atomic unit under exclusive access to keys.
func (s *Service) execute(ctx context.Context, keys []ledger.AccountKey, op func(ctx context.Context, tx ledger.Tx) (ledger.Transaction, error)) (ledger.Transaction, error) {
	var rec ledger.Transaction
	err := s.locks.WithExclusive(ctx, keys, func(ctx context.Context) error {
		return s.store.Atomically(ctx, func(ctx context.Context, tx ledger.Tx) error {
			var err error
			rec, err = op(ctx, tx)
			return err
		})
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	return rec, nil
}

func (s *Service) finish(ctx context.Context, op string, rec ledger.Transaction, err error) (ledger.Transaction, error) {
	if err != nil {
		level := slog.LevelInfo
		if errors.Is(err, ledger.ErrPersistence) {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "wallet."+op+" rejected", slog.Any("error", err))
		return ledger.Transaction{}, err
	}
	s.logger.Info("wallet."+op+" completed",
		slog.String("transaction_id", rec.ID),
		slog.String("user_id", rec.SenderID),
		slog.String("amount", rec.Amount.String()),
		slog.String("asset", string(rec.Asset)),
		slog.String("status", string(rec.Status)),
	)
	return rec, nil
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification failed", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}

func (s *Service) checkBankAccount(ctx context.Context, userID, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("%w: bank account is required", ErrValidation)
	}
	ok, err := s.banks.IsVerified(ctx, userID, ref)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("invalid or unverified bank account: %w", ledger.ErrNotFound)
	}
	return nil
}

func requireBalance(ctx context.Context, tx ledger.Tx, key ledger.AccountKey, needed decimal.Decimal, msg string) error {
	balance, err := tx.Balance(ctx, key)
	if err != nil {
		return err
	}
	if balance.LessThan(needed) {
		return fmt.Errorf("%s: %w", msg, ledger.ErrInsufficientBalance)
	}
	return nil
}

func validateAmount(amount decimal.Decimal, asset ledger.Asset) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !amount.Equal(amount.Truncate(asset.Scale())) {
		return fmt.Errorf("%w: %s amounts allow at most %d decimal places", ErrValidation, strings.ToLower(string(asset)), asset.Scale())
	}
	return nil
}

func validatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: gold price must be positive", ErrValidation)
	}
	if !price.Equal(price.Truncate(priceScale)) {
		return fmt.Errorf("%w: gold price allows at most %d decimal places", ErrValidation, priceScale)
	}
	return nil
}
