package bankaccount

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no bank account matches the lookup.
	ErrNotFound = errors.New("bank account not found")
	// ErrAlreadyLinked is returned when the user already linked the account number.
	ErrAlreadyLinked = errors.New("bank account already exists")
	// ErrInvalid wraps input validation failures.
	ErrInvalid = errors.New("invalid bank account")
)

// Service manages linked bank accounts and answers verification lookups for
// money movements.
type Service struct {
	repo Repository
}

// NewService builds a bank account service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// AddInput captures the data needed to link a bank account.
type AddInput struct {
	UserID        string
	BankName      string
	AccountNumber string
	AccountType   string
}

// Add links a new, unverified bank account to the user.
func (s *Service) Add(ctx context.Context, input AddInput) (BankAccount, error) {
	bankName := strings.TrimSpace(input.BankName)
	number := strings.ReplaceAll(strings.TrimSpace(input.AccountNumber), " ", "")
	accountType := strings.ToUpper(strings.TrimSpace(input.AccountType))

	if input.UserID == "" {
		return BankAccount{}, fmt.Errorf("%w: user is required", ErrInvalid)
	}
	if len(bankName) < 2 || len(bankName) > 100 {
		return BankAccount{}, fmt.Errorf("%w: bank name must be between 2 and 100 characters", ErrInvalid)
	}
	if len(number) < 8 || len(number) > 30 {
		return BankAccount{}, fmt.Errorf("%w: account number must be between 8 and 30 characters", ErrInvalid)
	}
	switch accountType {
	case TypeSavings, TypeChecking, TypeCurrent:
	default:
		return BankAccount{}, fmt.Errorf("%w: account type must be one of %s, %s, %s", ErrInvalid, TypeSavings, TypeChecking, TypeCurrent)
	}

	account := BankAccount{
		ID:            uuid.NewString(),
		UserID:        input.UserID,
		BankName:      bankName,
		AccountNumber: number,
		AccountType:   accountType,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return BankAccount{}, err
	}
	return account, nil
}

// List returns the user's linked bank accounts.
func (s *Service) List(ctx context.Context, userID string) ([]BankAccount, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Remove unlinks a bank account owned by the user.
func (s *Service) Remove(ctx context.Context, userID, id string) error {
	return s.repo.Delete(ctx, id, userID)
}

// Verify marks an account as verified. Called by back-office tooling once the
// bank confirms ownership.
func (s *Service) Verify(ctx context.Context, id string) (BankAccount, error) {
	if err := s.repo.MarkVerified(ctx, id); err != nil {
		return BankAccount{}, err
	}
	return s.repo.Get(ctx, id)
}

// IsVerified reports whether ref is a verified bank account owned by userID.
// Unknown references are not an error, they are simply not verified.
func (s *Service) IsVerified(ctx context.Context, userID, ref string) (bool, error) {
	account, err := s.repo.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return account.UserID == userID && account.Verified, nil
}
