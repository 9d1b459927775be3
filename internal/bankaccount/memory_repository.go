package bankaccount

import (
	"context"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]BankAccount
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{accounts: make(map[string]BankAccount)}
}

func (r *memoryRepository) Create(_ context.Context, account BankAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.UserID == account.UserID && existing.AccountNumber == account.AccountNumber {
			return ErrAlreadyLinked
		}
	}
	r.accounts[account.ID] = account
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (BankAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[id]
	if !ok {
		return BankAccount{}, ErrNotFound
	}
	return account, nil
}

func (r *memoryRepository) ListByUser(_ context.Context, userID string) ([]BankAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []BankAccount
	for _, account := range r.accounts {
		if account.UserID == userID {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) Delete(_ context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok || account.UserID != userID {
		return ErrNotFound
	}
	delete(r.accounts, id)
	return nil
}

func (r *memoryRepository) MarkVerified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	account.Verified = true
	r.accounts[id] = account
	return nil
}
