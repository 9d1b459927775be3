package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type inMemoryStore struct {
	mu       sync.RWMutex
	now      func() time.Time
	users    map[string]struct{}
	balances map[AccountKey]decimal.Decimal
	records  []Transaction
	index    map[string]int

	failCommit error
}

// NewInMemory creates a concurrency-safe in-memory ledger store useful for
// unit tests and development mode.
func NewInMemory(opts ...Option) Store {
	o := buildOptions(opts)
	return &inMemoryStore{
		now:      o.now,
		users:    make(map[string]struct{}),
		balances: make(map[AccountKey]decimal.Decimal),
		index:    make(map[string]int),
	}
}

func (s *inMemoryStore) EnsureAccounts(_ context.Context, userID string) error {
	if userID == "" {
		return ErrAccountNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = struct{}{}
	for _, key := range []AccountKey{MoneyOf(userID), GoldOf(userID)} {
		if _, exists := s.balances[key]; !exists {
			s.balances[key] = decimal.Zero
		}
	}
	return nil
}

func (s *inMemoryStore) Balance(_ context.Context, key AccountKey) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[key], nil
}

func (s *inMemoryStore) Get(_ context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return s.records[i], nil
}

func (s *inMemoryStore) ListByParticipant(_ context.Context, userID string, filter Filter) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Transaction
	skipped := 0
	for i := len(s.records) - 1; i >= 0; i-- {
		t := s.records[i]
		if t.SenderID != userID && t.ReceiverID != userID {
			continue
		}
		if !filter.matches(t) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, t)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *inMemoryStore) CountByParticipant(ctx context.Context, userID string, filter Filter) (int, error) {
	filter.Limit, filter.Offset = 0, 0
	list, err := s.ListByParticipant(ctx, userID, filter)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

func (s *inMemoryStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &inMemoryTx{
		store:       s,
		deltas:      make(map[AccountKey]decimal.Decimal),
		transitions: make(map[string]Transaction),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// commit applies a staged unit of work. Balances are re-checked under the
// write lock so the store never goes negative even without external locking.
func (s *inMemoryStore) commit(tx *inMemoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCommit != nil {
		err := s.failCommit
		s.failCommit = nil
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	next := make(map[AccountKey]decimal.Decimal, len(tx.deltas))
	for key, delta := range tx.deltas {
		balance := s.balances[key].Add(delta)
		if balance.IsNegative() {
			return fmt.Errorf("%s: %w", key, ErrInsufficientBalance)
		}
		next[key] = balance
	}
	for id := range tx.transitions {
		i, ok := s.index[id]
		if !ok {
			return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		if s.records[i].Status != StatusPending {
			return fmt.Errorf("transaction %s is %s: %w", id, s.records[i].Status, ErrInvalidTransition)
		}
	}
	for _, t := range tx.appended {
		if _, dup := s.index[t.ID]; dup {
			return fmt.Errorf("%w: duplicate transaction id %s", ErrPersistence, t.ID)
		}
	}

	for key, balance := range next {
		s.balances[key] = balance
	}
	for id, t := range tx.transitions {
		s.records[s.index[id]] = t
	}
	for _, t := range tx.appended {
		s.index[t.ID] = len(s.records)
		s.records = append(s.records, t)
	}
	return nil
}

type inMemoryTx struct {
	store       *inMemoryStore
	deltas      map[AccountKey]decimal.Decimal
	appended    []Transaction
	transitions map[string]Transaction
}

func (tx *inMemoryTx) Balance(_ context.Context, key AccountKey) (decimal.Decimal, error) {
	tx.store.mu.RLock()
	committed := tx.store.balances[key]
	tx.store.mu.RUnlock()
	return committed.Add(tx.deltas[key]), nil
}

func (tx *inMemoryTx) ApplyDelta(ctx context.Context, key AccountKey, delta decimal.Decimal) (decimal.Decimal, error) {
	tx.store.mu.RLock()
	_, known := tx.store.users[key.UserID]
	tx.store.mu.RUnlock()
	if !known {
		return decimal.Zero, fmt.Errorf("%s: %w", key, ErrAccountNotFound)
	}

	current, err := tx.Balance(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	updated := current.Add(delta)
	if updated.IsNegative() {
		return current, fmt.Errorf("%s: %w", key, ErrInsufficientBalance)
	}
	tx.deltas[key] = tx.deltas[key].Add(delta)
	return updated, nil
}

func (tx *inMemoryTx) Append(_ context.Context, draft Draft) (Transaction, error) {
	if err := draft.validate(); err != nil {
		return Transaction{}, err
	}
	now := tx.store.now()
	t := Transaction{
		ID:          uuid.NewString(),
		Kind:        draft.Kind,
		SenderID:    draft.SenderID,
		ReceiverID:  draft.ReceiverID,
		Amount:      draft.Amount,
		Asset:       draft.Asset,
		UnitPrice:   draft.UnitPrice,
		Reference:   draft.Reference,
		Status:      draft.Status,
		Description: draft.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx.appended = append(tx.appended, t)
	return t, nil
}

func (tx *inMemoryTx) Get(ctx context.Context, id string) (Transaction, error) {
	if t, ok := tx.transitions[id]; ok {
		return t, nil
	}
	for _, t := range tx.appended {
		if t.ID == id {
			return t, nil
		}
	}
	return tx.store.Get(ctx, id)
}

func (tx *inMemoryTx) Transition(ctx context.Context, id string, to Status) (Transaction, error) {
	t, err := tx.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if !CanTransition(t.Status, to) {
		return t, fmt.Errorf("transaction %s %s -> %s: %w", id, t.Status, to, ErrInvalidTransition)
	}
	t.Status = to
	t.UpdatedAt = tx.store.now()
	for i := range tx.appended {
		if tx.appended[i].ID == id {
			tx.appended[i] = t
			return t, nil
		}
	}
	tx.transitions[id] = t
	return t, nil
}
