package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that registers the account owner and sets a
// balance directly when using the in-memory store.
func SeedBalance(s Store, key AccountKey, amount decimal.Decimal) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.users[key.UserID] = struct{}{}
		mem.balances[key] = amount
	}
}

// FailNextCommit makes the next in-memory commit fail with err wrapped in
// ErrPersistence.
func FailNextCommit(s Store, err error) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.failCommit = err
	}
}
