package lock

import (
	"context"
	"errors"
	"sort"

	"github.com/aurum-pay/aurum_pay/internal/ledger"
)

// ErrTimeout is returned when exclusive access could not be acquired within
// the configured wait. Callers may retry.
var ErrTimeout = errors.New("lock wait timeout")

// Controller serialises critical sections over sets of accounts. Sections on
// disjoint key sets run concurrently; overlapping ones run one at a time.
type Controller interface {
	// WithExclusive acquires every key, runs fn and releases the keys on every
	// exit path. fn receives a context that is no longer cancellable: once the
	// locks are held the section always runs to completion.
	WithExclusive(ctx context.Context, keys []ledger.AccountKey, fn func(ctx context.Context) error) error
}

// IsRetryable reports whether err is contention the caller may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// ordered de-duplicates keys and sorts them into the global acquisition order.
func ordered(keys []ledger.AccountKey) []ledger.AccountKey {
	seen := make(map[ledger.AccountKey]struct{}, len(keys))
	out := make([]ledger.AccountKey, 0, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
