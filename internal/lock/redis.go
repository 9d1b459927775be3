package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aurum-pay/aurum_pay/internal/ledger"
	"github.com/aurum-pay/aurum_pay/internal/logging"
)

const (
	redisLockPrefix   = "lock:v1:"
	redisRetryBackoff = 10 * time.Millisecond
)

// unlockScript deletes the key only while it still carries our token, so an
// expired lock that was re-acquired by someone else is never released by us.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Controller shared by every instance pointing at the same Redis.
// The TTL bounds how long a crashed holder can block an account and must be
// longer than any critical section.
type Redis struct {
	client *redis.Client
	wait   time.Duration
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis builds a Redis-backed controller. logger may be nil.
func NewRedis(client *redis.Client, wait, ttl time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Redis{client: client, wait: wait, ttl: ttl, logger: logger}
}

// WithExclusive implements Controller.
func (r *Redis) WithExclusive(ctx context.Context, keys []ledger.AccountKey, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	keys = ordered(keys)
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)

	held := make([]string, 0, len(keys))
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := unlockScript.Run(releaseCtx, r.client, []string{held[i]}, token).Err(); err != nil {
				r.logger.Warn("lock release failed", slog.String("key", held[i]), slog.Duration("expires_in", r.ttl), slog.Any("error", err))
			}
		}
	}()

	for _, key := range keys {
		name := redisLockPrefix + key.String()
		if err := r.acquire(ctx, name, token, deadline); err != nil {
			return err
		}
		held = append(held, name)
	}

	return fn(context.WithoutCancel(ctx))
}

func (r *Redis) acquire(ctx context.Context, name, token string, deadline time.Time) error {
	for {
		ok, err := r.client.SetNX(ctx, name, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("acquire %s: %w", name, err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%s: %w", name, ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(redisRetryBackoff):
		}
	}
}
