package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KindTransferReceived tells a receiver that a transfer landed in their account.
	KindTransferReceived = "transfer_received"
	// KindCollectionRequested confirms a physical gold collection request.
	KindCollectionRequested = "collection_requested"
	// KindCollectionResolved reports the final outcome of a collection request.
	KindCollectionResolved = "collection_resolved"

	inboxPrefix      = "notifications:v1:"
	defaultInboxSize = 50
)

// Message is delivered to Destination, a user id.
type Message struct {
	Kind        string    `json:"kind"`
	Destination string    `json:"-"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// Log writes notifications to the structured logger.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (n *Log) Send(ctx context.Context, m Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.InfoContext(ctx, "notification", "kind", m.Kind, "user_id", m.Destination, "body", m.Body)
	return nil
}

// Inbox keeps the most recent notifications per user in a capped Redis list.
type Inbox struct {
	client *redis.Client
	size   int64
	ttl    time.Duration
	now    func() time.Time
}

// NewInbox stores up to size messages per user. Idle inboxes expire after ttl;
// a zero ttl keeps them forever.
func NewInbox(client *redis.Client, size int, ttl time.Duration) *Inbox {
	if size <= 0 {
		size = defaultInboxSize
	}
	return &Inbox{client: client, size: int64(size), ttl: ttl, now: time.Now}
}

func (n *Inbox) Send(ctx context.Context, m Message) error {
	if m.Destination == "" {
		return errors.New("notification has no destination")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = n.now().UTC()
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	key := inboxPrefix + m.Destination
	pipe := n.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, n.size-1)
	if n.ttl > 0 {
		pipe.Expire(ctx, key, n.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

// Recent returns up to limit messages for userID, newest first.
func (n *Inbox) Recent(ctx context.Context, userID string, limit int) ([]Message, error) {
	if limit <= 0 || int64(limit) > n.size {
		limit = int(n.size)
	}
	raw, err := n.client.LRange(ctx, inboxPrefix+userID, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read notifications: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			continue
		}
		m.Destination = userID
		out = append(out, m)
	}
	return out, nil
}

// Fanout sends every message to all notifiers and joins their errors.
type Fanout []Notifier

func (f Fanout) Send(ctx context.Context, m Message) error {
	var errs []error
	for _, n := range f {
		if err := n.Send(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
