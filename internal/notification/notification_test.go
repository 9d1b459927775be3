package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newInbox(t *testing.T, size int) (*Inbox, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewInbox(client, size, time.Hour), mr
}

func TestInboxKeepsNewestFirstAndCaps(t *testing.T) {
	inbox, mr := newInbox(t, 2)
	ctx := context.Background()

	for _, body := range []string{"one", "two", "three"} {
		if err := inbox.Send(ctx, Message{Kind: KindTransferReceived, Destination: "bob", Body: body}); err != nil {
			t.Fatalf("send %s: %v", body, err)
		}
	}

	got, err := inbox.Recent(ctx, "bob", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].Body != "three" || got[1].Body != "two" {
		t.Fatalf("unexpected inbox %+v", got)
	}
	if got[0].Destination != "bob" || got[0].CreatedAt.IsZero() {
		t.Fatalf("expected destination and timestamp, got %+v", got[0])
	}
	if ttl := mr.TTL(inboxPrefix + "bob"); ttl != time.Hour {
		t.Fatalf("expected inbox ttl, got %s", ttl)
	}

	other, err := inbox.Recent(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("inboxes are per user, got %+v", other)
	}
}

func TestInboxRejectsMissingDestination(t *testing.T) {
	inbox, _ := newInbox(t, 0)
	if err := inbox.Send(context.Background(), Message{Kind: KindTransferReceived}); err == nil {
		t.Fatal("expected error without destination")
	}
}

type failing struct{ err error }

func (f failing) Send(context.Context, Message) error { return f.err }

func TestFanoutDeliversToAll(t *testing.T) {
	inbox, _ := newInbox(t, 5)
	boom := errors.New("boom")
	err := Fanout{failing{boom}, NewLog(nil), inbox}.Send(context.Background(), Message{Kind: KindCollectionRequested, Destination: "alice", Body: "pending"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	got, err := inbox.Recent(context.Background(), "alice", 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("later notifiers still receive the message, got %+v %v", got, err)
	}
}
