package conversation_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/message"
)

func setupDBRegistryTest(t *testing.T, maxRecords int) (*conversation.DBRegistry, *pgxpool.Pool, message.AccountKey, func()) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skip integration test: TEST_POSTGRES_DSN is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skip integration test: cannot connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: database ping failed: %v", err)
	}

	key := message.AccountKey{Platform: "wechat", Account: "itest-" + uuid.NewString()}
	reg := conversation.NewDBRegistry(nil, pool, maxRecords)
	cleanup := func() {
		_, _ = pool.Exec(ctx, "DELETE FROM conversation_messages WHERE account_key = $1", key.String())
		pool.Close()
	}
	return reg, pool, key, cleanup
}

func TestIntegrationDBRegistry_AppendAndGet(t *testing.T) {
	reg, _, key, cleanup := setupDBRegistryTest(t, 3)
	defer cleanup()
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		msg := inbound(i, key.Account)
		if err := reg.AppendInbound(ctx, key, msg); err != nil {
			t.Fatalf("AppendInbound(%d): %v", i, err)
		}
	}

	snap, err := reg.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(snap.Inbound) != 3 {
		t.Fatalf("history length = %d, want 3", len(snap.Inbound))
	}
	for i, want := range []int64{3, 4, 5} {
		if snap.Inbound[i].MsgID != want {
			t.Errorf("history[%d].MsgID = %d, want %d", i, snap.Inbound[i].MsgID, want)
		}
	}

	last, err := reg.LastInbound(ctx, key)
	if err != nil {
		t.Fatalf("LastInbound: %v", err)
	}
	if last == nil || last.MsgID != 5 {
		t.Fatalf("LastInbound = %+v, want MsgID 5", last)
	}
}

func TestIntegrationDBRegistry_OutboundAndSweep(t *testing.T) {
	reg, pool, key, cleanup := setupDBRegistryTest(t, 10)
	defer cleanup()
	ctx := context.Background()

	reply := &message.TextReply{Content: "hello back"}
	reply.ReplyHeader = message.ReplyHeader{
		Platform:    "wechat",
		FromAccount: "official",
		ToAccount:   key.Account,
		CreateTime:  time.Now().Unix(),
	}
	if err := reg.AppendOutbound(ctx, key, reply); err != nil {
		t.Fatalf("AppendOutbound: %v", err)
	}

	snap, err := reg.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(snap.Outbound) != 1 || snap.Outbound[0].Kind != message.ReplyText {
		t.Fatalf("outbound = %+v, want one text record", snap.Outbound)
	}

	// Backdate the row so the sweep has something to expire.
	if _, err := pool.Exec(ctx,
		"UPDATE conversation_messages SET recorded_at = now() - interval '2 days' WHERE account_key = $1",
		key.String(),
	); err != nil {
		t.Fatalf("backdate rows: %v", err)
	}
	removed, err := reg.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if removed < 1 {
		t.Fatalf("removed = %d, want at least 1", removed)
	}
}

func TestIntegrationDBRegistry_LastInboundEmpty(t *testing.T) {
	reg, _, _, cleanup := setupDBRegistryTest(t, 10)
	defer cleanup()

	empty := message.AccountKey{Platform: "wechat", Account: fmt.Sprintf("missing-%s", uuid.NewString())}
	last, err := reg.LastInbound(context.Background(), empty)
	if err != nil || last != nil {
		t.Fatalf("LastInbound(missing) = (%+v, %v), want (nil, nil)", last, err)
	}
}
