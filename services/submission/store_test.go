package submission

import (
	"context"
	"os"
	"testing"
	"time"

	"merchant-voucher/services/outcome"

	"github.com/bwmarrin/snowflake"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	hash := common.HexToHash("0x01")
	p := &Proposal{
		ID:        node.Generate().String(),
		Code:      "USE-260101-001AB",
		Kind:      KindUse,
		Requester: holder,
		Params:    []byte(`{"token_id":1,"amount":"5"}`),
		Status:    outcome.Pending,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Save(ctx, p))

	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.Requester, got.Requester)
	require.Equal(t, outcome.Pending, got.Status)
	require.JSONEq(t, string(p.Params), string(got.Params))

	got.TxHash = &hash
	got.Status = outcome.Rejected
	got.Reason = outcome.InsufficientBalance
	require.NoError(t, store.Save(ctx, got))

	again, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, outcome.Reject(outcome.InsufficientBalance), again.Outcome())
	require.Equal(t, hash, *again.TxHash)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

// TestRedisStore runs against a live redis when TEST_REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	exerciseStore(t, NewRedisStore(rdb, time.Minute))
}
