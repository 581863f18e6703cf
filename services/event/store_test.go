package event

import (
	"context"
	"testing"
	"time"

	"merchant-voucher/services/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func minted(tx string, block, logIndex uint64, amount int) Event {
	return Event{
		TxHash:          common.HexToHash(tx),
		From:            common.HexToAddress(ownerHex),
		LogIndex:        logIndex,
		BlockNumber:     block,
		TriggeredAt:     time.Unix(int64(1_700_000_000+block), 0).UTC(),
		ContractAddress: common.HexToAddress(shopHex),
		Name:            NameVoucherMinted,
		Inputs: []Input{
			{Name: "tokenId", Value: raw("1")},
			{Name: "to", Value: raw(ownerHex)},
			{Name: "amount", Value: raw(amount)},
		},
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	n, err := store.Append(ctx, []Event{minted("0xb", 2, 0, 5), minted("0xa", 1, 1, 3), minted("0xa", 1, 0, 1)})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = store.Append(ctx, []Event{minted("0xa", 1, 0, 1), minted("0xc", 3, 0, 7)})
	require.NoError(t, err)
	require.Equal(t, 1, n, "duplicates are ignored")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), count)

	all, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, Position{Block: 1, LogIndex: 0}, all[0].Position())
	require.Equal(t, Position{Block: 1, LogIndex: 1}, all[1].Position())
	require.Equal(t, Position{Block: 3, LogIndex: 0}, all[3].Position())
	require.Equal(t, minted("0xa", 1, 0, 1).Fingerprint(), all[0].Fingerprint())

	page, err := store.Page(ctx, Position{Block: 1, LogIndex: 1}, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(2), page[0].BlockNumber)

	got, err := store.Get(ctx, Key{TxHash: common.HexToHash("0xa"), LogIndex: 0})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, uint64(1), got.BlockNumber)

	got, err = store.Get(ctx, Key{TxHash: common.HexToHash("0xdead"), LogIndex: 0})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGormStore(t *testing.T) {
	db := testutil.NewTestDB(t, &Record{})
	exerciseStore(t, NewGormStore(db))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func exerciseCursors(t *testing.T, cursors CursorStore) {
	t.Helper()
	ctx := context.Background()

	offsets, err := cursors.Offsets(ctx)
	require.NoError(t, err)
	require.Empty(t, offsets)

	require.NoError(t, cursors.SaveOffsets(ctx, map[string]int{"voucher/VoucherMinted": 50, "voucher/VoucherUsed": 3}))
	require.NoError(t, cursors.SaveOffsets(ctx, map[string]int{"voucher/VoucherMinted": 60}))

	offsets, err = cursors.Offsets(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"voucher/VoucherMinted": 60, "voucher/VoucherUsed": 3}, offsets)
}

func TestGormCursorStore(t *testing.T) {
	db := testutil.NewTestDB(t, &SourceOffset{})
	exerciseCursors(t, NewGormCursorStore(db))
}

func TestMemoryCursorStore(t *testing.T) {
	exerciseCursors(t, NewMemoryCursorStore())
}
