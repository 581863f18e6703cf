package claimpool

import (
	"fmt"
	"testing"

	"merchant-voucher/services/balance"
	"merchant-voucher/services/outcome"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func claimer(n int) common.Address {
	return common.HexToAddress(fmt.Sprintf("0x%040x", n+1))
}

func TestOpenRejectsZeroPerClaim(t *testing.T) {
	p := New(balance.NewLedger())
	require.ErrorIs(t, p.Open(1, uint256.NewInt(10), uint256.NewInt(0)), ErrInvalidPerClaimLimit)
	_, ok := p.Get(1)
	require.False(t, ok)
}

func TestTenClaimsThenExhausted(t *testing.T) {
	ledger := balance.NewLedger()
	p := New(ledger)
	require.NoError(t, p.Open(5, uint256.NewInt(1_000_000_000), uint256.NewInt(100_000_000)))

	for i := 0; i < 10; i++ {
		res, err := p.Claim(5, claimer(i))
		require.NoError(t, err)
		require.Equal(t, outcome.Accept(), res, "claimer %d", i)
		require.Equal(t, uint64(100_000_000), ledger.BalanceOf(claimer(i), 5).Uint64())
	}

	res, err := p.Claim(5, claimer(10))
	require.NoError(t, err)
	require.Equal(t, outcome.Reject(outcome.PoolExhausted), res)
	require.True(t, ledger.BalanceOf(claimer(10), 5).IsZero())

	entry, ok := p.Get(5)
	require.True(t, ok)
	require.True(t, entry.AvailableAmount.IsZero())
	require.Len(t, entry.ClaimedBy, 10)
	require.Empty(t, p.ListClaimable())
}

func TestSecondClaimIsRejected(t *testing.T) {
	ledger := balance.NewLedger()
	p := New(ledger)
	require.NoError(t, p.Open(1, uint256.NewInt(300), uint256.NewInt(100)))

	res, err := p.Claim(1, claimer(0))
	require.NoError(t, err)
	require.True(t, res.IsAccepted())
	require.True(t, p.HasClaimed(1, claimer(0)))

	res, err = p.Claim(1, claimer(0))
	require.NoError(t, err)
	require.Equal(t, outcome.Reject(outcome.AlreadyClaimed), res)

	entry, _ := p.Get(1)
	require.Equal(t, uint64(200), entry.AvailableAmount.Uint64())
	require.Equal(t, uint64(100), ledger.BalanceOf(claimer(0), 1).Uint64())
}

func TestClaimWithoutPool(t *testing.T) {
	p := New(balance.NewLedger())
	res, err := p.Claim(3, claimer(0))
	require.NoError(t, err)
	require.Equal(t, outcome.PoolExhausted, res.Reason)
	require.Equal(t, outcome.PoolExhausted, p.Check(3, claimer(0)).Reason)
}

func TestOpenIsAdditive(t *testing.T) {
	p := New(balance.NewLedger())
	require.NoError(t, p.Open(2, uint256.NewInt(100), uint256.NewInt(50)))
	require.NoError(t, p.Open(2, uint256.NewInt(100), uint256.NewInt(50)))

	entry, ok := p.Get(2)
	require.True(t, ok)
	require.Equal(t, uint64(200), entry.AvailableAmount.Uint64())

	require.NoError(t, p.Open(2, uint256.NewInt(0), uint256.NewInt(25)))
	entry, _ = p.Get(2)
	require.Equal(t, uint64(25), entry.PerClaimLimit.Uint64())
	require.Equal(t, uint64(200), entry.AvailableAmount.Uint64())
}

func TestRemainderBelowPerClaimIsExhausted(t *testing.T) {
	p := New(balance.NewLedger())
	require.NoError(t, p.Open(4, uint256.NewInt(150), uint256.NewInt(100)))

	res, err := p.Claim(4, claimer(0))
	require.NoError(t, err)
	require.True(t, res.IsAccepted())

	res, err = p.Claim(4, claimer(1))
	require.NoError(t, err)
	require.Equal(t, outcome.PoolExhausted, res.Reason)

	claimable := p.ListClaimable()
	require.Len(t, claimable, 1)
	require.Equal(t, uint64(50), claimable[0].AvailableAmount.Uint64())
}
