package balance

import (
	"testing"

	"merchant-voucher/services/outcome"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var holder = common.HexToAddress("0x000000000000000000000000000000000000beef")

func TestCreditRequiresPositiveAmount(t *testing.T) {
	l := NewLedger()
	require.ErrorIs(t, l.Credit(holder, 1, uint256.NewInt(0)), ErrNonPositiveAmount)
	require.ErrorIs(t, l.Credit(holder, 1, nil), ErrNonPositiveAmount)
	require.True(t, l.BalanceOf(holder, 1).IsZero())
}

func TestCreditAndDebit(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Credit(holder, 1, uint256.NewInt(300)))
	require.NoError(t, l.Credit(holder, 1, uint256.NewInt(200)))
	require.Equal(t, uint64(500), l.BalanceOf(holder, 1).Uint64())

	require.Equal(t, outcome.Accept(), l.Debit(holder, 1, uint256.NewInt(500)))
	require.True(t, l.BalanceOf(holder, 1).IsZero())

	res := l.Debit(holder, 1, uint256.NewInt(1))
	require.Equal(t, outcome.Reject(outcome.InsufficientBalance), res)
	require.True(t, l.BalanceOf(holder, 1).IsZero())

	res = l.Debit(holder, 2, uint256.NewInt(1))
	require.Equal(t, outcome.InsufficientBalance, res.Reason)
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Credit(holder, 1, uint256.NewInt(10)))

	b := l.BalanceOf(holder, 1)
	b.SetUint64(999)
	require.Equal(t, uint64(10), l.BalanceOf(holder, 1).Uint64())
}

func TestConsumptionCount(t *testing.T) {
	l := NewLedger()
	require.Zero(t, l.ConsumptionCountOf(holder, 1))
	require.Equal(t, uint64(1), l.RecordConsumption(holder, 1))
	require.Equal(t, uint64(2), l.RecordConsumption(holder, 1))
	require.Equal(t, uint64(2), l.ConsumptionCountOf(holder, 1))
}

func TestHoldingsSortedDescending(t *testing.T) {
	other := common.HexToAddress("0x0000000000000000000000000000000000000001")
	l := NewLedger()
	require.NoError(t, l.Credit(holder, 1, uint256.NewInt(1)))
	require.NoError(t, l.Credit(holder, 5, uint256.NewInt(1)))
	require.NoError(t, l.Credit(holder, 3, uint256.NewInt(1)))
	require.NoError(t, l.Credit(other, 4, uint256.NewInt(1)))
	require.Equal(t, outcome.Accept(), l.Debit(holder, 3, uint256.NewInt(1)))

	holdings := l.Holdings(holder)
	require.Len(t, holdings, 2)
	require.Equal(t, uint64(5), holdings[0].TokenID)
	require.Equal(t, uint64(1), holdings[1].TokenID)

	require.Len(t, l.All(), 4)
	l.Reset()
	require.Empty(t, l.All())
}
