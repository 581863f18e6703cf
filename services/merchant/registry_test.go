package merchant

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestIssueAndIsValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry()

	id := r.Issue(Certificate{TokenID: 7, Owner: alice, MerchantTypeID: 1, Expiry: now.Add(24 * time.Hour)})
	require.Equal(t, uint64(7), id)

	require.True(t, r.IsValid(7, now))
	require.False(t, r.IsValid(7, now.Add(24*time.Hour)), "validity ends at expiry")
	require.False(t, r.IsValid(8, now))

	cert, err := r.CertOf(7)
	require.NoError(t, err)
	require.Equal(t, alice, cert.Owner)
	require.Equal(t, uint64(1), cert.MerchantTypeID)
}

func TestCertOfNotFound(t *testing.T) {
	_, err := NewRegistry().CertOf(1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeIsOneWayAndIdempotent(t *testing.T) {
	now := time.Now()
	r := NewRegistry()
	r.Issue(Certificate{TokenID: 1, Owner: alice, MerchantTypeID: 1, Expiry: now.Add(time.Hour)})

	r.Revoke(1)
	r.Revoke(1)
	r.Revoke(99)
	require.False(t, r.IsValid(1, now))

	// a replayed issuance must not resurrect the certificate
	r.Issue(Certificate{TokenID: 1, Owner: alice, MerchantTypeID: 1, Expiry: now.Add(time.Hour)})
	require.False(t, r.IsValid(1, now))

	cert, err := r.CertOf(1)
	require.NoError(t, err)
	require.True(t, cert.Revoked)
}

func TestTransferAndOwnership(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	r := NewRegistry()
	r.Issue(Certificate{TokenID: 3, Owner: alice, MerchantTypeID: 1, Expiry: expiry})
	r.Issue(Certificate{TokenID: 1, Owner: alice, MerchantTypeID: 2, Expiry: expiry})

	owned := r.CertsOwnedBy(alice)
	require.Len(t, owned, 2)
	require.Equal(t, uint64(1), owned[0].TokenID)
	require.Equal(t, uint64(3), owned[1].TokenID)

	require.NoError(t, r.Transfer(3, bob))
	require.Len(t, r.CertsOwnedBy(alice), 1)
	require.Len(t, r.CertsOwnedBy(bob), 1)
	require.ErrorIs(t, r.Transfer(42, bob), ErrNotFound)

	require.Len(t, r.List(), 2)
	r.Reset()
	require.Empty(t, r.List())
}
