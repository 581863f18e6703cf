package accesscontrol

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000bad")
)

func TestDefaultRoles(t *testing.T) {
	e, err := New("", "")
	require.NoError(t, err)

	require.ErrorIs(t, e.Authorize(admin, "issue"), ErrForbidden)

	require.NoError(t, e.Grant(admin, RoleCertifier))
	require.NoError(t, e.Authorize(admin, "issue"))
	require.NoError(t, e.Authorize(admin, "revoke"))
	require.ErrorIs(t, e.Authorize(admin, "mint"), ErrForbidden)
	require.ErrorIs(t, e.Authorize(stranger, "issue"), ErrForbidden)

	require.NoError(t, e.Grant(admin, RoleIssuer))
	require.NoError(t, e.Authorize(admin, "open-pool"))
}

func TestPolicyFile(t *testing.T) {
	dir := t.TempDir()
	policy := filepath.Join(dir, "policy.csv")
	content := "p, certifier, proposal, issue\n" +
		"g, 0x00000000000000000000000000000000000000ad, certifier\n"
	require.NoError(t, os.WriteFile(policy, []byte(content), 0o600))

	e, err := New("", policy)
	require.NoError(t, err)
	require.NoError(t, e.Authorize(admin, "issue"))
	require.ErrorIs(t, e.Authorize(admin, "revoke"), ErrForbidden)
}
