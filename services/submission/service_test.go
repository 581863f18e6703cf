package submission

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"merchant-voucher/pkg/accesscontrol"
	"merchant-voucher/pkg/featureflags"
	"merchant-voucher/pkg/gateway"
	"merchant-voucher/pkg/sequence"
	"merchant-voucher/pkg/taskname"
	"merchant-voucher/services/event"
	"merchant-voucher/services/event/eventtest"
	"merchant-voucher/services/outcome"
	"merchant-voucher/services/projector"

	"github.com/bwmarrin/snowflake"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	holder = common.HexToAddress("0x000000000000000000000000000000000000beef")
	shop   = common.HexToAddress("0x0000000000000000000000000000000000005a1e")
	admin  = common.HexToAddress("0x00000000000000000000000000000000000000ad")

	contracts = gateway.Contracts{
		Merchant: gateway.Contract{Alias: "merchant_certification", Label: "merchant_certification"},
		Voucher:  gateway.Contract{Alias: "voucher_token", Label: "voucher_token"},
	}
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	types []string
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, t.Type())
	return &asynq.TaskInfo{Type: t.Type()}, nil
}

func (f *fakeEnqueuer) Types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.types...)
}

type fixture struct {
	svc       *Service
	gw        *gateway.MockClient
	projector *projector.Projector
	store     *MemoryStore
	auth      *accesscontrol.Enforcer
	enqueuer  *fakeEnqueuer
}

func newFixture(t *testing.T, flags featureflags.FeatureFlag) *fixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	gw := gateway.NewMockClient(ctrl)

	p := projector.New(event.NewMemoryStore(), projector.NewViews(nil), projector.Options{})
	_, err := p.Ingest(context.Background(), []event.Event{
		eventtest.DefineType(1, 0, 1, 3, "100000000", []uint64{1, 2}),
		eventtest.MintCert(1, 1, 1, shop, 1),
		eventtest.MintVoucher(2, 0, 1, holder, "400000000"),
	})
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	auth, err := accesscontrol.New("", "")
	require.NoError(t, err)

	store := NewMemoryStore()
	enqueuer := &fakeEnqueuer{}
	svc := NewService(store, gw, contracts, p, node, sequence.NewMemoryGenerator(), auth, flags, enqueuer, Options{
		ConfirmTimeout: 50 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		ProposalTTL:    time.Hour,
	})
	svc.now = func() time.Time { return eventtest.At(10) }

	return &fixture{svc: svc, gw: gw, projector: p, store: store, auth: auth, enqueuer: enqueuer}
}

func (f *fixture) expectTx(t *testing.T, contract gateway.Contract, method string, from common.Address, args ...any) {
	f.gw.EXPECT().
		Call(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req gateway.CallRequest) (gateway.CallResult, error) {
			require.Equal(t, contract, req.Contract)
			require.Equal(t, method, req.Method)
			require.Equal(t, args, req.Args)
			require.NotNil(t, req.From)
			require.Equal(t, from, *req.From)
			return gateway.CallResult{
				Kind: gateway.KindTransactionSign,
				Tx:   &gateway.UnsignedTransaction{From: from.Hex(), To: "0x00000000000000000000000000000000000000c0", Data: "0x01"},
			}, nil
		})
}

func (f *fixture) balance() string {
	var out string
	f.projector.Read(func(v projector.Views) {
		out = v.Ledger.BalanceOf(holder, 1).Dec()
	})
	return out
}

func (f *fixture) ingest(t *testing.T, events ...event.Event) {
	t.Helper()
	_, err := f.projector.Ingest(context.Background(), events)
	require.NoError(t, err)
}

func TestProposeUsePending(t *testing.T) {
	f := newFixture(t, nil)
	f.expectTx(t, contracts.Voucher, "useVoucher", holder, "1", "100000000", shop.Hex(), "1")

	p, err := f.svc.ProposeUse(context.Background(), holder, UseParams{TokenID: 1, Amount: "100000000", Merchant: shop})
	require.NoError(t, err)
	require.Equal(t, outcome.Pending, p.Status)
	require.NotNil(t, p.Tx)
	require.NotEmpty(t, p.ID)
	require.Regexp(t, `^USE-`, p.Code)
	require.Equal(t, eventtest.At(10).Add(time.Hour), p.ExpiresAt)

	var params UseParams
	require.NoError(t, json.Unmarshal(p.Params, &params))
	require.Equal(t, uint64(1), *params.MerchantCertID)

	stored, err := f.store.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ID, stored.ID)

	// proposals never touch the views
	require.Equal(t, "400000000", f.balance())
	require.Equal(t, []string{taskname.ProposalExpire}, f.enqueuer.Types())
}

func TestProposeUseRejectedByPreflight(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		params UseParams
		reason outcome.Reason
	}{
		{"over single use limit", UseParams{TokenID: 1, Amount: "100000001", Merchant: shop}, outcome.SingleUseLimitExceeded},
		{"unknown type", UseParams{TokenID: 9, Amount: "1", Merchant: shop}, outcome.VoucherTypeInvalid},
		{"merchant without cert", UseParams{TokenID: 1, Amount: "1", Merchant: admin}, outcome.InvalidOrExpiredMerchantCert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.svc.ProposeUse(context.Background(), holder, tt.params)
			require.NoError(t, err)
			require.Equal(t, outcome.Rejected, p.Status)
			require.Equal(t, tt.reason, p.Reason)
			require.Nil(t, p.Tx)
		})
	}

	_, err := f.svc.ProposeUse(context.Background(), holder, UseParams{TokenID: 1, Amount: "0", Merchant: shop})
	require.ErrorIs(t, err, ErrInvalidParams)
	require.Equal(t, "400000000", f.balance())
}

func TestProposeClaim(t *testing.T) {
	f := newFixture(t, nil)

	p, err := f.svc.ProposeClaim(context.Background(), holder, ClaimParams{TokenID: 1})
	require.NoError(t, err)
	require.Equal(t, outcome.PoolExhausted, p.Reason)

	f.ingest(t,
		eventtest.OpenPool(3, 0, 1, "200000000", "100000000"),
		eventtest.Claim(4, 0, 1, holder, "100000000"),
	)

	p, err = f.svc.ProposeClaim(context.Background(), holder, ClaimParams{TokenID: 1})
	require.NoError(t, err)
	require.Equal(t, outcome.AlreadyClaimed, p.Reason)

	f.expectTx(t, contracts.Voucher, "claim", shop, "1")
	p, err = f.svc.ProposeClaim(context.Background(), shop, ClaimParams{TokenID: 1})
	require.NoError(t, err)
	require.Equal(t, outcome.Pending, p.Status)
}

func TestAdministrativeProposalsNeedRole(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	expiry := eventtest.At(10).Add(30 * 24 * time.Hour)

	_, err := f.svc.ProposeIssue(ctx, admin, IssueParams{To: shop, MerchantTypeID: 2, Expiry: expiry})
	require.ErrorIs(t, err, accesscontrol.ErrForbidden)

	require.NoError(t, f.auth.Grant(admin, accesscontrol.RoleCertifier))
	f.expectTx(t, contracts.Merchant, "mintCertification", admin, shop.Hex(), "2", eventtest.Unix(expiry))
	p, err := f.svc.ProposeIssue(ctx, admin, IssueParams{To: shop, MerchantTypeID: 2, Expiry: expiry})
	require.NoError(t, err)
	require.Equal(t, outcome.Pending, p.Status)
	require.Regexp(t, `^ISS-`, p.Code)

	f.expectTx(t, contracts.Merchant, "revokeCertification", admin, "1")
	_, err = f.svc.ProposeRevoke(ctx, admin, RevokeParams{TokenID: 1})
	require.NoError(t, err)

	_, err = f.svc.ProposeRevoke(ctx, admin, RevokeParams{TokenID: 42})
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = f.svc.ProposeMint(ctx, admin, MintParams{To: holder, TokenID: 1, Amount: "5"})
	require.ErrorIs(t, err, accesscontrol.ErrForbidden)

	require.NoError(t, f.auth.Grant(admin, accesscontrol.RoleIssuer))
	f.expectTx(t, contracts.Voucher, "mintVoucher", admin, holder.Hex(), "1", "5", "0x")
	_, err = f.svc.ProposeMint(ctx, admin, MintParams{To: holder, TokenID: 1, Amount: "5"})
	require.NoError(t, err)

	f.expectTx(t, contracts.Voucher, "defineVoucherType", admin, "7", eventtest.Unix(expiry), "2", "50", []string{"3"})
	_, err = f.svc.ProposeDefine(ctx, admin, DefineParams{
		TokenID:              7,
		Expiry:               expiry,
		MaxUsage:             2,
		SingleUsageLimit:     "50",
		AllowedMerchantTypes: []uint64{3},
	})
	require.NoError(t, err)

	f.expectTx(t, contracts.Voucher, "openClaimPool", admin, "1", "1000", "100")
	_, err = f.svc.ProposeOpenPool(ctx, admin, OpenPoolParams{TokenID: 1, TotalAmount: "1000", PerClaimLimit: "100"})
	require.NoError(t, err)

	// no voucher type 9
	p, err = f.svc.ProposeMint(ctx, admin, MintParams{To: holder, TokenID: 9, Amount: "5"})
	require.NoError(t, err)
	require.Equal(t, outcome.VoucherTypeInvalid, p.Reason)

	_, err = f.svc.ProposeOpenPool(ctx, admin, OpenPoolParams{TokenID: 1, TotalAmount: "1000", PerClaimLimit: "0"})
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestDisabledKind(t *testing.T) {
	f := newFixture(t, featureflags.Static{featureflags.ProposalFlagPrefix + "claim": false})

	_, err := f.svc.ProposeClaim(context.Background(), holder, ClaimParams{TokenID: 1})
	require.ErrorIs(t, err, ErrFeatureDisabled)
}

func TestGatewayFailureStoresNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.EXPECT().Call(gomock.Any(), gomock.Any()).Return(gateway.CallResult{}, &gateway.Error{Op: "call", StatusCode: 502, Err: errors.New("bad gateway")})

	_, err := f.svc.ProposeUse(context.Background(), holder, UseParams{TokenID: 1, Amount: "1", Merchant: shop})
	var gwErr *gateway.Error
	require.ErrorAs(t, err, &gwErr)
	require.Empty(t, f.enqueuer.Types())
}

func (f *fixture) pendingUse(t *testing.T) *Proposal {
	t.Helper()
	f.expectTx(t, contracts.Voucher, "useVoucher", holder, "1", "100000000", shop.Hex(), "1")
	p, err := f.svc.ProposeUse(context.Background(), holder, UseParams{TokenID: 1, Amount: "100000000", Merchant: shop})
	require.NoError(t, err)
	return p
}

func TestConfirmAccepted(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pendingUse(t)

	hash := common.HexToHash("0xabc1")
	f.ingest(t, eventtest.WithTx(eventtest.UseVoucher(3, 0, 1, holder, shop, "100000000", 1), hash))

	got, err := f.svc.Confirm(context.Background(), p.ID, hash)
	require.NoError(t, err)
	require.Equal(t, outcome.Accepted, got.Status)
	require.Equal(t, hash, *got.TxHash)
	require.Equal(t, "300000000", f.balance())
	require.Contains(t, f.enqueuer.Types(), taskname.ProjectorSync)

	// confirming again is idempotent
	got, err = f.svc.Confirm(context.Background(), p.ID, hash)
	require.NoError(t, err)
	require.Equal(t, outcome.Accepted, got.Status)

	_, err = f.svc.Confirm(context.Background(), p.ID, common.HexToHash("0xdead"))
	require.ErrorIs(t, err, ErrNotSubmittable)
}

func TestConfirmRejectedAtReplay(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pendingUse(t)

	// the certificate is revoked before the redemption lands
	hash := common.HexToHash("0xabc2")
	f.ingest(t,
		eventtest.Revoke(3, 0, 1),
		eventtest.WithTx(eventtest.UseVoucher(4, 0, 1, holder, shop, "100000000", 1), hash),
	)

	got, err := f.svc.Confirm(context.Background(), p.ID, hash)
	require.NoError(t, err)
	require.Equal(t, outcome.Rejected, got.Status)
	require.Equal(t, outcome.InvalidOrExpiredMerchantCert, got.Reason)
	require.Equal(t, "400000000", f.balance())
}

func TestConfirmTimesOutUnconfirmed(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pendingUse(t)

	hash := common.HexToHash("0xabc3")
	got, err := f.svc.Confirm(context.Background(), p.ID, hash)
	require.NoError(t, err)
	require.Equal(t, outcome.Unconfirmed, got.Status)
	require.Empty(t, got.Reason)
	require.Equal(t, "400000000", f.balance())

	// the event shows up later; reading the proposal resolves it
	f.ingest(t, eventtest.WithTx(eventtest.UseVoucher(3, 0, 1, holder, shop, "100000000", 1), hash))
	got, err = f.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, outcome.Accepted, got.Status)
}

func TestAwaitHonoursCallerCancel(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.opts.ConfirmTimeout = time.Hour
	p := f.pendingUse(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err := f.svc.Confirm(ctx, p.ID, common.HexToHash("0xabc4"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, outcome.Unconfirmed, got.Status)

	stored, err := f.store.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, outcome.Unconfirmed, stored.Status)
}

func TestConfirmRejectedProposal(t *testing.T) {
	f := newFixture(t, nil)
	p, err := f.svc.ProposeUse(context.Background(), holder, UseParams{TokenID: 9, Amount: "1", Merchant: shop})
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), p.ID, common.HexToHash("0x1"))
	require.ErrorIs(t, err, ErrNotSubmittable)

	_, err = f.svc.Confirm(context.Background(), "missing", common.HexToHash("0x1"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExpire(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pendingUse(t)

	task, err := NewExpireTask(p.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleExpire(context.Background(), task))

	got, err := f.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, outcome.Unconfirmed, got.Status)

	gone, err := NewExpireTask("missing")
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleExpire(context.Background(), gone))

	require.Error(t, f.svc.HandleExpire(context.Background(), asynq.NewTask(taskname.ProposalExpire, []byte("{"))))
}

func TestConfirmIgnoresUnrelatedTransaction(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pendingUse(t)

	hash := common.HexToHash("0xfeed")
	f.ingest(t, eventtest.WithTx(eventtest.MintVoucher(3, 0, 1, shop, "5"), hash))

	got, err := f.svc.Confirm(context.Background(), p.ID, hash)
	require.NoError(t, err)
	require.Equal(t, outcome.Unconfirmed, got.Status)
	require.Equal(t, "400000000", f.balance())

	// a redemption for another amount in the same transaction is not this one
	f.ingest(t, eventtest.WithTx(eventtest.UseVoucher(4, 1, 1, holder, shop, "50000000", 1), hash))
	got, err = f.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, outcome.Unconfirmed, got.Status)

	f.ingest(t, eventtest.WithTx(eventtest.UseVoucher(5, 2, 1, holder, shop, "100000000", 1), hash))
	got, err = f.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, outcome.Accepted, got.Status)
	require.Equal(t, "250000000", f.balance())
}

func TestConfirmClaimMatchesClaimer(t *testing.T) {
	f := newFixture(t, nil)
	f.ingest(t, eventtest.OpenPool(3, 0, 1, "200000000", "100000000"))

	f.expectTx(t, contracts.Voucher, "claim", shop, "1")
	p, err := f.svc.ProposeClaim(context.Background(), shop, ClaimParams{TokenID: 1})
	require.NoError(t, err)

	hash := common.HexToHash("0xc1a1")
	f.ingest(t, eventtest.WithTx(eventtest.Claim(4, 0, 1, holder, "100000000"), hash))

	got, err := f.svc.Confirm(context.Background(), p.ID, hash)
	require.NoError(t, err)
	require.Equal(t, outcome.Unconfirmed, got.Status)

	f.ingest(t, eventtest.WithTx(eventtest.Claim(5, 1, 1, shop, "100000000"), hash))
	got, err = f.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, outcome.Accepted, got.Status)
}

func TestConfirmMintMatchesAmount(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.auth.Grant(admin, accesscontrol.RoleIssuer))

	f.expectTx(t, contracts.Voucher, "mintVoucher", admin, holder.Hex(), "1", "5", "0x")
	p, err := f.svc.ProposeMint(context.Background(), admin, MintParams{To: holder, TokenID: 1, Amount: "5"})
	require.NoError(t, err)

	hash := common.HexToHash("0x5a5a")
	f.ingest(t, eventtest.WithTx(eventtest.MintVoucher(3, 0, 1, holder, "6"), hash))

	got, err := f.svc.Confirm(context.Background(), p.ID, hash)
	require.NoError(t, err)
	require.Equal(t, outcome.Unconfirmed, got.Status)

	f.ingest(t, eventtest.WithTx(eventtest.MintVoucher(4, 1, 1, holder, "5"), hash))
	got, err = f.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, outcome.Accepted, got.Status)
}
