package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"merchant-voucher/services/event"
	"merchant-voucher/services/outcome"
	"merchant-voucher/services/redemption"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var (
	base     = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	zero     = common.Address{}
	holder   = common.HexToAddress("0x000000000000000000000000000000000000beef")
	shop     = common.HexToAddress("0x0000000000000000000000000000000000005a1e")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000bad")
)

func txHash(block, logIndex uint64) common.Hash {
	return common.HexToHash(fmt.Sprintf("0x%x", block<<16|logIndex))
}

func ev(name string, block, logIndex uint64, inputs map[string]any) event.Event {
	names := make([]string, 0, len(inputs))
	for n := range inputs {
		names = append(names, n)
	}
	sort.Strings(names)

	e := event.Event{
		TxHash:      txHash(block, logIndex),
		LogIndex:    logIndex,
		BlockNumber: block,
		TriggeredAt: base.Add(time.Duration(block) * time.Minute),
		Name:        name,
	}
	for _, n := range names {
		raw, _ := json.Marshal(inputs[n])
		e.Inputs = append(e.Inputs, event.Input{Name: n, Value: raw})
	}
	return e
}

func unix(t time.Time) string {
	return fmt.Sprintf("%d", t.Unix())
}

func defineType(block, logIndex, tokenID, maxUsage uint64, limit string, allowed []uint64) event.Event {
	return ev(event.NameVoucherTypeDefined, block, logIndex, map[string]any{
		"tokenId":              tokenID,
		"expiry":               unix(base.Add(90 * 24 * time.Hour)),
		"maxUsage":             maxUsage,
		"singleUsageLimit":     limit,
		"allowedMerchantTypes": allowed,
	})
}

func mintCert(block, logIndex, tokenID uint64, owner common.Address, typeID uint64) event.Event {
	return ev(event.NameTransfer, block, logIndex, map[string]any{
		"from":                    zero.Hex(),
		"to":                      owner.Hex(),
		"tokenId":                 tokenID,
		event.InputMerchantTypeID: typeID,
		event.InputExpirationTime: unix(base.Add(365 * 24 * time.Hour)),
	})
}

func mintVoucher(block, logIndex, tokenID uint64, to common.Address, amount string) event.Event {
	return ev(event.NameVoucherMinted, block, logIndex, map[string]any{
		"tokenId": tokenID,
		"to":      to.Hex(),
		"amount":  amount,
	})
}

func useVoucher(block, logIndex, tokenID uint64, amount string, certID *uint64) event.Event {
	inputs := map[string]any{
		"holder":   holder.Hex(),
		"merchant": shop.Hex(),
		"tokenId":  tokenID,
		"amount":   amount,
	}
	if certID != nil {
		inputs[event.InputMerchantCertID] = *certID
	}
	return ev(event.NameVoucherUsed, block, logIndex, inputs)
}

func revoke(block, logIndex, tokenID uint64) event.Event {
	return ev(event.NameCertificationRevoked, block, logIndex, map[string]any{"tokenId": tokenID})
}

func certID(id uint64) *uint64 { return &id }

func newProjector() *Projector {
	return New(event.NewMemoryStore(), NewViews(nil), Options{})
}

type snapshot struct {
	Certs    any
	Types    any
	Holdings any
	Pools    any
}

func snap(p *Projector) string {
	var s snapshot
	p.Read(func(v Views) {
		s = snapshot{Certs: v.Registry.List(), Types: v.Catalog.List(), Holdings: v.Ledger.All(), Pools: v.Pool.List()}
	})
	b, _ := json.Marshal(s)
	return string(b)
}

func setup() []event.Event {
	return []event.Event{
		defineType(1, 0, 1, 3, "100000000", []uint64{1, 2}),
		mintCert(1, 1, 1, shop, 1),
		mintVoucher(2, 0, 1, holder, "400000000"),
	}
}

func TestUsageScenario(t *testing.T) {
	ctx := context.Background()
	p := newProjector()

	res, err := p.Ingest(ctx, setup())
	require.NoError(t, err)
	require.Equal(t, 3, res.Applied)

	uses := []event.Event{
		useVoucher(3, 0, 1, "100000000", certID(1)),
		useVoucher(4, 0, 1, "100000000", certID(1)),
		useVoucher(5, 0, 1, "100000000", certID(1)),
		useVoucher(6, 0, 1, "100000000", certID(1)),
	}
	_, err = p.Ingest(ctx, uses)
	require.NoError(t, err)

	for _, u := range uses[:3] {
		o, ok := p.Outcome(u.Key())
		require.True(t, ok)
		require.Equal(t, outcome.Accept(), o)
	}
	o, ok := p.Outcome(uses[3].Key())
	require.True(t, ok)
	require.Equal(t, outcome.Reject(outcome.MaxUsageExceeded), o)

	p.Read(func(v Views) {
		require.Equal(t, uint64(100_000_000), v.Ledger.BalanceOf(holder, 1).Uint64())
		require.Equal(t, uint64(3), v.Ledger.ConsumptionCountOf(holder, 1))
	})

	o, ok = p.TxOutcome(uses[3].TxHash, isUse)
	require.True(t, ok)
	require.Equal(t, outcome.MaxUsageExceeded, o.Reason)

	_, ok = p.TxOutcome(common.HexToHash("0xfeed"), isUse)
	require.False(t, ok)
}

func isUse(pl event.Payload) bool {
	_, ok := pl.(event.VoucherUsed)
	return ok
}

func TestTxOutcomeOnlyResolvesMatchingEvents(t *testing.T) {
	ctx := context.Background()
	p := newProjector()

	unknownTransfer := ev(event.NameTransfer, 3, 0, map[string]any{"from": shop.Hex(), "to": stranger.Hex(), "tokenId": 9})
	res, err := p.Ingest(ctx, append(setup(), unknownTransfer))
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)

	mint := setup()[2]
	_, ok := p.TxOutcome(mint.TxHash, isUse)
	require.False(t, ok, "a mint does not confirm a redemption")

	o, ok := p.TxOutcome(mint.TxHash, func(pl event.Payload) bool {
		m, ok := pl.(event.VoucherMinted)
		return ok && m.To == holder
	})
	require.True(t, ok)
	require.Equal(t, outcome.Accept(), o)

	_, ok = p.TxOutcome(unknownTransfer.TxHash, func(event.Payload) bool { return true })
	require.False(t, ok, "skipped events never resolve a transaction")
}

func TestRevokedCertificateRejectsUse(t *testing.T) {
	ctx := context.Background()
	p := newProjector()

	events := append(setup(), revoke(3, 0, 1), useVoucher(4, 0, 1, "100000000", certID(1)))
	_, err := p.Ingest(ctx, events)
	require.NoError(t, err)

	o, ok := p.Outcome(events[4].Key())
	require.True(t, ok)
	require.Equal(t, outcome.Reject(outcome.InvalidOrExpiredMerchantCert), o)

	p.Read(func(v Views) {
		require.Equal(t, uint64(400_000_000), v.Ledger.BalanceOf(holder, 1).Uint64())
		require.Zero(t, v.Ledger.ConsumptionCountOf(holder, 1))
	})
}

func TestBurnRevokesCertificate(t *testing.T) {
	ctx := context.Background()
	p := newProjector()

	burn := ev(event.NameTransfer, 3, 0, map[string]any{"from": shop.Hex(), "to": zero.Hex(), "tokenId": 1})
	_, err := p.Ingest(ctx, append(setup(), burn))
	require.NoError(t, err)

	p.Read(func(v Views) {
		require.False(t, v.Registry.IsValid(1, base.Add(time.Hour)))
	})
}

func TestReingestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	events := append(setup(), useVoucher(3, 0, 1, "100000000", certID(1)))

	once := newProjector()
	_, err := once.Ingest(ctx, events)
	require.NoError(t, err)

	twice := newProjector()
	_, err = twice.Ingest(ctx, events)
	require.NoError(t, err)
	res, err := twice.Ingest(ctx, events)
	require.NoError(t, err)
	require.Equal(t, len(events), res.Duplicates)
	require.Zero(t, res.Applied)

	require.Equal(t, snap(once), snap(twice))

	dup := newProjector()
	res, err = dup.Ingest(ctx, append(events, events...))
	require.NoError(t, err)
	require.Equal(t, len(events), res.Duplicates)
	require.Equal(t, snap(once), snap(dup))
}

func TestOutOfOrderBatchRebuilds(t *testing.T) {
	ctx := context.Background()
	events := append(setup(),
		useVoucher(4, 0, 1, "100000000", certID(1)),
		revoke(5, 0, 1),
	)

	ordered := newProjector()
	_, err := ordered.Ingest(ctx, events)
	require.NoError(t, err)

	late := newProjector()
	_, err = late.Ingest(ctx, []event.Event{events[0], events[1], events[4]})
	require.NoError(t, err)
	res, err := late.Ingest(ctx, []event.Event{events[3], events[2]})
	require.NoError(t, err)
	require.True(t, res.Rebuilt)
	require.Equal(t, 5, res.Applied)

	require.Equal(t, snap(ordered), snap(late))
	o, ok := late.Outcome(events[3].Key())
	require.True(t, ok)
	require.True(t, o.IsAccepted(), "use at block 4 precedes the revocation at block 5")
}

func TestRedefinitionSupersedes(t *testing.T) {
	ctx := context.Background()
	p := newProjector()

	newer := defineType(9, 0, 1, 10, "5", []uint64{7})
	older := defineType(8, 3, 1, 3, "100", []uint64{1, 2})
	_, err := p.Ingest(ctx, []event.Event{newer, older})
	require.NoError(t, err)

	p.Read(func(v Views) {
		vt, err := v.Catalog.Lookup(1)
		require.NoError(t, err)
		require.Equal(t, uint64(10), vt.MaxUsage)
		require.Equal(t, []uint64{7}, vt.AllowedList())
	})
}

func TestConflictingPayloadHaltsReplay(t *testing.T) {
	ctx := context.Background()
	p := newProjector()

	events := setup()
	_, err := p.Ingest(ctx, events)
	require.NoError(t, err)

	forged := mintVoucher(2, 0, 1, holder, "999999999")
	_, err = p.Ingest(ctx, []event.Event{forged})
	require.ErrorIs(t, err, ErrLogCorrupted)
	require.True(t, p.Status().Corrupted)

	_, err = p.Ingest(ctx, []event.Event{mintVoucher(3, 0, 1, holder, "1")})
	require.ErrorIs(t, err, ErrLogCorrupted)

	res, err := p.Rebuild(ctx)
	require.NoError(t, err)
	require.True(t, res.Rebuilt)
	require.False(t, p.Status().Corrupted)
	p.Read(func(v Views) {
		require.Equal(t, uint64(400_000_000), v.Ledger.BalanceOf(holder, 1).Uint64())
	})
}

func TestPositionCollisionHaltsReplay(t *testing.T) {
	p := newProjector()

	a := mintVoucher(2, 0, 1, holder, "1")
	b := mintVoucher(2, 0, 1, holder, "1")
	b.TxHash = common.HexToHash("0xabc")

	_, err := p.Ingest(context.Background(), []event.Event{a, b})
	require.ErrorIs(t, err, ErrLogCorrupted)
}

func TestCheckHead(t *testing.T) {
	p := newProjector()
	require.NoError(t, p.CheckHead(0))

	_, err := p.Ingest(context.Background(), setup())
	require.NoError(t, err)
	require.NoError(t, p.CheckHead(2))
	require.ErrorIs(t, p.CheckHead(1), ErrLogCorrupted)
	require.Equal(t, event.Position{Block: 2, LogIndex: 0}, p.Status().Watermark)
}

func TestMalformedEventsAreSkipped(t *testing.T) {
	ctx := context.Background()
	p := newProjector()

	bad := ev(event.NameVoucherMinted, 1, 0, map[string]any{"tokenId": 1})
	unknown := ev("Approval", 1, 1, map[string]any{"owner": holder.Hex()})
	good := mintVoucher(1, 2, 1, holder, "5")

	res, err := p.Ingest(ctx, []event.Event{bad, unknown, good})
	require.NoError(t, err)
	require.Equal(t, 1, res.Applied)
	require.Equal(t, 2, res.Skipped)

	res, err = p.Ingest(ctx, []event.Event{bad})
	require.NoError(t, err)
	require.Equal(t, 1, res.Duplicates)
	require.True(t, p.Seen(bad.Key()))
}

func TestClaimScenario(t *testing.T) {
	ctx := context.Background()
	p := newProjector()

	events := []event.Event{
		ev(event.NameClaimPoolOpened, 1, 0, map[string]any{"tokenId": 5, "totalAmount": "1000000000", "perClaimLimit": "100000000"}),
	}
	for i := 0; i < 11; i++ {
		claimer := common.HexToAddress(fmt.Sprintf("0x%040x", i+1))
		events = append(events, ev(event.NameVoucherClaimed, uint64(2+i), 0, map[string]any{
			"tokenId": 5, "claimer": claimer.Hex(), "amount": "100000000",
		}))
	}
	repeat := ev(event.NameVoucherClaimed, 20, 0, map[string]any{
		"tokenId": 5, "claimer": common.HexToAddress(fmt.Sprintf("0x%040x", 1)).Hex(), "amount": "100000000",
	})
	events = append(events, repeat)

	_, err := p.Ingest(ctx, events)
	require.NoError(t, err)

	for _, e := range events[1:11] {
		o, ok := p.Outcome(e.Key())
		require.True(t, ok)
		require.True(t, o.IsAccepted())
	}
	o, _ := p.Outcome(events[11].Key())
	require.Equal(t, outcome.Reject(outcome.PoolExhausted), o)
	o, _ = p.Outcome(repeat.Key())
	require.Equal(t, outcome.Reject(outcome.AlreadyClaimed), o)

	p.Read(func(v Views) {
		require.Empty(t, v.Pool.ListClaimable())
	})
}

func TestUseWithoutCertificateID(t *testing.T) {
	ctx := context.Background()
	p := newProjector()

	events := append(setup(),
		mintCert(2, 1, 2, shop, 9),
		useVoucher(3, 0, 1, "100000000", nil),
	)
	_, err := p.Ingest(ctx, events)
	require.NoError(t, err)

	o, ok := p.Outcome(events[4].Key())
	require.True(t, ok)
	require.True(t, o.IsAccepted())

	p.Read(func(v Views) {
		require.Equal(t, uint64(1), ResolveCert(v, shop, 1, base))
		require.Equal(t, uint64(0), ResolveCert(v, stranger, 1, base))
	})
}

func TestRecentIsDisplayOrder(t *testing.T) {
	p := New(event.NewMemoryStore(), NewViews(nil), Options{RecentSize: 2})

	_, err := p.Ingest(context.Background(), setup())
	require.NoError(t, err)

	recent := p.Recent(10)
	require.Len(t, recent, 2)
	require.Equal(t, uint64(2), recent[0].BlockNumber)
	require.Equal(t, uint64(1), recent[1].BlockNumber)
	require.Len(t, p.Recent(1), 1)
}

func TestReadinessCheck(t *testing.T) {
	p := newProjector()
	check := ReadinessCheck(p)
	require.Equal(t, "projector", check.Name)
	require.NoError(t, check.Check(context.Background()))

	_, err := p.Ingest(context.Background(), setup())
	require.NoError(t, err)
	require.ErrorIs(t, p.CheckHead(1), ErrLogCorrupted)
	require.Error(t, check.Check(context.Background()))

	_, err = p.Rebuild(context.Background())
	require.NoError(t, err)
	require.NoError(t, check.Check(context.Background()))
}

func acceptedUses(t *testing.T) float64 {
	t.Helper()
	vec := redemption.Collectors()[0].(*prometheus.CounterVec)
	var m dto.Metric
	require.NoError(t, vec.WithLabelValues(string(outcome.Accepted), "").Write(&m))
	return m.GetCounter().GetValue()
}

func TestRebuildDoesNotReportUsesTwice(t *testing.T) {
	ctx := context.Background()
	recorder := redemption.NewMemoryRecorder(0)
	p := New(event.NewMemoryStore(), NewViews(recorder), Options{})

	before := acceptedUses(t)
	_, err := p.Ingest(ctx, append(setup(),
		useVoucher(3, 0, 1, "100000000", certID(1)),
		useVoucher(4, 0, 1, "100000000", certID(1)),
	))
	require.NoError(t, err)
	require.Len(t, recorder.Records(), 2)
	require.Equal(t, before+2, acceptedUses(t))

	// a late mint below the watermark forces a rebuild
	res, err := p.Ingest(ctx, []event.Event{mintVoucher(2, 1, 1, stranger, "1")})
	require.NoError(t, err)
	require.True(t, res.Rebuilt)

	require.Len(t, recorder.Records(), 2)
	require.Equal(t, before+2, acceptedUses(t))

	_, err = p.Rebuild(ctx)
	require.NoError(t, err)
	require.Len(t, recorder.Records(), 2)
	require.Equal(t, before+2, acceptedUses(t))
}
