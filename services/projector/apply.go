package projector

import (
	"context"
	"errors"
	"time"

	"merchant-voucher/services/catalog"
	"merchant-voucher/services/event"
	"merchant-voucher/services/merchant"
	"merchant-voucher/services/redemption"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// apply routes one event to the component that owns it. It reports false
// when the event was skipped.
func (p *Projector) apply(ctx context.Context, e event.Event) bool {
	p.track(e)

	payload, err := event.Decode(e)
	if err != nil {
		return p.skip(e, "decode", err)
	}

	switch v := payload.(type) {
	case event.CertificateMinted:
		p.views.Registry.Issue(merchant.Certificate{
			TokenID:        v.TokenID,
			Owner:          v.Owner,
			MerchantTypeID: v.MerchantTypeID,
			Expiry:         v.Expiry,
		})

	case event.CertificateTransferred:
		if err := p.views.Registry.Transfer(v.TokenID, v.To); err != nil {
			return p.skip(e, "transfer", err)
		}

	case event.CertificateRevoked:
		p.views.Registry.Revoke(v.TokenID)

	case event.VoucherTypeDefined:
		vt := catalog.NewVoucherType(v.TokenID, v.Expiry, v.MaxUsage, &v.SingleUsageLimit, v.AllowedMerchantTypes)
		vt.DefinedAt = e.Position()
		p.views.Catalog.Define(vt)

	case event.VoucherMinted:
		if err := p.views.Ledger.Credit(v.To, v.TokenID, &v.Amount); err != nil {
			return p.skip(e, "credit", err)
		}

	case event.ClaimPoolOpened:
		if err := p.views.Pool.Open(v.TokenID, &v.TotalAmount, &v.PerClaimLimit); err != nil {
			return p.skip(e, "open pool", err)
		}

	case event.VoucherUsed:
		req := redemption.UseRequest{
			Holder:         v.Holder,
			TokenID:        v.TokenID,
			Amount:         v.Amount,
			Merchant:       v.Merchant,
			MerchantCertID: p.resolveCert(v, e.TriggeredAt),
		}
		o := p.views.Engine.Apply(req, e.TriggeredAt)
		if !p.counted[e.Key()] {
			redemption.Count(o)
			p.counted[e.Key()] = true
		}
		p.views.Engine.Record(ctx, req, e.TriggeredAt, o)
		p.outcomes[e.Key()] = o

	case event.VoucherClaimed:
		res, err := p.views.Pool.Claim(v.TokenID, v.Claimer)
		if err != nil {
			return p.skip(e, "claim", err)
		}
		if res.IsAccepted() {
			if entry, ok := p.views.Pool.Get(v.TokenID); ok && !entry.PerClaimLimit.Eq(&v.Amount) {
				zap.L().Warn("claimed amount differs from pool per-claim limit",
					zap.Uint64("token_id", v.TokenID),
					zap.String("event_amount", v.Amount.Dec()),
					zap.String("per_claim_limit", entry.PerClaimLimit.Dec()),
				)
			}
		}
		p.outcomes[e.Key()] = res

	default:
		return p.skip(e, "dispatch", errors.New("no handler"))
	}

	appliedTotal.WithLabelValues(e.Name).Inc()
	return true
}

func (p *Projector) skip(e event.Event, stage string, err error) bool {
	p.skipped[e.Key()] = true
	skippedTotal.WithLabelValues(stage).Inc()
	zap.L().Warn("skipping event",
		zap.String("tx_hash", e.TxHash.Hex()),
		zap.Uint64("log_index", e.LogIndex),
		zap.String("name", e.Name),
		zap.String("stage", stage),
		zap.Error(err),
	)
	return false
}

// resolveCert picks the certificate backing a redemption when the event does
// not name one: the merchant's first certificate that is valid and allowed,
// else its first certificate so the engine reports why it fails.
func (p *Projector) resolveCert(v event.VoucherUsed, asOf time.Time) uint64 {
	if v.MerchantCertID != nil {
		return *v.MerchantCertID
	}
	return ResolveCert(p.views, v.Merchant, v.TokenID, asOf)
}

// ResolveCert is shared with proposal preflight. Zero means the merchant
// holds no certificate.
func ResolveCert(v Views, merchantAddr common.Address, tokenID uint64, asOf time.Time) uint64 {
	owned := v.Registry.CertsOwnedBy(merchantAddr)
	if len(owned) == 0 {
		return 0
	}

	vt, err := v.Catalog.Lookup(tokenID)
	for _, cert := range owned {
		if !cert.ValidAt(asOf) {
			continue
		}
		if err != nil || vt.Allows(cert.MerchantTypeID) {
			return cert.TokenID
		}
	}
	return owned[0].TokenID
}
