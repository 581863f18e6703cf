package submission

import (
	"encoding/json"
	"fmt"

	"merchant-voucher/services/event"

	"github.com/holiman/uint256"
)

// matcher returns the predicate a replayed event must satisfy to confirm p:
// the event the proposed call emits, carrying the proposal's parameters.
func matcher(p *Proposal) (func(event.Payload) bool, error) {
	switch p.Kind {
	case KindUse:
		var params UseParams
		amount, err := decodeParams(p, &params, func() string { return params.Amount })
		if err != nil {
			return nil, err
		}
		return func(pl event.Payload) bool {
			v, ok := pl.(event.VoucherUsed)
			if !ok || v.Holder != p.Requester || v.TokenID != params.TokenID || v.Merchant != params.Merchant || !v.Amount.Eq(amount) {
				return false
			}
			// a zero certificate means preflight found none to propose
			if v.MerchantCertID != nil && params.MerchantCertID != nil && *params.MerchantCertID != 0 {
				return *v.MerchantCertID == *params.MerchantCertID
			}
			return true
		}, nil

	case KindClaim:
		var params ClaimParams
		if _, err := decodeParams(p, &params, nil); err != nil {
			return nil, err
		}
		return func(pl event.Payload) bool {
			v, ok := pl.(event.VoucherClaimed)
			return ok && v.Claimer == p.Requester && v.TokenID == params.TokenID
		}, nil

	case KindIssue:
		var params IssueParams
		if _, err := decodeParams(p, &params, nil); err != nil {
			return nil, err
		}
		return func(pl event.Payload) bool {
			v, ok := pl.(event.CertificateMinted)
			return ok && v.Owner == params.To && v.MerchantTypeID == params.MerchantTypeID && v.Expiry.Unix() == params.Expiry.Unix()
		}, nil

	case KindRevoke:
		var params RevokeParams
		if _, err := decodeParams(p, &params, nil); err != nil {
			return nil, err
		}
		return func(pl event.Payload) bool {
			v, ok := pl.(event.CertificateRevoked)
			return ok && v.TokenID == params.TokenID
		}, nil

	case KindDefine:
		var params DefineParams
		limit, err := decodeParams(p, &params, func() string { return params.SingleUsageLimit })
		if err != nil {
			return nil, err
		}
		return func(pl event.Payload) bool {
			v, ok := pl.(event.VoucherTypeDefined)
			return ok && v.TokenID == params.TokenID && v.MaxUsage == params.MaxUsage && v.SingleUsageLimit.Eq(limit)
		}, nil

	case KindMint:
		var params MintParams
		amount, err := decodeParams(p, &params, func() string { return params.Amount })
		if err != nil {
			return nil, err
		}
		return func(pl event.Payload) bool {
			v, ok := pl.(event.VoucherMinted)
			return ok && v.To == params.To && v.TokenID == params.TokenID && v.Amount.Eq(amount)
		}, nil

	case KindOpenPool:
		var params OpenPoolParams
		total, err := decodeParams(p, &params, func() string { return params.TotalAmount })
		if err != nil {
			return nil, err
		}
		perClaim, err := uint256.FromDecimal(params.PerClaimLimit)
		if err != nil {
			return nil, fmt.Errorf("proposal %s per_claim_limit: %w", p.ID, err)
		}
		return func(pl event.Payload) bool {
			v, ok := pl.(event.ClaimPoolOpened)
			return ok && v.TokenID == params.TokenID && v.TotalAmount.Eq(total) && v.PerClaimLimit.Eq(perClaim)
		}, nil
	}
	return nil, fmt.Errorf("proposal %s has unknown kind %q", p.ID, p.Kind)
}

// decodeParams unmarshals the stored parameters into params and, when amount
// is set, parses the decimal it points at.
func decodeParams(p *Proposal, params any, amount func() string) (*uint256.Int, error) {
	if err := json.Unmarshal(p.Params, params); err != nil {
		return nil, fmt.Errorf("proposal %s params: %w", p.ID, err)
	}
	if amount == nil {
		return nil, nil
	}
	v, err := uint256.FromDecimal(amount())
	if err != nil {
		return nil, fmt.Errorf("proposal %s amount: %w", p.ID, err)
	}
	return v, nil
}
