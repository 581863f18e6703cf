package submission

import (
	"encoding/json"
	"time"

	"merchant-voucher/pkg/gateway"
	"merchant-voucher/services/outcome"

	"github.com/ethereum/go-ethereum/common"
)

type Kind string

const (
	KindUse      Kind = "use"
	KindClaim    Kind = "claim"
	KindIssue    Kind = "issue"
	KindRevoke   Kind = "revoke"
	KindDefine   Kind = "define"
	KindMint     Kind = "mint"
	KindOpenPool Kind = "open-pool"
)

var Kinds = []Kind{KindUse, KindClaim, KindIssue, KindRevoke, KindDefine, KindMint, KindOpenPool}

func (k Kind) Valid() bool {
	for _, kind := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Administrative kinds require a role; use and claim are open to any
// holder acting for itself.
func (k Kind) Administrative() bool {
	return k != KindUse && k != KindClaim
}

// Proposal is a call the process has asked the ledger to make. It is never
// part of the materialized state; only the replayed event is.
type Proposal struct {
	ID        string                       `json:"id"`
	Code      string                       `json:"code"`
	Kind      Kind                         `json:"kind"`
	Requester common.Address               `json:"requester"`
	Params    json.RawMessage              `json:"params"`
	Status    outcome.Status               `json:"status"`
	Reason    outcome.Reason               `json:"reason,omitempty"`
	Tx        *gateway.UnsignedTransaction `json:"tx,omitempty"`
	TxHash    *common.Hash                 `json:"tx_hash,omitempty"`
	CreatedAt time.Time                    `json:"created_at"`
	UpdatedAt time.Time                    `json:"updated_at"`
	ExpiresAt time.Time                    `json:"expires_at"`
}

func (p *Proposal) Outcome() outcome.Outcome {
	return outcome.Outcome{Status: p.Status, Reason: p.Reason}
}

func (p *Proposal) resolve(o outcome.Outcome, at time.Time) {
	p.Status = o.Status
	p.Reason = o.Reason
	p.UpdatedAt = at
}

// Amounts travel as decimal strings.

type UseParams struct {
	TokenID        uint64         `json:"token_id"`
	Amount         string         `json:"amount"`
	Merchant       common.Address `json:"merchant"`
	MerchantCertID *uint64        `json:"merchant_cert_id,omitempty"`
}

type ClaimParams struct {
	TokenID uint64 `json:"token_id"`
}

type IssueParams struct {
	To             common.Address `json:"to"`
	MerchantTypeID uint64         `json:"merchant_type_id"`
	Expiry         time.Time      `json:"expiry"`
}

type RevokeParams struct {
	TokenID uint64 `json:"token_id"`
}

type DefineParams struct {
	TokenID              uint64    `json:"token_id"`
	Expiry               time.Time `json:"expiry"`
	MaxUsage             uint64    `json:"max_usage"`
	SingleUsageLimit     string    `json:"single_usage_limit"`
	AllowedMerchantTypes []uint64  `json:"allowed_merchant_types"`
}

type MintParams struct {
	To      common.Address `json:"to"`
	TokenID uint64         `json:"token_id"`
	Amount  string         `json:"amount"`
}

type OpenPoolParams struct {
	TokenID       uint64 `json:"token_id"`
	TotalAmount   string `json:"total_amount"`
	PerClaimLimit string `json:"per_claim_limit"`
}
