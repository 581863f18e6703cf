package snapshot

import (
	"sort"
	"time"

	"merchant-voucher/services/balance"
	"merchant-voucher/services/catalog"
	"merchant-voucher/services/claimpool"
	"merchant-voucher/services/event"
	"merchant-voucher/services/merchant"
	"merchant-voucher/services/projector"
)

// Amounts are rendered as decimal strings.

type Position struct {
	Block    uint64 `json:"block"`
	LogIndex uint64 `json:"log_index"`
}

func NewPosition(p event.Position) Position {
	return Position{Block: p.Block, LogIndex: p.LogIndex}
}

type Certificate struct {
	TokenID        uint64    `json:"token_id"`
	Owner          string    `json:"owner"`
	MerchantTypeID uint64    `json:"merchant_type_id"`
	Expiry         time.Time `json:"expiry"`
	Revoked        bool      `json:"revoked"`
	Valid          bool      `json:"valid"`
}

func NewCertificate(c merchant.Certificate, asOf time.Time) Certificate {
	return Certificate{
		TokenID:        c.TokenID,
		Owner:          c.Owner.Hex(),
		MerchantTypeID: c.MerchantTypeID,
		Expiry:         c.Expiry.UTC(),
		Revoked:        c.Revoked,
		Valid:          c.ValidAt(asOf),
	}
}

type VoucherType struct {
	TokenID              uint64    `json:"token_id"`
	Expiry               time.Time `json:"expiry"`
	Expired              bool      `json:"expired"`
	MaxUsage             uint64    `json:"max_usage"`
	SingleUsageLimit     string    `json:"single_usage_limit"`
	AllowedMerchantTypes []uint64  `json:"allowed_merchant_types"`
	DefinedAt            Position  `json:"defined_at"`
}

func NewVoucherType(v catalog.VoucherType, asOf time.Time) VoucherType {
	return VoucherType{
		TokenID:              v.TokenID,
		Expiry:               v.Expiry.UTC(),
		Expired:              v.ExpiredAt(asOf),
		MaxUsage:             v.MaxUsage,
		SingleUsageLimit:     v.SingleUsageLimit.Dec(),
		AllowedMerchantTypes: v.AllowedList(),
		DefinedAt:            NewPosition(v.DefinedAt),
	}
}

type Holding struct {
	Holder           string `json:"holder"`
	TokenID          uint64 `json:"token_id"`
	Balance          string `json:"balance"`
	ConsumptionCount uint64 `json:"consumption_count"`
}

func NewHolding(h balance.Holding) Holding {
	return Holding{
		Holder:           h.Holder.Hex(),
		TokenID:          h.TokenID,
		Balance:          h.Balance.Dec(),
		ConsumptionCount: h.ConsumptionCount,
	}
}

type Pool struct {
	TokenID         uint64   `json:"token_id"`
	PerClaimLimit   string   `json:"per_claim_limit"`
	AvailableAmount string   `json:"available_amount"`
	Claimable       bool     `json:"claimable"`
	ClaimedBy       []string `json:"claimed_by"`
}

func NewPool(e claimpool.Entry) Pool {
	claimed := make([]string, 0, len(e.ClaimedBy))
	for addr := range e.ClaimedBy {
		claimed = append(claimed, addr.Hex())
	}
	sort.Strings(claimed)
	return Pool{
		TokenID:         e.TokenID,
		PerClaimLimit:   e.PerClaimLimit.Dec(),
		AvailableAmount: e.AvailableAmount.Dec(),
		Claimable:       !e.PerClaimLimit.IsZero() && !e.AvailableAmount.Lt(&e.PerClaimLimit),
		ClaimedBy:       claimed,
	}
}

// Snapshot is the full materialized state at one watermark.
type Snapshot struct {
	TakenAt      time.Time     `json:"taken_at"`
	Watermark    Position      `json:"watermark"`
	Events       int           `json:"events"`
	Certificates []Certificate `json:"certificates"`
	VoucherTypes []VoucherType `json:"voucher_types"`
	Holdings     []Holding     `json:"holdings"`
	Pools        []Pool        `json:"pools"`
}

// Take copies every view under a single read lock so the snapshot is
// consistent with its watermark.
func Take(p *projector.Projector, now time.Time) Snapshot {
	s := Snapshot{TakenAt: now.UTC()}

	p.ReadStatus(func(v projector.Views, status projector.Status) {
		s.Watermark = NewPosition(status.Watermark)
		s.Events = status.Events
		for _, c := range v.Registry.List() {
			s.Certificates = append(s.Certificates, NewCertificate(c, now))
		}
		for _, vt := range v.Catalog.List() {
			s.VoucherTypes = append(s.VoucherTypes, NewVoucherType(vt, now))
		}
		for _, h := range v.Ledger.All() {
			s.Holdings = append(s.Holdings, NewHolding(h))
		}
		for _, e := range v.Pool.List() {
			s.Pools = append(s.Pools, NewPool(e))
		}
	})
	return s
}
