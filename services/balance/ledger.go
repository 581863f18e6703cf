package balance

import (
	"errors"
	"sort"

	"merchant-voucher/services/outcome"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrNonPositiveAmount = errors.New("balance: amount must be > 0")

type Holding struct {
	Holder           common.Address `json:"holder"`
	TokenID          uint64         `json:"token_id"`
	Balance          uint256.Int    `json:"balance"`
	ConsumptionCount uint64         `json:"consumption_count"`
}

type holdingKey struct {
	holder  common.Address
	tokenID uint64
}

// Ledger tracks per-holder voucher balances and consumption counts.
type Ledger struct {
	holdings map[holdingKey]*Holding
}

func NewLedger() *Ledger {
	return &Ledger{holdings: make(map[holdingKey]*Holding)}
}

func (l *Ledger) holding(holder common.Address, tokenID uint64) *Holding {
	key := holdingKey{holder: holder, tokenID: tokenID}
	h, ok := l.holdings[key]
	if !ok {
		h = &Holding{Holder: holder, TokenID: tokenID}
		l.holdings[key] = h
	}
	return h
}

func (l *Ledger) Credit(holder common.Address, tokenID uint64, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrNonPositiveAmount
	}
	h := l.holding(holder, tokenID)
	h.Balance.Add(&h.Balance, amount)
	return nil
}

// Debit never lets a balance go negative.
func (l *Ledger) Debit(holder common.Address, tokenID uint64, amount *uint256.Int) outcome.Outcome {
	h, ok := l.holdings[holdingKey{holder: holder, tokenID: tokenID}]
	if !ok || amount == nil || h.Balance.Lt(amount) {
		return outcome.Reject(outcome.InsufficientBalance)
	}
	h.Balance.Sub(&h.Balance, amount)
	return outcome.Accept()
}

// RecordConsumption bumps the consumption count by one.
func (l *Ledger) RecordConsumption(holder common.Address, tokenID uint64) uint64 {
	h := l.holding(holder, tokenID)
	h.ConsumptionCount++
	return h.ConsumptionCount
}

func (l *Ledger) BalanceOf(holder common.Address, tokenID uint64) *uint256.Int {
	h, ok := l.holdings[holdingKey{holder: holder, tokenID: tokenID}]
	if !ok {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(&h.Balance)
}

func (l *Ledger) ConsumptionCountOf(holder common.Address, tokenID uint64) uint64 {
	h, ok := l.holdings[holdingKey{holder: holder, tokenID: tokenID}]
	if !ok {
		return 0
	}
	return h.ConsumptionCount
}

// Holdings lists a holder's non-empty holdings, highest token id first.
func (l *Ledger) Holdings(holder common.Address) []Holding {
	out := make([]Holding, 0)
	for key, h := range l.holdings {
		if key.holder != holder || h.Balance.IsZero() {
			continue
		}
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID > out[j].TokenID })
	return out
}

func (l *Ledger) All() []Holding {
	out := make([]Holding, 0, len(l.holdings))
	for _, h := range l.holdings {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Holder != out[j].Holder {
			return out[i].Holder.Cmp(out[j].Holder) < 0
		}
		return out[i].TokenID < out[j].TokenID
	})
	return out
}

func (l *Ledger) Reset() {
	l.holdings = make(map[holdingKey]*Holding)
}
