package claimpool

import (
	"errors"
	"sort"

	"merchant-voucher/services/balance"
	"merchant-voucher/services/outcome"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

var ErrInvalidPerClaimLimit = errors.New("claimpool: per-claim limit must be > 0")

// Entry is the state of one token id's shared allocation.
type Entry struct {
	TokenID         uint64
	PerClaimLimit   uint256.Int
	AvailableAmount uint256.Int
	ClaimedBy       map[common.Address]struct{}
}

func (e *Entry) clone() Entry {
	out := *e
	out.ClaimedBy = make(map[common.Address]struct{}, len(e.ClaimedBy))
	for addr := range e.ClaimedBy {
		out.ClaimedBy[addr] = struct{}{}
	}
	return out
}

// Pool manages claim pools and credits successful claims to the balance
// ledger.
type Pool struct {
	entries map[uint64]*Entry
	ledger  *balance.Ledger
}

func New(ledger *balance.Ledger) *Pool {
	return &Pool{
		entries: make(map[uint64]*Entry),
		ledger:  ledger,
	}
}

// Open creates a pool or tops it up. A different perClaim replaces the
// previous limit for subsequent claims.
func (p *Pool) Open(tokenID uint64, total, perClaim *uint256.Int) error {
	if perClaim == nil || perClaim.IsZero() {
		return ErrInvalidPerClaimLimit
	}

	entry, ok := p.entries[tokenID]
	if !ok {
		entry = &Entry{
			TokenID:   tokenID,
			ClaimedBy: make(map[common.Address]struct{}),
		}
		p.entries[tokenID] = entry
	} else if !entry.PerClaimLimit.Eq(perClaim) {
		zap.L().Info("claim pool per-claim limit replaced",
			zap.Uint64("token_id", tokenID),
			zap.String("previous", entry.PerClaimLimit.Dec()),
			zap.String("current", perClaim.Dec()),
		)
	}

	entry.PerClaimLimit.Set(perClaim)
	if total != nil {
		entry.AvailableAmount.Add(&entry.AvailableAmount, total)
	}
	return nil
}

// Claim hands one per-claim allocation to claimer. The pool decrement and
// the balance credit happen together or not at all.
func (p *Pool) Claim(tokenID uint64, claimer common.Address) (outcome.Outcome, error) {
	entry, ok := p.entries[tokenID]
	if ok {
		if _, claimed := entry.ClaimedBy[claimer]; claimed {
			return outcome.Reject(outcome.AlreadyClaimed), nil
		}
	}
	if !ok || entry.AvailableAmount.Lt(&entry.PerClaimLimit) {
		return outcome.Reject(outcome.PoolExhausted), nil
	}

	amount := new(uint256.Int).Set(&entry.PerClaimLimit)
	if err := p.ledger.Credit(claimer, tokenID, amount); err != nil {
		return outcome.Outcome{}, err
	}
	entry.AvailableAmount.Sub(&entry.AvailableAmount, amount)
	entry.ClaimedBy[claimer] = struct{}{}
	return outcome.Accept(), nil
}

// Check reports what Claim would return without touching any state.
func (p *Pool) Check(tokenID uint64, claimer common.Address) outcome.Outcome {
	entry, ok := p.entries[tokenID]
	if ok {
		if _, claimed := entry.ClaimedBy[claimer]; claimed {
			return outcome.Reject(outcome.AlreadyClaimed)
		}
	}
	if !ok || entry.AvailableAmount.Lt(&entry.PerClaimLimit) {
		return outcome.Reject(outcome.PoolExhausted)
	}
	return outcome.Accept()
}

func (p *Pool) HasClaimed(tokenID uint64, claimer common.Address) bool {
	entry, ok := p.entries[tokenID]
	if !ok {
		return false
	}
	_, claimed := entry.ClaimedBy[claimer]
	return claimed
}

func (p *Pool) Get(tokenID uint64) (Entry, bool) {
	entry, ok := p.entries[tokenID]
	if !ok {
		return Entry{}, false
	}
	return entry.clone(), true
}

// ListClaimable returns pools that still have stock, ordered by token id.
func (p *Pool) ListClaimable() []Entry {
	out := make([]Entry, 0)
	for _, entry := range p.entries {
		if entry.AvailableAmount.IsZero() {
			continue
		}
		out = append(out, entry.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

func (p *Pool) List() []Entry {
	out := make([]Entry, 0, len(p.entries))
	for _, entry := range p.entries {
		out = append(out, entry.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

// Reset drops every pool. The balance ledger is reset separately.
func (p *Pool) Reset() {
	p.entries = make(map[uint64]*Entry)
}
