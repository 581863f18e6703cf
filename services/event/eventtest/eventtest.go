// Package eventtest builds ledger events for tests of the packages that
// consume them.
package eventtest

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"merchant-voucher/services/event"

	"github.com/ethereum/go-ethereum/common"
)

// Base is the TriggeredAt of block 0. Block n triggers n minutes later.
var Base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TxHash(block, logIndex uint64) common.Hash {
	return common.HexToHash(fmt.Sprintf("0x%x", block<<16|logIndex))
}

func At(block uint64) time.Time {
	return Base.Add(time.Duration(block) * time.Minute)
}

func Unix(t time.Time) string {
	return fmt.Sprintf("%d", t.Unix())
}

func New(name string, block, logIndex uint64, inputs map[string]any) event.Event {
	names := make([]string, 0, len(inputs))
	for n := range inputs {
		names = append(names, n)
	}
	sort.Strings(names)

	e := event.Event{
		TxHash:      TxHash(block, logIndex),
		LogIndex:    logIndex,
		BlockNumber: block,
		TriggeredAt: At(block),
		Name:        name,
	}
	for _, n := range names {
		raw, err := json.Marshal(inputs[n])
		if err != nil {
			panic(err)
		}
		e.Inputs = append(e.Inputs, event.Input{Name: n, Value: raw})
	}
	return e
}

// DefineType defines a voucher type valid for 90 days after Base.
func DefineType(block, logIndex, tokenID, maxUsage uint64, limit string, allowed []uint64) event.Event {
	return New(event.NameVoucherTypeDefined, block, logIndex, map[string]any{
		"tokenId":              tokenID,
		"expiry":               Unix(Base.Add(90 * 24 * time.Hour)),
		"maxUsage":             maxUsage,
		"singleUsageLimit":     limit,
		"allowedMerchantTypes": allowed,
	})
}

// MintCert issues an enriched certificate valid for a year after Base.
func MintCert(block, logIndex, tokenID uint64, owner common.Address, typeID uint64) event.Event {
	return New(event.NameTransfer, block, logIndex, map[string]any{
		"from":                    common.Address{}.Hex(),
		"to":                      owner.Hex(),
		"tokenId":                 tokenID,
		event.InputMerchantTypeID: typeID,
		event.InputExpirationTime: Unix(Base.Add(365 * 24 * time.Hour)),
	})
}

func Revoke(block, logIndex, tokenID uint64) event.Event {
	return New(event.NameCertificationRevoked, block, logIndex, map[string]any{"tokenId": tokenID})
}

func MintVoucher(block, logIndex, tokenID uint64, to common.Address, amount string) event.Event {
	return New(event.NameVoucherMinted, block, logIndex, map[string]any{
		"tokenId": tokenID,
		"to":      to.Hex(),
		"amount":  amount,
	})
}

func UseVoucher(block, logIndex, tokenID uint64, holder, merchant common.Address, amount string, certID uint64) event.Event {
	return New(event.NameVoucherUsed, block, logIndex, map[string]any{
		"holder":                  holder.Hex(),
		"merchant":                merchant.Hex(),
		"tokenId":                 tokenID,
		"amount":                  amount,
		event.InputMerchantCertID: certID,
	})
}

func OpenPool(block, logIndex, tokenID uint64, total, perClaim string) event.Event {
	return New(event.NameClaimPoolOpened, block, logIndex, map[string]any{
		"tokenId":       tokenID,
		"totalAmount":   total,
		"perClaimLimit": perClaim,
	})
}

func Claim(block, logIndex, tokenID uint64, claimer common.Address, amount string) event.Event {
	return New(event.NameVoucherClaimed, block, logIndex, map[string]any{
		"tokenId": tokenID,
		"claimer": claimer.Hex(),
		"amount":  amount,
	})
}

// WithTx moves e into another transaction.
func WithTx(e event.Event, hash common.Hash) event.Event {
	e.TxHash = hash
	return e
}
