package catalog

import (
	"errors"
	"sort"
	"time"

	"merchant-voucher/services/event"

	"github.com/holiman/uint256"
)

var ErrNotFound = errors.New("catalog: voucher type not found")

// VoucherType is the template every voucher of a token id follows.
type VoucherType struct {
	TokenID              uint64
	Expiry               time.Time
	MaxUsage             uint64
	SingleUsageLimit     uint256.Int
	AllowedMerchantTypes map[uint64]struct{}
	// DefinedAt is the ledger position of the definition that produced it.
	DefinedAt event.Position
}

func NewVoucherType(tokenID uint64, expiry time.Time, maxUsage uint64, singleUsageLimit *uint256.Int, allowed []uint64) VoucherType {
	set := make(map[uint64]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}
	vt := VoucherType{
		TokenID:              tokenID,
		Expiry:               expiry,
		MaxUsage:             maxUsage,
		AllowedMerchantTypes: set,
	}
	if singleUsageLimit != nil {
		vt.SingleUsageLimit = *singleUsageLimit
	}
	return vt
}

func (v VoucherType) Allows(merchantTypeID uint64) bool {
	_, ok := v.AllowedMerchantTypes[merchantTypeID]
	return ok
}

func (v VoucherType) ExpiredAt(asOf time.Time) bool {
	return !asOf.Before(v.Expiry)
}

// AllowedList returns the allow-list sorted ascending.
func (v VoucherType) AllowedList() []uint64 {
	out := make([]uint64, 0, len(v.AllowedMerchantTypes))
	for id := range v.AllowedMerchantTypes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (v VoucherType) clone() VoucherType {
	out := v
	out.AllowedMerchantTypes = make(map[uint64]struct{}, len(v.AllowedMerchantTypes))
	for id := range v.AllowedMerchantTypes {
		out.AllowedMerchantTypes[id] = struct{}{}
	}
	return out
}

// Catalog reduces definitions keyed by token id, keeping the one with the
// highest ledger position. Fields are never merged across definitions.
type Catalog struct {
	types map[uint64]VoucherType
}

func New() *Catalog {
	return &Catalog{types: make(map[uint64]VoucherType)}
}

// Define upserts a definition. It reports false when an existing definition
// sits at a higher ledger position and therefore wins.
func (c *Catalog) Define(vt VoucherType) bool {
	if current, ok := c.types[vt.TokenID]; ok && vt.DefinedAt.Less(current.DefinedAt) {
		return false
	}
	c.types[vt.TokenID] = vt.clone()
	return true
}

func (c *Catalog) Lookup(tokenID uint64) (VoucherType, error) {
	vt, ok := c.types[tokenID]
	if !ok {
		return VoucherType{}, ErrNotFound
	}
	return vt.clone(), nil
}

// IsExpired treats an undefined token id as expired.
func (c *Catalog) IsExpired(tokenID uint64, asOf time.Time) bool {
	vt, ok := c.types[tokenID]
	if !ok {
		return true
	}
	return vt.ExpiredAt(asOf)
}

func (c *Catalog) List() []VoucherType {
	out := make([]VoucherType, 0, len(c.types))
	for _, vt := range c.types {
		out = append(out, vt.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

func (c *Catalog) Reset() {
	c.types = make(map[uint64]VoucherType)
}
