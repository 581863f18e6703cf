package merchant

import (
	"errors"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("merchant: certificate not found")

// Certificate is a merchant certification. Revocation is one-way.
type Certificate struct {
	TokenID        uint64         `json:"token_id"`
	Owner          common.Address `json:"owner"`
	MerchantTypeID uint64         `json:"merchant_type_id"`
	Expiry         time.Time      `json:"expiry"`
	Revoked        bool           `json:"revoked"`
}

// ValidAt reports whether the certificate can back a redemption at asOf.
func (c Certificate) ValidAt(asOf time.Time) bool {
	return !c.Revoked && asOf.Before(c.Expiry)
}

// Registry is the materialized view of merchant certificates. It is not
// safe for concurrent use; the projector serializes access.
type Registry struct {
	certs map[uint64]*Certificate
}

func NewRegistry() *Registry {
	return &Registry{certs: make(map[uint64]*Certificate)}
}

// Issue records a certificate minted by the ledger. Token ids are assigned
// by the ledger; re-issuing an id that is revoked keeps it revoked.
func (r *Registry) Issue(c Certificate) uint64 {
	if existing, ok := r.certs[c.TokenID]; ok && existing.Revoked {
		c.Revoked = true
	}
	cert := c
	r.certs[c.TokenID] = &cert
	return c.TokenID
}

// Revoke marks a certificate revoked. Revoking twice, or revoking an
// unknown id, is a no-op.
func (r *Registry) Revoke(tokenID uint64) {
	cert, ok := r.certs[tokenID]
	if !ok {
		zap.L().Warn("revocation for unknown merchant certificate", zap.Uint64("token_id", tokenID))
		return
	}
	cert.Revoked = true
}

// Transfer moves a certificate to a new owner.
func (r *Registry) Transfer(tokenID uint64, to common.Address) error {
	cert, ok := r.certs[tokenID]
	if !ok {
		return ErrNotFound
	}
	cert.Owner = to
	return nil
}

func (r *Registry) IsValid(tokenID uint64, asOf time.Time) bool {
	cert, ok := r.certs[tokenID]
	return ok && cert.ValidAt(asOf)
}

func (r *Registry) CertOf(tokenID uint64) (Certificate, error) {
	cert, ok := r.certs[tokenID]
	if !ok {
		return Certificate{}, ErrNotFound
	}
	return *cert, nil
}

// CertsOwnedBy returns the owner's certificates ordered by token id.
func (r *Registry) CertsOwnedBy(owner common.Address) []Certificate {
	out := make([]Certificate, 0)
	for _, cert := range r.certs {
		if cert.Owner == owner {
			out = append(out, *cert)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

func (r *Registry) List() []Certificate {
	out := make([]Certificate, 0, len(r.certs))
	for _, cert := range r.certs {
		out = append(out, *cert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

func (r *Registry) Reset() {
	r.certs = make(map[uint64]*Certificate)
}
