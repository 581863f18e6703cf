package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	NameTransfer             = "Transfer"
	NameCertificationRevoked = "CertificationRevoked"
	NameVoucherTypeDefined   = "VoucherTypeDefined"
	NameVoucherMinted        = "VoucherMinted"
	NameVoucherUsed          = "VoucherUsed"
	NameClaimPoolOpened      = "ClaimPoolOpened"
	NameVoucherClaimed       = "VoucherClaimed"
)

// Solidity signatures as registered with the gateway.
const (
	SigTransfer             = "Transfer(address,address,uint256)"
	SigCertificationRevoked = "CertificationRevoked(uint256)"
	SigVoucherTypeDefined   = "VoucherTypeDefined(uint256,uint256,uint256,uint256,uint256[])"
	SigVoucherMinted        = "VoucherMinted(uint256,address,uint256)"
	SigVoucherUsed          = "VoucherUsed(address,address,uint256,uint256)"
	SigClaimPoolOpened      = "ClaimPoolOpened(uint256,uint256,uint256)"
	SigVoucherClaimed       = "VoucherClaimed(uint256,address,uint256)"
)

// Inputs the syncer attaches to certificate mints after reading the contract.
const (
	InputMerchantTypeID = "merchantTypeId"
	InputExpirationTime = "expirationTime"
	InputMerchantCertID = "merchantCertTokenId"
)

// Payload is the strongly typed body of a decoded event.
type Payload interface {
	EventName() string
}

type CertificateMinted struct {
	TokenID        uint64
	Owner          common.Address
	MerchantTypeID uint64
	Expiry         time.Time
}

func (CertificateMinted) EventName() string { return NameTransfer }

type CertificateTransferred struct {
	TokenID uint64
	From    common.Address
	To      common.Address
}

func (CertificateTransferred) EventName() string { return NameTransfer }

// CertificateRevoked covers both the explicit revocation event and a burn
// (Transfer to the zero address).
type CertificateRevoked struct {
	TokenID uint64
}

func (CertificateRevoked) EventName() string { return NameCertificationRevoked }

type VoucherTypeDefined struct {
	TokenID              uint64
	Expiry               time.Time
	MaxUsage             uint64
	SingleUsageLimit     uint256.Int
	AllowedMerchantTypes []uint64
}

func (VoucherTypeDefined) EventName() string { return NameVoucherTypeDefined }

type VoucherMinted struct {
	TokenID uint64
	To      common.Address
	Amount  uint256.Int
}

func (VoucherMinted) EventName() string { return NameVoucherMinted }

type VoucherUsed struct {
	Holder   common.Address
	Merchant common.Address
	TokenID  uint64
	Amount   uint256.Int
	// MerchantCertID is nil when the emitting contract omits it.
	MerchantCertID *uint64
}

func (VoucherUsed) EventName() string { return NameVoucherUsed }

type ClaimPoolOpened struct {
	TokenID       uint64
	TotalAmount   uint256.Int
	PerClaimLimit uint256.Int
}

func (ClaimPoolOpened) EventName() string { return NameClaimPoolOpened }

type VoucherClaimed struct {
	TokenID uint64
	Claimer common.Address
	Amount  uint256.Int
}

func (VoucherClaimed) EventName() string { return NameVoucherClaimed }
