package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrUnknownEvent = errors.New("event: unknown event name")
	ErrMalformed    = errors.New("event: malformed payload")
)

// Decode converts a raw event into its typed payload. Downstream components
// only ever see the typed variants.
func Decode(e Event) (Payload, error) {
	switch e.Name {
	case NameTransfer:
		return decodeTransfer(e)
	case NameCertificationRevoked:
		tokenID, err := e.uint64Input("tokenId")
		if err != nil {
			return nil, err
		}
		return CertificateRevoked{TokenID: tokenID}, nil
	case NameVoucherTypeDefined:
		return decodeVoucherTypeDefined(e)
	case NameVoucherMinted:
		return decodeVoucherMinted(e)
	case NameVoucherUsed:
		return decodeVoucherUsed(e)
	case NameClaimPoolOpened:
		return decodeClaimPoolOpened(e)
	case NameVoucherClaimed:
		return decodeVoucherClaimed(e)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Name)
	}
}

func decodeTransfer(e Event) (Payload, error) {
	from, err := e.addressInput("from")
	if err != nil {
		return nil, err
	}
	to, err := e.addressInput("to")
	if err != nil {
		return nil, err
	}
	tokenID, err := e.uint64Input("tokenId")
	if err != nil {
		return nil, err
	}

	switch {
	case from == (common.Address{}):
		typeID, err := e.uint64Input(InputMerchantTypeID)
		if err != nil {
			return nil, err
		}
		expiry, err := e.timeInput(InputExpirationTime)
		if err != nil {
			return nil, err
		}
		return CertificateMinted{TokenID: tokenID, Owner: to, MerchantTypeID: typeID, Expiry: expiry}, nil
	case to == (common.Address{}):
		return CertificateRevoked{TokenID: tokenID}, nil
	default:
		return CertificateTransferred{TokenID: tokenID, From: from, To: to}, nil
	}
}

func decodeVoucherTypeDefined(e Event) (Payload, error) {
	tokenID, err := e.uint64Input("tokenId")
	if err != nil {
		return nil, err
	}
	expiry, err := e.timeInput("expiry")
	if err != nil {
		return nil, err
	}
	maxUsage, err := e.uint64Input("maxUsage")
	if err != nil {
		return nil, err
	}
	limit, err := e.amountInput("singleUsageLimit")
	if err != nil {
		return nil, err
	}
	raw, ok := e.input("allowedMerchantTypes")
	if !ok {
		return nil, fmt.Errorf("%w: missing input allowedMerchantTypes", ErrMalformed)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: allowedMerchantTypes: %v", ErrMalformed, err)
	}
	allowed := make([]uint64, 0, len(items))
	for _, item := range items {
		v, err := parseUint64(item)
		if err != nil {
			return nil, fmt.Errorf("%w: allowedMerchantTypes: %v", ErrMalformed, err)
		}
		allowed = append(allowed, v)
	}

	return VoucherTypeDefined{
		TokenID:              tokenID,
		Expiry:               expiry,
		MaxUsage:             maxUsage,
		SingleUsageLimit:     *limit,
		AllowedMerchantTypes: allowed,
	}, nil
}

func decodeVoucherMinted(e Event) (Payload, error) {
	tokenID, err := e.uint64Input("tokenId")
	if err != nil {
		return nil, err
	}
	to, err := e.addressInput("to")
	if err != nil {
		return nil, err
	}
	amount, err := e.amountInput("amount")
	if err != nil {
		return nil, err
	}
	return VoucherMinted{TokenID: tokenID, To: to, Amount: *amount}, nil
}

func decodeVoucherUsed(e Event) (Payload, error) {
	holder, err := e.addressInput("holder")
	if err != nil {
		return nil, err
	}
	merchant, err := e.addressInput("merchant")
	if err != nil {
		return nil, err
	}
	tokenID, err := e.uint64Input("tokenId")
	if err != nil {
		return nil, err
	}
	amount, err := e.amountInput("amount")
	if err != nil {
		return nil, err
	}

	out := VoucherUsed{Holder: holder, Merchant: merchant, TokenID: tokenID, Amount: *amount}
	if _, ok := e.input(InputMerchantCertID); ok {
		certID, err := e.uint64Input(InputMerchantCertID)
		if err != nil {
			return nil, err
		}
		out.MerchantCertID = &certID
	}
	return out, nil
}

func decodeClaimPoolOpened(e Event) (Payload, error) {
	tokenID, err := e.uint64Input("tokenId")
	if err != nil {
		return nil, err
	}
	total, err := e.amountInput("totalAmount")
	if err != nil {
		return nil, err
	}
	perClaim, err := e.amountInput("perClaimLimit")
	if err != nil {
		return nil, err
	}
	return ClaimPoolOpened{TokenID: tokenID, TotalAmount: *total, PerClaimLimit: *perClaim}, nil
}

func decodeVoucherClaimed(e Event) (Payload, error) {
	tokenID, err := e.uint64Input("tokenId")
	if err != nil {
		return nil, err
	}
	claimer, err := e.addressInput("claimer")
	if err != nil {
		return nil, err
	}
	amount, err := e.amountInput("amount")
	if err != nil {
		return nil, err
	}
	return VoucherClaimed{TokenID: tokenID, Claimer: claimer, Amount: *amount}, nil
}

func (e Event) required(name string) (json.RawMessage, error) {
	raw, ok := e.input(name)
	if !ok {
		return nil, fmt.Errorf("%w: missing input %s", ErrMalformed, name)
	}
	return raw, nil
}

func (e Event) addressInput(name string) (common.Address, error) {
	raw, err := e.required(name)
	if err != nil {
		return common.Address{}, err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s is not an address", ErrMalformed, name)
	}
	return common.HexToAddress(s), nil
}

func (e Event) amountInput(name string) (*uint256.Int, error) {
	raw, err := e.required(name)
	if err != nil {
		return nil, err
	}
	v, err := ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	return v, nil
}

func (e Event) uint64Input(name string) (uint64, error) {
	raw, err := e.required(name)
	if err != nil {
		return 0, err
	}
	v, err := parseUint64(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	return v, nil
}

// MaxTime is the latest timestamp a decoded expiry takes. Larger values,
// such as a uint256 max "never expires" marker, are clamped to it.
var MaxTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

func (e Event) timeInput(name string) (time.Time, error) {
	raw, err := e.required(name)
	if err != nil {
		return time.Time{}, err
	}
	secs, err := ParseAmount(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	if !secs.IsUint64() || secs.Uint64() > uint64(MaxTime.Unix()) {
		return MaxTime, nil
	}
	return time.Unix(int64(secs.Uint64()), 0).UTC(), nil
}

// ParseAmount accepts a JSON number or a decimal / 0x-hex string.
func ParseAmount(raw json.RawMessage) (*uint256.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			return nil, err
		}
		s = n.String()
	}

	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		digits := strings.TrimLeft(s[2:], "0")
		if digits == "" {
			digits = "0"
		}
		return uint256.FromHex("0x" + digits)
	}
	return uint256.FromDecimal(s)
}

func parseUint64(raw json.RawMessage) (uint64, error) {
	v, err := ParseAmount(raw)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("value %s overflows uint64", v.Dec())
	}
	return v.Uint64(), nil
}

func (e Event) HasInput(name string) bool {
	_, ok := e.input(name)
	return ok
}

// TokenID decodes the tokenId input every tracked event carries.
func (e Event) TokenID() (uint64, error) {
	return e.uint64Input("tokenId")
}

func (e Event) Address(name string) (common.Address, error) {
	return e.addressInput(name)
}
