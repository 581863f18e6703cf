// Package outcome holds the result vocabulary shared by the ledger views and
// the redemption engine.
package outcome

import "fmt"

type Reason string

const (
	VoucherTypeInvalid           Reason = "VoucherTypeInvalid"
	SingleUseLimitExceeded       Reason = "SingleUseLimitExceeded"
	InsufficientBalance          Reason = "InsufficientBalance"
	MaxUsageExceeded             Reason = "MaxUsageExceeded"
	InvalidOrExpiredMerchantCert Reason = "InvalidOrExpiredMerchantCert"
	MerchantTypeNotAllowed       Reason = "MerchantTypeNotAllowed"
	AlreadyClaimed               Reason = "AlreadyClaimed"
	PoolExhausted                Reason = "PoolExhausted"
)

func (r Reason) String() string {
	return string(r)
}

type Status string

const (
	Pending     Status = "PENDING"
	Validating  Status = "VALIDATING"
	Accepted    Status = "ACCEPTED"
	Rejected    Status = "REJECTED"
	Unconfirmed Status = "UNCONFIRMED"
)

// Terminal reports whether no further transition is possible. Unconfirmed is
// not terminal: a later look at the event log may still resolve it.
func (s Status) Terminal() bool {
	return s == Accepted || s == Rejected
}

type Outcome struct {
	Status Status `json:"status"`
	Reason Reason `json:"reason,omitempty"`
}

func Accept() Outcome {
	return Outcome{Status: Accepted}
}

func Reject(reason Reason) Outcome {
	return Outcome{Status: Rejected, Reason: reason}
}

func (o Outcome) IsAccepted() bool {
	return o.Status == Accepted
}

func (o Outcome) IsRejected() bool {
	return o.Status == Rejected
}

func (o Outcome) String() string {
	if o.Reason != "" {
		return fmt.Sprintf("%s(%s)", o.Status, o.Reason)
	}
	return string(o.Status)
}
