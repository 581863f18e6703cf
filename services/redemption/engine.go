package redemption

import (
	"context"
	"time"

	"merchant-voucher/services/balance"
	"merchant-voucher/services/catalog"
	"merchant-voucher/services/merchant"
	"merchant-voucher/services/outcome"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

type Reason = outcome.Reason

// UseRequest is one attempt to spend voucher balance at a merchant.
type UseRequest struct {
	Holder         common.Address `json:"holder"`
	TokenID        uint64         `json:"token_id"`
	Amount         uint256.Int    `json:"amount"`
	Merchant       common.Address `json:"merchant"`
	MerchantCertID uint64         `json:"merchant_cert_id"`
}

// Engine runs the redemption checks against the confirmed views and, for
// confirmed uses, applies the debit and consumption count together.
type Engine struct {
	registry *merchant.Registry
	catalog  *catalog.Catalog
	ledger   *balance.Ledger
	recorder Recorder
}

func NewEngine(registry *merchant.Registry, cat *catalog.Catalog, ledger *balance.Ledger, recorder Recorder) *Engine {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Engine{
		registry: registry,
		catalog:  cat,
		ledger:   ledger,
		recorder: recorder,
	}
}

// Validate runs every check in order and stops at the first failure. It
// never mutates state.
func (e *Engine) Validate(req UseRequest, asOf time.Time) outcome.Outcome {
	vt, err := e.catalog.Lookup(req.TokenID)
	if err != nil || vt.ExpiredAt(asOf) {
		return outcome.Reject(outcome.VoucherTypeInvalid)
	}

	if req.Amount.Gt(&vt.SingleUsageLimit) {
		return outcome.Reject(outcome.SingleUseLimitExceeded)
	}

	if e.ledger.BalanceOf(req.Holder, req.TokenID).Lt(&req.Amount) {
		return outcome.Reject(outcome.InsufficientBalance)
	}

	if e.ledger.ConsumptionCountOf(req.Holder, req.TokenID) >= vt.MaxUsage {
		return outcome.Reject(outcome.MaxUsageExceeded)
	}

	cert, err := e.registry.CertOf(req.MerchantCertID)
	if err != nil || cert.Owner != req.Merchant || !cert.ValidAt(asOf) {
		return outcome.Reject(outcome.InvalidOrExpiredMerchantCert)
	}

	if !vt.Allows(cert.MerchantTypeID) {
		return outcome.Reject(outcome.MerchantTypeNotAllowed)
	}

	return outcome.Accept()
}

// Use validates the request and, when every check passes, debits the holder
// and records one consumption. A rejected request leaves all views untouched.
// The outcome is counted and handed to the recorder.
func (e *Engine) Use(ctx context.Context, req UseRequest, asOf time.Time) outcome.Outcome {
	result := e.Apply(req, asOf)
	Count(result)
	e.Record(ctx, req, asOf, result)
	return result
}

// Apply is Use without counting or recording, for callers that replay uses
// they may already have reported.
func (e *Engine) Apply(req UseRequest, asOf time.Time) outcome.Outcome {
	result := e.Validate(req, asOf)
	if result.IsAccepted() {
		if debit := e.ledger.Debit(req.Holder, req.TokenID, &req.Amount); !debit.IsAccepted() {
			result = debit
		} else {
			e.ledger.RecordConsumption(req.Holder, req.TokenID)
		}
	}

	if result.IsRejected() {
		zap.L().Info("voucher use rejected",
			zap.String("holder", req.Holder.Hex()),
			zap.Uint64("token_id", req.TokenID),
			zap.String("amount", req.Amount.Dec()),
			zap.String("reason", result.Reason.String()),
		)
	}
	return result
}

func (e *Engine) Record(ctx context.Context, req UseRequest, asOf time.Time, result outcome.Outcome) {
	e.recorder.Record(ctx, UseRecord{Request: req, At: asOf, Outcome: result})
}

// Count adds result to the use outcome metric.
func Count(result outcome.Outcome) {
	outcomesTotal.WithLabelValues(string(result.Status), string(result.Reason)).Inc()
}
