// Package gateway is the client for the external ledger gateway: contract
// method calls, event listing and chain status.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"merchant-voucher/services/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

//go:generate mockgen -source=gateway.go -destination=mock_gateway.go -package=gateway

var ErrUnexpectedResult = errors.New("gateway: unexpected result kind")

// Config is immutable once passed to a constructor.
type Config struct {
	BaseURL string
	APIKey  string
	Chain   string
	ChainID uint64
	Timeout time.Duration
}

// Contract addresses a deployed contract by its gateway alias and label.
type Contract struct {
	Alias string
	Label string
}

func (c Contract) String() string {
	return c.Alias + "/" + c.Label
}

// CallRequest describes a contract method invocation. From is the account the
// gateway builds an unsigned transaction for; it is ignored by read methods.
type CallRequest struct {
	Contract Contract
	Method   string
	Args     []any
	From     *common.Address
}

type ResultKind string

const (
	KindMethodCall      ResultKind = "MethodCallResponse"
	KindTransactionSign ResultKind = "TransactionToSignResponse"
)

// UnsignedTransaction is handed back to the caller's wallet for signing.
type UnsignedTransaction struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value,omitempty"`
	Data     string `json:"data"`
	Gas      uint64 `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	Nonce    uint64 `json:"nonce,omitempty"`
	Type     uint64 `json:"type,omitempty"`
	ChainID  uint64 `json:"chainId,omitempty"`
}

// CallResult is either a read output or an unsigned transaction.
type CallResult struct {
	Kind   ResultKind
	Output json.RawMessage
	Tx     *UnsignedTransaction
}

func (r CallResult) Transaction() (*UnsignedTransaction, error) {
	if r.Kind != KindTransactionSign || r.Tx == nil {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrUnexpectedResult, KindTransactionSign, r.Kind)
	}
	return r.Tx, nil
}

// Uint256 decodes a numeric read output.
func (r CallResult) Uint256() (*uint256.Int, error) {
	if r.Kind != KindMethodCall {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrUnexpectedResult, KindMethodCall, r.Kind)
	}
	v, err := event.ParseAmount(r.Output)
	if err != nil {
		return nil, &Error{Op: "decode output", Err: err}
	}
	return v, nil
}

// Uint64 is Uint256 for outputs that must fit in 64 bits.
func (r CallResult) Uint64() (uint64, error) {
	v, err := r.Uint256()
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, &Error{Op: "decode output", Err: fmt.Errorf("value %s overflows uint64", v.Dec())}
	}
	return v.Uint64(), nil
}

type ChainStatus struct {
	ChainID     uint64 `json:"chainID"`
	BlockNumber uint64 `json:"blockNumber"`
}

// EventQuery pages one signature's events, oldest first. Offset counts events
// of that signature from the first one the gateway indexed.
type EventQuery struct {
	Contract  Contract
	Signature string
	Limit     int
	Offset    int
}

type Client interface {
	Call(ctx context.Context, req CallRequest) (CallResult, error)
	ListEvents(ctx context.Context, query EventQuery) ([]event.Event, error)
	ChainStatus(ctx context.Context) (ChainStatus, error)
}

// Error wraps transport and decoding failures.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
