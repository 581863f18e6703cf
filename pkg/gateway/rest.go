package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"merchant-voucher/services/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const apiPrefix = "/api/v0"

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type callBody struct {
	Args             []any  `json:"args"`
	ContractOverride bool   `json:"contractOverride"`
	From             string `json:"from,omitempty"`
}

type callResult struct {
	Kind   ResultKind           `json:"kind"`
	Output json.RawMessage      `json:"output"`
	Tx     *UnsignedTransaction `json:"tx"`
}

type wireInput struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

type wireEvent struct {
	TriggeredAt time.Time `json:"triggeredAt"`
	Event       struct {
		Name       string      `json:"name"`
		Signature  string      `json:"signature"`
		IndexInLog uint64      `json:"indexInLog"`
		Inputs     []wireInput `json:"inputs"`
		Contract   struct {
			Address string `json:"address"`
		} `json:"contract"`
	} `json:"event"`
	Transaction struct {
		From        string `json:"from"`
		TxHash      string `json:"txHash"`
		BlockNumber uint64 `json:"blockNumber"`
	} `json:"transaction"`
}

func (w wireEvent) toEvent() (event.Event, error) {
	if !strings.HasPrefix(w.Transaction.TxHash, "0x") || len(w.Transaction.TxHash) != 66 {
		return event.Event{}, fmt.Errorf("invalid tx hash %q", w.Transaction.TxHash)
	}
	inputs := make([]event.Input, 0, len(w.Event.Inputs))
	for _, in := range w.Event.Inputs {
		inputs = append(inputs, event.Input{Name: in.Name, Value: in.Value})
	}
	return event.Event{
		TxHash:          common.HexToHash(w.Transaction.TxHash),
		From:            common.HexToAddress(w.Transaction.From),
		LogIndex:        w.Event.IndexInLog,
		BlockNumber:     w.Transaction.BlockNumber,
		TriggeredAt:     w.TriggeredAt.UTC(),
		ContractAddress: common.HexToAddress(w.Event.Contract.Address),
		Name:            w.Event.Name,
		Inputs:          inputs,
	}, nil
}

// RestClient talks to a MultiBaas-style REST gateway.
type RestClient struct {
	cfg  Config
	http *resty.Client
}

func NewRestClient(cfg Config) *RestClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")+apiPrefix).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &RestClient{cfg: cfg, http: client}
}

func (c *RestClient) do(ctx context.Context, op string, req *resty.Request, method, path string) (json.RawMessage, error) {
	var env envelope
	resp, err := req.SetContext(ctx).SetResult(&env).SetError(&env).Execute(method, path)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	if resp.IsError() {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		zap.L().Warn("gateway request failed",
			zap.String("op", op),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode()),
			zap.String("message", msg),
		)
		return nil, &Error{Op: op, StatusCode: resp.StatusCode(), Err: errors.New(msg)}
	}
	return env.Result, nil
}

func (c *RestClient) Call(ctx context.Context, req CallRequest) (CallResult, error) {
	args := req.Args
	if args == nil {
		args = []any{}
	}
	body := callBody{Args: args, ContractOverride: true}
	if req.From != nil {
		body.From = req.From.Hex()
	}

	path := fmt.Sprintf("/chains/%s/addresses/%s/contracts/%s/methods/%s",
		c.cfg.Chain, req.Contract.Alias, req.Contract.Label, req.Method)

	raw, err := c.do(ctx, "call "+req.Method, c.http.R().SetBody(body), resty.MethodPost, path)
	if err != nil {
		return CallResult{}, err
	}

	var res callResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return CallResult{}, &Error{Op: "call " + req.Method, Err: err}
	}

	switch res.Kind {
	case KindMethodCall:
		return CallResult{Kind: res.Kind, Output: res.Output}, nil
	case KindTransactionSign:
		if res.Tx != nil && res.Tx.ChainID == 0 {
			res.Tx.ChainID = c.cfg.ChainID
		}
		return CallResult{Kind: res.Kind, Tx: res.Tx}, nil
	default:
		return CallResult{}, fmt.Errorf("%w: %q", ErrUnexpectedResult, res.Kind)
	}
}

func (c *RestClient) ListEvents(ctx context.Context, query EventQuery) ([]event.Event, error) {
	params := map[string]string{
		"chain":            c.cfg.Chain,
		"contract_address": query.Contract.Alias,
		"contract_label":   query.Contract.Label,
		"event_signature":  query.Signature,
		"from_constructor": "false",
	}
	if query.Limit > 0 {
		params["limit"] = strconv.Itoa(query.Limit)
	}
	if query.Offset > 0 {
		params["offset"] = strconv.Itoa(query.Offset)
	}

	raw, err := c.do(ctx, "list events", c.http.R().SetQueryParams(params), resty.MethodGet, "/events")
	if err != nil {
		return nil, err
	}

	var items []wireEvent
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &Error{Op: "list events", Err: err}
	}

	out := make([]event.Event, 0, len(items))
	for _, item := range items {
		e, err := item.toEvent()
		if err != nil {
			zap.L().Warn("dropping gateway event", zap.String("signature", query.Signature), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *RestClient) ChainStatus(ctx context.Context) (ChainStatus, error) {
	raw, err := c.do(ctx, "chain status", c.http.R(), resty.MethodGet, fmt.Sprintf("/chains/%s/status", c.cfg.Chain))
	if err != nil {
		return ChainStatus{}, err
	}

	var status ChainStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return ChainStatus{}, &Error{Op: "chain status", Err: err}
	}
	if c.cfg.ChainID != 0 && status.ChainID != c.cfg.ChainID {
		return ChainStatus{}, &Error{Op: "chain status", Err: fmt.Errorf("chain id %d, want %d", status.ChainID, c.cfg.ChainID)}
	}
	return status, nil
}
