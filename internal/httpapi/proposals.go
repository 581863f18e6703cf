package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"merchant-voucher/pkg/errutil"
	"merchant-voucher/pkg/middleware"
	"merchant-voucher/services/outcome"
	"merchant-voucher/services/submission"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
)

// propose binds the body into the kind's params and answers 201 with the
// pending proposal and its unsigned transaction.
func propose[P any](fn func(context.Context, common.Address, P) (*submission.Proposal, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		requester, _ := middleware.GetAccount(c)

		var params P
		if err := bindJSON(c, &params); err != nil {
			_ = c.Error(err)
			return
		}

		p, err := fn(c.Request.Context(), requester, params)
		if err != nil {
			_ = c.Error(apiError(err))
			return
		}
		if p.Status == outcome.Rejected {
			_ = c.Error(rejected(p))
			return
		}

		c.JSON(http.StatusCreated, p)
	}
}

type ConfirmRequest struct {
	TxHash string `json:"txHash" binding:"required"`
}

// ConfirmProposal waits for the transaction to be replayed. Unconfirmed
// answers 202; the proposal can be polled afterwards.
func (h *Handler) ConfirmProposal(c *gin.Context) {
	var req ConfirmRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	txHash, err := parseHash(req.TxHash)
	if err != nil {
		_ = c.Error(errutil.BadRequest("invalid txHash", err))
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")

	p, err := h.proposals.Get(ctx, id)
	if err != nil {
		_ = c.Error(apiError(err))
		return
	}
	if requester, _ := middleware.GetAccount(c); p.Requester != requester {
		_ = c.Error(errutil.Forbidden("proposal belongs to another account", nil))
		return
	}

	p, err = h.proposals.Confirm(ctx, id, txHash)
	if err != nil {
		_ = c.Error(apiError(err))
		return
	}

	writeProposal(c, p)
}

func (h *Handler) GetProposal(c *gin.Context) {
	p, err := h.proposals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(apiError(err))
		return
	}
	c.JSON(http.StatusOK, p)
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("want %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

func writeProposal(c *gin.Context, p *submission.Proposal) {
	switch p.Status {
	case outcome.Rejected:
		_ = c.Error(rejected(p))
	case outcome.Accepted:
		c.JSON(http.StatusOK, p)
	default:
		c.JSON(http.StatusAccepted, p)
	}
}
