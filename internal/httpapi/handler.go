// Package httpapi exposes the materialized views and the proposal workflow
// over HTTP.
package httpapi

import (
	"context"
	"time"

	"merchant-voucher/pkg/config"
	"merchant-voucher/pkg/middleware"
	"merchant-voucher/services/event"
	"merchant-voucher/services/projector"
	"merchant-voucher/services/snapshot"
	"merchant-voucher/services/submission"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi.v1",
	fx.Provide(ProvideHandler),
	fx.Invoke(Register),
)

// Proposals is the part of submission.Service the API drives.
type Proposals interface {
	ProposeUse(ctx context.Context, requester common.Address, p submission.UseParams) (*submission.Proposal, error)
	ProposeClaim(ctx context.Context, requester common.Address, p submission.ClaimParams) (*submission.Proposal, error)
	ProposeIssue(ctx context.Context, requester common.Address, p submission.IssueParams) (*submission.Proposal, error)
	ProposeRevoke(ctx context.Context, requester common.Address, p submission.RevokeParams) (*submission.Proposal, error)
	ProposeDefine(ctx context.Context, requester common.Address, p submission.DefineParams) (*submission.Proposal, error)
	ProposeMint(ctx context.Context, requester common.Address, p submission.MintParams) (*submission.Proposal, error)
	ProposeOpenPool(ctx context.Context, requester common.Address, p submission.OpenPoolParams) (*submission.Proposal, error)
	Get(ctx context.Context, id string) (*submission.Proposal, error)
	Confirm(ctx context.Context, id string, txHash common.Hash) (*submission.Proposal, error)
}

type Exporter interface {
	Export(ctx context.Context) (snapshot.Info, error)
}

// Pager reads the stored log in ledger order.
type Pager interface {
	Page(ctx context.Context, after event.Position, limit int) ([]event.Event, error)
}

type Handler struct {
	projector *projector.Projector
	proposals Proposals
	exporter  Exporter
	log       Pager
	auth      *middleware.Authenticator
	limiter   *middleware.RateLimiter
	now       func() time.Time
}

type Params struct {
	fx.In
	Config    *config.Config
	Projector *projector.Projector
	Proposals *submission.Service
	Store     event.Store
	Exporter  *snapshot.Exporter `optional:"true"`
}

func ProvideHandler(p Params) *Handler {
	var exporter Exporter
	if p.Exporter != nil {
		exporter = p.Exporter
	}
	h := NewHandler(p.Projector, p.Proposals, exporter)
	h.log = p.Store
	h.auth = middleware.NewAuthenticator(middleware.AuthConfig{
		HMACSecret: p.Config.Auth.HMACSecret,
		Issuer:     p.Config.Auth.Issuer,
		Audience:   p.Config.Auth.Audience,
		Leeway:     p.Config.Auth.Leeway,
	})
	h.limiter = middleware.NewRateLimiter(p.Config.RateLimit.ProposalsPerMinute, p.Config.RateLimit.Burst)
	return h
}

// NewHandler wires the API. A nil exporter disables POST /v1/snapshots.
func NewHandler(p *projector.Projector, proposals Proposals, exporter Exporter) *Handler {
	return &Handler{projector: p, proposals: proposals, exporter: exporter, now: time.Now}
}

func Register(router *gin.Engine, h *Handler) {
	v1 := router.Group("/v1")

	v1.GET("/certificates", h.ListCertificates)
	v1.GET("/certificates/:id", h.GetCertificate)
	v1.GET("/voucher-types", h.ListVoucherTypes)
	v1.GET("/voucher-types/:id", h.GetVoucherType)
	v1.GET("/holders/:address/holdings", h.ListHoldings)
	v1.GET("/claim-pools", h.ListClaimPools)
	v1.GET("/events", h.ListEvents)
	v1.GET("/events/log", h.PageEvents)
	v1.POST("/snapshots", h.ExportSnapshot)

	proposals := v1.Group("/proposals")
	proposals.GET("/:id", h.GetProposal)

	account := proposals.Group("", middleware.Account(), h.auth.Handler(), h.limiter.Handler())
	account.POST("/use", propose(h.proposals.ProposeUse))
	account.POST("/claim", propose(h.proposals.ProposeClaim))
	account.POST("/issue", propose(h.proposals.ProposeIssue))
	account.POST("/revoke", propose(h.proposals.ProposeRevoke))
	account.POST("/define", propose(h.proposals.ProposeDefine))
	account.POST("/mint", propose(h.proposals.ProposeMint))
	account.POST("/open-pool", propose(h.proposals.ProposeOpenPool))
	account.POST("/:id/confirm", h.ConfirmProposal)
}
