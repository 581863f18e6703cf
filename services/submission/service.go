package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"merchant-voucher/pkg/accesscontrol"
	"merchant-voucher/pkg/featureflags"
	"merchant-voucher/pkg/gateway"
	"merchant-voucher/pkg/sequence"
	"merchant-voucher/services/outcome"
	"merchant-voucher/services/projector"
	"merchant-voucher/services/redemption"

	"github.com/bwmarrin/snowflake"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hibiken/asynq"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

var (
	ErrInvalidParams   = errors.New("submission: invalid parameters")
	ErrFeatureDisabled = errors.New("submission: proposal kind disabled")
	ErrNotSubmittable  = errors.New("submission: proposal cannot be confirmed")
)

type Options struct {
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	ProposalTTL    time.Duration
}

// Enqueuer is satisfied by task.Enqueuer.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Service struct {
	store     Store
	gateway   gateway.Client
	contracts gateway.Contracts
	projector *projector.Projector
	node      *snowflake.Node
	seq       sequence.Generator
	auth      accesscontrol.Authorizer
	flags     featureflags.FeatureFlag
	enqueuer  Enqueuer
	opts      Options
	now       func() time.Time
}

func NewService(
	store Store,
	gw gateway.Client,
	contracts gateway.Contracts,
	p *projector.Projector,
	node *snowflake.Node,
	seq sequence.Generator,
	auth accesscontrol.Authorizer,
	flags featureflags.FeatureFlag,
	enqueuer Enqueuer,
	opts Options,
) *Service {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ProposalTTL <= 0 {
		opts.ProposalTTL = 24 * time.Hour
	}
	if flags == nil {
		flags = featureflags.AllEnabled{}
	}
	return &Service{
		store:     store,
		gateway:   gw,
		contracts: contracts,
		projector: p,
		node:      node,
		seq:       seq,
		auth:      auth,
		flags:     flags,
		enqueuer:  enqueuer,
		opts:      opts,
		now:       time.Now,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidParams}, args...)...)
}

func parseAmount(field, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, invalid("%s: %v", field, err)
	}
	if v.IsZero() {
		return nil, invalid("%s must be > 0", field)
	}
	return v, nil
}

func tokenArg(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// call is what a proposal asks the gateway to build once preflight passes.
type call struct {
	contract gateway.Contract
	method   string
	args     []any
}

// ProposeUse pre-validates a redemption by requester against the last
// replayed state. A request the views already reject is stored as Rejected
// and never reaches the gateway.
func (s *Service) ProposeUse(ctx context.Context, requester common.Address, p UseParams) (*Proposal, error) {
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}

	asOf := s.now()
	var (
		verdict outcome.Outcome
		certID  uint64
	)
	s.projector.Read(func(v projector.Views) {
		if p.MerchantCertID != nil {
			certID = *p.MerchantCertID
		} else {
			certID = projector.ResolveCert(v, p.Merchant, p.TokenID, asOf)
		}
		verdict = v.Engine.Validate(redemption.UseRequest{
			Holder:         requester,
			TokenID:        p.TokenID,
			Amount:         *amount,
			Merchant:       p.Merchant,
			MerchantCertID: certID,
		}, asOf)
	})
	p.MerchantCertID = &certID

	return s.propose(ctx, KindUse, requester, p, verdict, call{
		contract: s.contracts.Voucher,
		method:   "useVoucher",
		args:     []any{tokenArg(p.TokenID), amount.Dec(), p.Merchant.Hex(), tokenArg(certID)},
	})
}

func (s *Service) ProposeClaim(ctx context.Context, requester common.Address, p ClaimParams) (*Proposal, error) {
	var verdict outcome.Outcome
	s.projector.Read(func(v projector.Views) {
		verdict = v.Pool.Check(p.TokenID, requester)
	})

	return s.propose(ctx, KindClaim, requester, p, verdict, call{
		contract: s.contracts.Voucher,
		method:   "claim",
		args:     []any{tokenArg(p.TokenID)},
	})
}

func (s *Service) ProposeIssue(ctx context.Context, requester common.Address, p IssueParams) (*Proposal, error) {
	if p.To == (common.Address{}) {
		return nil, invalid("to is required")
	}
	if !p.Expiry.After(s.now()) {
		return nil, invalid("expiry must be in the future")
	}

	return s.propose(ctx, KindIssue, requester, p, outcome.Outcome{}, call{
		contract: s.contracts.Merchant,
		method:   "mintCertification",
		args:     []any{p.To.Hex(), tokenArg(p.MerchantTypeID), strconv.FormatInt(p.Expiry.Unix(), 10)},
	})
}

func (s *Service) ProposeRevoke(ctx context.Context, requester common.Address, p RevokeParams) (*Proposal, error) {
	var err error
	s.projector.Read(func(v projector.Views) {
		_, err = v.Registry.CertOf(p.TokenID)
	})
	if err != nil {
		return nil, invalid("certificate %d: %v", p.TokenID, err)
	}

	return s.propose(ctx, KindRevoke, requester, p, outcome.Outcome{}, call{
		contract: s.contracts.Merchant,
		method:   "revokeCertification",
		args:     []any{tokenArg(p.TokenID)},
	})
}

func (s *Service) ProposeDefine(ctx context.Context, requester common.Address, p DefineParams) (*Proposal, error) {
	limit, err := parseAmount("single_usage_limit", p.SingleUsageLimit)
	if err != nil {
		return nil, err
	}
	if p.MaxUsage == 0 {
		return nil, invalid("max_usage must be > 0")
	}

	allowed := make([]string, 0, len(p.AllowedMerchantTypes))
	for _, id := range p.AllowedMerchantTypes {
		allowed = append(allowed, tokenArg(id))
	}

	return s.propose(ctx, KindDefine, requester, p, outcome.Outcome{}, call{
		contract: s.contracts.Voucher,
		method:   "defineVoucherType",
		args: []any{
			tokenArg(p.TokenID),
			strconv.FormatInt(p.Expiry.Unix(), 10),
			tokenArg(p.MaxUsage),
			limit.Dec(),
			allowed,
		},
	})
}

func (s *Service) ProposeMint(ctx context.Context, requester common.Address, p MintParams) (*Proposal, error) {
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	if p.To == (common.Address{}) {
		return nil, invalid("to is required")
	}

	verdict := s.voucherTypeUsable(p.TokenID)
	return s.propose(ctx, KindMint, requester, p, verdict, call{
		contract: s.contracts.Voucher,
		method:   "mintVoucher",
		args:     []any{p.To.Hex(), tokenArg(p.TokenID), amount.Dec(), "0x"},
	})
}

func (s *Service) ProposeOpenPool(ctx context.Context, requester common.Address, p OpenPoolParams) (*Proposal, error) {
	total, err := parseAmount("total_amount", p.TotalAmount)
	if err != nil {
		return nil, err
	}
	perClaim, err := parseAmount("per_claim_limit", p.PerClaimLimit)
	if err != nil {
		return nil, err
	}

	verdict := s.voucherTypeUsable(p.TokenID)
	return s.propose(ctx, KindOpenPool, requester, p, verdict, call{
		contract: s.contracts.Voucher,
		method:   "openClaimPool",
		args:     []any{tokenArg(p.TokenID), total.Dec(), perClaim.Dec()},
	})
}

// voucherTypeUsable rejects mints and pools for a type that is unknown or
// already expired.
func (s *Service) voucherTypeUsable(tokenID uint64) outcome.Outcome {
	verdict := outcome.Outcome{}
	s.projector.Read(func(v projector.Views) {
		vt, err := v.Catalog.Lookup(tokenID)
		if err != nil || vt.ExpiredAt(s.now()) {
			verdict = outcome.Reject(outcome.VoucherTypeInvalid)
		}
	})
	return verdict
}

func (s *Service) propose(ctx context.Context, kind Kind, requester common.Address, params any, verdict outcome.Outcome, c call) (*Proposal, error) {
	if requester == (common.Address{}) {
		return nil, invalid("requester is required")
	}
	if !s.flags.Enabled(ctx, requester.Hex(), featureflags.ProposalFlagPrefix+string(kind)) {
		return nil, fmt.Errorf("%w: %s", ErrFeatureDisabled, kind)
	}
	if kind.Administrative() {
		if err := s.auth.Authorize(requester, string(kind)); err != nil {
			return nil, err
		}
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, invalid("%v", err)
	}
	code, err := s.seq.NextProposalCode(ctx, string(kind))
	if err != nil {
		return nil, fmt.Errorf("next proposal code: %w", err)
	}

	now := s.now()
	p := &Proposal{
		ID:        s.node.Generate().String(),
		Code:      code,
		Kind:      kind,
		Requester: requester,
		Params:    raw,
		Status:    outcome.Pending,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.opts.ProposalTTL),
	}

	zapLog := zap.L().With(
		zap.String("proposal_id", p.ID),
		zap.String("kind", string(kind)),
		zap.String("requester", requester.Hex()),
	)

	if verdict.IsRejected() {
		p.resolve(verdict, now)
		zapLog.Info("proposal rejected by preflight", zap.String("reason", verdict.Reason.String()))
		if err := s.store.Save(ctx, p); err != nil {
			return nil, fmt.Errorf("save proposal: %w", err)
		}
		return p, nil
	}

	res, err := s.gateway.Call(ctx, gateway.CallRequest{
		Contract: c.contract,
		Method:   c.method,
		Args:     c.args,
		From:     &requester,
	})
	if err != nil {
		zapLog.Error("gateway call failed", zap.String("method", c.method), zap.Error(err))
		return nil, err
	}
	tx, err := res.Transaction()
	if err != nil {
		return nil, err
	}
	p.Tx = tx

	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save proposal: %w", err)
	}
	s.scheduleExpiry(ctx, p)

	zapLog.Info("proposal pending", zap.String("code", p.Code))
	return p, nil
}

func (s *Service) scheduleExpiry(ctx context.Context, p *Proposal) {
	if s.enqueuer == nil {
		return
	}
	t, err := NewExpireTask(p.ID)
	if err == nil {
		_, err = s.enqueuer.Enqueue(ctx, t, asynq.ProcessIn(s.opts.ProposalTTL))
	}
	if err != nil {
		zap.L().Warn("failed to schedule proposal expiry", zap.String("proposal_id", p.ID), zap.Error(err))
	}
}

// Get returns the proposal, resolving it first when its transaction has been
// replayed since the last look.
func (s *Service) Get(ctx context.Context, id string) (*Proposal, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() || p.TxHash == nil {
		return p, nil
	}
	if o, ok := s.txOutcome(p); ok {
		p.resolve(o, s.now())
		if err := s.store.Save(ctx, p); err != nil {
			return nil, fmt.Errorf("save proposal: %w", err)
		}
	}
	return p, nil
}

// txOutcome resolves p only on a replayed event of its own kind carrying its
// parameters, so a hash of an unrelated transaction never confirms it.
func (s *Service) txOutcome(p *Proposal) (outcome.Outcome, bool) {
	match, err := matcher(p)
	if err != nil {
		zap.L().Warn("cannot match proposal events", zap.String("proposal_id", p.ID), zap.Error(err))
		return outcome.Outcome{}, false
	}
	return s.projector.TxOutcome(*p.TxHash, match)
}

// Confirm records the hash of the signed transaction and waits for it to
// appear in the event log.
func (s *Service) Confirm(ctx context.Context, id string, txHash common.Hash) (*Proposal, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotSubmittable, id, p.Outcome())
	}
	if p.TxHash != nil && *p.TxHash != txHash {
		return nil, fmt.Errorf("%w: %s already bound to %s", ErrNotSubmittable, id, p.TxHash.Hex())
	}
	if p.Status.Terminal() {
		return p, nil
	}

	p.TxHash = &txHash
	p.Status = outcome.Validating
	p.UpdatedAt = s.now()
	if err := s.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save proposal: %w", err)
	}

	if s.enqueuer != nil {
		t, err := projector.NewSyncTask("confirm " + id)
		if err == nil {
			_, err = s.enqueuer.Enqueue(ctx, t)
		}
		if err != nil {
			zap.L().Warn("failed to enqueue sync", zap.String("proposal_id", id), zap.Error(err))
		}
	}

	return s.Await(ctx, id)
}

// Await polls the replayed log for the proposal's transaction. The wait is
// bounded by ConfirmTimeout; running out leaves the proposal Unconfirmed,
// which a later Get or Await can still resolve.
func (s *Service) Await(ctx context.Context, id string) (*Proposal, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.TxHash == nil {
		return nil, fmt.Errorf("%w: %s has no transaction hash", ErrNotSubmittable, id)
	}
	if p.Status.Terminal() {
		return p, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		if o, ok := s.txOutcome(p); ok {
			p.resolve(o, s.now())
			zap.L().Info("proposal resolved",
				zap.String("proposal_id", p.ID),
				zap.String("tx_hash", p.TxHash.Hex()),
				zap.String("outcome", o.String()),
			)
			return p, s.save(ctx, p)
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			p.resolve(outcome.Outcome{Status: outcome.Unconfirmed}, s.now())
			zap.L().Warn("proposal unconfirmed",
				zap.String("proposal_id", p.ID),
				zap.String("tx_hash", p.TxHash.Hex()),
			)
			// ctx may already be cancelled
			if err := s.save(context.WithoutCancel(ctx), p); err != nil {
				return nil, err
			}
			if ctx.Err() != nil {
				return p, ctx.Err()
			}
			return p, nil
		}
	}
}

func (s *Service) save(ctx context.Context, p *Proposal) error {
	if err := s.store.Save(ctx, p); err != nil {
		return fmt.Errorf("save proposal: %w", err)
	}
	return nil
}

// Expire marks a proposal that never received a transaction hash within its
// TTL as Unconfirmed.
func (s *Service) Expire(ctx context.Context, id string) error {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != outcome.Pending || p.TxHash != nil {
		return nil
	}
	p.resolve(outcome.Outcome{Status: outcome.Unconfirmed}, s.now())
	zap.L().Info("proposal expired", zap.String("proposal_id", id))
	return s.save(ctx, p)
}
