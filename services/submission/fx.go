package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"merchant-voucher/pkg/accesscontrol"
	"merchant-voucher/pkg/config"
	"merchant-voucher/pkg/featureflags"
	"merchant-voucher/pkg/gateway"
	"merchant-voucher/pkg/sequence"
	"merchant-voucher/pkg/task"
	"merchant-voucher/pkg/taskname"
	"merchant-voucher/services/projector"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// proposals stay readable for a week after their last write
const retention = 7 * 24 * time.Hour

var Module = fx.Module("submission",
	fx.Provide(
		ProvideStore,
		NewServiceFromParams,
	),
	fx.Invoke(registerTaskHandlers),
)

func ProvideStore(rdb *redis.Client) Store {
	return NewRedisStore(rdb, retention)
}

type ServiceParams struct {
	fx.In
	Config    *config.Config
	Store     Store
	Gateway   gateway.Client
	Contracts gateway.Contracts
	Projector *projector.Projector
	Node      *snowflake.Node
	Seq       sequence.Generator
	Auth      accesscontrol.Authorizer
	Flags     featureflags.FeatureFlag
	Enqueuer  task.Enqueuer `optional:"true"`
}

func NewServiceFromParams(p ServiceParams) *Service {
	var enqueuer Enqueuer
	if p.Enqueuer != nil {
		enqueuer = p.Enqueuer
	}
	return NewService(p.Store, p.Gateway, p.Contracts, p.Projector, p.Node, p.Seq, p.Auth, p.Flags, enqueuer, Options{
		ConfirmTimeout: p.Config.Submission.ConfirmTimeout,
		PollInterval:   p.Config.Submission.PollInterval,
		ProposalTTL:    p.Config.Submission.ProposalTTL,
	})
}

type ExpirePayload struct {
	ProposalID string `json:"proposal_id"`
}

func NewExpireTask(proposalID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ExpirePayload{ProposalID: proposalID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.ProposalExpire, payload, asynq.MaxRetry(5), asynq.Queue("low")), nil
}

func (s *Service) HandleExpire(ctx context.Context, t *asynq.Task) error {
	var payload ExpirePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
	}

	err := s.Expire(ctx, payload.ProposalID)
	if errors.Is(err, ErrNotFound) {
		zap.L().Info("expired proposal already gone", zap.String("proposal_id", payload.ProposalID))
		return nil
	}
	return err
}

func registerTaskHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.ProposalExpire, s.HandleExpire)
}
