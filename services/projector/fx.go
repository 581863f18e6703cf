package projector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"merchant-voucher/pkg/config"
	"merchant-voucher/pkg/gateway"
	"merchant-voucher/pkg/health"
	"merchant-voucher/pkg/taskname"
	"merchant-voucher/services/event"
	"merchant-voucher/services/redemption"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("projector",
	fx.Provide(
		ProvideRecorder,
		ProvideProjector,
		ProvideSyncer,
		NewTaskHandler,
		fx.Annotate(ReadinessCheck, fx.ResultTags(`group:"readiness"`)),
	),
	fx.Invoke(
		registerCollectors,
		registerLifecycle,
		registerTaskHandlers,
	),
)

func ProvideRecorder() *redemption.MemoryRecorder {
	return redemption.NewMemoryRecorder(0)
}

func ProvideProjector(cfg *config.Config, store event.Store, recorder *redemption.MemoryRecorder) *Projector {
	return New(store, NewViews(recorder), Options{RecentSize: cfg.Projector.RecentSize})
}

func ProvideSyncer(cfg *config.Config, gw gateway.Client, p *Projector, contracts gateway.Contracts, cursors event.CursorStore) *Syncer {
	return NewSyncer(gw, p, contracts, SyncerOptions{
		PageLimit:    cfg.Projector.PageLimit,
		PollInterval: cfg.Projector.PollInterval,
		Cursors:      cursors,
	})
}

// ReadinessCheck fails while replay is halted on a corrupted log.
func ReadinessCheck(p *Projector) health.Check {
	return health.Check{Name: "projector", Check: func(context.Context) error {
		if s := p.Status(); s.Corrupted {
			return errors.New(s.Reason)
		}
		return nil
	}}
}

func registerCollectors() {
	collectors := append(Collectors(), redemption.Collectors()...)
	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				zap.L().Warn("failed to register collector", zap.Error(err))
			}
		}
	}
}

func registerLifecycle(lc fx.Lifecycle, p *Projector, s *Syncer) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := p.Rebuild(ctx); err != nil {
				return fmt.Errorf("initial rebuild: %w", err)
			}
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}

// TaskHandler exposes sync and rebuild as asynq tasks so other components
// can request an immediate catch-up.
type TaskHandler struct {
	projector *Projector
	syncer    *Syncer
}

func NewTaskHandler(p *Projector, s *Syncer) *TaskHandler {
	return &TaskHandler{projector: p, syncer: s}
}

type SyncPayload struct {
	Reason string `json:"reason"`
}

func NewSyncTask(reason string) (*asynq.Task, error) {
	payload, err := json.Marshal(SyncPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.ProjectorSync, payload, asynq.MaxRetry(3), asynq.Queue("critical")), nil
}

func (h *TaskHandler) HandleSync(ctx context.Context, t *asynq.Task) error {
	var payload SyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
	}

	res, err := h.syncer.Sync(ctx)
	if errors.Is(err, ErrLogCorrupted) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	zap.L().Info("sync task done",
		zap.String("task_type", t.Type()),
		zap.String("reason", payload.Reason),
		zap.Int("applied", res.Applied),
	)
	return nil
}

func (h *TaskHandler) HandleRebuild(ctx context.Context, t *asynq.Task) error {
	res, err := h.projector.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	zap.L().Info("rebuild task done", zap.String("task_type", t.Type()), zap.Int("applied", res.Applied))
	return nil
}

func registerTaskHandlers(mux *asynq.ServeMux, h *TaskHandler) {
	mux.HandleFunc(taskname.ProjectorSync, h.HandleSync)
	mux.HandleFunc(taskname.ProjectorRebuild, h.HandleRebuild)
}
