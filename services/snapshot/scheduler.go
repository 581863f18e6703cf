package snapshot

import (
	"context"
	"fmt"
	"time"

	"merchant-voucher/pkg/config"
	"merchant-voucher/pkg/task"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler enqueues one export task per day at a fixed hour.
type Scheduler struct {
	enqueuer task.Enqueuer
	hour     int
	cron     gocron.Scheduler
	job      gocron.Job
}

func NewScheduler(enqueuer task.Enqueuer, hour int, opts ...gocron.SchedulerOption) (*Scheduler, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("snapshot hour %d out of range", hour)
	}
	cron, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{enqueuer: enqueuer, hour: hour, cron: cron}, nil
}

type SchedulerParams struct {
	fx.In
	Config   *config.Config
	Enqueuer task.Enqueuer `optional:"true"`
}

func startScheduler(lc fx.Lifecycle, p SchedulerParams) error {
	if !p.Config.Snapshot.Daily || p.Enqueuer == nil {
		return nil
	}

	s, err := NewScheduler(p.Enqueuer, p.Config.Snapshot.Hour)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return s.Start(ctx)
		},
		OnStop: func(context.Context) error {
			cancel()
			return s.Shutdown()
		},
	})
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	job, err := s.cron.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(s.hour), 0, 0))),
		gocron.NewTask(func() { s.runDaily(ctx) }),
		gocron.WithName("snapshot-export"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule snapshot export: %w", err)
	}
	s.job = job
	s.cron.Start()

	zap.L().Info("[Scheduler] started snapshot scheduler", zap.Int("hour", s.hour))
	return nil
}

// NextRun reports when the export is due next.
func (s *Scheduler) NextRun() (time.Time, error) {
	if s.job == nil {
		return time.Time{}, fmt.Errorf("scheduler not started")
	}
	return s.job.NextRun()
}

func (s *Scheduler) Shutdown() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	zap.L().Info("[Scheduler] stopped")
	return nil
}

func (s *Scheduler) runDaily(ctx context.Context) {
	info, err := s.enqueuer.Enqueue(ctx, NewExportTask())
	if err != nil {
		zap.L().Error("[Scheduler] failed to enqueue snapshot export", zap.Error(err))
		return
	}
	zap.L().Info("[Scheduler] snapshot export enqueued", zap.String("task_id", info.ID))
}
