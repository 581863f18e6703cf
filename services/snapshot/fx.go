package snapshot

import (
	"context"
	"time"

	"merchant-voucher/pkg/config"
	"merchant-voucher/pkg/taskname"
	"merchant-voucher/services/projector"

	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("snapshot",
	fx.Provide(ProvideExporter),
	fx.Invoke(registerTaskHandlers, startScheduler),
)

func ProvideExporter(cfg *config.Config, p *projector.Projector, client *minio.Client) *Exporter {
	return NewExporter(p, client, cfg.Minio.BucketName, cfg.Snapshot.Prefix)
}

func NewExportTask() *asynq.Task {
	return asynq.NewTask(taskname.SnapshotExport, nil, asynq.MaxRetry(3), asynq.Queue("low"), asynq.Unique(time.Hour))
}

func (e *Exporter) HandleExport(ctx context.Context, t *asynq.Task) error {
	info, err := e.Export(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("snapshot task done", zap.String("task_type", t.Type()), zap.String("key", info.Key))
	return nil
}

func registerTaskHandlers(mux *asynq.ServeMux, e *Exporter) {
	mux.HandleFunc(taskname.SnapshotExport, e.HandleExport)
}
