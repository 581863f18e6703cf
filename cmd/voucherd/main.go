package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	apiv1 "merchant-voucher/internal/httpapi"
	"merchant-voucher/pkg/accesscontrol"
	"merchant-voucher/pkg/config"
	"merchant-voucher/pkg/db"
	"merchant-voucher/pkg/featureflags"
	"merchant-voucher/pkg/gateway"
	"merchant-voucher/pkg/gen"
	"merchant-voucher/pkg/hashistack/secretmanager"
	"merchant-voucher/pkg/hashistack/servicediscover"
	"merchant-voucher/pkg/health"
	"merchant-voucher/pkg/httpapi"
	"merchant-voucher/pkg/logger"
	"merchant-voucher/pkg/minio"
	"merchant-voucher/pkg/otelcol"
	"merchant-voucher/pkg/profiling"
	"merchant-voucher/pkg/redis"
	"merchant-voucher/pkg/sequence"
	"merchant-voucher/pkg/server"
	"merchant-voucher/pkg/task"
	"merchant-voucher/services/event"
	"merchant-voucher/services/projector"
	"merchant-voucher/services/snapshot"
	"merchant-voucher/services/submission"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		minio.Client,
		task.Client,
		task.Server,
		sequence.Module,
		gen.Module,
		gateway.Module,
		accesscontrol.Module,
		featureflags.Module,
		event.Module,
		projector.Module,
		submission.Module,
		snapshot.Module,
		health.Module,
		httpapi.Module,
		apiv1.Module,
		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		servicediscover.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
