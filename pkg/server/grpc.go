package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"merchant-voucher/pkg/config"
	"merchant-voucher/pkg/errutil"
	"merchant-voucher/pkg/health"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ProvideGRPCServer serves the standard gRPC health protocol, fed by the
// same readiness checks as /readyz.
var ProvideGRPCServer = fx.Module("grpc.server",
	fx.Provide(
		NewListener,
		WithOption,
		NewGRPCServer,
		grpchealth.NewServer,
	),
	fx.Invoke(
		StartGRPCServer,
	),
)

const healthProbeInterval = 10 * time.Second

func NewListener(cfg *config.Config) (net.Listener, error) {
	return net.Listen("tcp", cfg.Grpc.Addr)
}

// InterceptorLogger adapts zap to the go-grpc-middleware logging interface.
func InterceptorLogger(l *zap.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		f := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			f = append(f, zap.Any(key, fields[i+1]))
		}

		logger := l.WithOptions(zap.AddCallerSkip(1)).With(f...)
		switch lvl {
		case logging.LevelDebug:
			logger.Debug(msg)
		case logging.LevelInfo:
			logger.Info(msg)
		case logging.LevelWarn:
			logger.Warn(msg)
		case logging.LevelError:
			logger.Error(msg)
		default:
			panic(fmt.Sprintf("unknown level %v", lvl))
		}
	})
}

func recoverPanic(p any) error {
	zap.L().Error("recovered from panic", zap.Any("panic", p))
	return errutil.ToGRPCError(errutil.Internal("internal error", nil))
}

func WithOption(cfg *config.Config, tp trace.TracerProvider, mp metric.MeterProvider) ([]grpc.ServerOption, error) {
	logger := InterceptorLogger(zap.L())
	recoveryOpt := recovery.WithRecoveryHandler(recoverPanic)

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			logging.UnaryServerInterceptor(logger),
			errutil.UnaryServerInterceptor(),
			recovery.UnaryServerInterceptor(recoveryOpt),
		),
		grpc.ChainStreamInterceptor(
			logging.StreamServerInterceptor(logger),
			errutil.StreamServerInterceptor(),
			recovery.StreamServerInterceptor(recoveryOpt),
		),
		WithStatsHandler(tp, mp),
	}

	if cfg.TLS.Enable {
		cert, err := LoadCertificate(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithTLS(cert))
	}
	return opts, nil
}

func WithStatsHandler(tp trace.TracerProvider, mp metric.MeterProvider) grpc.ServerOption {
	return grpc.StatsHandler(
		otelgrpc.NewServerHandler(
			otelgrpc.WithTracerProvider(tp),
			otelgrpc.WithMeterProvider(mp),
		),
	)
}

// LoadCertificate
func LoadCertificate(certPath, keyPath string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// WithTLS
func WithTLS(tls *tls.Certificate) grpc.ServerOption {
	return grpc.Creds(
		credentials.NewServerTLSFromCert(tls),
	)
}

func NewGRPCServer(opts []grpc.ServerOption, hs *grpchealth.Server) *grpc.Server {
	srv := grpc.NewServer(opts...)
	grpc_health_v1.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv
}

// ServingStatus maps a readiness probe result onto the gRPC health enum.
func ServingStatus(ctx context.Context, h health.HealthService) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if err := h.Ready(ctx); err != nil {
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}

func probe(ctx context.Context, hs *grpchealth.Server, h health.HealthService) {
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, healthProbeInterval/2)
		hs.SetServingStatus("", ServingStatus(checkCtx, h))
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func StartGRPCServer(lc fx.Lifecycle, lis net.Listener, srv *grpc.Server, hs *grpchealth.Server, h health.HealthService) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go probe(ctx, hs, h)
			go func() {
				zap.L().Info("Starting gRPC server", zap.String("addr", lis.Addr().String()))
				if err := srv.Serve(lis); err != nil {
					zap.L().Error("gRPC server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			zap.L().Info("Stopping gRPC server")
			cancel()
			hs.Shutdown()
			srv.GracefulStop()
			return nil
		},
	})
}
