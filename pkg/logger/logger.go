package logger

import (
	"fmt"

	"merchant-voucher/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Module = fx.Module("zap",
	fx.Provide(
		New,
	),
)

type ConfigParams struct {
	fx.In
	Cfg *config.Config
}

// Level parses LOG.LEVEL, falling back to info.
func Level(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func productionConfig(level zapcore.Level) zap.Config {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.Encoding = "json"
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	enc := &config.EncoderConfig
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.StacktraceKey = "stacktrace"
	enc.LevelKey = "severity"
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.CallerKey = "caller"
	enc.EncodeCaller = zapcore.ShortCallerEncoder
	return config
}

// New builds the process logger and installs it as zap.L().
func New(p ConfigParams) (*zap.Logger, error) {
	if p.Cfg == nil {
		log := zap.Must(zap.NewDevelopment())
		zap.ReplaceGlobals(log)
		return log, nil
	}

	config := zap.NewDevelopmentConfig()
	if p.Cfg.AppEnv == "production" {
		config = productionConfig(Level(p.Cfg.Log.Level))
	} else if p.Cfg.Log.Level != "" {
		config.Level = zap.NewAtomicLevelAt(Level(p.Cfg.Log.Level))
	}

	log, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if f := p.Cfg.Log.File; f.Path != "" {
		file := zapcore.NewCore(
			zapcore.NewJSONEncoder(productionConfig(zapcore.DebugLevel).EncoderConfig),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   f.Path,
				MaxSize:    f.MaxSizeMB,
				MaxBackups: f.MaxBackups,
				MaxAge:     f.MaxAgeDays,
				Compress:   true,
			}),
			config.Level,
		)
		log = log.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, file)
		}))
	}

	log = log.With(
		zap.String("env", p.Cfg.AppEnv),
		zap.String("service_name", p.Cfg.AppName),
	)

	zap.ReplaceGlobals(log)
	return log, nil
}
