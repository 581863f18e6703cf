package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// GormLogger routes gorm's statement log through zap and tags each line with
// the active trace id.
type GormLogger struct {
	log *zap.Logger
	cfg logger.Config
}

var _ logger.Interface = (*GormLogger)(nil)

func NewGormLogger(log *zap.Logger, cfg logger.Config) *GormLogger {
	return &GormLogger{log: log.Named("gorm"), cfg: cfg}
}

func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.cfg.LogLevel = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.LogLevel >= logger.Info {
		l.log.Info(fmt.Sprintf(msg, data...), traceField(ctx)...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.LogLevel >= logger.Warn {
		l.log.Warn(fmt.Sprintf(msg, data...), traceField(ctx)...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.cfg.LogLevel >= logger.Error {
		l.log.Error(fmt.Sprintf(msg, data...), traceField(ctx)...)
	}
}

// ParamsFilter hides bound values from the logged SQL when queries are
// parameterized.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, params ...interface{}) (string, []interface{}) {
	if l.cfg.ParameterizedQueries {
		return sql, nil
	}
	return sql, params
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	fields := func() []zap.Field {
		sql, rows := fc()
		return append(traceField(ctx),
			zap.String("file", utils.FileWithLineNum()),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed),
		)
	}

	switch {
	case err != nil && l.cfg.LogLevel >= logger.Error &&
		!(l.cfg.IgnoreRecordNotFoundError && errors.Is(err, gorm.ErrRecordNotFound)):
		l.log.Error("query failed", append(fields(), zap.Error(err))...)
	case l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold && l.cfg.LogLevel >= logger.Warn:
		l.log.Warn("slow query", append(fields(), zap.Duration("threshold", l.cfg.SlowThreshold))...)
	case l.cfg.LogLevel >= logger.Info:
		l.log.Debug("query", fields()...)
	}
}

func traceField(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return nil
	}
	return []zap.Field{zap.String("trace_id", sc.TraceID().String())}
}
