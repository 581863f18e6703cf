package logger

import (
	"os"
	"path/filepath"
	"testing"

	"merchant-voucher/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, Level("debug"))
	require.Equal(t, zapcore.WarnLevel, Level("WARN"))
	require.Equal(t, zapcore.InfoLevel, Level("chatty"))
}

func TestNewReplacesGlobals(t *testing.T) {
	defer zap.ReplaceGlobals(zap.NewNop())

	log, err := New(ConfigParams{Cfg: &config.Config{AppEnv: "test", AppName: "voucherd"}})
	require.NoError(t, err)
	require.Same(t, log, zap.L())
}

func TestNewProductionHonoursLevel(t *testing.T) {
	defer zap.ReplaceGlobals(zap.NewNop())

	cfg := &config.Config{AppEnv: "production"}
	cfg.Log.Level = "warn"
	log, err := New(ConfigParams{Cfg: cfg})
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(zapcore.InfoLevel))
	require.True(t, log.Core().Enabled(zapcore.WarnLevel))
}

func TestProductionConfig(t *testing.T) {
	c := productionConfig(zapcore.DebugLevel)
	require.Equal(t, "json", c.Encoding)
	require.Equal(t, "severity", c.EncoderConfig.LevelKey)
	require.Equal(t, zapcore.DebugLevel, c.Level.Level())
}

func TestNewWritesLogFile(t *testing.T) {
	defer zap.ReplaceGlobals(zap.NewNop())

	path := filepath.Join(t.TempDir(), "voucherd.log")
	cfg := &config.Config{AppEnv: "test", AppName: "voucherd"}
	cfg.Log.File.Path = path

	log, err := New(ConfigParams{Cfg: cfg})
	require.NoError(t, err)
	log.Info("replay finished", zap.Int("applied", 3))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"msg":"replay finished"`)
	require.Contains(t, string(raw), `"service_name":"voucherd"`)
}
