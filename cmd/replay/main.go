// Command replay rebuilds the materialized views from the stored event log
// and reports the result. With --export it also writes a snapshot to object
// storage.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"merchant-voucher/pkg/config"
	"merchant-voucher/pkg/db"
	"merchant-voucher/pkg/hashistack/secretmanager"
	"merchant-voucher/pkg/logger"
	"merchant-voucher/pkg/minio"
	"merchant-voucher/services/event"
	"merchant-voucher/services/projector"
	"merchant-voucher/services/redemption"
	"merchant-voucher/services/snapshot"
)

var (
	export  bool
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild voucher state from the stored event log",
	Long: `Replays every stored ledger event into fresh views and logs a summary.
The running daemon is not affected; use it to verify the log or to produce
an out-of-band snapshot.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return replay(ctx)
	},
}

func init() {
	rootCmd.Flags().BoolVar(&export, "export", false, "upload a snapshot after the rebuild")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func replay(ctx context.Context) error {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		db.Module,
		event.Module,
		fx.Provide(
			provideProjector,
			func() context.Context { return ctx },
		),
		fx.Invoke(run),
		fx.NopLogger,
	}
	if export {
		opts = append(opts, minio.Client, fx.Provide(snapshot.ProvideExporter))
	}

	if err := fx.ValidateApp(opts...); err != nil {
		return fmt.Errorf("fx validation failed: %w", err)
	}

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		zap.L().Warn("shutdown incomplete", zap.Error(err))
	}
	return nil
}

func provideProjector(cfg *config.Config, store event.Store) *projector.Projector {
	return projector.New(store, projector.NewViews(redemption.NopRecorder{}), projector.Options{
		RecentSize: cfg.Projector.RecentSize,
	})
}

type runParams struct {
	fx.In
	Ctx       context.Context
	Projector *projector.Projector
	Store     event.Store
	Exporter  *snapshot.Exporter `optional:"true"`
}

func run(p runParams) error {
	ctx := p.Ctx

	stored, err := p.Store.Count(ctx)
	if err != nil {
		return err
	}

	started := time.Now()
	res, err := p.Projector.Rebuild(ctx)
	if err != nil {
		return err
	}
	status := p.Projector.Status()

	zap.L().Info("replay finished",
		zap.Int64("stored", stored),
		zap.Int("applied", res.Applied),
		zap.Int("skipped", res.Skipped),
		zap.Int("duplicates", res.Duplicates),
		zap.Stringer("watermark", status.Watermark),
		zap.Duration("took", time.Since(started)),
	)

	if p.Exporter == nil {
		return nil
	}
	info, err := p.Exporter.Export(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("snapshot uploaded", zap.String("bucket", info.Bucket), zap.String("key", info.Key))
	return nil
}
