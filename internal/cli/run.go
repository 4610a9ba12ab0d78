package cli

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/profilesync/internal/scheduler"
)

func newRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep the signed-in profile in sync until interrupted",
		Long: `Restore the saved session, listen for remote changes to the signed-in profile
and push pending changes on the configured schedule (PROFILESYNC_SYNC_SCHEDULE).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return opts.run(ctx)
		},
	}
}

func (o *RootOptions) run(ctx context.Context) error {
	a, err := o.open(ctx, zapcore.InfoLevel)
	if err != nil {
		return err
	}
	defer a.Close()

	idp, err := o.identity(ctx, a)
	if err != nil {
		return err
	}
	sched, err := scheduler.New(a.cfg.SyncSchedule, a.engine, a.cfg.RemoteTimeout, a.log)
	if err != nil {
		return err
	}

	states, unsubscribe := idp.Subscribe()
	defer unsubscribe()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := a.coord.Run(ctx, states); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("coordinator", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		_ = sched.Run(ctx)
	}()

	if acct, err := loadSession(); err != nil {
		a.log.Info("waiting without a session", zap.Error(err))
	} else if err := idp.Restore(ctx, acct); err != nil {
		a.log.Warn("restore session", zap.Error(err))
	}

	// catch up on changes made while nothing was running
	rctx, cancel := a.withTimeout(ctx)
	if _, err := a.engine.SyncPending(rctx); err != nil {
		a.log.Warn("initial sync", zap.Error(err))
	}
	cancel()

	<-ctx.Done()
	wg.Wait()
	a.log.Info("stopped")
	return nil
}
