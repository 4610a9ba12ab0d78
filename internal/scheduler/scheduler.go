// Package scheduler runs the pending-record sync on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/and161185/profilesync/internal/syncengine"
)

// PendingSyncer pushes dirty records. Implemented by *syncengine.Engine.
type PendingSyncer interface {
	SyncPending(ctx context.Context) (syncengine.Report, error)
}

var _ PendingSyncer = (*syncengine.Engine)(nil)

// Scheduler triggers SyncPending on a schedule. A run still in progress when the next one is due
// makes that one skip.
type Scheduler struct {
	cron    *cron.Cron
	syncer  PendingSyncer
	timeout time.Duration
	log     *zap.Logger
	ctx     context.Context
}

// New parses spec (standard five-field cron or a descriptor such as "@every 5m").
// Each run gets timeout to finish.
func New(spec string, s PendingSyncer, timeout time.Duration, log *zap.Logger) (*Scheduler, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return newScheduler(sched, s, timeout, log), nil
}

func newScheduler(sched cron.Schedule, s PendingSyncer, timeout time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	cl := cronLogger{log: log.Sugar()}
	sc := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		syncer:  s,
		timeout: timeout,
		log:     log,
		ctx:     context.Background(),
	}
	sc.cron.Schedule(sched, cron.FuncJob(sc.tick))
	return sc
}

// Run starts the schedule and blocks until ctx is done, then waits for a running sync to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.log.Info("sync scheduler started", zap.Time("next", s.Next()))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("sync scheduler stopped")
	return nil
}

// Next is the next scheduled run; zero before Run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	rep, err := s.syncer.SyncPending(ctx)
	if err != nil {
		s.log.Warn("scheduled sync", zap.Error(err))
		return
	}
	for id, ferr := range rep.Failed {
		s.log.Debug("scheduled sync failure", zap.String("id", id), zap.Error(ferr))
	}
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct{ log *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
