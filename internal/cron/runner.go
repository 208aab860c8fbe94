package cronrunner

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/lock"
)

// Specs may carry an optional leading seconds field or a descriptor such
// as "@every 1h".
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
	locker  lock.Locker
	lockTTL time.Duration
}

func New(logger *zap.Logger, baseCtx context.Context, locker lock.Locker, lockTTL time.Duration) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	return &Runner{
		// Skip a tick while the previous run of the same job is still going.
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
		baseCtx: baseCtx,
		locker:  locker,
		lockTTL: lockTTL,
	}
}

// ValidateSpec reports whether spec parses.
func ValidateSpec(spec string) error {
	_, err := parser.Parse(spec)
	return err
}

// Add schedules job; each run holds lockKey for its duration and is skipped
// when another process holds it.
func (r *Runner) Add(spec, lockKey string, job func(context.Context) error) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		_, _ = r.RunLocked(r.baseCtx, lockKey, job)
	})
}

// RunLocked runs job under lockKey. ran is false when the lock was held
// elsewhere.
func (r *Runner) RunLocked(ctx context.Context, lockKey string, job func(context.Context) error) (ran bool, err error) {
	release, ok, err := r.locker.TryLock(ctx, lockKey, r.lockTTL)
	if err != nil {
		r.logWarn("pipeline lock failed", zap.String("key", lockKey), zap.Error(err))
		return false, err
	}
	if !ok {
		if r.logger != nil {
			r.logger.Info("pipeline already running elsewhere, skipped", zap.String("key", lockKey))
		}
		return false, nil
	}
	defer release()

	started := time.Now()
	if err := job(ctx); err != nil {
		r.logWarn("pipeline run failed", zap.String("key", lockKey), zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return true, err
	}
	if r.logger != nil {
		r.logger.Info("pipeline run finished", zap.String("key", lockKey), zap.Duration("elapsed", time.Since(started)))
	}
	return true, nil
}

func (r *Runner) Start() {
	if r.logger != nil {
		r.logger.Info("cron started")
	}
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	if r.logger != nil {
		r.logger.Info("cron stopped")
	}
}

func (r *Runner) logWarn(msg string, fields ...zap.Field) {
	if r != nil && r.logger != nil {
		r.logger.Warn(msg, fields...)
	}
}
