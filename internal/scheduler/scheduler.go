package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	obslogger "github.com/smallbiznis/storefront/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobExpirePendingOrders = "expire_pending_orders"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log     *zap.Logger
	Orders  orderdomain.Service
	Clock   clock.Clock
	GenID   *snowflake.Node
	Locker  *ratelimit.Locker            `optional:"true"`
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
	Config  Config                       `optional:"true"`
}

// Scheduler runs periodic maintenance jobs. Every job is idempotent, so a
// missed or duplicated tick only delays work.
type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	genID   *snowflake.Node
	orders  orderdomain.Service
	locker  *ratelimit.Locker
	metrics *obsmetrics.SchedulerMetrics
}

type job struct {
	name string
	run  func(context.Context) (int, error)
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Orders == nil || p.Clock == nil || p.GenID == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		genID:   p.GenID,
		orders:  p.Orders,
		locker:  p.Locker,
		metrics: p.Metrics,
	}, nil
}

func (s *Scheduler) jobs() []job {
	var jobs []job
	if s.cfg.PendingOrderTTL > 0 {
		jobs = append(jobs, job{name: JobExpirePendingOrders, run: s.ExpirePendingOrdersJob})
	}
	return jobs
}

// RunOnce runs every enabled job a single time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, j := range s.jobs() {
		err = errors.Join(err, s.runJob(parent, j))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ExpirePendingOrdersJob cancels unpaid orders older than PendingOrderTTL.
func (s *Scheduler) ExpirePendingOrdersJob(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.cfg.PendingOrderTTL)
	return s.orders.ExpireStalePending(ctx, cutoff, s.cfg.BatchSize)
}

func (s *Scheduler) runJob(parent context.Context, j job) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	runID := s.genID.Generate().String()
	ctx = obscontext.WithRequestID(ctx, runID)
	log := obslogger.WithContext(ctx, s.log).With(zap.String("job", j.name))
	schedMetrics := s.metrics
	if schedMetrics == nil {
		schedMetrics = obsmetrics.Scheduler()
	}
	schedMetrics.IncJobRun(j.name)

	var (
		processed int
		ran       bool
	)
	run := func(ctx context.Context) error {
		ran = true
		n, err := j.run(ctx)
		processed = n
		return err
	}
	err := s.locker.WithLock(ctx, "scheduler:"+j.name, s.cfg.JobTimeout+5*time.Second, run)
	if err != nil && !ran && !errors.Is(err, ratelimit.ErrLockHeld) {
		// lock store unreachable, run unguarded
		log.Warn("scheduler lock unavailable", zap.Error(err))
		err = run(ctx)
	}
	schedMetrics.ObserveJobDuration(j.name, s.clock.Now().Sub(start))
	schedMetrics.AddProcessed(j.name, processed)

	if errors.Is(err, ratelimit.ErrLockHeld) {
		log.Debug("scheduler.job.skipped", zap.String("reason", "lock_held"))
		return nil
	}
	if err == nil {
		log.Info("scheduler.job.finish", zap.Int("processed_count", processed))
		return nil
	}

	schedMetrics.IncJobError(j.name, err)
	// deadline is a soft timeout; the next tick picks up the rest
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(j.name)
		log.Warn("job timed out",
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Int("processed_count", processed),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", j.name, err)
}
