package sweeper

import (
	"context"
	"time"

	subsvc "github.com/fatflowers/billingd/internal/app/service/subscription"
	"github.com/fatflowers/billingd/internal/app/service/usage"
	"github.com/fatflowers/billingd/pkg/config"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sweeper runs the scheduled ledger maintenance: finalizing deferred
// cancellations at period end, expiring lapsed grace windows, and rolling
// usage counters over at the month boundary. Cadence comes from
// billing.sweep_cron.
type Sweeper struct {
	cfg    *config.Config
	subSvc *subsvc.Service
	gate   *usage.Gate
	log    *zap.SugaredLogger
	cron   *cron.Cron
}

func New(cfg *config.Config, subSvc *subsvc.Service, gate *usage.Gate, log *zap.SugaredLogger) *Sweeper {
	return &Sweeper{cfg: cfg, subSvc: subSvc, gate: gate, log: log, cron: cron.New()}
}

// RunOnce executes one sweep tick. Errors are logged per task; one failing
// task never blocks the others.
func (s *Sweeper) RunOnce(ctx context.Context) {
	now := time.Now()

	if n, err := s.subSvc.SweepDeferredCancellations(ctx, now); err != nil {
		s.log.Errorw("sweep_deferred_cancellations_failed", "err", err)
	} else if n > 0 {
		s.log.Infow("sweep_deferred_cancellations", "finalized", n)
	}

	if n, err := s.subSvc.SweepGraceExpirations(ctx, now); err != nil {
		s.log.Errorw("sweep_grace_expirations_failed", "err", err)
	} else if n > 0 {
		s.log.Infow("sweep_grace_expirations", "expired", n)
	}

	if err := s.gate.ResetMonthly(ctx, ""); err != nil {
		s.log.Errorw("sweep_usage_reset_failed", "err", err)
	}
}

func run(lc fx.Lifecycle, s *Sweeper, log *zap.SugaredLogger) error {
	spec := s.cfg.Billing.SweepCron
	if _, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting sweeper", "cron", spec)
			s.cron.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping sweeper")
			stopCtx := s.cron.Stop()
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(run),
)
