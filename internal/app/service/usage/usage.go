package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fatflowers/billingd/internal/app/repo"
	"github.com/fatflowers/billingd/internal/models"
	"github.com/fatflowers/billingd/pkg/config"
	"github.com/fatflowers/billingd/pkg/logctx"
	"github.com/fatflowers/billingd/pkg/types"

	"github.com/go-redis/redis/v8"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Unlimited is the plan-limit sentinel meaning no cap.
const Unlimited = -1

// Gate checks and meters resource creation against the user's plan limits.
// The persisted counter row is the source of truth; redis holds a short-TTL
// advisory read cache for Check.
type Gate struct {
	cfg   *config.Config
	store repo.Store
	cache *redis.Client
	log   *zap.SugaredLogger
}

func NewGate(cfg *config.Config, store repo.Store, cache *redis.Client, log *zap.SugaredLogger) *Gate {
	return &Gate{cfg: cfg, store: store, cache: cache, log: log}
}

var Module = fx.Options(
	fx.Provide(NewGate),
)

func cacheKey(userID string) string {
	return "usage:counter:" + userID
}

// Check reports whether current+additional stays within the user's plan
// limit for the metric. A limit of -1 means unlimited.
func (g *Gate) Check(ctx context.Context, userID string, metric types.UsageMetric, additional int64) (bool, error) {
	counter, err := g.cachedCounter(ctx, userID)
	if err != nil {
		return false, err
	}

	limit := g.limitFor(counter.PlanID, metric)
	if limit == Unlimited {
		return true, nil
	}

	current := counter.Value(metric)
	// A counter from before the current month counts as zero; the next
	// increment resets it durably.
	if counter.CurrentMonthStart.Before(models.MonthStart(time.Now())) {
		current = 0
	}
	return current+additional <= limit, nil
}

// Increment applies a read-modify-write under the per-user row lock and
// returns the new value. Undercounting billable usage is unacceptable, so
// this path is pessimistic rather than optimistic-retry.
func (g *Gate) Increment(ctx context.Context, userID string, metric types.UsageMetric, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative increment: %d", amount)
	}

	var newValue int64
	err := g.store.Transaction(ctx, func(tx repo.Store) error {
		counter, err := tx.LockUsageCounter(ctx, userID)
		if err != nil {
			return err
		}
		// Lazy month rollover under the same lock: an increment racing the
		// reset sweep lands cleanly on one side of the boundary.
		if counter.CurrentMonthStart.Before(models.MonthStart(time.Now())) {
			counter.ResetFor(time.Now())
		}
		newValue = counter.Add(metric, amount)
		if err := tx.SaveUsageCounter(ctx, counter); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}

	g.invalidate(ctx, userID)
	return newValue, nil
}

// ResetMonthly zeroes one user's counters (or all users' when userID is
// empty) and advances current_month_start. Row locks serialize against
// concurrent increments.
func (g *Gate) ResetMonthly(ctx context.Context, userID string) error {
	now := time.Now()
	if userID != "" {
		return g.resetOne(ctx, userID, now)
	}

	stale, err := g.store.ListUsageCountersBefore(ctx, models.MonthStart(now))
	if err != nil {
		return fmt.Errorf("failed to list stale usage counters: %w", err)
	}
	for _, c := range stale {
		if err := g.resetOne(ctx, c.UserID, now); err != nil {
			logctx.FromCtx(ctx, g.log).Errorw("usage_reset_failed", "user_id", c.UserID, "err", err)
		}
	}
	return nil
}

func (g *Gate) resetOne(ctx context.Context, userID string, now time.Time) error {
	err := g.store.Transaction(ctx, func(tx repo.Store) error {
		counter, err := tx.LockUsageCounter(ctx, userID)
		if err != nil {
			return err
		}
		if !counter.CurrentMonthStart.Before(models.MonthStart(now)) {
			// Already rolled over (by a racing increment's lazy reset).
			return nil
		}
		counter.ResetFor(now)
		return tx.SaveUsageCounter(ctx, counter)
	})
	if err != nil {
		return fmt.Errorf("failed to reset usage for %s: %w", userID, err)
	}
	g.invalidate(ctx, userID)
	return nil
}

func (g *Gate) limitFor(planID string, metric types.UsageMetric) int64 {
	plan := g.cfg.GetPlanByID(planID)
	if plan == nil {
		plan = g.cfg.GetPlanByID(g.cfg.DefaultPlanID)
	}
	if plan == nil {
		return 0
	}
	return plan.LimitFor(metric)
}

// cachedCounter reads through the advisory cache. Cache failures fall back
// to the store silently; staleness is bounded by the TTL.
func (g *Gate) cachedCounter(ctx context.Context, userID string) (*models.UsageCounter, error) {
	if data, err := g.cache.Get(ctx, cacheKey(userID)).Bytes(); err == nil {
		var c models.UsageCounter
		if err := json.Unmarshal(data, &c); err == nil {
			return &c, nil
		}
	}

	counter, err := g.store.FindUsageCounter(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// No row yet: a fresh counter on the default plan.
			counter = &models.UsageCounter{
				UserID:            userID,
				PlanID:            g.cfg.DefaultPlanID,
				CurrentMonthStart: models.MonthStart(time.Now()),
			}
		} else {
			return nil, err
		}
	}

	if data, err := json.Marshal(counter); err == nil {
		if err := g.cache.Set(ctx, cacheKey(userID), data, g.cfg.Usage.CacheTTL).Err(); err != nil {
			logctx.FromCtx(ctx, g.log).Debugw("usage_cache_set_failed", "user_id", userID, "err", err)
		}
	}
	return counter, nil
}

func (g *Gate) invalidate(ctx context.Context, userID string) {
	if err := g.cache.Del(ctx, cacheKey(userID)).Err(); err != nil {
		logctx.FromCtx(ctx, g.log).Debugw("usage_cache_del_failed", "user_id", userID, "err", err)
	}
}
