package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatflowers/billingd/internal/app/repo"
	"github.com/fatflowers/billingd/internal/models"
	"github.com/fatflowers/billingd/pkg/config"
	"github.com/fatflowers/billingd/pkg/logctx"
	"github.com/fatflowers/billingd/pkg/types"

	"go.uber.org/zap"
)

// Service owns the subscription state machine and proration math. All
// persistence goes through the repo.Store interface; multi-entity writes run
// inside the caller's or its own transaction.
type Service struct {
	cfg   *config.Config
	store repo.Store
	log   *zap.SugaredLogger
}

func NewService(cfg *config.Config, store repo.Store, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, store: store, log: log}
}

// addCycle advances t by one billing cycle.
func addCycle(t time.Time, cycle types.BillingCycle) time.Time {
	if cycle == types.BillingCycleAnnual {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// CreateFromAuthorization creates the single subscription owned by a newly
// activated credit authorization. It runs inside the webhook transaction via
// tx; the ingestor's idempotency claim guarantees it fires at most once per
// authorization.
func (s *Service) CreateFromAuthorization(ctx context.Context, tx repo.Store, auth *models.CreditAuthorization, now time.Time) (*models.Subscription, error) {
	if existing, err := tx.FindSubscriptionByAuthID(ctx, auth.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing subscription: %w", err)
	}

	cycle, err := types.ParseBillingCycle(auth.PeriodType)
	if err != nil {
		return nil, err
	}
	plan := s.cfg.GetPlanByID(auth.PlanID)
	if plan == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, auth.PlanID)
	}

	sub := &models.Subscription{
		UserID:       auth.UserID,
		AuthID:       auth.ID,
		PlanID:       auth.PlanID,
		BillingCycle: cycle,
		Amount:       auth.PeriodAmount,
		Currency:     plan.Currency,
		Status:       types.SubscriptionStatusPendingAuth,
	}

	next, err := NextStatus(sub.Status, EventAuthSuccess)
	if err != nil {
		return nil, err
	}
	sub.Status = next
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = addCycle(now, cycle)

	if err := tx.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}
	if err := s.assignPlan(ctx, tx, auth.UserID, auth.PlanID); err != nil {
		return nil, err
	}

	logctx.FromCtx(ctx, s.log).Infow("subscription_created",
		"subscription_id", sub.ID, "user_id", sub.UserID, "plan_id", sub.PlanID, "cycle", cycle)
	return sub, nil
}

// ApplyBillingSuccess advances the subscription by one cycle after a
// verified successful charge. A past_due subscription recovering within the
// grace window advances the period it failed to renew.
func (s *Service) ApplyBillingSuccess(ctx context.Context, tx repo.Store, sub *models.Subscription, now time.Time) error {
	if sub.Status == types.SubscriptionStatusPastDue && sub.PastDueSince != nil {
		if now.After(sub.PastDueSince.Add(s.cfg.GracePeriod())) {
			return &InvalidTransitionError{From: sub.Status, Event: EventBillingSuccess}
		}
	}

	next, err := NextStatus(sub.Status, EventBillingSuccess)
	if err != nil {
		return err
	}

	sub.Status = next
	sub.PastDueSince = nil
	// Periods are contiguous: the new period starts exactly where the old
	// one ended, regardless of when the webhook arrived.
	sub.CurrentPeriodStart = sub.CurrentPeriodEnd
	sub.CurrentPeriodEnd = addCycle(sub.CurrentPeriodEnd, sub.BillingCycle)

	if err := tx.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// ApplyBillingFailure opens (or keeps open) the grace window. The period is
// not advanced.
func (s *Service) ApplyBillingFailure(ctx context.Context, tx repo.Store, sub *models.Subscription, now time.Time) error {
	next, err := NextStatus(sub.Status, EventBillingFailure)
	if err != nil {
		return err
	}

	wasActive := sub.Status == types.SubscriptionStatusActive
	sub.Status = next
	if wasActive {
		since := now
		sub.PastDueSince = &since
	}

	if err := tx.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// Cancel ends a subscription. immediate=true takes effect now; otherwise the
// subscription stays active until period end and the sweep finalizes it.
func (s *Service) Cancel(ctx context.Context, id string, immediate bool, reason string) (*models.Subscription, error) {
	var out *models.Subscription
	err := s.store.Transaction(ctx, func(tx repo.Store) error {
		sub, err := tx.LockSubscription(ctx, id)
		if err != nil {
			return err
		}

		if immediate {
			next, err := NextStatus(sub.Status, EventCancelImmediate)
			if err != nil {
				return err
			}
			sub.Status = next
			sub.CancelAtPeriodEnd = false
		} else {
			if !CanTransition(sub.Status, EventFinalizeCancel) {
				return &InvalidTransitionError{From: sub.Status, Event: EventFinalizeCancel}
			}
			sub.CancelAtPeriodEnd = true
		}
		sub.CancelReason = reason

		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to save subscription: %w", err)
		}
		if immediate {
			if err := s.assignPlan(ctx, tx, sub.UserID, s.cfg.DefaultPlanID); err != nil {
				return err
			}
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	logctx.FromCtx(ctx, s.log).Infow("subscription_cancelled",
		"subscription_id", id, "immediate", immediate, "reason", reason)
	return out, nil
}

// Reactivate undoes a cancellation before the paid period runs out.
func (s *Service) Reactivate(ctx context.Context, id string, now time.Time) (*models.Subscription, error) {
	var out *models.Subscription
	err := s.store.Transaction(ctx, func(tx repo.Store) error {
		sub, err := tx.LockSubscription(ctx, id)
		if err != nil {
			return err
		}
		if now.After(sub.CurrentPeriodEnd) {
			return &InvalidTransitionError{From: sub.Status, Event: EventReactivate}
		}

		switch {
		case sub.Status == types.SubscriptionStatusCancelled:
			next, err := NextStatus(sub.Status, EventReactivate)
			if err != nil {
				return err
			}
			sub.Status = next
		case sub.CancelAtPeriodEnd:
			// Deferred cancel not yet finalized: just clear the mark.
		default:
			return &InvalidTransitionError{From: sub.Status, Event: EventReactivate}
		}
		sub.CancelAtPeriodEnd = false
		sub.CancelReason = ""

		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to save subscription: %w", err)
		}
		if err := s.assignPlan(ctx, tx, sub.UserID, sub.PlanID); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetCurrent returns the user's most recent subscription.
func (s *Service) GetCurrent(ctx context.Context, userID string) (*models.Subscription, error) {
	return s.store.FindCurrentSubscriptionByUserID(ctx, userID)
}

// PreviewPlanChange computes the proration for a mid-cycle plan change
// without writing anything.
func (s *Service) PreviewPlanChange(ctx context.Context, id, newPlanID string, newCycle types.BillingCycle, now time.Time) (*ProrationPreview, error) {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.computeChange(sub, newPlanID, newCycle, now)
}

// ChangePlan executes a plan change. The proration uses the same computation
// as PreviewPlanChange, so both report the identical net charge.
func (s *Service) ChangePlan(ctx context.Context, id, newPlanID string, newCycle types.BillingCycle, now time.Time) (*ProrationPreview, error) {
	var preview *ProrationPreview
	err := s.store.Transaction(ctx, func(tx repo.Store) error {
		sub, err := tx.LockSubscription(ctx, id)
		if err != nil {
			return err
		}

		preview, err = s.computeChange(sub, newPlanID, newCycle, now)
		if err != nil {
			return err
		}

		plan := s.cfg.GetPlanByID(newPlanID)
		sub.PlanID = newPlanID
		sub.BillingCycle = newCycle
		sub.Amount = plan.PriceFor(newCycle)
		sub.Currency = plan.Currency

		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to save subscription: %w", err)
		}
		return s.assignPlan(ctx, tx, sub.UserID, newPlanID)
	})
	if err != nil {
		return nil, err
	}

	logctx.FromCtx(ctx, s.log).Infow("subscription_plan_changed",
		"subscription_id", id, "plan_id", newPlanID, "net_charge", preview.NetCharge)
	return preview, nil
}

func (s *Service) computeChange(sub *models.Subscription, newPlanID string, newCycle types.BillingCycle, now time.Time) (*ProrationPreview, error) {
	if sub.Status != types.SubscriptionStatusActive {
		return nil, &InvalidTransitionError{From: sub.Status, Event: "plan_change"}
	}
	plan := s.cfg.GetPlanByID(newPlanID)
	if plan == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, newPlanID)
	}
	if !newCycle.Valid() {
		return nil, &ProrationError{Reason: fmt.Sprintf("invalid cycle %q", newCycle)}
	}

	daysInCycle, daysRemaining, err := cycleDays(sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now)
	if err != nil {
		return nil, err
	}
	return prorate(sub.Amount, plan.PriceFor(newCycle), daysRemaining, daysInCycle)
}

// SweepDeferredCancellations finalizes deferred cancels whose period ended.
func (s *Service) SweepDeferredCancellations(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListDeferredCancellationsDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list deferred cancellations: %w", err)
	}

	var n int
	for _, sub := range due {
		err := s.store.Transaction(ctx, func(tx repo.Store) error {
			locked, err := tx.LockSubscription(ctx, sub.ID)
			if err != nil {
				return err
			}
			// Re-check under the lock; a reactivation may have raced the sweep.
			if !locked.CancelAtPeriodEnd || now.Before(locked.CurrentPeriodEnd) {
				return nil
			}
			next, err := NextStatus(locked.Status, EventFinalizeCancel)
			if err != nil {
				return err
			}
			locked.Status = next
			if err := tx.SaveSubscription(ctx, locked); err != nil {
				return err
			}
			n++
			return s.assignPlan(ctx, tx, locked.UserID, s.cfg.DefaultPlanID)
		})
		if err != nil {
			s.log.Errorw("deferred_cancel_finalize_failed", "subscription_id", sub.ID, "err", err)
		}
	}
	return n, nil
}

// SweepGraceExpirations expires past_due subscriptions whose grace window
// lapsed with no successful retry. Benefits revert to the default tier.
func (s *Service) SweepGraceExpirations(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.GracePeriod())
	lapsed, err := s.store.ListPastDueOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list lapsed subscriptions: %w", err)
	}

	var n int
	for _, sub := range lapsed {
		err := s.store.Transaction(ctx, func(tx repo.Store) error {
			locked, err := tx.LockSubscription(ctx, sub.ID)
			if err != nil {
				return err
			}
			if locked.Status != types.SubscriptionStatusPastDue {
				return nil
			}
			next, err := NextStatus(locked.Status, EventGraceExpired)
			if err != nil {
				return err
			}
			locked.Status = next
			if err := tx.SaveSubscription(ctx, locked); err != nil {
				return err
			}
			n++
			return s.assignPlan(ctx, tx, locked.UserID, s.cfg.DefaultPlanID)
		})
		if err != nil {
			s.log.Errorw("grace_expiration_failed", "subscription_id", sub.ID, "err", err)
		}
	}
	return n, nil
}

// assignPlan publishes the plan assignment consumed by the usage limit gate.
func (s *Service) assignPlan(ctx context.Context, tx repo.Store, userID, planID string) error {
	counter, err := tx.LockUsageCounter(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to lock usage counter: %w", err)
	}
	counter.PlanID = planID
	if err := tx.SaveUsageCounter(ctx, counter); err != nil {
		return fmt.Errorf("failed to save usage counter: %w", err)
	}
	return nil
}
