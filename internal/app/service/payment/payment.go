package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/fatflowers/billingd/internal/app/repo"
	subsvc "github.com/fatflowers/billingd/internal/app/service/subscription"
	"github.com/fatflowers/billingd/internal/models"
	"github.com/fatflowers/billingd/pkg/config"
	"github.com/fatflowers/billingd/pkg/logctx"
	"github.com/fatflowers/billingd/pkg/types"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// AmountMismatchError reports a gateway-reported amount that disagrees with
// the ledger beyond tolerance. The payment is still persisted (with the
// gateway amount and the manual-review flag); the period is not advanced.
type AmountMismatchError struct {
	Reported int64
	Expected int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("reported amount %d disagrees with ledger amount %d", e.Reported, e.Expected)
}

// BillingResult is the parsed outcome of one gateway billing callback.
type BillingResult struct {
	Gwsr          string
	Success       bool
	Amount        int64
	AuthCode      string
	FailureReason string
}

// Service records per-cycle billing outcomes against the ledger.
type Service struct {
	cfg    *config.Config
	subSvc *subsvc.Service
	log    *zap.SugaredLogger
}

func NewService(cfg *config.Config, subSvc *subsvc.Service, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, subSvc: subSvc, log: log}
}

// RecordBillingResult persists exactly one Payment row for the callback and
// moves the subscription state machine accordingly. It must run inside the
// ingestor's webhook transaction (tx); the ingestor's idempotency claim
// guarantees it is not invoked twice for the same gwsr, which in turn keeps
// the one-notification-per-Payment contract.
//
// A *AmountMismatchError return still carries the persisted Payment: the
// charge happened at the gateway, so the row is ledger truth, but the period
// stays put pending manual reconciliation.
func (s *Service) RecordBillingResult(ctx context.Context, tx repo.Store, sub *models.Subscription, res *BillingResult, now time.Time) (*models.Payment, error) {
	if res.Gwsr == "" {
		return nil, fmt.Errorf("missing gwsr")
	}

	// A deferred cancel past its period end expects no further billing.
	if sub.CancelAtPeriodEnd && !now.Before(sub.CurrentPeriodEnd) {
		return nil, &subsvc.InvalidTransitionError{From: sub.Status, Event: subsvc.EventBillingSuccess}
	}

	p := &models.Payment{
		SubscriptionID: sub.ID,
		Currency:       sub.Currency,
		Gwsr:           res.Gwsr,
		AuthCode:       res.AuthCode,
		PeriodStart:    sub.CurrentPeriodStart,
		PeriodEnd:      sub.CurrentPeriodEnd,
	}

	if !res.Success {
		p.Status = types.PaymentStatusFailed
		p.Amount = res.Amount
		p.FailureReason = lo.ToPtr(res.FailureReason)
		if err := tx.SavePayment(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to save payment: %w", err)
		}
		if err := s.subSvc.ApplyBillingFailure(ctx, tx, sub, now); err != nil {
			return nil, err
		}
		logctx.FromCtx(ctx, s.log).Warnw("billing_failed",
			"subscription_id", sub.ID, "gwsr", res.Gwsr, "reason", res.FailureReason)
		return p, nil
	}

	p.Status = types.PaymentStatusSuccess
	p.Amount = res.Amount

	delta := res.Amount - sub.Amount
	if delta < 0 {
		delta = -delta
	}
	if delta > s.cfg.Billing.AmountTolerance {
		p.ManualReview = true
		if err := tx.SavePayment(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to save payment: %w", err)
		}
		logctx.FromCtx(ctx, s.log).Errorw("billing_amount_mismatch",
			"subscription_id", sub.ID, "gwsr", res.Gwsr, "reported", res.Amount, "expected", sub.Amount)
		return p, &AmountMismatchError{Reported: res.Amount, Expected: sub.Amount}
	}

	if err := tx.SavePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save payment: %w", err)
	}
	if err := s.subSvc.ApplyBillingSuccess(ctx, tx, sub, now); err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("billing_recorded",
		"subscription_id", sub.ID, "gwsr", res.Gwsr, "amount", res.Amount)
	return p, nil
}

// ListPayments backs the admin listing and manual-review queue.
func (s *Service) ListPayments(ctx context.Context, store repo.Store, q repo.ListPaymentsQuery) ([]*models.Payment, int64, error) {
	return store.ListPayments(ctx, q)
}

// ScanPayments backs the filter-driven admin search.
func (s *Service) ScanPayments(ctx context.Context, store repo.Store, q repo.ScanPaymentsQuery) ([]*models.Payment, int64, error) {
	return store.ScanPayments(ctx, q)
}
