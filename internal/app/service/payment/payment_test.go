package payment

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fatflowers/billingd/internal/app/repo"
	subsvc "github.com/fatflowers/billingd/internal/app/service/subscription"
	"github.com/fatflowers/billingd/internal/models"
	"github.com/fatflowers/billingd/pkg/config"
	"github.com/fatflowers/billingd/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*Service, repo.Store, *config.Config) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.CreditAuthorization{},
		&models.Subscription{},
		&models.Payment{},
		&models.UsageCounter{},
	))

	cfg := &config.Config{
		Billing: config.BillingConfig{GracePeriodHours: 168, AmountTolerance: 0},
		Plans: []*types.Plan{
			{ID: "free", Currency: "TWD"},
			{ID: "pro", MonthlyPrice: 89900, Currency: "TWD"},
		},
		DefaultPlanID: "free",
	}
	store := repo.NewStore(db)
	log := zap.NewNop().Sugar()
	return NewService(cfg, subsvc.NewService(cfg, store, log), log), store, cfg
}

func seedSub(t *testing.T, store repo.Store, start time.Time) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		UserID:             "user-1",
		AuthID:             "auth-1",
		PlanID:             "pro",
		BillingCycle:       types.BillingCycleMonthly,
		Amount:             89900,
		Currency:           "TWD",
		Status:             types.SubscriptionStatusActive,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(0, 1, 0),
	}
	require.NoError(t, store.SaveSubscription(context.Background(), sub))
	return sub
}

func record(t *testing.T, svc *Service, store repo.Store, sub *models.Subscription, res *BillingResult, now time.Time) (*models.Payment, error) {
	t.Helper()
	var p *models.Payment
	var recErr error
	err := store.Transaction(context.Background(), func(tx repo.Store) error {
		p, recErr = svc.RecordBillingResult(context.Background(), tx, sub, res, now)
		return nil
	})
	require.NoError(t, err)
	return p, recErr
}

func TestRecordBillingResult_Success(t *testing.T) {
	svc, store, _ := newTestService(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := seedSub(t, store, start)

	p, err := record(t, svc, store, sub, &BillingResult{
		Gwsr: "gw-1", Success: true, Amount: 89900, AuthCode: "777777",
	}, start.AddDate(0, 1, 0))
	require.NoError(t, err)

	assert.Equal(t, types.PaymentStatusSuccess, p.Status)
	assert.False(t, p.ManualReview)
	assert.Equal(t, start, p.PeriodStart.UTC())

	assert.Equal(t, types.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, start.AddDate(0, 1, 0), sub.CurrentPeriodStart.UTC())
	assert.Equal(t, start.AddDate(0, 2, 0), sub.CurrentPeriodEnd.UTC())
}

func TestRecordBillingResult_Failure(t *testing.T) {
	svc, store, _ := newTestService(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := seedSub(t, store, start)

	p, err := record(t, svc, store, sub, &BillingResult{
		Gwsr: "gw-2", Success: false, Amount: 89900, FailureReason: "card declined",
	}, start.AddDate(0, 1, 0))
	require.NoError(t, err)

	assert.Equal(t, types.PaymentStatusFailed, p.Status)
	require.NotNil(t, p.FailureReason)
	assert.Equal(t, "card declined", *p.FailureReason)

	assert.Equal(t, types.SubscriptionStatusPastDue, sub.Status)
	require.NotNil(t, sub.PastDueSince)
	// Failed charge never advances the period.
	assert.Equal(t, start, sub.CurrentPeriodStart.UTC())
}

func TestRecordBillingResult_AmountMismatch(t *testing.T) {
	svc, store, _ := newTestService(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := seedSub(t, store, start)

	p, err := record(t, svc, store, sub, &BillingResult{
		Gwsr: "gw-3", Success: true, Amount: 90000,
	}, start.AddDate(0, 1, 0))

	var mismatch *AmountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, int64(90000), mismatch.Reported)
	assert.Equal(t, int64(89900), mismatch.Expected)

	// The charge happened at the gateway: the row is ledger truth, flagged
	// for reconciliation, and the period stays put.
	require.NotNil(t, p)
	assert.True(t, p.ManualReview)
	assert.Equal(t, int64(90000), p.Amount)
	assert.Equal(t, start, sub.CurrentPeriodStart.UTC())

	saved, findErr := store.FindPaymentByGwsr(context.Background(), "gw-3")
	require.NoError(t, findErr)
	assert.True(t, saved.ManualReview)
}

func TestRecordBillingResult_WithinTolerance(t *testing.T) {
	svc, store, cfg := newTestService(t)
	cfg.Billing.AmountTolerance = 100
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := seedSub(t, store, start)

	p, err := record(t, svc, store, sub, &BillingResult{
		Gwsr: "gw-4", Success: true, Amount: 89950,
	}, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.False(t, p.ManualReview)
	assert.Equal(t, start.AddDate(0, 1, 0), sub.CurrentPeriodStart.UTC())
}

func TestRecordBillingResult_DeferredCancelPastPeriodEnd(t *testing.T) {
	svc, store, _ := newTestService(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := seedSub(t, store, start)
	sub.CancelAtPeriodEnd = true
	require.NoError(t, store.SaveSubscription(context.Background(), sub))

	_, err := record(t, svc, store, sub, &BillingResult{
		Gwsr: "gw-5", Success: true, Amount: 89900,
	}, start.AddDate(0, 1, 1))

	var invalid *subsvc.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	// No payment row was written.
	_, findErr := store.FindPaymentByGwsr(context.Background(), "gw-5")
	assert.ErrorIs(t, findErr, repo.ErrNotFound)
}

func TestRecordBillingResult_MissingGwsr(t *testing.T) {
	svc, store, _ := newTestService(t)
	sub := seedSub(t, store, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	_, err := record(t, svc, store, sub, &BillingResult{Success: true, Amount: 89900}, time.Now())
	assert.Error(t, err)
}
