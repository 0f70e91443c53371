package repo

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fatflowers/billingd/internal/models"
	"github.com/fatflowers/billingd/pkg/types"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.CreditAuthorization{},
		&models.Subscription{},
		&models.Payment{},
		&models.WebhookLog{},
		&models.UsageCounter{},
	))
	return NewStore(db)
}

func seedPayments(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	rows := []*models.Payment{
		{SubscriptionID: "sub-1", Gwsr: "gw-1", Amount: 89900, Currency: "TWD", Status: types.PaymentStatusSuccess},
		{SubscriptionID: "sub-1", Gwsr: "gw-2", Amount: 89900, Currency: "TWD", Status: types.PaymentStatusFailed},
		{SubscriptionID: "sub-2", Gwsr: "gw-3", Amount: 90000, Currency: "TWD", Status: types.PaymentStatusSuccess, ManualReview: true},
	}
	for _, p := range rows {
		require.NoError(t, store.SavePayment(ctx, p))
	}
}

func TestListPayments(t *testing.T) {
	store := newTestStore(t)
	seedPayments(t, store)
	ctx := context.Background()

	t.Run("all", func(t *testing.T) {
		rows, total, err := store.ListPayments(ctx, ListPaymentsQuery{Size: 100})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, rows, 3)
	})

	t.Run("by subscription", func(t *testing.T) {
		_, total, err := store.ListPayments(ctx, ListPaymentsQuery{SubscriptionID: "sub-1", Size: 100})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
	})

	t.Run("manual review only", func(t *testing.T) {
		rows, total, err := store.ListPayments(ctx, ListPaymentsQuery{ManualReview: lo.ToPtr(true), Size: 100})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, "gw-3", rows[0].Gwsr)
	})

	t.Run("pagination", func(t *testing.T) {
		rows, total, err := store.ListPayments(ctx, ListPaymentsQuery{Size: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, rows, 2)
	})
}

func TestScanPayments(t *testing.T) {
	store := newTestStore(t)
	seedPayments(t, store)
	ctx := context.Background()

	t.Run("no filters", func(t *testing.T) {
		_, total, err := store.ScanPayments(ctx, ScanPaymentsQuery{Size: 100})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
	})

	t.Run("eq filter", func(t *testing.T) {
		rows, total, err := store.ScanPayments(ctx, ScanPaymentsQuery{
			Filters: []*types.CommonFilter{{Field: "status", Operator: types.CommonFilterOperatorEq, Values: []any{"failed"}}},
			Size:    100,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, "gw-2", rows[0].Gwsr)
	})

	t.Run("combined filters", func(t *testing.T) {
		_, total, err := store.ScanPayments(ctx, ScanPaymentsQuery{
			Filters: []*types.CommonFilter{
				{Field: "status", Operator: types.CommonFilterOperatorEq, Values: []any{"success"}},
				{Field: "amount", Operator: types.CommonFilterOperatorGte, Values: []any{90000}},
			},
			Size: 100,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("sorted ascending", func(t *testing.T) {
		rows, _, err := store.ScanPayments(ctx, ScanPaymentsQuery{Size: 100, SortBy: "amount", SortOrder: "asc"})
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.LessOrEqual(t, rows[0].Amount, rows[2].Amount)
	})

	t.Run("unknown sort column falls back", func(t *testing.T) {
		_, _, err := store.ScanPayments(ctx, ScanPaymentsQuery{Size: 100, SortBy: "gwsr; drop table payment"})
		require.NoError(t, err)
	})
}

func TestLockUsageCounter_CreatesOnFirstTouch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Transaction(ctx, func(tx Store) error {
		c, err := tx.LockUsageCounter(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", c.UserID)
		assert.Equal(t, models.MonthStart(time.Now()), c.CurrentMonthStart.UTC())
		return nil
	}))

	// The same user converges on one row.
	require.NoError(t, store.Transaction(ctx, func(tx Store) error {
		c, err := tx.LockUsageCounter(ctx, "user-1")
		require.NoError(t, err)
		c.SessionCount = 3
		return tx.SaveUsageCounter(ctx, c)
	}))

	c, err := store.FindUsageCounter(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.SessionCount)
}

func TestAppendWebhookLogAndCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, status := range []types.WebhookLogStatus{
		types.WebhookLogStatusSuccess,
		types.WebhookLogStatusSuccess,
		types.WebhookLogStatusFailed,
	} {
		require.NoError(t, store.AppendWebhookLog(ctx, &models.WebhookLog{
			WebhookType:      types.WebhookTypeAuthCallback,
			MerchantMemberID: fmt.Sprintf("M%d", i),
			Status:           status,
			ReceivedAt:       now,
		}))
	}

	total, err := store.CountWebhookLogsSince(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	ok, err := store.CountWebhookLogsSinceByStatus(ctx, now.Add(-time.Minute), string(types.WebhookLogStatusSuccess))
	require.NoError(t, err)
	assert.Equal(t, int64(2), ok)

	n, err := store.CountWebhookLogsSince(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}
