package authorization

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fatflowers/billingd/internal/app/repo"
	"github.com/fatflowers/billingd/internal/app/service/signature"
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

func newTestService(t *testing.T) (*Service, repo.Store, *signature.Codec) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.CreditAuthorization{},
		&models.Subscription{},
		&models.UsageCounter{},
	))

	cfg := &config.Config{
		Gateway: config.GatewayConfig{
			ActionURL:  "https://gateway.example.com/cashier/membercard",
			MerchantID: "3002607",
			HashKey:    "5294y06JbISpM5x9",
			HashIV:     "v77hoKGq4kWxNNIS",
		},
		Plans: []*types.Plan{
			{ID: "pro", MonthlyPrice: 89900, AnnualPrice: 899000, Currency: "TWD"},
		},
		DefaultPlanID: "pro",
	}
	store := repo.NewStore(db)
	codec := signature.NewCodec(cfg.Gateway.HashKey, cfg.Gateway.HashIV)
	log := zap.NewNop().Sugar()
	return NewService(cfg, store, codec, subsvc.NewService(cfg, store, log), log), store, codec
}

func TestCreateAuthorization(t *testing.T) {
	svc, store, codec := newTestService(t)
	ctx := context.Background()

	req, err := svc.CreateAuthorization(ctx, "user-1", "pro", types.BillingCycleMonthly)
	require.NoError(t, err)

	assert.Equal(t, "https://gateway.example.com/cashier/membercard", req.ActionURL)
	assert.NotEmpty(t, req.AuthID)
	assert.True(t, strings.HasPrefix(req.MerchantMemberID, "M"))

	// The form carries the gateway contract fields and a valid signature.
	assert.Equal(t, "3002607", req.FormData["MerchantID"])
	assert.Equal(t, req.MerchantMemberID, req.FormData["MerchantMemberID"])
	assert.Equal(t, "M", req.FormData["PeriodType"])
	assert.Equal(t, "89900", req.FormData["PeriodAmt"])
	assert.Equal(t, "99", req.FormData["ExecTimes"])
	assert.NoError(t, codec.Verify(req.FormData))

	auth, err := store.GetAuthorization(ctx, req.AuthID)
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationStatusPending, auth.Status)
	assert.Equal(t, int64(89900), auth.PeriodAmount)
	assert.Equal(t, 99, auth.ExecTimes)
}

func TestCreateAuthorization_AnnualCycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	req, err := svc.CreateAuthorization(context.Background(), "user-1", "pro", types.BillingCycleAnnual)
	require.NoError(t, err)
	assert.Equal(t, "Y", req.FormData["PeriodType"])
	assert.Equal(t, "899000", req.FormData["PeriodAmt"])
	assert.Equal(t, "9", req.FormData["ExecTimes"])
}

func TestCreateAuthorization_Rejections(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAuthorization(ctx, "user-1", "missing-plan", types.BillingCycleMonthly)
	assert.ErrorIs(t, err, subsvc.ErrPlanNotFound)

	_, err = svc.CreateAuthorization(ctx, "user-1", "pro", types.BillingCycle("weekly"))
	assert.Error(t, err)
}

func TestOnAuthSuccess_TerminalGuard(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	auth := &models.CreditAuthorization{
		UserID:           "user-1",
		MerchantMemberID: "M1700000000AB12CD34EF",
		PlanID:           "pro",
		PeriodType:       "M",
		PeriodAmount:     89900,
		Status:           types.AuthorizationStatusFailed,
	}
	require.NoError(t, store.SaveAuthorization(ctx, auth))

	err := store.Transaction(ctx, func(tx repo.Store) error {
		return svc.OnAuthSuccess(ctx, tx, auth, &AuthResult{AuthCode: "777777"}, time.Now())
	})
	assert.Error(t, err, "failed handshakes are terminal")
}

// A late failure callback for an authorization that already activated must
// not flip it to failed underneath its live subscription.
func TestOnAuthFailure_IgnoresSettledAuthorization(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	auth := &models.CreditAuthorization{
		UserID:           "user-1",
		MerchantMemberID: "M1700000000AB12CD34EF",
		PlanID:           "pro",
		PeriodType:       "M",
		PeriodAmount:     89900,
		Status:           types.AuthorizationStatusActive,
		AuthCode:         "777777",
	}
	require.NoError(t, store.SaveAuthorization(ctx, auth))

	err := store.Transaction(ctx, func(tx repo.Store) error {
		return svc.OnAuthFailure(ctx, tx, auth, "card expired")
	})
	require.NoError(t, err)

	got, err := store.GetAuthorization(ctx, auth.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationStatusActive, got.Status)
}

func TestOnAuthFailure_MarksPendingFailed(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	auth := &models.CreditAuthorization{
		UserID:           "user-1",
		MerchantMemberID: "M1700000000AB12CD34EF",
		PlanID:           "pro",
		PeriodType:       "M",
		PeriodAmount:     89900,
		Status:           types.AuthorizationStatusPending,
	}
	require.NoError(t, store.SaveAuthorization(ctx, auth))

	err := store.Transaction(ctx, func(tx repo.Store) error {
		return svc.OnAuthFailure(ctx, tx, auth, "card declined")
	})
	require.NoError(t, err)

	got, err := store.GetAuthorization(ctx, auth.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationStatusFailed, got.Status)
}
