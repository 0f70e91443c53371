package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/fatflowers/billingd/internal/app/repo"
	"github.com/fatflowers/billingd/internal/app/service/authorization"
	"github.com/fatflowers/billingd/internal/app/service/notify"
	paysvc "github.com/fatflowers/billingd/internal/app/service/payment"
	"github.com/fatflowers/billingd/internal/app/service/signature"
	subsvc "github.com/fatflowers/billingd/internal/app/service/subscription"
	"github.com/fatflowers/billingd/internal/app/service/webhook"
	"github.com/fatflowers/billingd/internal/models"
	"github.com/fatflowers/billingd/pkg/config"
	"github.com/fatflowers/billingd/pkg/types"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type webhookHarness struct {
	engine *gin.Engine
	store  repo.Store
	codec  *signature.Codec
}

func newWebhookHarness(t *testing.T) *webhookHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{
		Gateway: config.GatewayConfig{MerchantID: "3002607", HashKey: "5294y06JbISpM5x9", HashIV: "v77hoKGq4kWxNNIS"},
		Billing: config.BillingConfig{GracePeriodHours: 168, NotifyQueue: "billing:notify"},
		Plans: []*types.Plan{
			{ID: "free", Currency: "TWD"},
			{ID: "pro", MonthlyPrice: 89900, Currency: "TWD"},
		},
		DefaultPlanID: "free",
	}

	log := zap.NewNop().Sugar()
	store := repo.NewStore(db)
	codec := signature.NewCodec(cfg.Gateway.HashKey, cfg.Gateway.HashIV)
	subSvc := subsvc.NewService(cfg, store, log)
	paySvc := paysvc.NewService(cfg, subSvc, log)
	authSvc := authorization.NewService(cfg, store, codec, subSvc, log)
	queue := notify.NewQueue(cfg, client, log)
	ing := webhook.NewIngestor(cfg, store, codec, authSvc, paySvc, queue, log)

	r := gin.New()
	RegisterWebhookRoutes(r.Group("/webhooks"), ing)
	return &webhookHarness{engine: r, store: store, codec: codec}
}

func (h *webhookHarness) post(t *testing.T, path string, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func (h *webhookHarness) seedPendingAuth(t *testing.T, memberID string) {
	t.Helper()
	require.NoError(t, h.store.SaveAuthorization(context.Background(), &models.CreditAuthorization{
		UserID:           "user-1",
		MerchantMemberID: memberID,
		PlanID:           "pro",
		PeriodType:       "M",
		PeriodAmount:     89900,
		ExecTimes:        99,
		Status:           types.AuthorizationStatusPending,
	}))
}

// The gateway contract is carried by the response body, byte for byte, over
// HTTP 200 regardless of outcome.
func TestWebhookEndpoints_AckBodies(t *testing.T) {
	h := newWebhookHarness(t)
	const memberID = "M1700000000AB12CD34EF"
	h.seedPendingAuth(t, memberID)

	signed := func(params map[string]string) map[string]string {
		params[signature.Field] = h.codec.Sign(params)
		return params
	}

	t.Run("auth success acks 1|OK", func(t *testing.T) {
		w := h.post(t, "/webhooks/auth-callback", signed(map[string]string{
			"MerchantMemberID": memberID,
			"RtnCode":          "1",
			"RtnMsg":           "",
			"AuthCode":         "777777",
		}))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "1|OK", w.Body.String())
	})

	t.Run("billing success acks 1|OK", func(t *testing.T) {
		w := h.post(t, "/webhooks/billing-callback", signed(map[string]string{
			"MerchantMemberID": memberID,
			"RtnCode":          "1",
			"gwsr":             "gw-1",
			"Amount":           "89900",
		}))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "1|OK", w.Body.String())
	})

	t.Run("bad signature acks security failure", func(t *testing.T) {
		w := h.post(t, "/webhooks/billing-callback", map[string]string{
			"MerchantMemberID": memberID,
			"RtnCode":          "1",
			"gwsr":             "gw-2",
			"Amount":           "89900",
			signature.Field:    "DEADBEEF",
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "0|Security Verification Failed", w.Body.String())
	})

	t.Run("unknown member acks data not found", func(t *testing.T) {
		w := h.post(t, "/webhooks/auth-callback", signed(map[string]string{
			"MerchantMemberID": "M0000000000UNKNOWN",
			"RtnCode":          "1",
			"AuthCode":         "111111",
		}))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "0|Data Not Found", w.Body.String())
	})
}
