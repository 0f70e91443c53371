package handlers

import (
	"net/http"
	"time"

	"github.com/fatflowers/billingd/internal/app/repo"
	"github.com/fatflowers/billingd/pkg/response"
	"github.com/fatflowers/billingd/pkg/types"

	"github.com/gin-gonic/gin"
)

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, response.OKT(map[string]string{"status": "ok"}))
}

type webhookHealthMetrics struct {
	RecentWebhooks30Min int64   `json:"recent_webhooks_30min"`
	SuccessRate24H      float64 `json:"success_rate_24h"`
}

type webhookHealthResp struct {
	Service string               `json:"service"`
	Status  string               `json:"status"`
	Metrics webhookHealthMetrics `json:"metrics"`
}

// ApiWebhookHealth reports ingestion liveness for the gateway integration:
// raw delivery volume over the last 30 minutes and the 24h success rate from
// the audit log. A window with no deliveries reports a success rate of 1.
func ApiWebhookHealth(store repo.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		now := time.Now()

		recent, err := store.CountWebhookLogsSince(ctx, now.Add(-30*time.Minute))
		if err != nil {
			c.JSON(http.StatusOK, webhookHealthResp{Service: "billingd", Status: "degraded"})
			return
		}
		total, err := store.CountWebhookLogsSince(ctx, now.Add(-24*time.Hour))
		if err != nil {
			c.JSON(http.StatusOK, webhookHealthResp{Service: "billingd", Status: "degraded"})
			return
		}
		ok, err := store.CountWebhookLogsSinceByStatus(ctx, now.Add(-24*time.Hour), string(types.WebhookLogStatusSuccess))
		if err != nil {
			c.JSON(http.StatusOK, webhookHealthResp{Service: "billingd", Status: "degraded"})
			return
		}

		rate := 1.0
		if total > 0 {
			rate = float64(ok) / float64(total)
		}
		c.JSON(http.StatusOK, webhookHealthResp{
			Service: "billingd",
			Status:  "ok",
			Metrics: webhookHealthMetrics{RecentWebhooks30Min: recent, SuccessRate24H: rate},
		})
	}
}

func RegisterHealthRoutes(r gin.IRouter) {
	r.GET("/healthz", Healthz)
}
