package handlers

import (
	"net/http"

	"github.com/fatflowers/billingd/internal/app/service/webhook"
	"github.com/fatflowers/billingd/pkg/logctx"
	"github.com/fatflowers/billingd/pkg/types"

	"github.com/gin-gonic/gin"
)

// gatewayCallback relays a form-encoded gateway callback to the ingestor and
// writes the ack body verbatim. The gateway reads the body, not the status
// code, so the response is always HTTP 200 text/plain.
func gatewayCallback(ing *webhook.Ingestor, kind types.WebhookType) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			logctx.FromCtx(c, ing.Logger()).Warnw("webhook_form_parse_failed", "type", kind, "error", err.Error())
			c.String(http.StatusOK, webhook.AckSystemError)
			return
		}
		ack := ing.Receive(c.Request.Context(), kind, c.Request.PostForm)
		c.String(http.StatusOK, ack)
	}
}

// ApiAuthCallback handles the gateway's card-authorization result callback.
func ApiAuthCallback(ing *webhook.Ingestor) gin.HandlerFunc {
	return gatewayCallback(ing, types.WebhookTypeAuthCallback)
}

// ApiBillingCallback handles the gateway's per-cycle billing result callback.
func ApiBillingCallback(ing *webhook.Ingestor) gin.HandlerFunc {
	return gatewayCallback(ing, types.WebhookTypeBillingCallback)
}

func RegisterWebhookRoutes(r gin.IRouter, ing *webhook.Ingestor) {
	r.POST("/auth-callback", ApiAuthCallback(ing))
	r.POST("/billing-callback", ApiBillingCallback(ing))
}
