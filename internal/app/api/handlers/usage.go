package handlers

import (
	"net/http"

	"github.com/fatflowers/billingd/internal/app/service/usage"
	"github.com/fatflowers/billingd/pkg/response"
	"github.com/fatflowers/billingd/pkg/types"

	"github.com/gin-gonic/gin"
)

type usageRequest struct {
	UserID string `json:"user_id"`
	Metric string `json:"metric"`
	Amount int64  `json:"amount"`
}

func (r *usageRequest) validate(c *gin.Context) (types.UsageMetric, bool) {
	if err := c.ShouldBindJSON(r); err != nil {
		c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
		return "", false
	}
	metric := types.UsageMetric(r.Metric)
	if r.UserID == "" || !metric.Valid() {
		c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeValidation, "missing user_id or unknown metric"))
		return "", false
	}
	if r.Amount <= 0 {
		r.Amount = 1
	}
	return metric, true
}

type usageCheckResp struct {
	Allowed bool `json:"allowed"`
}

// ApiUsageCheck reports whether the user may create Amount more units of the
// metric under their plan limit. Read-only; served from the advisory cache.
func ApiUsageCheck(gate *usage.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req usageRequest
		metric, ok := req.validate(c)
		if !ok {
			return
		}
		allowed, err := gate.Check(c.Request.Context(), req.UserID, metric, req.Amount)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(usageCheckResp{Allowed: allowed}))
	}
}

type usageIncrementResp struct {
	Value int64 `json:"value"`
}

// ApiUsageIncrement durably meters consumed units and returns the new
// counter value.
func ApiUsageIncrement(gate *usage.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req usageRequest
		metric, ok := req.validate(c)
		if !ok {
			return
		}
		value, err := gate.Increment(c.Request.Context(), req.UserID, metric, req.Amount)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(usageIncrementResp{Value: value}))
	}
}

func RegisterUsageRoutes(r gin.IRouter, gate *usage.Gate) {
	r.POST("/check", ApiUsageCheck(gate))
	r.POST("/increment", ApiUsageIncrement(gate))
}
