package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/fatflowers/billingd/internal/app/repo"
	authsvc "github.com/fatflowers/billingd/internal/app/service/authorization"
	subsvc "github.com/fatflowers/billingd/internal/app/service/subscription"
	"github.com/fatflowers/billingd/pkg/response"
	"github.com/fatflowers/billingd/pkg/types"

	"github.com/gin-gonic/gin"
)

// billingErrorCode maps service errors onto the response envelope taxonomy.
func billingErrorCode(err error) response.APIResponseCode {
	var invalid *subsvc.InvalidTransitionError
	var proration *subsvc.ProrationError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return response.APIResponseCodeNotFound
	case errors.As(err, &invalid):
		return response.APIResponseCodeInvalidTransition
	case errors.As(err, &proration), errors.Is(err, subsvc.ErrPlanNotFound):
		return response.APIResponseCodeValidation
	default:
		return response.APIResponseCodeError
	}
}

func billingError(c *gin.Context, err error) {
	c.JSON(http.StatusOK, response.ErrorT[any](billingErrorCode(err), err.Error()))
}

type authorizeRequest struct {
	UserID       string `json:"user_id"`
	PlanID       string `json:"plan_id"`
	BillingCycle string `json:"billing_cycle"`
}

// ApiAuthorize opens a tokenization handshake and returns the pre-signed
// form the client posts to the gateway.
func ApiAuthorize(svc *authsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req authorizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.UserID == "" || req.PlanID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeValidation, "missing user_id or plan_id"))
			return
		}
		cycle, err := types.ParseBillingCycle(req.BillingCycle)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeValidation, err.Error()))
			return
		}

		res, err := svc.CreateAuthorization(c.Request.Context(), req.UserID, req.PlanID, cycle)
		if err != nil {
			billingError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// ApiGetSubscription returns the user's current subscription.
func ApiGetSubscription(svc *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeValidation, "missing user_id"))
			return
		}
		sub, err := svc.GetCurrent(c.Request.Context(), userID)
		if err != nil {
			billingError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

type cancelRequest struct {
	SubscriptionID string `json:"subscription_id"`
	Immediate      bool   `json:"immediate"`
	Reason         string `json:"reason"`
}

// ApiCancel cancels a subscription, immediately or at period end.
func ApiCancel(svc *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cancelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.SubscriptionID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeValidation, "missing subscription_id"))
			return
		}
		sub, err := svc.Cancel(c.Request.Context(), req.SubscriptionID, req.Immediate, req.Reason)
		if err != nil {
			billingError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

type reactivateRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

// ApiReactivate undoes a cancellation before the paid period runs out.
func ApiReactivate(svc *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reactivateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.SubscriptionID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeValidation, "missing subscription_id"))
			return
		}
		sub, err := svc.Reactivate(c.Request.Context(), req.SubscriptionID, time.Now())
		if err != nil {
			billingError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

type changePlanRequest struct {
	SubscriptionID string `json:"subscription_id"`
	PlanID         string `json:"plan_id"`
	BillingCycle   string `json:"billing_cycle"`
}

func (r *changePlanRequest) validate(c *gin.Context) (types.BillingCycle, bool) {
	if err := c.ShouldBindJSON(r); err != nil {
		c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
		return "", false
	}
	if r.SubscriptionID == "" || r.PlanID == "" {
		c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeValidation, "missing subscription_id or plan_id"))
		return "", false
	}
	cycle, err := types.ParseBillingCycle(r.BillingCycle)
	if err != nil {
		c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeValidation, err.Error()))
		return "", false
	}
	return cycle, true
}

// ApiPreviewPlanChange computes the proration without writing anything. The
// executed change reports the same numbers.
func ApiPreviewPlanChange(svc *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req changePlanRequest
		cycle, ok := req.validate(c)
		if !ok {
			return
		}
		preview, err := svc.PreviewPlanChange(c.Request.Context(), req.SubscriptionID, req.PlanID, cycle, time.Now())
		if err != nil {
			billingError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(preview))
	}
}

// ApiChangePlan executes a mid-cycle plan change and returns the applied
// proration.
func ApiChangePlan(svc *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req changePlanRequest
		cycle, ok := req.validate(c)
		if !ok {
			return
		}
		preview, err := svc.ChangePlan(c.Request.Context(), req.SubscriptionID, req.PlanID, cycle, time.Now())
		if err != nil {
			billingError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(preview))
	}
}

func RegisterBillingRoutes(r gin.IRouter, auth *authsvc.Service, sub *subsvc.Service) {
	r.POST("/authorize", ApiAuthorize(auth))
	r.GET("/subscription", ApiGetSubscription(sub))
	r.POST("/cancel", ApiCancel(sub))
	r.POST("/reactivate", ApiReactivate(sub))
	r.POST("/change-plan/preview", ApiPreviewPlanChange(sub))
	r.POST("/change-plan", ApiChangePlan(sub))
}
