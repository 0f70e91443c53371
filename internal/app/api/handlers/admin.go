package handlers

import (
	"net/http"
	"strconv"

	"github.com/fatflowers/billingd/internal/app/repo"
	paysvc "github.com/fatflowers/billingd/internal/app/service/payment"
	"github.com/fatflowers/billingd/internal/models"
	"github.com/fatflowers/billingd/pkg/response"
	"github.com/fatflowers/billingd/pkg/types"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type listPaymentsResp struct {
	Items []*models.Payment `json:"items"`
	Total int64             `json:"total"`
}

func paymentsQueryFrom(c *gin.Context) repo.ListPaymentsQuery {
	q := repo.ListPaymentsQuery{
		SubscriptionID: c.Query("subscription_id"),
		Status:         c.Query("status"),
	}
	if v := c.Query("manual_review"); v != "" {
		q.ManualReview = lo.ToPtr(v == "true")
	}
	q.From, _ = strconv.Atoi(c.Query("from"))
	q.Size, _ = strconv.Atoi(c.Query("size"))
	return q
}

// ApiListPayments is the paginated admin payment listing, filterable by
// subscription, status and manual-review flag.
func ApiListPayments(svc *paysvc.Service, store repo.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, total, err := svc.ListPayments(c.Request.Context(), store, paymentsQueryFrom(c))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&listPaymentsResp{Items: items, Total: total}))
	}
}

// ApiListPaymentsReview is the manual reconciliation queue: successful
// charges whose gateway-reported amount disagreed with the ledger.
func ApiListPaymentsReview(svc *paysvc.Service, store repo.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := paymentsQueryFrom(c)
		q.ManualReview = lo.ToPtr(true)
		items, total, err := svc.ListPayments(c.Request.Context(), store, q)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&listPaymentsResp{Items: items, Total: total}))
	}
}

type scanPaymentsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

// ApiScanPayments is the filter-driven admin search over the payment ledger.
func ApiScanPayments(svc *paysvc.Service, store repo.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req scanPaymentsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		q := repo.ScanPaymentsQuery{
			Filters: req.Filters, From: req.From, Size: req.Size,
			SortBy: req.SortBy, SortOrder: req.SortOrder,
		}
		items, total, err := svc.ScanPayments(c.Request.Context(), store, q)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&listPaymentsResp{Items: items, Total: total}))
	}
}

func RegisterAdminRoutes(r gin.IRouter, svc *paysvc.Service, store repo.Store) {
	r.GET("/payments", ApiListPayments(svc, store))
	r.GET("/payments/review", ApiListPaymentsReview(svc, store))
	r.POST("/payments/search", ApiScanPayments(svc, store))
}
