package models

import (
	"time"

	"github.com/fatflowers/billingd/pkg/types"
)

// Payment records one per-cycle billing attempt. Rows with status success
// are immutable once written.
type Payment struct {
	ID             string              `gorm:"column:id;type:uuid;primary_key" json:"id"`
	SubscriptionID string              `gorm:"column:subscription_id;type:uuid;not null;index" json:"subscription_id"`
	Amount         int64               `gorm:"column:amount;not null" json:"amount"`
	Currency       string              `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	Status         types.PaymentStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
	// Gwsr is the gateway transaction reference and doubles as the billing
	// idempotency key.
	Gwsr     string `gorm:"column:gwsr;type:varchar(64);not null;uniqueIndex" json:"gwsr"`
	AuthCode string `gorm:"column:auth_code;type:varchar(64)" json:"auth_code"`
	// Period bounds mirror the subscription at charge time.
	PeriodStart   time.Time `gorm:"column:period_start" json:"period_start"`
	PeriodEnd     time.Time `gorm:"column:period_end" json:"period_end"`
	FailureReason *string   `gorm:"column:failure_reason;type:varchar(255);default:null" json:"failure_reason"`
	// ManualReview flags a success whose gateway-reported amount disagreed
	// with the ledger beyond tolerance; the period was not advanced.
	ManualReview bool      `gorm:"column:manual_review;not null;default:false" json:"manual_review"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Payment) TableName() string { return "payment" }
