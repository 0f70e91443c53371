package models

import (
	"time"

	"github.com/fatflowers/billingd/pkg/types"
)

// Subscription owns one billing relationship. Exactly one subscription hangs
// off each active CreditAuthorization.
type Subscription struct {
	ID           string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID       string                   `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	AuthID       string                   `gorm:"column:auth_id;type:uuid;not null;uniqueIndex" json:"auth_id"`
	PlanID       string                   `gorm:"column:plan_id;type:varchar(64);not null" json:"plan_id"`
	BillingCycle types.BillingCycle       `gorm:"column:billing_cycle;type:varchar(16);not null" json:"billing_cycle"`
	Amount       int64                    `gorm:"column:amount;not null" json:"amount"`
	Currency     string                   `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	Status       types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	// Period bounds are contiguous across renewals: the next period starts
	// exactly at the previous period's end.
	CurrentPeriodStart time.Time `gorm:"column:current_period_start" json:"current_period_start"`
	CurrentPeriodEnd   time.Time `gorm:"column:current_period_end" json:"current_period_end"`
	// CancelAtPeriodEnd marks a deferred user cancel; status stays active
	// until the sweep finalizes it at/after CurrentPeriodEnd.
	CancelAtPeriodEnd bool       `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	CancelReason      string     `gorm:"column:cancel_reason;type:varchar(255)" json:"cancel_reason"`
	// PastDueSince anchors the grace window opened by a failed charge.
	PastDueSince *time.Time `gorm:"column:past_due_since;default:null" json:"past_due_since"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string { return "subscription" }

// InPeriod reports whether t falls inside the current billing period.
func (s *Subscription) InPeriod(t time.Time) bool {
	return s != nil && !t.Before(s.CurrentPeriodStart) && t.Before(s.CurrentPeriodEnd)
}
