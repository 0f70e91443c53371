package models

import (
	"time"

	"github.com/fatflowers/billingd/pkg/types"
)

// CreditAuthorization is one card-tokenization handshake with the gateway.
// A failed handshake is terminal; reauthorization creates a new row.
type CreditAuthorization struct {
	ID     string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	// MerchantMemberID is the identifier we hand the gateway; it caps the
	// field at 30 characters.
	MerchantMemberID string `gorm:"column:merchant_member_id;type:varchar(30);not null;uniqueIndex" json:"merchant_member_id"`
	PlanID           string `gorm:"column:plan_id;type:varchar(64);not null" json:"plan_id"`
	// PeriodType is the gateway cadence code: "M" or "Y".
	PeriodType   string `gorm:"column:period_type;type:varchar(1);not null" json:"period_type"`
	PeriodAmount int64  `gorm:"column:period_amount;not null" json:"period_amount"`
	ExecTimes    int    `gorm:"column:exec_times;not null" json:"exec_times"`
	Status       types.AuthorizationStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	// Provider echo fields recorded on a successful handshake.
	AuthCode  string `gorm:"column:auth_code;type:varchar(64)" json:"auth_code"`
	CardBrand string `gorm:"column:card_brand;type:varchar(32)" json:"card_brand"`
	CardLast4 string `gorm:"column:card_last4;type:varchar(4)" json:"card_last4"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CreditAuthorization) TableName() string { return "credit_authorization" }
