package models

import (
	"time"

	"github.com/fatflowers/billingd/pkg/types"

	"gorm.io/datatypes"
)

// WebhookLog is the append-only audit trail of gateway callback deliveries.
// One row per delivery, including replays; rows are never mutated or deleted.
type WebhookLog struct {
	ID               string                 `gorm:"column:id;type:uuid;primary_key" json:"id"`
	WebhookType      types.WebhookType      `gorm:"column:webhook_type;type:varchar(32);not null;index" json:"webhook_type"`
	MerchantMemberID string                 `gorm:"column:merchant_member_id;type:varchar(30);index" json:"merchant_member_id"`
	Gwsr             *string                `gorm:"column:gwsr;type:varchar(64);default:null" json:"gwsr"`
	Status           types.WebhookLogStatus `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	SignatureVerified bool                  `gorm:"column:signature_verified;not null" json:"signature_verified"`
	ReceivedAt       time.Time              `gorm:"column:received_at;not null;index" json:"received_at"`
	ErrorMessage     *string                `gorm:"column:error_message;type:varchar(255);default:null" json:"error_message"`
	// Payload is the raw callback parameter set; Result captures the
	// handling outcome for audit.
	Payload   datatypes.JSON  `gorm:"column:payload;type:jsonb" json:"payload"`
	Result    *datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}

func (WebhookLog) TableName() string { return "webhook_log" }
