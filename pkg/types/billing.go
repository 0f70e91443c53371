package types

import "fmt"

// BillingCycle is the charge cadence of a subscription.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleAnnual  BillingCycle = "annual"
)

// PeriodType returns the gateway wire value for the cycle ("M" or "Y").
func (c BillingCycle) PeriodType() string {
	if c == BillingCycleAnnual {
		return "Y"
	}
	return "M"
}

func (c BillingCycle) Valid() bool {
	return c == BillingCycleMonthly || c == BillingCycleAnnual
}

// ParseBillingCycle accepts either the API form ("monthly"/"annual") or the
// gateway period type ("M"/"Y").
func ParseBillingCycle(s string) (BillingCycle, error) {
	switch s {
	case string(BillingCycleMonthly), "M":
		return BillingCycleMonthly, nil
	case string(BillingCycleAnnual), "Y":
		return BillingCycleAnnual, nil
	}
	return "", fmt.Errorf("invalid billing cycle: %q", s)
}

type AuthorizationStatus string

const (
	AuthorizationStatusPending   AuthorizationStatus = "pending"
	AuthorizationStatusActive    AuthorizationStatus = "active"
	AuthorizationStatusFailed    AuthorizationStatus = "failed"
	AuthorizationStatusCancelled AuthorizationStatus = "cancelled"
)

// Terminal reports whether the authorization can never leave its state.
// A failed tokenization handshake requires a brand new authorization row.
func (s AuthorizationStatus) Terminal() bool {
	return s == AuthorizationStatusFailed
}

type SubscriptionStatus string

const (
	SubscriptionStatusPendingAuth SubscriptionStatus = "pending_auth"
	SubscriptionStatusActive      SubscriptionStatus = "active"
	SubscriptionStatusPastDue     SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled   SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired     SubscriptionStatus = "expired"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

type WebhookType string

const (
	WebhookTypeAuthCallback    WebhookType = "auth_callback"
	WebhookTypeBillingCallback WebhookType = "billing_callback"
)

type WebhookLogStatus string

const (
	WebhookLogStatusSuccess WebhookLogStatus = "success"
	WebhookLogStatusFailed  WebhookLogStatus = "failed"
)

// UsageMetric names a counter on the per-user usage row.
type UsageMetric string

const (
	UsageMetricSessions       UsageMetric = "sessions"
	UsageMetricTranscriptions UsageMetric = "transcriptions"
	UsageMetricMinutes        UsageMetric = "minutes"
)

func (m UsageMetric) Valid() bool {
	return m == UsageMetricSessions || m == UsageMetricTranscriptions || m == UsageMetricMinutes
}
