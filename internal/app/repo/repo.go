package repo

import (
	"context"
	"time"

	"github.com/fatflowers/billingd/internal/models"
	"github.com/fatflowers/billingd/pkg/types"

	"gorm.io/gorm"
)

// ErrNotFound is returned by lookup methods when no row matches.
var ErrNotFound = gorm.ErrRecordNotFound

// Store is the ledger repository. State-machine logic depends on this
// interface only; persistence details stay behind it.
//
// Lock* methods take a row-level lock (SELECT ... FOR UPDATE) and are only
// meaningful inside Transaction.
type Store interface {
	// Transaction runs fn inside one database transaction. The Store passed
	// to fn is scoped to that transaction.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	GetAuthorization(ctx context.Context, id string) (*models.CreditAuthorization, error)
	FindAuthorizationByMemberID(ctx context.Context, merchantMemberID string) (*models.CreditAuthorization, error)
	// LockAuthorizationByMemberID claims the idempotency-owning row for an
	// auth callback.
	LockAuthorizationByMemberID(ctx context.Context, merchantMemberID string) (*models.CreditAuthorization, error)
	SaveAuthorization(ctx context.Context, auth *models.CreditAuthorization) error

	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	FindSubscriptionByAuthID(ctx context.Context, authID string) (*models.Subscription, error)
	FindCurrentSubscriptionByUserID(ctx context.Context, userID string) (*models.Subscription, error)
	// LockSubscription claims the idempotency-owning row for a billing
	// callback.
	LockSubscription(ctx context.Context, id string) (*models.Subscription, error)
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	// ListDeferredCancellationsDue returns active subscriptions whose
	// cancel_at_period_end fell due at or before now.
	ListDeferredCancellationsDue(ctx context.Context, now time.Time) ([]*models.Subscription, error)
	// ListPastDueOlderThan returns past_due subscriptions whose grace window
	// opened at or before the cutoff.
	ListPastDueOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Subscription, error)

	FindPaymentByGwsr(ctx context.Context, gwsr string) (*models.Payment, error)
	SavePayment(ctx context.Context, p *models.Payment) error
	ListPayments(ctx context.Context, q ListPaymentsQuery) ([]*models.Payment, int64, error)
	ScanPayments(ctx context.Context, q ScanPaymentsQuery) ([]*models.Payment, int64, error)

	// AppendWebhookLog inserts an audit row. The table is append-only.
	AppendWebhookLog(ctx context.Context, log *models.WebhookLog) error
	CountWebhookLogsSince(ctx context.Context, since time.Time) (int64, error)
	CountWebhookLogsSinceByStatus(ctx context.Context, since time.Time, status string) (int64, error)

	// LockUsageCounter loads (creating if absent) and locks the per-user
	// counter row.
	LockUsageCounter(ctx context.Context, userID string) (*models.UsageCounter, error)
	FindUsageCounter(ctx context.Context, userID string) (*models.UsageCounter, error)
	SaveUsageCounter(ctx context.Context, c *models.UsageCounter) error
	ListUsageCountersBefore(ctx context.Context, monthStartBefore time.Time) ([]*models.UsageCounter, error)
}

// ListPaymentsQuery narrows and pages the admin payment listing.
type ListPaymentsQuery struct {
	SubscriptionID string
	Status         string
	ManualReview   *bool
	From           int
	Size           int
}

// ScanPaymentsQuery is the filter-driven admin search over the payment
// ledger. Sort columns are restricted to a known set; unknown ones fall
// back to created_at.
type ScanPaymentsQuery struct {
	Filters   []*types.CommonFilter
	From      int
	Size      int
	SortBy    string
	SortOrder string
}
