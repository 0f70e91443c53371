package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/fatflowers/billingd/internal/models"
	"github.com/fatflowers/billingd/pkg/tool"
	"github.com/fatflowers/billingd/pkg/types"

	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormStore struct {
	db *gorm.DB
}

// NewStore wraps a gorm connection in the ledger repository.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

var Module = fx.Options(
	fx.Provide(NewStore),
)

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

// forUpdate adds a row lock on dialects that support it. sqlite (used in
// tests) serializes writers on the database lock instead.
func (s *gormStore) forUpdate(ctx context.Context) *gorm.DB {
	tx := s.db.WithContext(ctx)
	if s.db.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (s *gormStore) GetAuthorization(ctx context.Context, id string) (*models.CreditAuthorization, error) {
	var auth models.CreditAuthorization
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&auth).Error; err != nil {
		return nil, err
	}
	return &auth, nil
}

func (s *gormStore) FindAuthorizationByMemberID(ctx context.Context, merchantMemberID string) (*models.CreditAuthorization, error) {
	var auth models.CreditAuthorization
	if err := s.db.WithContext(ctx).Where("merchant_member_id = ?", merchantMemberID).First(&auth).Error; err != nil {
		return nil, err
	}
	return &auth, nil
}

func (s *gormStore) LockAuthorizationByMemberID(ctx context.Context, merchantMemberID string) (*models.CreditAuthorization, error) {
	var auth models.CreditAuthorization
	if err := s.forUpdate(ctx).Where("merchant_member_id = ?", merchantMemberID).First(&auth).Error; err != nil {
		return nil, err
	}
	return &auth, nil
}

func (s *gormStore) SaveAuthorization(ctx context.Context, auth *models.CreditAuthorization) error {
	if auth.ID == "" {
		auth.ID = tool.GenerateUUIDV7()
	}
	return s.db.WithContext(ctx).Save(auth).Error
}

func (s *gormStore) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *gormStore) FindSubscriptionByAuthID(ctx context.Context, authID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("auth_id = ?", authID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *gormStore) FindCurrentSubscriptionByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *gormStore) LockSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.forUpdate(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *gormStore) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = tool.GenerateUUIDV7()
	}
	return s.db.WithContext(ctx).Save(sub).Error
}

func (s *gormStore) ListDeferredCancellationsDue(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	err := s.db.WithContext(ctx).
		Where("cancel_at_period_end = ? AND status IN ? AND current_period_end <= ?",
			true, []string{"active", "past_due"}, now).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *gormStore) ListPastDueOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	err := s.db.WithContext(ctx).
		Where("status = ? AND past_due_since <= ?", "past_due", cutoff).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *gormStore) FindPaymentByGwsr(ctx context.Context, gwsr string) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.WithContext(ctx).Where("gwsr = ?", gwsr).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *gormStore) SavePayment(ctx context.Context, p *models.Payment) error {
	if p.ID == "" {
		p.ID = tool.GenerateUUIDV7()
	}
	return s.db.WithContext(ctx).Save(p).Error
}

func (s *gormStore) ListPayments(ctx context.Context, q ListPaymentsQuery) ([]*models.Payment, int64, error) {
	if q.Size <= 0 {
		q.Size = 10
	}
	if q.From < 0 {
		q.From = 0
	}

	tx := s.db.WithContext(ctx).Model(&models.Payment{})
	if q.SubscriptionID != "" {
		tx = tx.Where("subscription_id = ?", q.SubscriptionID)
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	if q.ManualReview != nil {
		tx = tx.Where("manual_review = ?", *q.ManualReview)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	var rows []*models.Payment
	err := tx.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: "created_at"}, Desc: true}}}).
		Limit(q.Size).Offset(q.From).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	return rows, total, nil
}

// filtersWhere joins admin filter conditions into a single AND expression.
type filtersWhere struct{ filters []*types.CommonFilter }

func (w filtersWhere) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i, f := range w.filters {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		f.Build(builder)
	}
}

var scanPaymentsSortColumns = map[string]bool{
	"created_at":   true,
	"amount":       true,
	"status":       true,
	"period_start": true,
	"period_end":   true,
}

func (s *gormStore) ScanPayments(ctx context.Context, q ScanPaymentsQuery) ([]*models.Payment, int64, error) {
	if q.Size <= 0 {
		q.Size = 10
	}
	if q.From < 0 {
		q.From = 0
	}
	sortBy := q.SortBy
	if !scanPaymentsSortColumns[sortBy] {
		sortBy = "created_at"
	}

	tx := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where(filtersWhere{filters: q.Filters})

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	var rows []*models.Payment
	err := tx.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{
		Column: clause.Column{Name: sortBy},
		Desc:   q.SortOrder != "asc",
	}}}).
		Limit(q.Size).Offset(q.From).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan payments: %w", err)
	}
	return rows, total, nil
}

func (s *gormStore) AppendWebhookLog(ctx context.Context, log *models.WebhookLog) error {
	if log.ID == "" {
		log.ID = tool.GenerateUUIDV7()
	}
	return s.db.WithContext(ctx).Create(log).Error
}

func (s *gormStore) CountWebhookLogsSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.WebhookLog{}).
		Where("received_at >= ?", since).Count(&n).Error
	return n, err
}

func (s *gormStore) CountWebhookLogsSinceByStatus(ctx context.Context, since time.Time, status string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.WebhookLog{}).
		Where("received_at >= ? AND status = ?", since, status).Count(&n).Error
	return n, err
}

func (s *gormStore) LockUsageCounter(ctx context.Context, userID string) (*models.UsageCounter, error) {
	var c models.UsageCounter
	err := s.forUpdate(ctx).Where("user_id = ?", userID).First(&c).Error
	if err == nil {
		return &c, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	// First touch: create the row, then re-read under the lock so two
	// concurrent creators converge on one row via the unique index.
	fresh := &models.UsageCounter{
		ID:                tool.GenerateUUIDV7(),
		UserID:            userID,
		CurrentMonthStart: models.MonthStart(time.Now()),
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(fresh).Error; err != nil {
		return nil, fmt.Errorf("failed to create usage counter: %w", err)
	}
	if err := s.forUpdate(ctx).Where("user_id = ?", userID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *gormStore) FindUsageCounter(ctx context.Context, userID string) (*models.UsageCounter, error) {
	var c models.UsageCounter
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *gormStore) SaveUsageCounter(ctx context.Context, c *models.UsageCounter) error {
	if c.ID == "" {
		c.ID = tool.GenerateUUIDV7()
	}
	return s.db.WithContext(ctx).Save(c).Error
}

func (s *gormStore) ListUsageCountersBefore(ctx context.Context, monthStartBefore time.Time) ([]*models.UsageCounter, error) {
	var rows []*models.UsageCounter
	err := s.db.WithContext(ctx).
		Where("current_month_start < ?", monthStartBefore).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
