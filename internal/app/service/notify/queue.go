package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatflowers/billingd/pkg/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Job kinds dispatched to users after billing state changes commit.
const (
	KindAuthActivated  = "auth_activated"
	KindPaymentSuccess = "payment_success"
	KindPaymentFailed  = "payment_failed"
)

const maxAttempts = 5

// Job is one queued user notification. Delivery is at-least-once; consumers
// must tolerate duplicates.
type Job struct {
	Kind           string    `json:"kind"`
	UserID         string    `json:"user_id"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	PaymentID      string    `json:"payment_id,omitempty"`
	Attempts       int       `json:"attempts"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Queue is the redis-backed notification queue. Jobs are enqueued strictly
// after the billing transaction commits, never before.
type Queue struct {
	client *redis.Client
	key    string
	log    *zap.SugaredLogger
}

func NewQueue(cfg *config.Config, client *redis.Client, log *zap.SugaredLogger) *Queue {
	return &Queue{client: client, key: cfg.Billing.NotifyQueue, log: log}
}

// Enqueue pushes a job. Failures are logged, not returned: committed billing
// state must never be rolled back for a notification problem, and the
// gateway's redelivery gives the job another chance.
func (q *Queue) Enqueue(ctx context.Context, job *Job) {
	job.EnqueuedAt = time.Now()
	data, err := json.Marshal(job)
	if err != nil {
		q.log.Errorw("notify_marshal_failed", "kind", job.Kind, "err", err)
		return
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		q.log.Errorw("notify_enqueue_failed", "kind", job.Kind, "user_id", job.UserID, "err", err)
	}
}

// Pop blocks for up to timeout waiting for a job. A nil job means timeout.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop notification job: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification job: %w", err)
	}
	return &job, nil
}

// Requeue puts a failed job back with its attempt count bumped; jobs past
// maxAttempts are dropped with an error log.
func (q *Queue) Requeue(ctx context.Context, job *Job) {
	job.Attempts++
	if job.Attempts >= maxAttempts {
		q.log.Errorw("notify_job_dropped", "kind", job.Kind, "user_id", job.UserID, "attempts", job.Attempts)
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		q.log.Errorw("notify_marshal_failed", "kind", job.Kind, "err", err)
		return
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		q.log.Errorw("notify_requeue_failed", "kind", job.Kind, "err", err)
	}
}
