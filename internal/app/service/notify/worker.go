package notify

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Worker drains the notification queue. The actual channel (email/SMS) sits
// behind Sender; the default logs the delivery, which is where a mail
// provider integration would hook in.
type Worker struct {
	queue  *Queue
	sender Sender
	log    *zap.SugaredLogger

	cancel context.CancelFunc
	done   chan struct{}
}

type Sender interface {
	Send(ctx context.Context, job *Job) error
}

type logSender struct {
	log *zap.SugaredLogger
}

func (s *logSender) Send(ctx context.Context, job *Job) error {
	s.log.Infow("notification_sent",
		"kind", job.Kind, "user_id", job.UserID,
		"subscription_id", job.SubscriptionID, "payment_id", job.PaymentID)
	return nil
}

func NewWorker(queue *Queue, log *zap.SugaredLogger) *Worker {
	return &Worker{queue: queue, sender: &logSender{log: log}, log: log, done: make(chan struct{})}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Pop(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warnw("notify_pop_failed", "err", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		if err := w.sender.Send(ctx, job); err != nil {
			w.log.Warnw("notify_send_failed", "kind", job.Kind, "user_id", job.UserID, "err", err)
			w.queue.Requeue(ctx, job)
		}
	}
}

func runWorker(lc fx.Lifecycle, w *Worker, log *zap.SugaredLogger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			workerCtx, cancel := context.WithCancel(context.Background())
			w.cancel = cancel
			log.Infow("starting notification worker")
			go w.run(workerCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping notification worker")
			w.cancel()
			select {
			case <-w.done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(NewQueue),
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)
