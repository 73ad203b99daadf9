package service

import (
	"context"
	"fmt"

	"github.com/aquademia/notify-engine/internal/mail"
	"github.com/aquademia/notify-engine/internal/observability"
	"github.com/aquademia/notify-engine/internal/queue"
	"github.com/aquademia/notify-engine/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minEmailConcurrency = 1
	emailRateBucket     = "email"
)

// EmailWorker drains the deferred email queue. Send failures never touch the
// ledger: transient errors requeue the message, permanent ones dead-letter it.
type EmailWorker struct {
	consumer    queue.Consumer
	sender      mail.Sender
	rateLimiter ratelimit.Limiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewEmailWorker(
	consumer queue.Consumer,
	sender mail.Sender,
	rateLimiter ratelimit.Limiter,
	concurrency int,
	logger *zap.Logger,
) (*EmailWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("mail sender is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if concurrency < minEmailConcurrency {
		concurrency = minEmailConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EmailWorker{
		consumer:    consumer,
		sender:      sender,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (w *EmailWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes the email queue until context cancellation.
func (w *EmailWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("email worker started", zap.Int("workerId", workerID))

			err := w.consumer.Consume(groupCtx, queue.EmailQueueName, w.processMessage)
			if err != nil {
				w.logger.Error("email worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("email worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *EmailWorker) processMessage(ctx context.Context, msg queue.EmailMessage) error {
	if err := w.rateLimiter.Wait(ctx, emailRateBucket); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	_, sendErr := w.sender.Send(ctx, mail.Email{
		To:      msg.Address,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if sendErr == nil {
		w.metrics.IncEmailSent()
		w.logger.Debug("deferred email sent",
			zap.String("notificationId", msg.NotificationID),
			zap.String("recipientId", msg.RecipientID),
		)
		return nil
	}

	if mail.IsTransient(sendErr) {
		w.metrics.IncEmailFailed("transient")
		w.logger.Warn("transient email failure, requeueing",
			zap.String("notificationId", msg.NotificationID),
			zap.Error(sendErr),
		)
		return sendErr
	}

	w.metrics.IncEmailFailed("permanent")
	w.logger.Error("permanent email failure, dead-lettering",
		zap.String("notificationId", msg.NotificationID),
		zap.String("recipientId", msg.RecipientID),
		zap.Error(sendErr),
	)
	return fmt.Errorf("%w: %v", queue.ErrUnprocessable, sendErr)
}
