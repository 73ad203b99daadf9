package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aquademia/notify-engine/internal/dispatch"
	"github.com/aquademia/notify-engine/internal/domain"
	"github.com/aquademia/notify-engine/internal/observability"
	"github.com/aquademia/notify-engine/internal/queue"
	"github.com/aquademia/notify-engine/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minBulkConcurrency = 1
	maxBulkRecipients  = 5000
)

// Deliverer attempts live delivery over a recipient's open connections.
type Deliverer interface {
	Deliver(ctx context.Context, notification *domain.Notification) dispatch.Outcome
}

// AudienceResolver turns targeting specs into concrete recipients.
type AudienceResolver interface {
	Resolve(ctx context.Context, spec domain.TargetingSpec) ([]domain.Recipient, error)
	Count(ctx context.Context, spec domain.TargetingSpec) (int64, error)
}

// NotificationService is the orchestrator. It owns every ledger transition;
// the dispatcher and the email channel only report outcomes back to it.
type NotificationService struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	resolver      AudienceResolver
	deliverer     Deliverer
	publisher     queue.Publisher
	logger        *zap.Logger
	metrics       *observability.Metrics
	bulkWorkers   int
	now           func() time.Time
}

// BulkRequest describes one message sent to a resolved audience. RecipientIDs,
// when present, bypasses the targeting spec entirely.
type BulkRequest struct {
	Targeting    domain.TargetingSpec
	RecipientIDs []string
	Category     string
	Title        string
	Body         string
	Payload      domain.Payload
}

// BulkSummary reports per-channel outcomes of a bulk send. Partial live
// delivery is the expected common case, not an error.
type BulkSummary struct {
	Total         int
	LiveDelivered int
	EmailQueued   int
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	users repository.UserRepository,
	resolver AudienceResolver,
	deliverer Deliverer,
	publisher queue.Publisher,
	bulkWorkers int,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("audience resolver is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if bulkWorkers < minBulkConcurrency {
		bulkWorkers = minBulkConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		users:         users,
		resolver:      resolver,
		deliverer:     deliverer,
		publisher:     publisher,
		logger:        logger,
		bulkWorkers:   bulkWorkers,
		now:           time.Now,
	}, nil
}

func (s *NotificationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Create persists one notification and fires both channels: a live push over
// any open connections, and a deferred email whenever the email channel is
// configured and the recipient has a contact address, regardless of the live
// outcome. The row is committed before any transport runs, so a degraded push
// or email channel can never unwind the create.
func (s *NotificationService) Create(ctx context.Context, notification *domain.Notification) (*domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.prepareForCreate(notification); err != nil {
		return nil, err
	}

	if err := s.notifications.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	s.metrics.IncNotificationCreated("direct")

	s.deliverLive(ctx, notification)
	s.enqueueEmailForRecipient(ctx, notification)

	return notification, nil
}

// SendBulk resolves the audience, persists one row per recipient in a single
// batch, then dispatches per recipient with bounded concurrency. A failure for
// one recipient never blocks the rest.
func (s *NotificationService) SendBulk(ctx context.Context, req BulkRequest) (*BulkSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	spec := req.Targeting
	if len(req.RecipientIDs) > 0 {
		spec = domain.TargetingSpec{SpecificIDs: req.RecipientIDs}
	}

	recipients, err := s.resolver.Resolve(ctx, spec)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: targeting resolved to an empty audience", domain.ErrNoRecipients)
	}
	if len(recipients) > maxBulkRecipients {
		return nil, fmt.Errorf("%w: audience size %d exceeds %d", domain.ErrValidation, len(recipients), maxBulkRecipients)
	}

	notifications := make([]*domain.Notification, len(recipients))
	for i, recipient := range recipients {
		notifications[i] = &domain.Notification{
			RecipientID: recipient.ID,
			Category:    req.Category,
			Title:       req.Title,
			Body:        req.Body,
			Payload:     req.Payload,
		}
		if err := s.prepareForCreate(notifications[i]); err != nil {
			return nil, err
		}
	}

	if err := s.notifications.CreateBatch(ctx, notifications); err != nil {
		return nil, fmt.Errorf("failed to persist bulk notifications: %w", err)
	}

	var liveDelivered, emailQueued atomic.Int64
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.bulkWorkers)
	for i := range notifications {
		notification := notifications[i]
		address := recipients[i].ContactAddress

		s.metrics.IncNotificationCreated("bulk")

		g.Go(func() error {
			live, emailed := s.routeDelivery(groupCtx, notification, address)
			if live {
				liveDelivered.Add(1)
			}
			if emailed {
				emailQueued.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := &BulkSummary{
		Total:         len(notifications),
		LiveDelivered: int(liveDelivered.Load()),
		EmailQueued:   int(emailQueued.Load()),
	}

	s.logger.Info("bulk send completed",
		zap.Int("total", summary.Total),
		zap.Int("liveDelivered", summary.LiveDelivered),
		zap.Int("emailQueued", summary.EmailQueued),
	)

	return summary, nil
}

// MarkRead records the caller's read acknowledgement. Already-read rows are a
// no-op; rows the caller does not own surface as not found.
func (s *NotificationService) MarkRead(ctx context.Context, id, callerID string) error {
	id, callerID, err := requireIDPair(id, callerID)
	if err != nil {
		return err
	}

	updated, err := s.notifications.MarkRead(ctx, id, callerID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if updated {
		return nil
	}

	// Zero rows means either already read (idempotent no-op) or not owned.
	if _, err := s.notifications.GetForRecipient(ctx, id, callerID); err != nil {
		return err
	}
	return nil
}

// MarkDelivered records a delivery acknowledgement from a client connection.
func (s *NotificationService) MarkDelivered(ctx context.Context, id, callerID string) error {
	id, callerID, err := requireIDPair(id, callerID)
	if err != nil {
		return err
	}

	updated, err := s.notifications.MarkDelivered(ctx, id, callerID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark notification delivered: %w", err)
	}
	if updated {
		return nil
	}

	if _, err := s.notifications.GetForRecipient(ctx, id, callerID); err != nil {
		return err
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, callerID string) (int64, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return 0, fmt.Errorf("%w: caller id is required", domain.ErrValidation)
	}

	count, err := s.notifications.MarkAllRead(ctx, callerID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark all read: %w", err)
	}
	return count, nil
}

// OnUserConnected reconciles the delivery backlog the moment a user comes
// online: every sent-but-undelivered row flips to delivered in one statement.
func (s *NotificationService) OnUserConnected(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	count, err := s.notifications.MarkDeliveredForRecipient(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile deliveries on connect: %w", err)
	}

	if count > 0 {
		s.metrics.AddReconciled(count)
		s.logger.Info("reconciled undelivered notifications on connect",
			zap.String("userId", userID),
			zap.Int64("count", count),
		)
	}

	return count, nil
}

func (s *NotificationService) Get(ctx context.Context, id, callerID string) (*domain.Notification, error) {
	id, callerID, err := requireIDPair(id, callerID)
	if err != nil {
		return nil, err
	}
	return s.notifications.GetForRecipient(ctx, id, callerID)
}

func (s *NotificationService) ListForRecipient(
	ctx context.Context,
	recipientID string,
	params repository.ListParams,
) ([]domain.Notification, int64, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, 0, fmt.Errorf("%w: recipient id is required", domain.ErrValidation)
	}
	return s.notifications.ListForRecipient(ctx, recipientID, params)
}

func (s *NotificationService) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return 0, fmt.Errorf("%w: recipient id is required", domain.ErrValidation)
	}
	return s.notifications.CountUnread(ctx, recipientID)
}

func (s *NotificationService) Delete(ctx context.Context, id, callerID string) error {
	id, callerID, err := requireIDPair(id, callerID)
	if err != nil {
		return err
	}
	return s.notifications.Delete(ctx, id, callerID)
}

func (s *NotificationService) List(
	ctx context.Context,
	params repository.AdminListParams,
) ([]domain.Notification, int64, error) {
	return s.notifications.List(ctx, params)
}

func (s *NotificationService) StatusSummary(
	ctx context.Context,
	params repository.AdminListParams,
) ([]repository.StatusCount, error) {
	return s.notifications.StatusSummary(ctx, params)
}

// PreviewTargeting reports the audience size of a spec without sending.
func (s *NotificationService) PreviewTargeting(ctx context.Context, spec domain.TargetingSpec) (int64, error) {
	return s.resolver.Count(ctx, spec)
}

// routeDelivery is the per-recipient bulk path: live channel first, deferred
// email only for recipients no live connection reached. Both sides are
// fire-and-forget relative to the committed ledger rows.
func (s *NotificationService) routeDelivery(
	ctx context.Context,
	notification *domain.Notification,
	address string,
) (live bool, emailed bool) {
	if s.deliverLive(ctx, notification) {
		return true, false
	}
	return false, s.enqueueEmail(ctx, notification, address)
}

// deliverLive attempts the live channel and records the delivery on success.
// A failed transition write is logged, never surfaced; the push already
// happened.
func (s *NotificationService) deliverLive(ctx context.Context, notification *domain.Notification) bool {
	outcome := s.deliverer.Deliver(ctx, notification)
	if !outcome.Live() {
		return false
	}

	deliveredAt := s.now().UTC()
	updated, err := s.notifications.MarkDelivered(ctx, notification.ID, notification.RecipientID, deliveredAt)
	if err != nil {
		s.logger.Error("failed to record live delivery",
			zap.String("notificationId", notification.ID),
			zap.Error(err),
		)
		return true
	}
	if updated {
		notification.DeliveredAt = &deliveredAt
	}
	return true
}

func (s *NotificationService) enqueueEmail(ctx context.Context, notification *domain.Notification, address string) bool {
	if s.publisher == nil || strings.TrimSpace(address) == "" {
		return false
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	msg := queue.EmailMessage{
		NotificationID: notification.ID,
		RecipientID:    notification.RecipientID,
		Address:        address,
		Subject:        notification.Title,
		Body:           notification.Body,
		CorrelationID:  correlationID,
	}

	if err := s.publisher.Publish(ctx, queue.EmailQueueName, msg); err != nil {
		s.logger.Error("failed to enqueue deferred email",
			zap.String("notificationId", notification.ID),
			zap.String("recipientId", notification.RecipientID),
			zap.Error(err),
		)
		return false
	}

	s.metrics.IncEmailEnqueued()
	return true
}

// enqueueEmailForRecipient resolves the contact address and enqueues. The
// identity read runs only when the email channel is configured.
func (s *NotificationService) enqueueEmailForRecipient(ctx context.Context, notification *domain.Notification) bool {
	if s.publisher == nil {
		return false
	}

	recipient, err := s.users.GetByID(ctx, notification.RecipientID)
	if err != nil {
		s.logger.Warn("failed to look up recipient contact address",
			zap.String("recipientId", notification.RecipientID),
			zap.Error(err),
		)
		return false
	}
	return s.enqueueEmail(ctx, notification, recipient.ContactAddress)
}

func (s *NotificationService) prepareForCreate(n *domain.Notification) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	n.RecipientID = strings.TrimSpace(n.RecipientID)
	n.Title = strings.TrimSpace(n.Title)
	n.Body = strings.TrimSpace(n.Body)

	n.Category = strings.ToUpper(strings.TrimSpace(n.Category))
	if n.Category == "" {
		n.Category = domain.DefaultCategory
	}

	n.ID = strings.TrimSpace(n.ID)
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	n.SentAt = s.now().UTC()
	n.DeliveredAt = nil
	n.ReadAt = nil

	return n.Validate()
}

func requireIDPair(id, callerID string) (string, string, error) {
	id = strings.TrimSpace(id)
	callerID = strings.TrimSpace(callerID)
	if id == "" {
		return "", "", fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	if callerID == "" {
		return "", "", fmt.Errorf("%w: caller id is required", domain.ErrValidation)
	}
	return id, callerID, nil
}
