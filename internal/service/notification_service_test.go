package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aquademia/notify-engine/internal/dispatch"
	"github.com/aquademia/notify-engine/internal/domain"
	"github.com/aquademia/notify-engine/internal/queue"
	"github.com/aquademia/notify-engine/internal/repository"
)

func TestNotificationServiceCreateFiresBothChannels(t *testing.T) {
	t.Parallel()

	markedDelivered := false
	repo := &fakeNotificationRepo{
		createFn: func(ctx context.Context, n *domain.Notification) error {
			if n.ID == "" {
				t.Fatal("id should be generated")
			}
			if n.SentAt.IsZero() {
				t.Fatal("sentAt should be set at create")
			}
			if n.Category != domain.DefaultCategory {
				t.Fatalf("category = %s, want %s", n.Category, domain.DefaultCategory)
			}
			return nil
		},
		markDeliveredFn: func(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
			markedDelivered = true
			return true, nil
		},
	}

	deliverer := &fakeDeliverer{
		deliverFn: func(ctx context.Context, n *domain.Notification) dispatch.Outcome {
			return dispatch.Outcome{Attempted: 2, Delivered: 1}
		},
	}

	users := &fakeUserRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Recipient, error) {
			return &domain.Recipient{ID: id, DisplayName: "Student One", ContactAddress: "u1@school.example"}, nil
		},
	}

	var gotMsg queue.EmailMessage
	published := false
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.EmailMessage) error {
			published = true
			gotMsg = msg
			return nil
		},
	}

	svc := newTestService(t, repo, users, &fakeResolver{}, deliverer, publisher)

	result, err := svc.Create(context.Background(), &domain.Notification{
		RecipientID: "u1",
		Title:       "Assignment graded",
		Body:        "Your lab report has been graded.",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if !markedDelivered {
		t.Fatal("expected MarkDelivered after successful live push")
	}
	if result.DeliveredAt == nil {
		t.Fatal("deliveredAt should be set after live delivery")
	}
	if result.Status() != domain.StatusDelivered {
		t.Fatalf("status = %s, want DELIVERED", result.Status())
	}
	if !published {
		t.Fatal("deferred email should be enqueued even when the live push succeeded")
	}
	if gotMsg.Address != "u1@school.example" {
		t.Fatalf("email address = %q, want u1@school.example", gotMsg.Address)
	}
}

func TestNotificationServiceCreateOfflineEnqueuesEmail(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		markDeliveredFn: func(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
			t.Fatal("MarkDelivered must not run when nothing was pushed")
			return false, nil
		},
	}

	users := &fakeUserRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Recipient, error) {
			return &domain.Recipient{ID: id, DisplayName: "Student One", ContactAddress: "u1@school.example"}, nil
		},
	}

	var gotMsg queue.EmailMessage
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.EmailMessage) error {
			if queueName != queue.EmailQueueName {
				t.Fatalf("queue = %s, want %s", queueName, queue.EmailQueueName)
			}
			gotMsg = msg
			return nil
		},
	}

	svc := newTestService(t, repo, users, &fakeResolver{}, &fakeDeliverer{}, publisher)

	result, err := svc.Create(context.Background(), &domain.Notification{
		RecipientID: "u1",
		Title:       "Assignment graded",
		Body:        "Your lab report has been graded.",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if result.Status() != domain.StatusSent {
		t.Fatalf("status = %s, want SENT", result.Status())
	}
	if gotMsg.NotificationID != result.ID {
		t.Fatalf("email notificationId = %q, want %q", gotMsg.NotificationID, result.ID)
	}
	if gotMsg.Address != "u1@school.example" {
		t.Fatalf("email address = %q, want u1@school.example", gotMsg.Address)
	}
	if gotMsg.Subject != result.Title {
		t.Fatalf("email subject = %q, want %q", gotMsg.Subject, result.Title)
	}
}

func TestNotificationServiceCreateOfflineNoAddress(t *testing.T) {
	t.Parallel()

	users := &fakeUserRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Recipient, error) {
			return &domain.Recipient{ID: id, DisplayName: "Student One"}, nil
		},
	}

	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.EmailMessage) error {
			t.Fatal("publish must not run for a recipient without an address")
			return nil
		},
	}

	svc := newTestService(t, &fakeNotificationRepo{}, users, &fakeResolver{}, &fakeDeliverer{}, publisher)

	result, err := svc.Create(context.Background(), &domain.Notification{
		RecipientID: "u1",
		Title:       "Assignment graded",
		Body:        "Your lab report has been graded.",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if result.Status() != domain.StatusSent {
		t.Fatalf("status = %s, want SENT", result.Status())
	}
}

func TestNotificationServiceCreateSurvivesDegradedTransports(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		markDeliveredFn: func(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
			return false, errors.New("ledger unavailable")
		},
	}

	deliverer := &fakeDeliverer{
		deliverFn: func(ctx context.Context, n *domain.Notification) dispatch.Outcome {
			return dispatch.Outcome{Attempted: 1, Delivered: 1}
		},
	}

	users := &fakeUserRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Recipient, error) {
			t.Fatal("identity lookup must not run without an email channel")
			return nil, nil
		},
	}

	svc := newTestService(t, repo, users, &fakeResolver{}, deliverer, nil)

	if _, err := svc.Create(context.Background(), &domain.Notification{
		RecipientID: "u1",
		Title:       "Assignment graded",
		Body:        "Your lab report has been graded.",
	}); err != nil {
		t.Fatalf("Create() must not fail on a degraded transition write, got %v", err)
	}
}

func TestNotificationServiceCreateValidation(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		createFn: func(ctx context.Context, n *domain.Notification) error {
			t.Fatal("create must not run for an invalid notification")
			return nil
		},
	}

	svc := newTestService(t, repo, &fakeUserRepo{}, &fakeResolver{}, &fakeDeliverer{}, nil)

	_, err := svc.Create(context.Background(), &domain.Notification{
		RecipientID: "u1",
		Body:        "missing title",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Create() error = %v, want ErrValidation", err)
	}
}

func TestNotificationServiceSendBulkNoRecipients(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		createBatchFn: func(ctx context.Context, notifications []*domain.Notification) error {
			t.Fatal("no ledger write may happen for an empty audience")
			return nil
		},
	}

	resolver := &fakeResolver{
		resolveFn: func(ctx context.Context, spec domain.TargetingSpec) ([]domain.Recipient, error) {
			return nil, nil
		},
	}

	svc := newTestService(t, repo, &fakeUserRepo{}, resolver, &fakeDeliverer{}, nil)

	_, err := svc.SendBulk(context.Background(), BulkRequest{
		Targeting: domain.TargetingSpec{Roles: []string{"TEACHER"}},
		Title:     "Term schedule",
		Body:      "The new term schedule is out.",
	})
	if !errors.Is(err, domain.ErrNoRecipients) {
		t.Fatalf("SendBulk() error = %v, want ErrNoRecipients", err)
	}
}

func TestNotificationServiceSendBulkPartialOutcomes(t *testing.T) {
	t.Parallel()

	var batchSize int
	repo := &fakeNotificationRepo{
		createBatchFn: func(ctx context.Context, notifications []*domain.Notification) error {
			batchSize = len(notifications)
			return nil
		},
	}

	resolver := &fakeResolver{
		resolveFn: func(ctx context.Context, spec domain.TargetingSpec) ([]domain.Recipient, error) {
			return []domain.Recipient{
				{ID: "online", ContactAddress: "online@school.example"},
				{ID: "offline-with-email", ContactAddress: "offline@school.example"},
				{ID: "offline-no-email"},
			}, nil
		},
	}

	deliverer := &fakeDeliverer{
		deliverFn: func(ctx context.Context, n *domain.Notification) dispatch.Outcome {
			if n.RecipientID == "online" {
				return dispatch.Outcome{Attempted: 1, Delivered: 1}
			}
			return dispatch.Outcome{}
		},
	}

	var mu sync.Mutex
	emailed := make([]string, 0, 2)
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.EmailMessage) error {
			mu.Lock()
			emailed = append(emailed, msg.RecipientID)
			mu.Unlock()
			return nil
		},
	}

	svc := newTestService(t, repo, &fakeUserRepo{}, resolver, deliverer, publisher)

	summary, err := svc.SendBulk(context.Background(), BulkRequest{
		Targeting: domain.TargetingSpec{Roles: []string{"STUDENT"}},
		Title:     "Term schedule",
		Body:      "The new term schedule is out.",
	})
	if err != nil {
		t.Fatalf("SendBulk() error = %v", err)
	}

	if batchSize != 3 {
		t.Fatalf("batch size = %d, want 3", batchSize)
	}
	if summary.Total != 3 {
		t.Fatalf("summary.Total = %d, want 3", summary.Total)
	}
	if summary.LiveDelivered != 1 {
		t.Fatalf("summary.LiveDelivered = %d, want 1", summary.LiveDelivered)
	}
	if summary.EmailQueued != 1 {
		t.Fatalf("summary.EmailQueued = %d, want 1", summary.EmailQueued)
	}
	if len(emailed) != 1 || emailed[0] != "offline-with-email" {
		t.Fatalf("emailed recipients = %v, want [offline-with-email]", emailed)
	}
}

func TestNotificationServiceSendBulkExplicitIDs(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{
		resolveFn: func(ctx context.Context, spec domain.TargetingSpec) ([]domain.Recipient, error) {
			if len(spec.SpecificIDs) != 2 {
				t.Fatalf("specificIds = %v, want 2 entries", spec.SpecificIDs)
			}
			if len(spec.Roles) != 0 {
				t.Fatal("explicit ids must suppress other targeting dimensions")
			}
			return []domain.Recipient{{ID: "u1"}, {ID: "u2"}}, nil
		},
	}

	svc := newTestService(t, &fakeNotificationRepo{}, &fakeUserRepo{}, resolver, &fakeDeliverer{}, nil)

	summary, err := svc.SendBulk(context.Background(), BulkRequest{
		Targeting:    domain.TargetingSpec{Roles: []string{"TEACHER"}},
		RecipientIDs: []string{"u1", "u2"},
		Title:        "Term schedule",
		Body:         "The new term schedule is out.",
	})
	if err != nil {
		t.Fatalf("SendBulk() error = %v", err)
	}
	if summary.Total != 2 {
		t.Fatalf("summary.Total = %d, want 2", summary.Total)
	}
}

func TestNotificationServiceMarkReadIdempotent(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		markReadFn: func(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
			return false, nil
		},
		getForRecipientFn: func(ctx context.Context, id, recipientID string) (*domain.Notification, error) {
			readAt := time.Now().UTC()
			return &domain.Notification{ID: id, RecipientID: recipientID, ReadAt: &readAt}, nil
		},
	}

	svc := newTestService(t, repo, &fakeUserRepo{}, &fakeResolver{}, &fakeDeliverer{}, nil)

	if err := svc.MarkRead(context.Background(), "n1", "u1"); err != nil {
		t.Fatalf("MarkRead() on already-read row should be a no-op, got %v", err)
	}
}

func TestNotificationServiceMarkReadNotOwned(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		markReadFn: func(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
			return false, nil
		},
	}

	svc := newTestService(t, repo, &fakeUserRepo{}, &fakeResolver{}, &fakeDeliverer{}, nil)

	err := svc.MarkRead(context.Background(), "n1", "intruder")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("MarkRead() error = %v, want ErrNotFound", err)
	}
}

func TestNotificationServiceMarkDeliveredNotOwned(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		markDeliveredFn: func(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
			return false, nil
		},
	}

	svc := newTestService(t, repo, &fakeUserRepo{}, &fakeResolver{}, &fakeDeliverer{}, nil)

	err := svc.MarkDelivered(context.Background(), "n1", "intruder")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("MarkDelivered() error = %v, want ErrNotFound", err)
	}
}

func TestNotificationServiceOnUserConnected(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		markDeliveredForRecipientFn: func(ctx context.Context, recipientID string, at time.Time) (int64, error) {
			if recipientID != "u1" {
				t.Fatalf("recipientId = %s, want u1", recipientID)
			}
			return 5, nil
		},
	}

	svc := newTestService(t, repo, &fakeUserRepo{}, &fakeResolver{}, &fakeDeliverer{}, nil)

	count, err := svc.OnUserConnected(context.Background(), "u1")
	if err != nil {
		t.Fatalf("OnUserConnected() error = %v", err)
	}
	if count != 5 {
		t.Fatalf("count = %d, want 5", count)
	}
}

func TestNotificationServiceMarkAllReadValidation(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &fakeNotificationRepo{}, &fakeUserRepo{}, &fakeResolver{}, &fakeDeliverer{}, nil)

	if _, err := svc.MarkAllRead(context.Background(), "  "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("MarkAllRead() error = %v, want ErrValidation", err)
	}
}

func TestNotificationServicePreviewTargeting(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{
		countFn: func(ctx context.Context, spec domain.TargetingSpec) (int64, error) {
			return 42, nil
		},
	}

	svc := newTestService(t, &fakeNotificationRepo{}, &fakeUserRepo{}, resolver, &fakeDeliverer{}, nil)

	count, err := svc.PreviewTargeting(context.Background(), domain.TargetingSpec{Grades: []string{"9"}})
	if err != nil {
		t.Fatalf("PreviewTargeting() error = %v", err)
	}
	if count != 42 {
		t.Fatalf("count = %d, want 42", count)
	}
}

func newTestService(
	t *testing.T,
	repo repository.NotificationRepository,
	users repository.UserRepository,
	resolver AudienceResolver,
	deliverer Deliverer,
	publisher queue.Publisher,
) *NotificationService {
	t.Helper()

	svc, err := NewNotificationService(repo, users, resolver, deliverer, publisher, 4, nil)
	if err != nil {
		t.Fatalf("NewNotificationService() error = %v", err)
	}
	return svc
}

type fakeNotificationRepo struct {
	createFn                    func(ctx context.Context, n *domain.Notification) error
	createBatchFn               func(ctx context.Context, notifications []*domain.Notification) error
	getByIDFn                   func(ctx context.Context, id string) (*domain.Notification, error)
	getForRecipientFn           func(ctx context.Context, id, recipientID string) (*domain.Notification, error)
	listForRecipientFn          func(ctx context.Context, recipientID string, params repository.ListParams) ([]domain.Notification, int64, error)
	listFn                      func(ctx context.Context, params repository.AdminListParams) ([]domain.Notification, int64, error)
	markDeliveredFn             func(ctx context.Context, id, recipientID string, at time.Time) (bool, error)
	markReadFn                  func(ctx context.Context, id, recipientID string, at time.Time) (bool, error)
	markAllReadFn               func(ctx context.Context, recipientID string, at time.Time) (int64, error)
	markDeliveredForRecipientFn func(ctx context.Context, recipientID string, at time.Time) (int64, error)
	countUnreadFn               func(ctx context.Context, recipientID string) (int64, error)
	deleteFn                    func(ctx context.Context, id, recipientID string) error
	statusSummaryFn             func(ctx context.Context, params repository.AdminListParams) ([]repository.StatusCount, error)
}

func (f *fakeNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	if f.createFn != nil {
		return f.createFn(ctx, n)
	}
	return nil
}

func (f *fakeNotificationRepo) CreateBatch(ctx context.Context, notifications []*domain.Notification) error {
	if f.createBatchFn != nil {
		return f.createBatchFn(ctx, notifications)
	}
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) GetForRecipient(ctx context.Context, id, recipientID string) (*domain.Notification, error) {
	if f.getForRecipientFn != nil {
		return f.getForRecipientFn(ctx, id, recipientID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) ListForRecipient(
	ctx context.Context,
	recipientID string,
	params repository.ListParams,
) ([]domain.Notification, int64, error) {
	if f.listForRecipientFn != nil {
		return f.listForRecipientFn(ctx, recipientID, params)
	}
	return nil, 0, nil
}

func (f *fakeNotificationRepo) List(ctx context.Context, params repository.AdminListParams) ([]domain.Notification, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeNotificationRepo) MarkDelivered(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
	if f.markDeliveredFn != nil {
		return f.markDeliveredFn(ctx, id, recipientID, at)
	}
	return true, nil
}

func (f *fakeNotificationRepo) MarkRead(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, id, recipientID, at)
	}
	return true, nil
}

func (f *fakeNotificationRepo) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	if f.markAllReadFn != nil {
		return f.markAllReadFn(ctx, recipientID, at)
	}
	return 0, nil
}

func (f *fakeNotificationRepo) MarkDeliveredForRecipient(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	if f.markDeliveredForRecipientFn != nil {
		return f.markDeliveredForRecipientFn(ctx, recipientID, at)
	}
	return 0, nil
}

func (f *fakeNotificationRepo) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	if f.countUnreadFn != nil {
		return f.countUnreadFn(ctx, recipientID)
	}
	return 0, nil
}

func (f *fakeNotificationRepo) Delete(ctx context.Context, id, recipientID string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id, recipientID)
	}
	return nil
}

func (f *fakeNotificationRepo) StatusSummary(ctx context.Context, params repository.AdminListParams) ([]repository.StatusCount, error) {
	if f.statusSummaryFn != nil {
		return f.statusSummaryFn(ctx, params)
	}
	return nil, nil
}

type fakeUserRepo struct {
	getByIDFn   func(ctx context.Context, id string) (*domain.Recipient, error)
	findUsersFn func(ctx context.Context, filter repository.UserFilter) ([]domain.Recipient, error)
	countFn     func(ctx context.Context, filter repository.UserFilter) (int64, error)
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*domain.Recipient, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeUserRepo) FindUsers(ctx context.Context, filter repository.UserFilter) ([]domain.Recipient, error) {
	if f.findUsersFn != nil {
		return f.findUsersFn(ctx, filter)
	}
	return nil, nil
}

func (f *fakeUserRepo) CountUsers(ctx context.Context, filter repository.UserFilter) (int64, error) {
	if f.countFn != nil {
		return f.countFn(ctx, filter)
	}
	return 0, nil
}

type fakeResolver struct {
	resolveFn func(ctx context.Context, spec domain.TargetingSpec) ([]domain.Recipient, error)
	countFn   func(ctx context.Context, spec domain.TargetingSpec) (int64, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, spec domain.TargetingSpec) ([]domain.Recipient, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, spec)
	}
	return []domain.Recipient{{ID: "u1"}}, nil
}

func (f *fakeResolver) Count(ctx context.Context, spec domain.TargetingSpec) (int64, error) {
	if f.countFn != nil {
		return f.countFn(ctx, spec)
	}
	return 0, nil
}

type fakeDeliverer struct {
	deliverFn func(ctx context.Context, n *domain.Notification) dispatch.Outcome
}

func (f *fakeDeliverer) Deliver(ctx context.Context, n *domain.Notification) dispatch.Outcome {
	if f.deliverFn != nil {
		return f.deliverFn(ctx, n)
	}
	return dispatch.Outcome{}
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.EmailMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.EmailMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}
