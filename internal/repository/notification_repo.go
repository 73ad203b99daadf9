package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aquademia/notify-engine/internal/domain"
	"gorm.io/gorm"
)

// ListParams filters a recipient's own notification feed.
type ListParams struct {
	ReadState domain.ReadState
	Category  string
	Page      int
	PageSize  int
}

// AdminListParams filters the administrative notification listing.
type AdminListParams struct {
	Status      *domain.Status
	Category    string
	RecipientID string
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}

// StatusCount is one row of the admin status summary.
type StatusCount struct {
	Status domain.Status `gorm:"column:status"`
	Count  int           `gorm:"column:count"`
}

// NotificationRepository is the delivery ledger port. Every lifecycle mutation
// is a conditional update at the store, never a read-then-write, so concurrent
// transitions cannot regress the timestamp chain.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	CreateBatch(ctx context.Context, notifications []*domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	GetForRecipient(ctx context.Context, id, recipientID string) (*domain.Notification, error)
	ListForRecipient(ctx context.Context, recipientID string, params ListParams) ([]domain.Notification, int64, error)
	List(ctx context.Context, params AdminListParams) ([]domain.Notification, int64, error)
	MarkDelivered(ctx context.Context, id, recipientID string, at time.Time) (bool, error)
	MarkRead(ctx context.Context, id, recipientID string, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error)
	MarkDeliveredForRecipient(ctx context.Context, recipientID string, at time.Time) (int64, error)
	CountUnread(ctx context.Context, recipientID string) (int64, error)
	Delete(ctx context.Context, id, recipientID string) error
	StatusSummary(ctx context.Context, params AdminListParams) ([]StatusCount, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) CreateBatch(ctx context.Context, notifications []*domain.Notification) error {
	models := make([]NotificationModel, 0, len(notifications))
	modelIndexes := make([]int, 0, len(notifications))
	for i, n := range notifications {
		model := notificationModelFromDomain(n)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(notifications) && notifications[idx] != nil {
			*notifications[idx] = *notificationModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) GetForRecipient(ctx context.Context, id, recipientID string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) ListForRecipient(
	ctx context.Context,
	recipientID string,
	params ListParams,
) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("recipient_id = ?", recipientID)

	switch params.ReadState {
	case domain.ReadStateRead:
		query = query.Where("read_at IS NOT NULL")
	case domain.ReadStateUnread:
		query = query.Where("read_at IS NULL")
	}
	if params.Category != "" {
		query = query.Where("category = ?", params.Category)
	}

	return r.paginate(query, params.Page, params.PageSize)
}

func (r *GormNotificationRepo) List(ctx context.Context, params AdminListParams) ([]domain.Notification, int64, error) {
	query := r.adminFiltered(ctx, params)
	return r.paginate(query, params.Page, params.PageSize)
}

func (r *GormNotificationRepo) adminFiltered(ctx context.Context, params AdminListParams) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})

	if params.Status != nil {
		query = applyDerivedStatusFilter(query, *params.Status)
	}
	if params.Category != "" {
		query = query.Where("category = ?", params.Category)
	}
	if params.RecipientID != "" {
		query = query.Where("recipient_id = ?", params.RecipientID)
	}
	if params.From != nil {
		query = query.Where("sent_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("sent_at <= ?", *params.To)
	}

	return query
}

// applyDerivedStatusFilter expresses the derived lifecycle state as a
// timestamp predicate. SentAt is populated atomically with row creation, so a
// persisted row is never PENDING.
func applyDerivedStatusFilter(query *gorm.DB, status domain.Status) *gorm.DB {
	switch status {
	case domain.StatusRead:
		return query.Where("read_at IS NOT NULL")
	case domain.StatusDelivered:
		return query.Where("delivered_at IS NOT NULL AND read_at IS NULL")
	case domain.StatusSent:
		return query.Where("delivered_at IS NULL AND read_at IS NULL")
	default:
		return query.Where("1 = 0")
	}
}

func (r *GormNotificationRepo) paginate(query *gorm.DB, page, pageSize int) ([]domain.Notification, int64, error) {
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page = max(page, 1)
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationModel
	err := query.
		Order("sent_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, total, nil
}

// MarkDelivered sets delivered_at once. The predicate makes the transition
// idempotent under concurrent delivery confirmations: the first writer wins
// and every later call reports updated=false.
func (r *GormNotificationRepo) MarkDelivered(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND recipient_id = ? AND delivered_at IS NULL", id, recipientID).
		Update("delivered_at", at)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkRead sets read_at once and backfills delivered_at to the same instant
// when delivery was never confirmed (read implies delivered).
func (r *GormNotificationRepo) MarkRead(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND recipient_id = ? AND read_at IS NULL", id, recipientID).
		Updates(map[string]any{
			"read_at":      at,
			"delivered_at": gorm.Expr("COALESCE(delivered_at, ?)", at),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("recipient_id = ? AND read_at IS NULL", recipientID).
		Updates(map[string]any{
			"read_at":      at,
			"delivered_at": gorm.Expr("COALESCE(delivered_at, ?)", at),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// MarkDeliveredForRecipient discharges the delivery backlog when a user comes
// online: every sent-but-undelivered row is marked delivered in one statement.
func (r *GormNotificationRepo) MarkDeliveredForRecipient(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("recipient_id = ? AND delivered_at IS NULL", recipientID).
		Update("delivered_at", at)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormNotificationRepo) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("recipient_id = ? AND read_at IS NULL", recipientID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormNotificationRepo) Delete(ctx context.Context, id, recipientID string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Delete(&NotificationModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormNotificationRepo) StatusSummary(ctx context.Context, params AdminListParams) ([]StatusCount, error) {
	params.Status = nil

	var summaries []StatusCount
	err := r.adminFiltered(ctx, params).
		Select(`CASE
			WHEN read_at IS NOT NULL THEN 'READ'
			WHEN delivered_at IS NOT NULL THEN 'DELIVERED'
			ELSE 'SENT'
		END AS status, COUNT(*) AS count`).
		Group("1").
		Scan(&summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}
