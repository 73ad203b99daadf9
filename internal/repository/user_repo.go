package repository

import (
	"context"
	"errors"

	"github.com/aquademia/notify-engine/internal/domain"
	"gorm.io/gorm"
)

// UserFilter narrows the identity store. Every non-empty field is ANDed with
// the rest; values inside one field are ORed. An all-empty filter matches
// everyone.
type UserFilter struct {
	IDs          []string
	Roles        []string
	StudentTypes []string
	Grades       []string
	Batches      []string
	Subjects     []string
	Teachers     []string
}

// UserRepository is the identity/targeting source port.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Recipient, error)
	FindUsers(ctx context.Context, filter UserFilter) ([]domain.Recipient, error)
	CountUsers(ctx context.Context, filter UserFilter) (int64, error)
}

type GormUserRepo struct {
	db *gorm.DB
}

func NewGormUserRepo(db *gorm.DB) *GormUserRepo {
	return &GormUserRepo{db: db}
}

func (r *GormUserRepo) GetByID(ctx context.Context, id string) (*domain.Recipient, error) {
	var model UserModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	recipient := userModelToRecipient(&model)
	return &recipient, nil
}

func (r *GormUserRepo) FindUsers(ctx context.Context, filter UserFilter) ([]domain.Recipient, error) {
	var models []UserModel
	err := r.filtered(ctx, filter).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	recipients := make([]domain.Recipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, userModelToRecipient(&models[i]))
	}
	return recipients, nil
}

func (r *GormUserRepo) CountUsers(ctx context.Context, filter UserFilter) (int64, error) {
	var count int64
	if err := r.filtered(ctx, filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormUserRepo) filtered(ctx context.Context, filter UserFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&UserModel{})

	if len(filter.IDs) > 0 {
		query = query.Where("id IN ?", filter.IDs)
	}
	if len(filter.Roles) > 0 {
		query = query.Where("role IN ?", filter.Roles)
	}
	if len(filter.StudentTypes) > 0 {
		query = query.Where("student_type IN ?", filter.StudentTypes)
	}
	if len(filter.Grades) > 0 {
		query = query.Where("grade IN ?", filter.Grades)
	}
	if len(filter.Batches) > 0 {
		query = query.Where("batch IN ?", filter.Batches)
	}
	// A subject matches both enrolled students and assigned teachers.
	if len(filter.Subjects) > 0 {
		query = query.Where(
			"EXISTS (SELECT 1 FROM subject_links sl WHERE sl.user_id = users.id AND sl.subject_id IN ?)",
			filter.Subjects,
		)
	}
	// The teacher dimension matches everyone sharing a subject with one of the
	// named teachers, the teachers themselves included.
	if len(filter.Teachers) > 0 {
		query = query.Where(
			`EXISTS (
				SELECT 1 FROM subject_links sl
				JOIN subject_links tl ON tl.subject_id = sl.subject_id AND tl.role = 'TEACHER'
				WHERE sl.user_id = users.id AND tl.user_id IN ?
			)`,
			filter.Teachers,
		)
	}

	return query
}
