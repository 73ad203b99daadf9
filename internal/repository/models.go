package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aquademia/notify-engine/internal/domain"
)

// JSONPayload stores the opaque notification payload as jsonb.
type JSONPayload map[string]string

func (p JSONPayload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return json.Marshal(p)
}

func (p *JSONPayload) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported payload column type %T", value)
	}

	return json.Unmarshal(raw, p)
}

// NotificationModel is the persistence model for the notifications table.
// Lifecycle state is never stored; it is derived from the timestamp triad.
type NotificationModel struct {
	ID          string      `gorm:"type:uuid;primaryKey"`
	RecipientID string      `gorm:"type:varchar(64);not null"`
	Category    string      `gorm:"type:varchar(64);not null"`
	Title       string      `gorm:"type:varchar(255);not null"`
	Body        string      `gorm:"type:text;not null"`
	Payload     JSONPayload `gorm:"type:jsonb"`
	SentAt      time.Time   `gorm:"type:timestamptz;not null"`
	DeliveredAt *time.Time  `gorm:"type:timestamptz"`
	ReadAt      *time.Time  `gorm:"type:timestamptz"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// UserModel is the persistence model for the identity/targeting source.
type UserModel struct {
	ID          string  `gorm:"type:varchar(64);primaryKey"`
	DisplayName string  `gorm:"type:varchar(255);not null"`
	Role        string  `gorm:"type:varchar(20);not null"`
	Email       string  `gorm:"type:varchar(255)"`
	StudentType *string `gorm:"type:varchar(32)"`
	Grade       *string `gorm:"type:varchar(32)"`
	Batch       *string `gorm:"type:varchar(32)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (UserModel) TableName() string {
	return "users"
}

// SubjectLinkModel links a user to a subject, either as an enrolled student or
// an assigned teacher. The subject targeting dimension matches both roles.
type SubjectLinkModel struct {
	UserID    string `gorm:"type:varchar(64);primaryKey"`
	SubjectID string `gorm:"type:varchar(64);primaryKey"`
	Role      string `gorm:"type:varchar(20);not null"`
	CreatedAt time.Time
}

func (SubjectLinkModel) TableName() string {
	return "subject_links"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Category:    n.Category,
		Title:       n.Title,
		Body:        n.Body,
		Payload:     JSONPayload(n.Payload),
		SentAt:      n.SentAt,
		DeliveredAt: n.DeliveredAt,
		ReadAt:      n.ReadAt,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:          m.ID,
		RecipientID: m.RecipientID,
		Category:    m.Category,
		Title:       m.Title,
		Body:        m.Body,
		Payload:     domain.Payload(m.Payload),
		SentAt:      m.SentAt,
		DeliveredAt: m.DeliveredAt,
		ReadAt:      m.ReadAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func userModelToRecipient(m *UserModel) domain.Recipient {
	if m == nil {
		return domain.Recipient{}
	}

	return domain.Recipient{
		ID:             m.ID,
		DisplayName:    m.DisplayName,
		ContactAddress: m.Email,
	}
}
