package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the derived lifecycle state of a notification. It is never stored;
// the timestamp triad (SentAt, DeliveredAt, ReadAt) is the sole source of truth
// and Status is computed on read with precedence read > delivered > sent > pending.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusRead:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// ReadState filters list queries by whether the notification has been read.
type ReadState string

const (
	ReadStateAny    ReadState = ""
	ReadStateRead   ReadState = "READ"
	ReadStateUnread ReadState = "UNREAD"
)

func ParseReadStateFromString(s string) (ReadState, error) {
	rs := ReadState(strings.ToUpper(strings.TrimSpace(s)))
	switch rs {
	case ReadStateAny, ReadStateRead, ReadStateUnread:
		return rs, nil
	}
	return "", fmt.Errorf("%w: invalid read state %q", ErrValidation, s)
}

// Payload is opaque structured metadata forwarded verbatim to transports.
type Payload map[string]string

// Content limits (in characters).
const (
	MaxTitleLength = 255
	MaxBodyLength  = 10000
)

// DefaultCategory is used when a caller supplies no category tag.
const DefaultCategory = "SYSTEM"

// Notification is one message instance addressed to a single recipient.
// RecipientID is immutable after creation. SentAt is set exactly once at
// creation; DeliveredAt and ReadAt only ever transition unset -> set, and
// ReadAt set implies DeliveredAt set.
type Notification struct {
	ID          string
	RecipientID string
	Category    string
	Title       string
	Body        string
	Payload     Payload
	SentAt      time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Status derives the lifecycle state from the timestamp triad.
func (n *Notification) Status() Status {
	switch {
	case n == nil:
		return StatusPending
	case n.ReadAt != nil:
		return StatusRead
	case n.DeliveredAt != nil:
		return StatusDelivered
	case !n.SentAt.IsZero():
		return StatusSent
	default:
		return StatusPending
	}
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.RecipientID) == "" {
		return fmt.Errorf("%w: recipient id is required", ErrValidation)
	}
	if n.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if n.Body == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if titleLen := len([]rune(n.Title)); titleLen > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters (got %d)", ErrValidation, MaxTitleLength, titleLen)
	}
	if bodyLen := len([]rune(n.Body)); bodyLen > MaxBodyLength {
		return fmt.Errorf("%w: body exceeds %d characters (got %d)", ErrValidation, MaxBodyLength, bodyLen)
	}
	return nil
}
