package queue

import (
	"fmt"
	"strings"
)

// EmailMessage is the broker payload for a deferred email delivery.
type EmailMessage struct {
	NotificationID string `json:"notificationId"`
	RecipientID    string `json:"recipientId"`
	Address        string `json:"address"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	CorrelationID  string `json:"correlationId,omitempty"`
}

func (m EmailMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if strings.TrimSpace(m.RecipientID) == "" {
		return fmt.Errorf("recipientId is required")
	}
	if strings.TrimSpace(m.Address) == "" {
		return fmt.Errorf("address is required")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("subject is required")
	}
	return nil
}
