package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageStatus is the delivery state of a queued notification.
type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

func (s MessageStatus) Valid() bool {
	switch s {
	case MessageStatusPending, MessageStatusSent, MessageStatusFailed:
		return true
	}
	return false
}

// ParseMessageStatus converts s into a MessageStatus.
func ParseMessageStatus(s string) (MessageStatus, error) {
	st := MessageStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown message status %q", s)
	}
	return st, nil
}

// NotificationMessage is one durably queued outbound email. Rows are never
// deleted; only the notification queue changes them after creation.
type NotificationMessage struct {
	ID             string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	To             string         `gorm:"column:to_address;not null;index" json:"to"`
	From           string         `gorm:"column:from_address;not null" json:"from"`
	Subject        string         `gorm:"type:varchar(500);not null" json:"subject"`
	HTML           string         `gorm:"column:html_body;type:text" json:"html,omitempty"`
	Text           string         `gorm:"column:text_body;type:text" json:"text,omitempty"`
	TemplateName   *string        `gorm:"type:varchar(100)" json:"template_name,omitempty"`
	TemplateParams map[string]any `gorm:"serializer:json;type:text" json:"template_params,omitempty"`
	Status         MessageStatus  `gorm:"type:varchar(20);not null;default:'pending';index:idx_notification_status_created,priority:1" json:"status"`
	Attempts       int            `gorm:"not null;default:0" json:"attempts"`
	LastAttemptAt  *time.Time     `json:"last_attempt_at,omitempty"`
	LastError      *string        `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt      time.Time      `gorm:"index:idx_notification_status_created,priority:2" json:"created_at"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName specifies the table name for NotificationMessage
func (NotificationMessage) TableName() string {
	return "notification_messages"
}

// BeforeCreate hook
func (m *NotificationMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = MessageStatusPending
	}
	return nil
}
