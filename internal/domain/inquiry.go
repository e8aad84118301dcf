package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InquiryType classifies a contact-form submission.
type InquiryType string

const (
	InquiryTypeGeneral     InquiryType = "general"
	InquiryTypeSales       InquiryType = "sales"
	InquiryTypeSupport     InquiryType = "support"
	InquiryTypePartnership InquiryType = "partnership"
)

// Valid reports whether t is a known inquiry type.
func (t InquiryType) Valid() bool {
	switch t {
	case InquiryTypeGeneral, InquiryTypeSales, InquiryTypeSupport, InquiryTypePartnership:
		return true
	}
	return false
}

// InquiryStatus tracks how far an inquiry has been handled.
type InquiryStatus string

const (
	InquiryStatusNew        InquiryStatus = "new"
	InquiryStatusInProgress InquiryStatus = "in_progress"
	InquiryStatusResolved   InquiryStatus = "resolved"
	InquiryStatusClosed     InquiryStatus = "closed"
)

func (s InquiryStatus) Valid() bool {
	switch s {
	case InquiryStatusNew, InquiryStatusInProgress, InquiryStatusResolved, InquiryStatusClosed:
		return true
	}
	return false
}

// Inquiry represents a contact form submission
type Inquiry struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Type       InquiryType    `gorm:"type:varchar(20);not null;index" json:"inquiry_type"`
	Name       string         `gorm:"not null" json:"full_name"`
	Email      string         `gorm:"not null;index" json:"email"`
	Phone      *string        `json:"phone,omitempty"`
	Company    *string        `json:"company,omitempty"`
	Country    string         `gorm:"type:varchar(100);not null;index" json:"country"`
	Message    string         `gorm:"type:text;not null" json:"message"`
	Metadata   map[string]any `gorm:"serializer:json;type:text" json:"metadata,omitempty"`
	LeadScore  int            `gorm:"<-:create;not null;default:0;index" json:"lead_score"`
	Status     InquiryStatus  `gorm:"type:varchar(20);not null;default:'new';index" json:"status"`
	AssignedTo *string        `gorm:"type:varchar(255)" json:"assigned_to,omitempty"`
	Source     string         `gorm:"type:varchar(50);not null;default:'website'" json:"source"`
	IPAddress  *string        `gorm:"type:varchar(45)" json:"ip_address,omitempty"`
	UserAgent  *string        `gorm:"type:text" json:"user_agent,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TableName specifies the table name for Inquiry
func (Inquiry) TableName() string {
	return "inquiries"
}

// BeforeCreate hook
func (i *Inquiry) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.Status == "" {
		i.Status = InquiryStatusNew
	}
	if i.Source == "" {
		i.Source = "website"
	}
	return nil
}
