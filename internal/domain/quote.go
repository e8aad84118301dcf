package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProductCategory is the product line a quote request is for.
type ProductCategory string

const (
	ProductDuma    ProductCategory = "duma"
	ProductArcher  ProductCategory = "archer"
	ProductArtemis ProductCategory = "artemis"
	ProductKallon  ProductCategory = "kallon"
	ProductIroko   ProductCategory = "iroko"
)

// ProductCategories lists every product line in display order.
var ProductCategories = []ProductCategory{ProductDuma, ProductArcher, ProductArtemis, ProductKallon, ProductIroko}

func (p ProductCategory) Valid() bool {
	for _, c := range ProductCategories {
		if p == c {
			return true
		}
	}
	return false
}

// BudgetRange is the self-reported budget band on a quote request.
type BudgetRange string

const (
	BudgetUnder100K  BudgetRange = "<$100K"
	Budget100KTo500K BudgetRange = "$100K-$500K"
	Budget500KTo1M   BudgetRange = "$500K-$1M"
	BudgetOver1M     BudgetRange = ">$1M"
)

func (b BudgetRange) Valid() bool {
	switch b {
	case BudgetUnder100K, Budget100KTo500K, Budget500KTo1M, BudgetOver1M:
		return true
	}
	return false
}

// Timeline is the self-reported purchase horizon on a quote request.
type Timeline string

const (
	TimelineImmediate    Timeline = "immediate"
	Timeline3To6Months   Timeline = "3-6_months"
	Timeline6To12Months  Timeline = "6-12_months"
	Timeline12PlusMonths Timeline = "12+_months"
)

func (t Timeline) Valid() bool {
	switch t {
	case TimelineImmediate, Timeline3To6Months, Timeline6To12Months, Timeline12PlusMonths:
		return true
	}
	return false
}

// QuoteStatus is the sales workflow state of a quote request. Only
// workflow.EnsureValidTransition decides which changes are legal.
type QuoteStatus string

const (
	QuoteStatusPending QuoteStatus = "pending"
	QuoteStatusQuoted  QuoteStatus = "quoted"
	QuoteStatusWon     QuoteStatus = "won"
	QuoteStatusLost    QuoteStatus = "lost"
)

// QuoteStatuses lists every quote status in workflow order.
var QuoteStatuses = []QuoteStatus{QuoteStatusPending, QuoteStatusQuoted, QuoteStatusWon, QuoteStatusLost}

func (s QuoteStatus) Valid() bool {
	switch s {
	case QuoteStatusPending, QuoteStatusQuoted, QuoteStatusWon, QuoteStatusLost:
		return true
	}
	return false
}

// ParseQuoteStatus converts s into a QuoteStatus.
func ParseQuoteStatus(s string) (QuoteStatus, error) {
	st := QuoteStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown quote status %q", s)
	}
	return st, nil
}

// QuoteRequest represents a request for pricing on a product line
type QuoteRequest struct {
	ID              string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	InquiryID       *string         `gorm:"type:varchar(36);index" json:"inquiry_id,omitempty"`
	Inquiry         *Inquiry        `gorm:"foreignKey:InquiryID" json:"inquiry,omitempty"`
	ProductCategory ProductCategory `gorm:"type:varchar(20);not null;index" json:"product_category"`
	Quantity        *int            `json:"quantity,omitempty"`
	BudgetRange     *BudgetRange    `gorm:"type:varchar(20)" json:"budget_range,omitempty"`
	Timeline        *Timeline       `gorm:"type:varchar(20)" json:"timeline,omitempty"`
	Requirements    string          `gorm:"type:text;not null" json:"requirements"`
	Specifications  map[string]any  `gorm:"serializer:json;type:text" json:"specifications,omitempty"`
	Status          QuoteStatus     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	QuoteAmount     *float64        `json:"quote_amount,omitempty"`
	QuoteSentAt     *time.Time      `json:"quote_sent_at,omitempty"`
	DecisionDate    *time.Time      `json:"decision_date,omitempty"`
	Notes           *string         `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt       time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TableName specifies the table name for QuoteRequest
func (QuoteRequest) TableName() string {
	return "quote_requests"
}

// BeforeCreate hook
func (q *QuoteRequest) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Status == "" {
		q.Status = QuoteStatusPending
	}
	return nil
}
