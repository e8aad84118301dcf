package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"terraintake/internal/config"
	"terraintake/internal/domain"
	"terraintake/internal/metrics"
	"terraintake/internal/notification"
	"terraintake/internal/workflow"
	apperrors "terraintake/pkg/errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxExportRows caps a CSV export.
const MaxExportRows = 1000

// CreateQuoteInput is the payload for a new quote request.
type CreateQuoteInput struct {
	InquiryID       *string        `json:"inquiry_id" validate:"omitempty,uuid"`
	ProductCategory string         `json:"product_category" validate:"required,product_category"`
	Quantity        *int           `json:"quantity" validate:"omitempty,gt=0"`
	BudgetRange     *string        `json:"budget_range" validate:"omitempty,budget_range"`
	Timeline        *string        `json:"timeline" validate:"omitempty,timeline"`
	Requirements    string         `json:"requirements" validate:"max=5000"`
	Specifications  map[string]any `json:"specifications"`
}

// UpdateQuoteInput changes a quote request. A status change goes through
// the workflow guard.
type UpdateQuoteInput struct {
	Status         *string        `json:"status" validate:"omitempty,quote_status"`
	QuoteAmount    *float64       `json:"quote_amount" validate:"omitempty,gt=0"`
	DecisionDate   *string        `json:"decision_date"`
	Notes          *string        `json:"notes" validate:"omitempty,max=5000"`
	Specifications map[string]any `json:"specifications"`
}

// SendQuoteInput carries the priced quote.
type SendQuoteInput struct {
	QuoteAmount    float64        `json:"quote_amount" validate:"required,gt=0"`
	Notes          *string        `json:"notes" validate:"omitempty,max=5000"`
	Specifications map[string]any `json:"specifications"`
}

// QuoteQuery filters and orders quote listings.
type QuoteQuery struct {
	Page            int    `json:"page"`
	Limit           int    `json:"limit"`
	Status          string `json:"status" validate:"omitempty,quote_status"`
	ProductCategory string `json:"product_category" validate:"omitempty,product_category"`
	SortBy          string `json:"sort_by" validate:"omitempty,oneof=created_at quote_amount updated_at"`
	Order           string `json:"order" validate:"omitempty,oneof=asc desc"`
}

// QuoteStats summarize the pipeline. Conversion rate is won over decided
// (won + lost) as a percentage.
type QuoteStats struct {
	Total             int64            `json:"total"`
	ByStatus          map[string]int64 `json:"by_status"`
	ConversionRate    float64          `json:"conversion_rate"`
	TotalValue        float64          `json:"total_value"`
	AverageQuoteValue float64          `json:"average_quote_value"`
}

// QuoteService manages quote requests through the quote workflow.
type QuoteService struct {
	db       *gorm.DB
	queue    *notification.Queue
	validate *Validator
	cfg      config.NotificationConfig
	log      *logrus.Entry
	now      func() time.Time
}

// NewQuoteService creates a new quote service
func NewQuoteService(db *gorm.DB, queue *notification.Queue, cfg config.NotificationConfig, log logrus.FieldLogger) *QuoteService {
	return &QuoteService{
		db:       db,
		queue:    queue,
		validate: NewValidator(),
		cfg:      cfg,
		log:      log.WithField("component", "QUOTE"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a pending quote request. When it is linked to an inquiry,
// the inquiry must exist and its submitter is sent a receipt.
func (s *QuoteService) Create(ctx context.Context, in CreateQuoteInput) (*domain.QuoteRequest, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	quote := &domain.QuoteRequest{
		ProductCategory: domain.ProductCategory(in.ProductCategory),
		Quantity:        in.Quantity,
		Requirements:    strings.TrimSpace(in.Requirements),
		Specifications:  in.Specifications,
		Status:          domain.QuoteStatusPending,
	}
	if in.BudgetRange != nil {
		b := domain.BudgetRange(*in.BudgetRange)
		quote.BudgetRange = &b
	}
	if in.Timeline != nil {
		t := domain.Timeline(*in.Timeline)
		quote.Timeline = &t
	}

	var inquiry *domain.Inquiry
	if in.InquiryID != nil {
		inquiry = &domain.Inquiry{}
		err := s.db.WithContext(ctx).First(inquiry, "id = ?", *in.InquiryID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("linked inquiry not found")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch linked inquiry: %w", err)
		}
		quote.InquiryID = &inquiry.ID
	}

	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(quote).Error; err != nil {
		s.log.WithError(err).Error("Create failed: database error")
		return nil, fmt.Errorf("failed to save quote request: %w", err)
	}
	quote.Inquiry = inquiry

	metrics.RecordQuoteCreated(string(quote.ProductCategory))
	s.log.WithFields(logrus.Fields{
		"quote_id":         quote.ID,
		"product_category": quote.ProductCategory,
		"linked":           inquiry != nil,
	}).Info("Quote request created")

	if inquiry != nil {
		_, err := s.queue.EnqueueTemplate(ctx, inquiry.Email, notification.TemplateRFQReceived,
			notification.RFQReceivedData{
				Branding:        s.branding(),
				FullName:        inquiry.Name,
				ProductCategory: string(quote.ProductCategory),
				Quantity:        derefInt(quote.Quantity),
				RFQID:           quote.ID,
			})
		if err != nil {
			return nil, fmt.Errorf("failed to queue quote request receipt: %w", err)
		}
	}
	return quote, nil
}

// Get returns a quote request with its linked inquiry.
func (s *QuoteService) Get(ctx context.Context, id string) (*domain.QuoteRequest, error) {
	var quote domain.QuoteRequest
	err := s.db.WithContext(ctx).Preload("Inquiry").First(&quote, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound(fmt.Sprintf("quote request %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote request: %w", err)
	}
	return &quote, nil
}

var quoteSortColumns = map[string]string{
	"":             "created_at",
	"created_at":   "created_at",
	"quote_amount": "quote_amount",
	"updated_at":   "updated_at",
}

func (q QuoteQuery) filter(db *gorm.DB) *gorm.DB {
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.ProductCategory != "" {
		db = db.Where("product_category = ?", q.ProductCategory)
	}
	return db
}

// List returns a page of quote requests with their linked inquiries.
func (s *QuoteService) List(ctx context.Context, q QuoteQuery) (*Page[domain.QuoteRequest], error) {
	if err := s.validate.Struct(q); err != nil {
		return nil, err
	}
	page, limit := PageBounds(q.Page, q.Limit)

	var total int64
	if err := s.db.WithContext(ctx).Model(&domain.QuoteRequest{}).Scopes(q.filter).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count quote requests: %w", err)
	}

	quotes := []domain.QuoteRequest{}
	err := s.db.WithContext(ctx).
		Preload("Inquiry").
		Scopes(q.filter, paginate(page, limit)).
		Order(orderClause(quoteSortColumns[q.SortBy], q.Order)).
		Find(&quotes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote requests: %w", err)
	}

	return &Page[domain.QuoteRequest]{Data: quotes, Meta: NewPageMeta(total, page, limit)}, nil
}

// Update applies operator changes. A status change is checked against the
// workflow before anything is written.
func (s *QuoteService) Update(ctx context.Context, id string, in UpdateQuoteInput) (*domain.QuoteRequest, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	var decision *time.Time
	if in.DecisionDate != nil {
		d, err := parseDecisionDate(*in.DecisionDate)
		if err != nil {
			return nil, err
		}
		decision = &d
	}

	quote, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := quote.Status

	var columns []string
	if in.Status != nil && domain.QuoteStatus(*in.Status) != prev {
		next := domain.QuoteStatus(*in.Status)
		if err := workflow.EnsureValidTransition(prev, next); err != nil {
			s.log.WithFields(logrus.Fields{"quote_id": id, "from": prev, "to": next}).Info("Transition rejected")
			return nil, err
		}
		quote.Status = next
		columns = append(columns, "status")
	}
	if in.QuoteAmount != nil {
		quote.QuoteAmount = in.QuoteAmount
		columns = append(columns, "quote_amount")
	}
	if decision != nil {
		quote.DecisionDate = decision
		columns = append(columns, "decision_date")
	}
	if in.Notes != nil {
		quote.Notes = trimmedOrNil(*in.Notes)
		columns = append(columns, "notes")
	}
	if in.Specifications != nil {
		quote.Specifications = in.Specifications
		columns = append(columns, "specifications")
	}
	if len(columns) == 0 {
		return quote, nil
	}

	if err := s.save(ctx, quote, prev, columns); err != nil {
		return nil, err
	}
	if quote.Status != prev {
		metrics.RecordQuoteTransition(string(prev), string(quote.Status))
	}

	s.log.WithFields(logrus.Fields{"quote_id": id, "fields": columns, "status": quote.Status}).Info("Quote request updated")
	return quote, nil
}

// SendQuote prices a pending request, marks it quoted and, when it is linked
// to an inquiry, queues the quote to the submitter.
func (s *QuoteService) SendQuote(ctx context.Context, id string, in SendQuoteInput) (*domain.QuoteRequest, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	quote, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := quote.Status
	if err := workflow.EnsureCanSendQuote(prev); err != nil {
		s.log.WithFields(logrus.Fields{"quote_id": id, "status": prev}).Info("Send quote rejected")
		return nil, err
	}

	sentAt := s.now()
	amount := in.QuoteAmount
	quote.Status = domain.QuoteStatusQuoted
	quote.QuoteAmount = &amount
	quote.QuoteSentAt = &sentAt
	columns := []string{"status", "quote_amount", "quote_sent_at"}
	if in.Notes != nil {
		quote.Notes = trimmedOrNil(*in.Notes)
		columns = append(columns, "notes")
	}
	if in.Specifications != nil {
		quote.Specifications = in.Specifications
		columns = append(columns, "specifications")
	}

	if err := s.save(ctx, quote, prev, columns); err != nil {
		return nil, err
	}
	metrics.RecordQuoteTransition(string(prev), string(quote.Status))
	s.log.WithFields(logrus.Fields{"quote_id": id, "amount": amount}).Info("Quote sent")

	if quote.Inquiry == nil {
		return quote, nil
	}

	data := notification.QuoteSentData{
		Branding:        s.branding(),
		FullName:        quote.Inquiry.Name,
		ProductCategory: string(quote.ProductCategory),
		Quantity:        derefInt(quote.Quantity),
		QuoteAmount:     amount,
		RFQID:           quote.ID,
		Specifications:  quote.Specifications,
	}
	if quote.Notes != nil {
		data.Notes = *quote.Notes
	}
	if _, err := s.queue.EnqueueTemplate(ctx, quote.Inquiry.Email, notification.TemplateQuoteSent, data); err != nil {
		return nil, fmt.Errorf("failed to queue quote: %w", err)
	}
	return quote, nil
}

// save writes the selected columns only if the row still has status prev,
// so two concurrent transitions cannot both succeed.
func (s *QuoteService) save(ctx context.Context, quote *domain.QuoteRequest, prev domain.QuoteStatus, columns []string) error {
	res := s.db.WithContext(ctx).Model(quote).Where("status = ?", prev).Select(columns).Updates(quote)
	if res.Error != nil {
		s.log.WithError(res.Error).WithField("quote_id", quote.ID).Error("Update failed: database error")
		return fmt.Errorf("failed to update quote request: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var current domain.QuoteRequest
	if err := s.db.WithContext(ctx).Select("status").First(&current, "id = ?", quote.ID).Error; err != nil {
		return fmt.Errorf("failed to reload quote request: %w", err)
	}
	return &workflow.InvalidTransitionError{
		Current:   current.Status,
		Attempted: quote.Status,
		Allowed:   workflow.AllowedTransitions(current.Status),
	}
}

// Stats returns pipeline counts and won-quote values.
func (s *QuoteService) Stats(ctx context.Context) (QuoteStats, error) {
	var rows []struct {
		Status domain.QuoteStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&domain.QuoteRequest{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return QuoteStats{}, fmt.Errorf("failed to count quote requests: %w", err)
	}

	stats := QuoteStats{ByStatus: make(map[string]int64, len(domain.QuoteStatuses))}
	for _, st := range domain.QuoteStatuses {
		stats.ByStatus[string(st)] = 0
	}
	for _, r := range rows {
		stats.ByStatus[string(r.Status)] = r.Count
		stats.Total += r.Count
	}

	err = s.db.WithContext(ctx).Model(&domain.QuoteRequest{}).
		Where("status = ?", domain.QuoteStatusWon).
		Select("COALESCE(SUM(quote_amount), 0)").
		Scan(&stats.TotalValue).Error
	if err != nil {
		return QuoteStats{}, fmt.Errorf("failed to sum won quotes: %w", err)
	}

	won := stats.ByStatus[string(domain.QuoteStatusWon)]
	lost := stats.ByStatus[string(domain.QuoteStatusLost)]
	if decided := won + lost; decided > 0 {
		stats.ConversionRate = math.Round(float64(won)/float64(decided)*100*100) / 100
	}
	if won > 0 {
		stats.AverageQuoteValue = math.Round(stats.TotalValue / float64(won))
	}
	return stats, nil
}

var exportHeader = []string{
	"ID", "Product", "Quantity", "Budget Range", "Timeline", "Status", "Quote Amount",
	"Quote Sent", "Customer Name", "Customer Email", "Company", "Created At",
}

// ExportCSV writes up to MaxExportRows matching quote requests, newest
// first, and returns the number of data rows written.
func (s *QuoteService) ExportCSV(ctx context.Context, q QuoteQuery, w io.Writer) (int, error) {
	if err := s.validate.Struct(q); err != nil {
		return 0, err
	}

	var quotes []domain.QuoteRequest
	err := s.db.WithContext(ctx).
		Preload("Inquiry").
		Scopes(q.filter).
		Order("created_at DESC").
		Limit(MaxExportRows).
		Find(&quotes).Error
	if err != nil {
		return 0, fmt.Errorf("failed to fetch quote requests: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, err
	}
	for _, quote := range quotes {
		if err := cw.Write(exportRow(quote)); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("failed to write csv: %w", err)
	}
	return len(quotes), nil
}

func exportRow(q domain.QuoteRequest) []string {
	row := []string{
		q.ID,
		strings.ToUpper(string(q.ProductCategory)),
		"",
		"",
		"",
		string(q.Status),
		"",
		"",
		"",
		"",
		"",
		q.CreatedAt.UTC().Format(time.RFC3339),
	}
	if q.Quantity != nil {
		row[2] = strconv.Itoa(*q.Quantity)
	}
	if q.BudgetRange != nil {
		row[3] = string(*q.BudgetRange)
	}
	if q.Timeline != nil {
		row[4] = string(*q.Timeline)
	}
	if q.QuoteAmount != nil {
		row[6] = strconv.FormatFloat(*q.QuoteAmount, 'f', 2, 64)
	}
	if q.QuoteSentAt != nil {
		row[7] = q.QuoteSentAt.UTC().Format(time.RFC3339)
	}
	if q.Inquiry != nil {
		row[8] = q.Inquiry.Name
		row[9] = q.Inquiry.Email
		if q.Inquiry.Company != nil {
			row[10] = *q.Inquiry.Company
		}
	}
	return row
}

func (s *QuoteService) branding() notification.Branding {
	return notification.Branding{CompanyName: s.cfg.CompanyName, BaseURL: s.cfg.BaseURL}
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
