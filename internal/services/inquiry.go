package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"terraintake/internal/config"
	"terraintake/internal/domain"
	"terraintake/internal/metrics"
	"terraintake/internal/notification"
	"terraintake/internal/scoring"
	apperrors "terraintake/pkg/errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SubmitInquiryInput is the public contact-form payload.
type SubmitInquiryInput struct {
	InquiryType string         `json:"inquiry_type" validate:"required,inquiry_type"`
	FullName    string         `json:"full_name" validate:"required,min=2,max=255"`
	Email       string         `json:"email" validate:"required,email,max=255"`
	Phone       string         `json:"phone,omitempty" validate:"omitempty,max=50"`
	Company     string         `json:"company,omitempty" validate:"omitempty,max=255"`
	Country     string         `json:"country" validate:"required,min=2,max=100"`
	Message     string         `json:"message" validate:"required,min=10,max=2000"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RequestContext carries client details captured by the HTTP layer.
type RequestContext struct {
	IPAddress string
	UserAgent string
}

// InquiryQuery filters and orders inquiry listings.
type InquiryQuery struct {
	Page   int    `json:"page"`
	Limit  int    `json:"limit"`
	Status string `json:"status" validate:"omitempty,inquiry_status"`
	Search string `json:"search" validate:"omitempty,max=255"`
	SortBy string `json:"sort_by" validate:"omitempty,oneof=created_at lead_score updated_at"`
	Order  string `json:"order" validate:"omitempty,oneof=asc desc"`
}

// UpdateInquiryInput changes operator-managed fields. The lead score is not
// among them.
type UpdateInquiryInput struct {
	Status     *string        `json:"status" validate:"omitempty,inquiry_status"`
	AssignedTo *string        `json:"assigned_to" validate:"omitempty,max=255"`
	Metadata   map[string]any `json:"metadata"`
}

// InquiryStats are dashboard counts.
type InquiryStats struct {
	Total        int64 `json:"total"`
	New          int64 `json:"new"`
	InProgress   int64 `json:"in_progress"`
	HighPriority int64 `json:"high_priority"`
}

// InquiryService handles contact-form intake and inquiry management.
type InquiryService struct {
	db       *gorm.DB
	queue    *notification.Queue
	validate *Validator
	cfg      config.NotificationConfig
	log      *logrus.Entry
}

// NewInquiryService creates a new inquiry service
func NewInquiryService(db *gorm.DB, queue *notification.Queue, cfg config.NotificationConfig, log logrus.FieldLogger) *InquiryService {
	return &InquiryService{
		db:       db,
		queue:    queue,
		validate: NewValidator(),
		cfg:      cfg,
		log:      log.WithField("component", "INQUIRY"),
	}
}

// Submit scores and stores an inquiry, then queues the submitter's
// confirmation and, for medium and high scores, the operator alert.
func (s *InquiryService) Submit(ctx context.Context, in SubmitInquiryInput, rc RequestContext) (*domain.Inquiry, error) {
	in.InquiryType = strings.TrimSpace(in.InquiryType)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Company = strings.TrimSpace(in.Company)
	in.Country = strings.TrimSpace(in.Country)
	in.Message = strings.TrimSpace(in.Message)

	s.log.WithFields(logrus.Fields{"email": in.Email, "type": in.InquiryType}).Info("Submit request")

	if err := s.validate.Struct(in); err != nil {
		s.log.WithError(err).Info("Submit rejected")
		return nil, err
	}

	inquiry := &domain.Inquiry{
		Type:      domain.InquiryType(in.InquiryType),
		Name:      in.FullName,
		Email:     in.Email,
		Phone:     trimmedOrNil(NormalizePhone(in.Phone, in.Country)),
		Company:   trimmedOrNil(in.Company),
		Country:   in.Country,
		Message:   in.Message,
		Metadata:  in.Metadata,
		Status:    domain.InquiryStatusNew,
		IPAddress: trimmedOrNil(rc.IPAddress),
		UserAgent: trimmedOrNil(rc.UserAgent),
	}
	inquiry.LeadScore = scoring.Score(scoring.Input{
		Type:     inquiry.Type,
		Country:  in.Country,
		Company:  in.Company,
		Message:  in.Message,
		Metadata: in.Metadata,
	})

	if err := s.db.WithContext(ctx).Create(inquiry).Error; err != nil {
		s.log.WithError(err).Error("Submit failed: database error")
		return nil, fmt.Errorf("failed to save inquiry: %w", err)
	}

	category := scoring.CategoryFor(inquiry.LeadScore)
	metrics.RecordInquirySubmitted(string(category))
	s.log.WithFields(logrus.Fields{
		"inquiry_id": inquiry.ID,
		"lead_score": inquiry.LeadScore,
		"category":   category,
	}).Info("Submit successful")

	if err := s.notify(ctx, inquiry, category); err != nil {
		return nil, err
	}
	return inquiry, nil
}

func (s *InquiryService) notify(ctx context.Context, inquiry *domain.Inquiry, category scoring.Category) error {
	branding := s.branding()

	_, err := s.queue.EnqueueTemplate(ctx, inquiry.Email, notification.TemplateInquiryConfirmation,
		notification.InquiryConfirmationData{
			Branding:    branding,
			FullName:    inquiry.Name,
			InquiryID:   inquiry.ID,
			InquiryType: string(inquiry.Type),
		})
	if err != nil {
		return fmt.Errorf("failed to queue inquiry confirmation: %w", err)
	}

	if !scoring.NeedsOperatorAlert(inquiry.LeadScore) {
		return nil
	}
	if s.cfg.AdminEmail == "" {
		s.log.WithField("inquiry_id", inquiry.ID).Warn("ADMIN_EMAIL not set, operator alert skipped")
		return nil
	}

	company := ""
	if inquiry.Company != nil {
		company = *inquiry.Company
	}
	_, err = s.queue.EnqueueTemplate(ctx, s.cfg.AdminEmail, notification.TemplateAdminNotification,
		notification.AdminNotificationData{
			Branding:       branding,
			InquiryID:      inquiry.ID,
			FullName:       inquiry.Name,
			Email:          inquiry.Email,
			Company:        company,
			Country:        inquiry.Country,
			InquiryType:    string(inquiry.Type),
			Message:        inquiry.Message,
			LeadScore:      inquiry.LeadScore,
			Category:       string(category),
			ResponseWindow: category.ResponseWindow(),
			HighPriority:   scoring.IsHighPriority(inquiry.LeadScore),
		})
	if err != nil {
		return fmt.Errorf("failed to queue operator alert: %w", err)
	}
	return nil
}

func (s *InquiryService) branding() notification.Branding {
	return notification.Branding{CompanyName: s.cfg.CompanyName, BaseURL: s.cfg.BaseURL}
}

// Get returns one inquiry.
func (s *InquiryService) Get(ctx context.Context, id string) (*domain.Inquiry, error) {
	var inquiry domain.Inquiry
	err := s.db.WithContext(ctx).First(&inquiry, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound(fmt.Sprintf("inquiry %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch inquiry: %w", err)
	}
	return &inquiry, nil
}

var inquirySortColumns = map[string]string{
	"":           "created_at",
	"created_at": "created_at",
	"lead_score": "lead_score",
	"updated_at": "updated_at",
}

// List returns a page of inquiries. Search matches name, email, company and
// message case-insensitively.
func (s *InquiryService) List(ctx context.Context, q InquiryQuery) (*Page[domain.Inquiry], error) {
	if err := s.validate.Struct(q); err != nil {
		return nil, err
	}
	page, limit := PageBounds(q.Page, q.Limit)

	filter := func(db *gorm.DB) *gorm.DB {
		if q.Status != "" {
			db = db.Where("status = ?", q.Status)
		}
		if term := strings.TrimSpace(q.Search); term != "" {
			like := "%" + strings.ToLower(term) + "%"
			db = db.Where(
				"LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(COALESCE(company, '')) LIKE ? OR LOWER(message) LIKE ?",
				like, like, like, like,
			)
		}
		return db
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&domain.Inquiry{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count inquiries: %w", err)
	}

	inquiries := []domain.Inquiry{}
	err := s.db.WithContext(ctx).
		Scopes(filter, paginate(page, limit)).
		Order(orderClause(inquirySortColumns[q.SortBy], q.Order)).
		Find(&inquiries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch inquiries: %w", err)
	}

	return &Page[domain.Inquiry]{Data: inquiries, Meta: NewPageMeta(total, page, limit)}, nil
}

// Update applies operator changes. An empty assignee clears the assignment.
func (s *InquiryService) Update(ctx context.Context, id string, in UpdateInquiryInput) (*domain.Inquiry, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	inquiry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var columns []string
	if in.Status != nil {
		inquiry.Status = domain.InquiryStatus(*in.Status)
		columns = append(columns, "status")
	}
	if in.AssignedTo != nil {
		inquiry.AssignedTo = trimmedOrNil(*in.AssignedTo)
		columns = append(columns, "assigned_to")
	}
	if in.Metadata != nil {
		inquiry.Metadata = in.Metadata
		columns = append(columns, "metadata")
	}
	if len(columns) == 0 {
		return inquiry, nil
	}

	if err := s.db.WithContext(ctx).Model(inquiry).Select(columns).Updates(inquiry).Error; err != nil {
		return nil, fmt.Errorf("failed to update inquiry: %w", err)
	}

	s.log.WithFields(logrus.Fields{"inquiry_id": id, "fields": columns}).Info("Inquiry updated")
	return inquiry, nil
}

// Close soft-deletes an inquiry by moving it to closed.
func (s *InquiryService) Close(ctx context.Context, id string) (*domain.Inquiry, error) {
	status := string(domain.InquiryStatusClosed)
	return s.Update(ctx, id, UpdateInquiryInput{Status: &status})
}

// Stats returns inquiry counts for the operator dashboard.
func (s *InquiryService) Stats(ctx context.Context) (InquiryStats, error) {
	var stats InquiryStats
	counts := []struct {
		dest  *int64
		query string
		args  []any
	}{
		{&stats.Total, "", nil},
		{&stats.New, "status = ?", []any{domain.InquiryStatusNew}},
		{&stats.InProgress, "status = ?", []any{domain.InquiryStatusInProgress}},
		{&stats.HighPriority, "lead_score >= ?", []any{scoring.HighPriorityThreshold}},
	}
	for _, c := range counts {
		tx := s.db.WithContext(ctx).Model(&domain.Inquiry{})
		if c.query != "" {
			tx = tx.Where(c.query, c.args...)
		}
		if err := tx.Count(c.dest).Error; err != nil {
			return InquiryStats{}, fmt.Errorf("failed to count inquiries: %w", err)
		}
	}
	return stats, nil
}
