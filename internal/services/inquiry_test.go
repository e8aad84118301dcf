package services

import (
	"context"
	"testing"

	"terraintake/internal/config"
	"terraintake/internal/database"
	"terraintake/internal/domain"
	"terraintake/internal/logging"
	"terraintake/internal/notification"
	apperrors "terraintake/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNotificationConfig = config.NotificationConfig{
	AdminEmail:  "sales-desk@terra.test",
	FromEmail:   "noreply@terra.test",
	CompanyName: "Terra Industries",
	BaseURL:     "https://api.terra.test",
}

type testEnv struct {
	db      *gorm.DB
	queue   *notification.Queue
	inquiry *InquiryService
	quote   *QuoteService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	log := logging.Discard()
	queue := notification.NewQueue(db, nil, notification.Options{From: testNotificationConfig.FromEmail, Logger: log})
	return &testEnv{
		db:      db,
		queue:   queue,
		inquiry: NewInquiryService(db, queue, testNotificationConfig, log),
		quote:   NewQuoteService(db, queue, testNotificationConfig, log),
	}
}

func (e *testEnv) messages(t *testing.T) []domain.NotificationMessage {
	t.Helper()
	var msgs []domain.NotificationMessage
	require.NoError(t, e.db.Order("created_at ASC").Find(&msgs).Error)
	return msgs
}

func messageTo(t *testing.T, msgs []domain.NotificationMessage, to string) domain.NotificationMessage {
	t.Helper()
	for _, m := range msgs {
		if m.To == to {
			return m
		}
	}
	t.Fatalf("no message queued for %s", to)
	return domain.NotificationMessage{}
}

func highValueInquiry() SubmitInquiryInput {
	return SubmitInquiryInput{
		InquiryType: "sales",
		FullName:    "  Ada Obi ",
		Email:       "Ada.Obi@Example.com",
		Phone:       "0803 123 4567",
		Company:     "Ministry of Defence",
		Country:     "NG",
		Message:     "We need to purchase 12 units for a government contract. Please quote urgently.",
		Metadata:    map[string]any{"budget": ">$1M"},
	}
}

func lowValueInquiry() SubmitInquiryInput {
	return SubmitInquiryInput{
		InquiryType: "general",
		FullName:    "Sam Hill",
		Email:       "sam@example.com",
		Country:     "US",
		Message:     "Just saying hello to the team.",
	}
}

func mediumValueInquiry() SubmitInquiryInput {
	return SubmitInquiryInput{
		InquiryType: "support",
		FullName:    "Wanjiru Kamau",
		Email:       "wanjiru@acme.test",
		Company:     "Acme",
		Country:     "KE",
		Message:     "Our army unit needs help with maintenance.",
	}
}

func TestInquiryService_SubmitHighValueQueuesConfirmationAndAlert(t *testing.T) {
	env := newTestEnv(t)

	inquiry, err := env.inquiry.Submit(context.Background(), highValueInquiry(), RequestContext{IPAddress: "10.0.0.7", UserAgent: "curl/8.0"})
	require.NoError(t, err)

	assert.NotEmpty(t, inquiry.ID)
	assert.Equal(t, 80, inquiry.LeadScore)
	assert.Equal(t, domain.InquiryStatusNew, inquiry.Status)
	assert.Equal(t, "Ada Obi", inquiry.Name)
	assert.Equal(t, "ada.obi@example.com", inquiry.Email)
	require.NotNil(t, inquiry.Phone)
	assert.Equal(t, "+2348031234567", *inquiry.Phone)
	require.NotNil(t, inquiry.IPAddress)
	assert.Equal(t, "10.0.0.7", *inquiry.IPAddress)
	assert.Equal(t, "website", inquiry.Source)

	msgs := env.messages(t)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, domain.MessageStatusPending, m.Status)
		assert.Zero(t, m.Attempts)
		assert.Equal(t, "noreply@terra.test", m.From)
	}
	confirmation := messageTo(t, msgs, "ada.obi@example.com")
	assert.Equal(t, "Thank You for Contacting Terra Industries", confirmation.Subject)
	alert := messageTo(t, msgs, "sales-desk@terra.test")
	assert.Equal(t, "New HIGH PRIORITY Inquiry from NG", alert.Subject)
	require.NotNil(t, alert.TemplateName)
	assert.Equal(t, string(notification.TemplateAdminNotification), *alert.TemplateName)
	assert.EqualValues(t, 80, alert.TemplateParams["lead_score"])
}

func TestInquiryService_SubmitAlertThreshold(t *testing.T) {
	tests := []struct {
		name      string
		input     SubmitInquiryInput
		wantScore int
		wantMsgs  int
		wantAlert string
	}{
		{"medium score alerts without priority flag", mediumValueInquiry(), 40, 2, "New Inquiry from KE"},
		{"low score only confirms", lowValueInquiry(), 10, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			inquiry, err := env.inquiry.Submit(context.Background(), tt.input, RequestContext{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, inquiry.LeadScore)

			msgs := env.messages(t)
			require.Len(t, msgs, tt.wantMsgs)
			messageTo(t, msgs, inquiry.Email)
			if tt.wantAlert != "" {
				assert.Equal(t, tt.wantAlert, messageTo(t, msgs, "sales-desk@terra.test").Subject)
			}
		})
	}
}

func TestInquiryService_SubmitWithoutAdminAddressSkipsAlert(t *testing.T) {
	env := newTestEnv(t)
	cfg := testNotificationConfig
	cfg.AdminEmail = ""
	svc := NewInquiryService(env.db, env.queue, cfg, logging.Discard())

	_, err := svc.Submit(context.Background(), highValueInquiry(), RequestContext{})
	require.NoError(t, err)
	assert.Len(t, env.messages(t), 1)
}

func TestInquiryService_SubmitRejectsInvalidInputBeforePersisting(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SubmitInquiryInput)
		want   string
	}{
		{"bad email", func(in *SubmitInquiryInput) { in.Email = "not-an-email" }, "email must be a valid email address"},
		{"unknown type", func(in *SubmitInquiryInput) { in.InquiryType = "press" }, "inquiry_type has unsupported value"},
		{"short message", func(in *SubmitInquiryInput) { in.Message = "hi" }, "message must be at least 10 characters"},
		{"short name", func(in *SubmitInquiryInput) { in.FullName = " A " }, "full_name must be at least 2 characters"},
		{"missing country", func(in *SubmitInquiryInput) { in.Country = "" }, "country is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			in := highValueInquiry()
			tt.mutate(&in)

			_, err := env.inquiry.Submit(context.Background(), in, RequestContext{})
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Contains(t, err.Error(), tt.want)

			var count int64
			require.NoError(t, env.db.Model(&domain.Inquiry{}).Count(&count).Error)
			assert.Zero(t, count)
			assert.Empty(t, env.messages(t))
		})
	}
}

func TestInquiryService_GetNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.inquiry.Get(context.Background(), "0b8e2f2a-5d1c-4e53-9d35-3f6f0b0f2a11")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestInquiryService_UpdateNeverChangesLeadScore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inquiry, err := env.inquiry.Submit(ctx, highValueInquiry(), RequestContext{})
	require.NoError(t, err)

	status := "in_progress"
	assignee := "ops@terra.test"
	updated, err := env.inquiry.Update(ctx, inquiry.ID, UpdateInquiryInput{
		Status:     &status,
		AssignedTo: &assignee,
		Metadata:   map[string]any{"budget": "small"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InquiryStatusInProgress, updated.Status)

	stored, err := env.inquiry.Get(ctx, inquiry.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, stored.LeadScore)
	require.NotNil(t, stored.AssignedTo)
	assert.Equal(t, "ops@terra.test", *stored.AssignedTo)
	assert.Equal(t, "small", stored.Metadata["budget"])

	empty := ""
	cleared, err := env.inquiry.Update(ctx, inquiry.ID, UpdateInquiryInput{AssignedTo: &empty})
	require.NoError(t, err)
	assert.Nil(t, cleared.AssignedTo)

	bogus := "archived"
	_, err = env.inquiry.Update(ctx, inquiry.ID, UpdateInquiryInput{Status: &bogus})
	assert.True(t, apperrors.IsValidation(err))
}

func TestInquiryService_CloseIsSoft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inquiry, err := env.inquiry.Submit(ctx, lowValueInquiry(), RequestContext{})
	require.NoError(t, err)

	closed, err := env.inquiry.Close(ctx, inquiry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InquiryStatusClosed, closed.Status)

	stored, err := env.inquiry.Get(ctx, inquiry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InquiryStatusClosed, stored.Status)
}

func TestInquiryService_ListAndStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, in := range []SubmitInquiryInput{lowValueInquiry(), highValueInquiry(), mediumValueInquiry()} {
		_, err := env.inquiry.Submit(ctx, in, RequestContext{})
		require.NoError(t, err)
	}

	page, err := env.inquiry.List(ctx, InquiryQuery{SortBy: "lead_score", Order: "desc"})
	require.NoError(t, err)
	require.Len(t, page.Data, 3)
	assert.Equal(t, []int{80, 40, 10}, []int{page.Data[0].LeadScore, page.Data[1].LeadScore, page.Data[2].LeadScore})
	assert.Equal(t, PageMeta{Total: 3, Page: 1, Limit: 20, TotalPages: 1}, page.Meta)

	page, err = env.inquiry.List(ctx, InquiryQuery{Search: "ACME"})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "Wanjiru Kamau", page.Data[0].Name)

	page, err = env.inquiry.List(ctx, InquiryQuery{Page: 2, Limit: 2, SortBy: "lead_score", Order: "asc"})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, 80, page.Data[0].LeadScore)
	assert.Equal(t, 2, page.Meta.TotalPages)

	_, err = env.inquiry.List(ctx, InquiryQuery{SortBy: "email"})
	assert.True(t, apperrors.IsValidation(err))

	stats, err := env.inquiry.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, InquiryStats{Total: 3, New: 3, InProgress: 0, HighPriority: 1}, stats)
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input, country, want string
	}{
		{"0803 123 4567", "NG", "+2348031234567"},
		{"+234 803 123 4567", "US", "+2348031234567"},
		{"0803 123 4567", "Nigeria", "0803 123 4567"},
		{"call me", "NG", "call me"},
		{"   ", "NG", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input+"/"+tt.country, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.input, tt.country))
		})
	}
}
