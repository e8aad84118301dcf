package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"

	"terraintake/internal/domain"
	"terraintake/internal/notification"
	"terraintake/internal/workflow"
	apperrors "terraintake/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func (e *testEnv) linkedInquiry(t *testing.T) *domain.Inquiry {
	t.Helper()
	inquiry, err := e.inquiry.Submit(context.Background(), lowValueInquiry(), RequestContext{})
	require.NoError(t, err)
	// drop the confirmation so tests only see quote messages
	require.NoError(t, e.db.Where("1 = 1").Delete(&domain.NotificationMessage{}).Error)
	return inquiry
}

func TestQuoteService_CreateUnlinked(t *testing.T) {
	env := newTestEnv(t)

	quote, err := env.quote.Create(context.Background(), CreateQuoteInput{
		ProductCategory: "duma",
		Quantity:        ptr(3),
		BudgetRange:     ptr("$100K-$500K"),
		Timeline:        ptr("immediate"),
		Requirements:    "  Desert configuration  ",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.QuoteStatusPending, quote.Status)
	assert.Equal(t, "Desert configuration", quote.Requirements)
	assert.Nil(t, quote.InquiryID)
	assert.Empty(t, env.messages(t))
}

func TestQuoteService_CreateLinkedQueuesReceipt(t *testing.T) {
	env := newTestEnv(t)
	inquiry := env.linkedInquiry(t)

	quote, err := env.quote.Create(context.Background(), CreateQuoteInput{
		InquiryID:       &inquiry.ID,
		ProductCategory: "archer",
		Quantity:        ptr(2),
	})
	require.NoError(t, err)
	require.NotNil(t, quote.Inquiry)
	assert.Equal(t, inquiry.ID, *quote.InquiryID)

	msgs := env.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, inquiry.Email, msgs[0].To)
	assert.Equal(t, "Your RFQ Has Been Received - Terra Industries", msgs[0].Subject)
	require.NotNil(t, msgs[0].TemplateName)
	assert.Equal(t, string(notification.TemplateRFQReceived), *msgs[0].TemplateName)
}

func TestQuoteService_CreateRejects(t *testing.T) {
	tests := []struct {
		name     string
		input    CreateQuoteInput
		notFound bool
	}{
		{"unknown product", CreateQuoteInput{ProductCategory: "tank"}, false},
		{"zero quantity", CreateQuoteInput{ProductCategory: "duma", Quantity: ptr(0)}, false},
		{"unknown budget", CreateQuoteInput{ProductCategory: "duma", BudgetRange: ptr("a lot")}, false},
		{"malformed inquiry id", CreateQuoteInput{ProductCategory: "duma", InquiryID: ptr("42")}, false},
		{"missing inquiry", CreateQuoteInput{ProductCategory: "duma", InquiryID: ptr("0b8e2f2a-5d1c-4e53-9d35-3f6f0b0f2a11")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := env.quote.Create(context.Background(), tt.input)
			require.Error(t, err)
			if tt.notFound {
				assert.True(t, apperrors.IsNotFound(err))
			} else {
				assert.True(t, apperrors.IsValidation(err))
			}

			var count int64
			require.NoError(t, env.db.Model(&domain.QuoteRequest{}).Count(&count).Error)
			assert.Zero(t, count)
		})
	}
}

func TestQuoteService_UpdateEnforcesWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	quote, err := env.quote.Create(ctx, CreateQuoteInput{ProductCategory: "kallon"})
	require.NoError(t, err)

	_, err = env.quote.Update(ctx, quote.ID, UpdateQuoteInput{Status: ptr("won"), Notes: ptr("skipping ahead")})
	var transition *workflow.InvalidTransitionError
	require.True(t, errors.As(err, &transition))
	assert.Equal(t, domain.QuoteStatusPending, transition.Current)
	assert.Equal(t, domain.QuoteStatusWon, transition.Attempted)
	assert.Equal(t, []domain.QuoteStatus{domain.QuoteStatusQuoted, domain.QuoteStatusLost}, transition.Allowed)

	stored, err := env.quote.Get(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteStatusPending, stored.Status)
	assert.Nil(t, stored.Notes)

	same, err := env.quote.Update(ctx, quote.ID, UpdateQuoteInput{Status: ptr("pending")})
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteStatusPending, same.Status)

	lost, err := env.quote.Update(ctx, quote.ID, UpdateQuoteInput{Status: ptr("lost"), DecisionDate: ptr("2026-03-01")})
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteStatusLost, lost.Status)
	require.NotNil(t, lost.DecisionDate)
	assert.Equal(t, "2026-03-01", lost.DecisionDate.Format("2006-01-02"))

	_, err = env.quote.Update(ctx, quote.ID, UpdateQuoteInput{Status: ptr("quoted")})
	require.True(t, errors.As(err, &transition))
	assert.Empty(t, transition.Allowed)
}

func TestQuoteService_UpdateRejectsBadFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	quote, err := env.quote.Create(ctx, CreateQuoteInput{ProductCategory: "iroko"})
	require.NoError(t, err)

	_, err = env.quote.Update(ctx, quote.ID, UpdateQuoteInput{DecisionDate: ptr("next March")})
	assert.True(t, apperrors.IsValidation(err))

	_, err = env.quote.Update(ctx, quote.ID, UpdateQuoteInput{QuoteAmount: ptr(-5.0)})
	assert.True(t, apperrors.IsValidation(err))

	_, err = env.quote.Update(ctx, quote.ID, UpdateQuoteInput{Status: ptr("archived")})
	assert.True(t, apperrors.IsValidation(err))

	_, err = env.quote.Update(ctx, "0b8e2f2a-5d1c-4e53-9d35-3f6f0b0f2a11", UpdateQuoteInput{Notes: ptr("x")})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestQuoteService_SendQuoteLinked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inquiry := env.linkedInquiry(t)
	quote, err := env.quote.Create(ctx, CreateQuoteInput{InquiryID: &inquiry.ID, ProductCategory: "artemis", Quantity: ptr(4)})
	require.NoError(t, err)
	require.NoError(t, env.db.Where("1 = 1").Delete(&domain.NotificationMessage{}).Error)

	sent, err := env.quote.SendQuote(ctx, quote.ID, SendQuoteInput{
		QuoteAmount:    1250000,
		Notes:          ptr("Includes training"),
		Specifications: map[string]any{"range_km": 40},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteStatusQuoted, sent.Status)
	require.NotNil(t, sent.QuoteAmount)
	assert.Equal(t, 1250000.0, *sent.QuoteAmount)
	assert.NotNil(t, sent.QuoteSentAt)

	stored, err := env.quote.Get(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteStatusQuoted, stored.Status)
	assert.NotNil(t, stored.QuoteSentAt)
	require.NotNil(t, stored.Notes)
	assert.Equal(t, "Includes training", *stored.Notes)
	assert.EqualValues(t, 40, stored.Specifications["range_km"])

	msgs := env.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, inquiry.Email, msgs[0].To)
	assert.Equal(t, "Your Quote from Terra Industries - ARTEMIS ($1,250,000)", msgs[0].Subject)

	_, err = env.quote.SendQuote(ctx, quote.ID, SendQuoteInput{QuoteAmount: 900000})
	var transition *workflow.InvalidTransitionError
	require.True(t, errors.As(err, &transition))
	assert.Equal(t, domain.QuoteStatusQuoted, transition.Current)
	assert.Len(t, env.messages(t), 1)
}

func TestQuoteService_SendQuoteUnlinkedSendsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	quote, err := env.quote.Create(ctx, CreateQuoteInput{ProductCategory: "duma"})
	require.NoError(t, err)

	_, err = env.quote.SendQuote(ctx, quote.ID, SendQuoteInput{QuoteAmount: 0})
	assert.True(t, apperrors.IsValidation(err))

	sent, err := env.quote.SendQuote(ctx, quote.ID, SendQuoteInput{QuoteAmount: 5000})
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteStatusQuoted, sent.Status)
	assert.Empty(t, env.messages(t))
}

func TestQuoteService_SaveDetectsConcurrentTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	quote, err := env.quote.Create(ctx, CreateQuoteInput{ProductCategory: "duma"})
	require.NoError(t, err)

	loaded, err := env.quote.Get(ctx, quote.ID)
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&domain.QuoteRequest{}).Where("id = ?", quote.ID).Update("status", domain.QuoteStatusLost).Error)

	loaded.Status = domain.QuoteStatusQuoted
	err = env.quote.save(ctx, loaded, domain.QuoteStatusPending, []string{"status"})
	var transition *workflow.InvalidTransitionError
	require.True(t, errors.As(err, &transition))
	assert.Equal(t, domain.QuoteStatusLost, transition.Current)

	stored, err := env.quote.Get(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteStatusLost, stored.Status)
}

func TestQuoteService_ListAndStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	create := func(category string) *domain.QuoteRequest {
		q, err := env.quote.Create(ctx, CreateQuoteInput{ProductCategory: category})
		require.NoError(t, err)
		return q
	}
	win := func(q *domain.QuoteRequest, amount float64) {
		_, err := env.quote.SendQuote(ctx, q.ID, SendQuoteInput{QuoteAmount: amount})
		require.NoError(t, err)
		_, err = env.quote.Update(ctx, q.ID, UpdateQuoteInput{Status: ptr("won")})
		require.NoError(t, err)
	}

	win(create("duma"), 100000)
	win(create("artemis"), 300000)
	lost := create("duma")
	_, err := env.quote.Update(ctx, lost.ID, UpdateQuoteInput{Status: ptr("lost")})
	require.NoError(t, err)
	create("kallon")

	stats, err := env.quote.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, map[string]int64{"pending": 1, "quoted": 0, "won": 2, "lost": 1}, stats.ByStatus)
	assert.Equal(t, 66.67, stats.ConversionRate)
	assert.Equal(t, 400000.0, stats.TotalValue)
	assert.Equal(t, 200000.0, stats.AverageQuoteValue)

	page, err := env.quote.List(ctx, QuoteQuery{ProductCategory: "duma"})
	require.NoError(t, err)
	assert.Len(t, page.Data, 2)
	assert.Equal(t, int64(2), page.Meta.Total)

	page, err = env.quote.List(ctx, QuoteQuery{Status: "won", SortBy: "quote_amount", Order: "desc"})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, 300000.0, *page.Data[0].QuoteAmount)

	_, err = env.quote.List(ctx, QuoteQuery{Status: "archived"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestQuoteService_StatsEmpty(t *testing.T) {
	env := newTestEnv(t)

	stats, err := env.quote.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.ConversionRate)
	assert.Zero(t, stats.AverageQuoteValue)
}

func TestQuoteService_ExportCSV(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inquiry := env.linkedInquiry(t)
	_, err := env.quote.Create(ctx, CreateQuoteInput{InquiryID: &inquiry.ID, ProductCategory: "archer", Quantity: ptr(2)})
	require.NoError(t, err)
	_, err = env.quote.Create(ctx, CreateQuoteInput{ProductCategory: "duma"})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := env.quote.ExportCSV(ctx, QuoteQuery{ProductCategory: "archer"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, exportHeader, records[0])
	assert.Equal(t, "ARCHER", records[1][1])
	assert.Equal(t, "2", records[1][2])
	assert.Equal(t, "pending", records[1][5])
	assert.Equal(t, "Sam Hill", records[1][8])
	assert.Equal(t, "sam@example.com", records[1][9])
}
