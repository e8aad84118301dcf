package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"terraintake/internal/domain"
	"terraintake/internal/notification"
	"terraintake/internal/services"

	"github.com/sirupsen/logrus"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	result := s.health.Check(r.Context())
	status := http.StatusOK
	if result.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	s.respond(w, r, status, result)
}

// Inquiries

type submitInquiryResult struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (s *Server) handleSubmitInquiry(w http.ResponseWriter, r *http.Request) {
	var in services.SubmitInquiryInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	inquiry, err := s.inquiries.Submit(r.Context(), in, services.RequestContext{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, submitInquiryResult{
		ID:      inquiry.ID,
		Message: "Thank you for contacting us! We'll get back to you soon.",
	})
}

func (s *Server) handleListInquiries(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	result, err := s.inquiries.List(r.Context(), services.InquiryQuery{
		Page:   page,
		Limit:  limit,
		Status: q.Get("status"),
		Search: q.Get("search"),
		SortBy: q.Get("sort_by"),
		Order:  q.Get("order"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, result)
}

func (s *Server) handleInquiryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.inquiries.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, stats)
}

func (s *Server) handleGetInquiry(w http.ResponseWriter, r *http.Request) {
	inquiry, err := s.inquiries.Get(r.Context(), s.mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, inquiry)
}

func (s *Server) handleUpdateInquiry(w http.ResponseWriter, r *http.Request) {
	var in services.UpdateInquiryInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	inquiry, err := s.inquiries.Update(r.Context(), s.mux.Vars(r)["id"], in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.auditLog(r, "Inquiry updated", inquiry.ID)
	s.respond(w, r, http.StatusOK, inquiry)
}

func (s *Server) handleCloseInquiry(w http.ResponseWriter, r *http.Request) {
	inquiry, err := s.inquiries.Close(r.Context(), s.mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.auditLog(r, "Inquiry closed", inquiry.ID)
	s.respond(w, r, http.StatusOK, inquiry)
}

// Quotes

func (s *Server) quoteQuery(r *http.Request) (services.QuoteQuery, error) {
	page, limit, err := pageQuery(r)
	if err != nil {
		return services.QuoteQuery{}, err
	}
	q := r.URL.Query()
	return services.QuoteQuery{
		Page:            page,
		Limit:           limit,
		Status:          q.Get("status"),
		ProductCategory: q.Get("product_category"),
		SortBy:          q.Get("sort_by"),
		Order:           q.Get("order"),
	}, nil
}

func (s *Server) handleCreateQuote(w http.ResponseWriter, r *http.Request) {
	var in services.CreateQuoteInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	quote, err := s.quotes.Create(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.auditLog(r, "Quote request created", quote.ID)
	s.respond(w, r, http.StatusCreated, quote)
}

func (s *Server) handleListQuotes(w http.ResponseWriter, r *http.Request) {
	query, err := s.quoteQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.quotes.List(r.Context(), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, result)
}

func (s *Server) handleQuoteStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.quotes.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, stats)
}

func (s *Server) handleExportQuotes(w http.ResponseWriter, r *http.Request) {
	query, err := s.quoteQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if _, err := s.quotes.ExportCSV(r.Context(), query, &buf); err != nil {
		s.fail(w, r, err)
		return
	}
	filename := fmt.Sprintf("quote-requests-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := s.quotes.Get(r.Context(), s.mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, quote)
}

func (s *Server) handleUpdateQuote(w http.ResponseWriter, r *http.Request) {
	var in services.UpdateQuoteInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	quote, err := s.quotes.Update(r.Context(), s.mux.Vars(r)["id"], in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.auditLog(r, "Quote request updated", quote.ID)
	s.respond(w, r, http.StatusOK, quote)
}

func (s *Server) handleSendQuote(w http.ResponseWriter, r *http.Request) {
	var in services.SendQuoteInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	quote, err := s.quotes.SendQuote(r.Context(), s.mux.Vars(r)["id"], in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.auditLog(r, "Quote sent", quote.ID)
	s.respond(w, r, http.StatusOK, quote)
}

// Email queue

type processResult struct {
	notification.DrainResult
	Skipped bool `json:"skipped"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var status domain.MessageStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		if status, err = domain.ParseMessageStatus(raw); err != nil {
			s.fail(w, r, services.BadRequest(err.Error()))
			return
		}
	}

	page, limit = services.PageBounds(page, limit)
	msgs, total, err := s.queue.List(r.Context(), notification.ListFilter{Status: status, Page: page, Limit: limit})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []domain.NotificationMessage{}
	}
	s.respond(w, r, http.StatusOK, services.Page[domain.NotificationMessage]{
		Data: msgs,
		Meta: services.NewPageMeta(total, page, limit),
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, stats)
}

func (s *Server) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	// a client that hangs up must not abort the batch part-way
	ctx := context.WithoutCancel(r.Context())
	result, ran, err := s.queue.TriggerDrain(ctx, s.cfg.Notification.BatchSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.auditLog(r, "Queue drain requested", "")
	s.respond(w, r, http.StatusOK, processResult{DrainResult: result, Skipped: !ran})
}

func (s *Server) handleRetryMessage(w http.ResponseWriter, r *http.Request) {
	result, err := s.queue.Retry(r.Context(), s.mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.auditLog(r, "Message retried", result.MessageID)
	s.respond(w, r, http.StatusOK, result)
}

// auditLog records which operator performed a state change.
func (s *Server) auditLog(r *http.Request, msg, id string) {
	fields := logrus.Fields{"request_id": requestID(r.Context())}
	if claims, ok := OperatorFrom(r.Context()); ok {
		fields["operator"] = claims.Subject
	}
	if id != "" {
		fields["id"] = id
	}
	s.log.WithFields(fields).Info(msg)
}
