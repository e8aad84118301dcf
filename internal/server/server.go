// Package server exposes the intake, quote and email queue operations over
// HTTP on goa's muxer.
package server

import (
	"net/http"

	"terraintake/internal/config"
	"terraintake/internal/metrics"
	"terraintake/internal/notification"
	"terraintake/internal/services"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	goahttp "goa.design/goa/v3/http"
	"goa.design/goa/v3/http/middleware"
)

// Deps are the services the HTTP surface dispatches to.
type Deps struct {
	Config    *config.Config
	Inquiries *services.InquiryService
	Quotes    *services.QuoteService
	Queue     *notification.Queue
	Health    *services.HealthService
	Logger    logrus.FieldLogger
}

// Server holds the mounted routes.
type Server struct {
	cfg       *config.Config
	inquiries *services.InquiryService
	quotes    *services.QuoteService
	queue     *notification.Queue
	health    *services.HealthService
	log       *logrus.Entry
	mux       goahttp.Muxer
}

// New mounts every route and returns the handler with the full middleware
// chain applied.
func New(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		cfg:       d.Config,
		inquiries: d.Inquiries,
		quotes:    d.Quotes,
		queue:     d.Queue,
		health:    d.Health,
		log:       log.WithField("component", "HTTP"),
		mux:       goahttp.NewMuxer(),
	}
	s.mount()

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			promhttp.Handler().ServeHTTP(w, r)
			return
		}
		s.mux.ServeHTTP(w, r)
	})

	// Request ID -> Security -> CORS -> Logging -> Prometheus -> Handler
	var handler http.Handler = metrics.PrometheusMiddleware(root)
	handler = s.requestLogging(handler)
	handler = s.cors(handler)
	handler = s.securityHeaders(handler)
	handler = middleware.PopulateRequestContext()(handler)
	handler = middleware.RequestID()(handler)
	return handler
}

func (s *Server) mount() {
	s.mux.Handle(http.MethodGet, "/health", s.handleHealth)

	s.mux.Handle(http.MethodPost, "/api/v1/inquiries", s.handleSubmitInquiry)
	s.mux.Handle(http.MethodGet, "/api/v1/inquiries", s.operator(s.handleListInquiries))
	s.mux.Handle(http.MethodGet, "/api/v1/inquiries/stats", s.operator(s.handleInquiryStats))
	s.mux.Handle(http.MethodGet, "/api/v1/inquiries/{id}", s.operator(s.handleGetInquiry))
	s.mux.Handle(http.MethodPatch, "/api/v1/inquiries/{id}", s.operator(s.handleUpdateInquiry))
	s.mux.Handle(http.MethodDelete, "/api/v1/inquiries/{id}", s.operator(s.handleCloseInquiry))

	s.mux.Handle(http.MethodPost, "/api/v1/quotes", s.operator(s.handleCreateQuote))
	s.mux.Handle(http.MethodGet, "/api/v1/quotes", s.operator(s.handleListQuotes))
	s.mux.Handle(http.MethodGet, "/api/v1/quotes/stats", s.operator(s.handleQuoteStats))
	s.mux.Handle(http.MethodGet, "/api/v1/quotes/export", s.operator(s.handleExportQuotes))
	s.mux.Handle(http.MethodGet, "/api/v1/quotes/{id}", s.operator(s.handleGetQuote))
	s.mux.Handle(http.MethodPatch, "/api/v1/quotes/{id}", s.operator(s.handleUpdateQuote))
	s.mux.Handle(http.MethodPost, "/api/v1/quotes/{id}/send", s.operator(s.handleSendQuote))

	s.mux.Handle(http.MethodGet, "/api/v1/email-queue", s.operator(s.handleListMessages))
	s.mux.Handle(http.MethodGet, "/api/v1/email-queue/stats", s.operator(s.handleQueueStats))
	s.mux.Handle(http.MethodPost, "/api/v1/email-queue/process", s.operator(s.handleProcessQueue))
	s.mux.Handle(http.MethodPost, "/api/v1/email-queue/{id}/retry", s.operator(s.handleRetryMessage))
}
