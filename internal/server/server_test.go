package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"terraintake/internal/config"
	"terraintake/internal/database"
	"terraintake/internal/logging"
	"terraintake/internal/notification"
	"terraintake/internal/services"
	"terraintake/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "server-test-secret-with-enough-length"

type recordingTransport struct {
	mu   sync.Mutex
	sent []notification.Email
}

func (t *recordingTransport) Send(ctx context.Context, email notification.Email) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, email)
	return nil
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type testServer struct {
	handler   http.Handler
	transport *recordingTransport
	token     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	cfg := &config.Config{
		App:  config.AppConfig{Name: "Terra Intake API", Version: "1.0.0", Debug: true},
		Auth: config.AuthConfig{SecretKey: testSecret, TokenExpiryMinutes: 60},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         600,
		},
		Notification: config.NotificationConfig{
			AdminEmail:  "sales-desk@terra.test",
			FromEmail:   "noreply@terra.test",
			CompanyName: "Terra Industries",
			BaseURL:     "https://api.terra.test",
			BatchSize:   10,
		},
	}

	log := logging.Discard()
	transport := &recordingTransport{}
	queue := notification.NewQueue(db, transport, notification.Options{From: cfg.Notification.FromEmail, Logger: log})
	handler := New(Deps{
		Config:    cfg,
		Inquiries: services.NewInquiryService(db, queue, cfg.Notification, log),
		Quotes:    services.NewQuoteService(db, queue, cfg.Notification, log),
		Queue:     queue,
		Health:    services.NewHealthService(db, queue, cfg.App.Name, cfg.App.Version, log),
		Logger:    log,
	})

	token, err := util.GenerateToken("ops@terra.test", true, testSecret, time.Hour)
	require.NoError(t, err)
	return &testServer{handler: handler, transport: transport, token: token}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:51234"
	if authed {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

var salesInquiry = map[string]any{
	"inquiry_type": "sales",
	"full_name":    "Ada Obi",
	"email":        "ada@example.com",
	"company":      "Ministry of Defence",
	"country":      "NG",
	"message":      "We need to purchase 12 units for a government contract. Please quote urgently.",
	"metadata":     map[string]any{"budget": ">$1M"},
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var body services.HealthResult
	decodeBody(t, rec, &body)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "up", body.Database)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodGet, "/health", nil, false)

	rec := ts.do(t, http.MethodGet, "/metrics", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "db_connections_active")
	assert.Contains(t, rec.Body.String(), `http_requests_total{endpoint="/health"`)
}

func TestSubmitInquiry(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/inquiries", salesInquiry, false)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)
	assert.NotEmpty(t, created.ID)

	rec = ts.do(t, http.MethodGet, "/api/v1/inquiries/"+created.ID, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var inquiry struct {
		LeadScore int    `json:"lead_score"`
		IPAddress string `json:"ip_address"`
		Status    string `json:"status"`
	}
	decodeBody(t, rec, &inquiry)
	assert.Equal(t, 80, inquiry.LeadScore)
	assert.Equal(t, "192.0.2.10", inquiry.IPAddress)
	assert.Equal(t, "new", inquiry.Status)

	rec = ts.do(t, http.MethodGet, "/api/v1/email-queue/stats", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats notification.Stats
	decodeBody(t, rec, &stats)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Zero(t, ts.transport.count())
}

func TestSubmitInquiry_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"empty body", nil},
		{"malformed json", `{"full_name": `},
		{"invalid email", map[string]any{
			"inquiry_type": "sales", "full_name": "Ada", "email": "nope",
			"country": "NG", "message": "A long enough message.",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/inquiries", tt.body, false)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body errorBody
			decodeBody(t, rec, &body)
			assert.Equal(t, services.ErrNameBadRequest, body.Name)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestOperatorRoutesRequireStaffToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/inquiries", nil, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, services.ErrNameUnauthorized, body.Name)

	viewer, err := util.GenerateToken("viewer@terra.test", false, testSecret, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/inquiries", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/inquiries", nil)
	req.Header.Set("Authorization", "Token "+ts.token)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/inquiries", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInquiryNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/inquiries/0b8e2f2a-5d1c-4e53-9d35-3f6f0b0f2a11", nil, true)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, services.ErrNameNotFound, body.Name)
	assert.NotEmpty(t, body.ID)
}

func TestQuoteLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/inquiries", salesInquiry, false)
	require.Equal(t, http.StatusCreated, rec.Code)
	var inquiry struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &inquiry)

	rec = ts.do(t, http.MethodPost, "/api/v1/quotes", map[string]any{
		"inquiry_id":       inquiry.ID,
		"product_category": "artemis",
		"quantity":         4,
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var quote struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeBody(t, rec, &quote)
	assert.Equal(t, "pending", quote.Status)

	rec = ts.do(t, http.MethodPatch, "/api/v1/quotes/"+quote.ID, map[string]any{"status": "won"}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var transition errorBody
	decodeBody(t, rec, &transition)
	assert.Equal(t, services.ErrNameInvalidTransition, transition.Name)
	assert.Contains(t, transition.Message, "from pending to won")
	assert.Len(t, transition.Allowed, 2)

	rec = ts.do(t, http.MethodPost, "/api/v1/quotes/"+quote.ID+"/send", map[string]any{"quote_amount": 1250000}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &quote)
	assert.Equal(t, "quoted", quote.Status)

	rec = ts.do(t, http.MethodPost, "/api/v1/quotes/"+quote.ID+"/send", map[string]any{"quote_amount": 1}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// confirmation, operator alert, receipt, quote
	rec = ts.do(t, http.MethodPost, "/api/v1/email-queue/process", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var processed processResult
	decodeBody(t, rec, &processed)
	assert.False(t, processed.Skipped)
	assert.Equal(t, 4, processed.Processed)
	assert.Equal(t, 4, processed.Succeeded)
	assert.Equal(t, 4, ts.transport.count())

	rec = ts.do(t, http.MethodGet, "/api/v1/email-queue?status=sent&limit=2", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data []map[string]any `json:"data"`
		Meta services.PageMeta `json:"meta"`
	}
	decodeBody(t, rec, &page)
	assert.Len(t, page.Data, 2)
	assert.Equal(t, services.PageMeta{Total: 4, Page: 1, Limit: 2, TotalPages: 2}, page.Meta)

	rec = ts.do(t, http.MethodGet, "/api/v1/email-queue?status=bounced", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/quotes/export?product_category=artemis", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
	assert.Contains(t, rec.Body.String(), "ARTEMIS")

	rec = ts.do(t, http.MethodGet, "/api/v1/quotes/stats", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats services.QuoteStats
	decodeBody(t, rec, &stats)
	assert.Equal(t, int64(1), stats.ByStatus["quoted"])
}

func TestRetryUnknownMessage(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/email-queue/0b8e2f2a-5d1c-4e53-9d35-3f6f0b0f2a11/retry", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/inquiries", nil)
	req.Header.Set("Origin", "https://terra.test")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://terra.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	assert.Equal(t, "192.0.2.10", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}

func TestProcessQueue_SurvivesClientDisconnect(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/inquiries", salesInquiry, false)
	require.Equal(t, http.StatusCreated, rec.Code)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/email-queue/process", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+ts.token)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var processed processResult
	decodeBody(t, rec, &processed)
	assert.Equal(t, 2, processed.Processed)
	assert.Equal(t, 2, ts.transport.count())
}
