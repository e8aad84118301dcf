package server

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"terraintake/internal/domain"
	"terraintake/internal/services"
	"terraintake/internal/workflow"

	"github.com/sirupsen/logrus"
	goahttp "goa.design/goa/v3/http"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Name      string               `json:"name"`
	ID        string               `json:"id"`
	Message   string               `json:"message"`
	Allowed   []domain.QuoteStatus `json:"allowed,omitempty"`
	RequestID string               `json:"request_id,omitempty"`
}

type messageBody struct {
	Message string `json:"message"`
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	enc := goahttp.ResponseEncoder(r.Context(), w)
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		s.log.WithError(err).WithField("path", r.URL.Path).Warn("Failed to encode response")
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	svcErr, status := services.ToServiceError(err)
	body := errorBody{
		Name:      svcErr.Name,
		ID:        svcErr.ID,
		Message:   svcErr.Message,
		RequestID: requestID(r.Context()),
	}
	var transition *workflow.InvalidTransitionError
	if errors.As(err, &transition) {
		body.Allowed = transition.Allowed
		if body.Allowed == nil {
			body.Allowed = []domain.QuoteStatus{}
		}
	}

	entry := s.log.WithFields(logrus.Fields{
		"path":       r.URL.Path,
		"error_id":   svcErr.ID,
		"request_id": body.RequestID,
	})
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("Request failed")
	} else {
		entry.WithField("reason", svcErr.Message).Debug("Request rejected")
	}
	s.respond(w, r, status, body)
}

// decode reads a JSON body into v.
func decode(r *http.Request, v any) error {
	err := goahttp.RequestDecoder(r).Decode(v)
	if errors.Is(err, io.EOF) {
		return services.BadRequest("request body is required")
	}
	if err != nil {
		return services.BadRequest("malformed request body")
	}
	return nil
}

// intQuery reads an optional integer query parameter.
func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, services.BadRequest(name + " must be an integer")
	}
	return n, nil
}

func pageQuery(r *http.Request) (page, limit int, err error) {
	if page, err = intQuery(r, "page"); err != nil {
		return 0, 0, err
	}
	if limit, err = intQuery(r, "limit"); err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
