package services

import (
	"errors"

	"terraintake/internal/workflow"
	apperrors "terraintake/pkg/errors"

	goa "goa.design/goa/v3/pkg"
)

// Error names carried in HTTP error responses.
const (
	ErrNameBadRequest        = "bad_request"
	ErrNameInvalidTransition = "invalid_transition"
	ErrNameNotFound          = "not_found"
	ErrNameUnauthorized      = "unauthorized"
	ErrNameInternal          = "internal"
)

// ToServiceError classifies err as a goa service error and returns the HTTP
// status that goes with it. Anything unclassified is a fault whose message
// is replaced, so store errors never reach clients.
func ToServiceError(err error) (*goa.ServiceError, int) {
	var transition *workflow.InvalidTransitionError
	if errors.As(err, &transition) {
		return goa.NewServiceError(transition, ErrNameInvalidTransition, false, false, false), 400
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg := errors.New(appErr.Message)
		switch {
		case apperrors.IsValidation(err):
			return goa.NewServiceError(msg, ErrNameBadRequest, false, false, false), 400
		case apperrors.IsNotFound(err):
			return goa.NewServiceError(msg, ErrNameNotFound, false, false, false), 404
		case apperrors.IsUnauthorized(err):
			return goa.NewServiceError(msg, ErrNameUnauthorized, false, false, false), 401
		}
	}

	return goa.NewServiceError(errors.New("internal server error"), ErrNameInternal, false, false, true), 500
}

// BadRequest returns a validation error for malformed requests caught
// before they reach a service.
func BadRequest(message string) error {
	return apperrors.Validation(message)
}

// Unauthorized returns an authentication failure.
func Unauthorized(message string) error {
	return apperrors.New(apperrors.ErrCodeUnauthorized, message)
}
