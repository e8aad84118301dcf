package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"terraintake/internal/domain"
	apperrors "terraintake/pkg/errors"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
)

// Validator wraps the go-playground validator with the enum rules used by
// intake and quote payloads.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a Validator. Field names in messages follow the json
// tags of the payload structs.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	enums := map[string]func(string) bool{
		"inquiry_type":     func(s string) bool { return domain.InquiryType(s).Valid() },
		"inquiry_status":   func(s string) bool { return domain.InquiryStatus(s).Valid() },
		"product_category": func(s string) bool { return domain.ProductCategory(s).Valid() },
		"budget_range":     func(s string) bool { return domain.BudgetRange(s).Valid() },
		"timeline":         func(s string) bool { return domain.Timeline(s).Valid() },
		"quote_status":     func(s string) bool { return domain.QuoteStatus(s).Valid() },
	}
	for tag, valid := range enums {
		// Tags are fixed and well-formed; registration cannot fail.
		_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return valid(fl.Field().String())
		})
	}

	return &Validator{v: v}
}

// Struct validates s and converts failures into a single validation error.
func (val *Validator) Struct(s any) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.Wrap(apperrors.ErrCodeValidation, "invalid request", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return apperrors.Validation(strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "uuid":
		return field + " must be a valid id"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "inquiry_type", "inquiry_status", "product_category", "budget_range", "timeline", "quote_status":
		return fmt.Sprintf("%s has unsupported value %q", field, fmt.Sprint(fe.Value()))
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}

// NormalizePhone formats a phone number as E.164, reading national numbers
// in the region of the inquiry's country code. Numbers that cannot be parsed
// are kept as entered.
func NormalizePhone(input, country string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	region := strings.ToUpper(strings.TrimSpace(country))
	if len(region) != 2 {
		region = ""
	}

	number, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return trimmed
	}
	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

// parseDecisionDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDecisionDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, apperrors.Validation("decision_date must be YYYY-MM-DD or an RFC 3339 timestamp")
	}
	return t, nil
}

func trimmedOrNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// PageBounds applies the default and maximum page size.
func PageBounds(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}
