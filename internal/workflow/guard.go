// Package workflow enforces the quote request status machine.
//
//	pending -> quoted | lost
//	quoted  -> won | lost
//	won, lost: terminal
package workflow

import (
	"fmt"
	"strings"

	"terraintake/internal/domain"
)

var transitions = map[domain.QuoteStatus][]domain.QuoteStatus{
	domain.QuoteStatusPending: {domain.QuoteStatusQuoted, domain.QuoteStatusLost},
	domain.QuoteStatusQuoted:  {domain.QuoteStatusWon, domain.QuoteStatusLost},
	domain.QuoteStatusWon:     {},
	domain.QuoteStatusLost:    {},
}

// InvalidTransitionError is returned when a status change is not allowed.
type InvalidTransitionError struct {
	Current   domain.QuoteStatus
	Attempted domain.QuoteStatus
	Allowed   []domain.QuoteStatus
}

func (e *InvalidTransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid status transition from %s to %s: %s is terminal", e.Current, e.Attempted, e.Current)
	}
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("invalid status transition from %s to %s, allowed: %s",
		e.Current, e.Attempted, strings.Join(allowed, ", "))
}

// AllowedTransitions returns the statuses reachable from s in one step. The
// result is a fresh slice; unknown statuses have none.
func AllowedTransitions(s domain.QuoteStatus) []domain.QuoteStatus {
	next := transitions[s]
	out := make([]domain.QuoteStatus, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s domain.QuoteStatus) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// IsValidTransition reports whether a quote may move from current to next.
// Staying in the same known status is always allowed.
func IsValidTransition(current, next domain.QuoteStatus) bool {
	allowed, ok := transitions[current]
	if !ok || !next.Valid() {
		return false
	}
	if current == next {
		return true
	}
	for _, s := range allowed {
		if s == next {
			return true
		}
	}
	return false
}

// EnsureValidTransition returns an *InvalidTransitionError when the change
// from current to next is not allowed.
func EnsureValidTransition(current, next domain.QuoteStatus) error {
	if IsValidTransition(current, next) {
		return nil
	}
	return &InvalidTransitionError{
		Current:   current,
		Attempted: next,
		Allowed:   AllowedTransitions(current),
	}
}

// EnsureCanSendQuote checks that a quote can be sent, which is only possible
// while the request is still pending.
func EnsureCanSendQuote(current domain.QuoteStatus) error {
	if current == domain.QuoteStatusPending {
		return nil
	}
	return &InvalidTransitionError{
		Current:   current,
		Attempted: domain.QuoteStatusQuoted,
		Allowed:   AllowedTransitions(current),
	}
}
