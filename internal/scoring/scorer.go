// Package scoring computes lead priority scores for inquiries.
package scoring

import (
	"strings"

	"terraintake/internal/domain"
)

const (
	// MaxScore is the upper bound of every score.
	MaxScore = 100

	highThreshold   = 70
	mediumThreshold = 40

	// HighPriorityThreshold is the lowest score in the high category.
	HighPriorityThreshold = highThreshold

	keywordPoints = 5
	keywordCap    = 20
)

// Metadata keys read by the scorer.
const (
	MetadataBudget   = "budget"
	MetadataTimeline = "timeline"
)

var priorityCountries = map[string]struct{}{
	"NG": {}, "ZA": {}, "KE": {}, "GH": {}, "EG": {}, "TZ": {}, "UG": {}, "ET": {},
}

var highValueKeywords = []string{
	"purchase", "buy", "budget", "quote", "contract", "procurement",
	"ministry", "government", "military", "defense", "army", "air force",
	"urgent", "immediate", "asap", "tender", "rfp", "rfq",
}

// Input is the subset of an inquiry that contributes to its score.
type Input struct {
	Type     domain.InquiryType
	Country  string
	Company  string
	Message  string
	Metadata map[string]any
}

// Score returns the priority of an inquiry in [0, MaxScore]. Missing or
// malformed optional fields contribute nothing.
func Score(in Input) int {
	score := countryPoints(in.Country) +
		typePoints(in.Type) +
		companyPoints(in.Company) +
		messagePoints(in.Message) +
		keywordScore(in.Message, in.Company) +
		budgetPoints(metadataString(in.Metadata, MetadataBudget)) +
		timelinePoints(metadataString(in.Metadata, MetadataTimeline))

	if score > MaxScore {
		return MaxScore
	}
	return score
}

func countryPoints(country string) int {
	code := strings.ToUpper(strings.TrimSpace(country))
	if _, ok := priorityCountries[code]; ok {
		return 15
	}
	if isCountryCode(code) {
		return 5
	}
	return 0
}

// isCountryCode reports whether code is two ASCII capital letters.
func isCountryCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

func typePoints(t domain.InquiryType) int {
	switch t {
	case domain.InquiryTypeSales:
		return 20
	case domain.InquiryTypePartnership:
		return 15
	case domain.InquiryTypeSupport:
		return 10
	default:
		return 5
	}
}

func companyPoints(company string) int {
	if strings.TrimSpace(company) != "" {
		return 10
	}
	return 0
}

func messagePoints(message string) int {
	n := len([]rune(message))
	switch {
	case n > 200:
		return 10
	case n > 100:
		return 5
	default:
		return 0
	}
}

func keywordScore(message, company string) int {
	text := strings.ToLower(message + " " + company)
	points := 0
	for _, kw := range highValueKeywords {
		if strings.Contains(text, kw) {
			points += keywordPoints
		}
	}
	return min(points, keywordCap)
}

func budgetPoints(budget string) int {
	b := strings.ToLower(budget)
	switch {
	case strings.Contains(b, ">$1m"), strings.Contains(b, "million"):
		return 15
	case strings.Contains(b, "$500k"), strings.Contains(b, "500000"):
		return 10
	case strings.Contains(b, "$100k"), strings.Contains(b, "100000"):
		return 5
	default:
		return 0
	}
}

func timelinePoints(timeline string) int {
	t := strings.ToLower(timeline)
	switch {
	case strings.Contains(t, "immediate"), strings.Contains(t, "urgent"):
		return 15
	case strings.Contains(t, "3"), strings.Contains(t, "6"):
		return 10
	default:
		return 0
	}
}

// Only string values count; anything else is treated as absent.
func metadataString(md map[string]any, key string) string {
	if md == nil {
		return ""
	}
	s, _ := md[key].(string)
	return s
}
