package scoring

// Category buckets a score for routing and display. It is derived on demand
// and never stored.
type Category string

const (
	CategoryHigh   Category = "high"
	CategoryMedium Category = "medium"
	CategoryLow    Category = "low"
)

// CategoryFor maps a score to its category. Lower bounds are inclusive.
func CategoryFor(score int) Category {
	switch {
	case score >= highThreshold:
		return CategoryHigh
	case score >= mediumThreshold:
		return CategoryMedium
	default:
		return CategoryLow
	}
}

// ResponseWindow is the target first-response time for the category.
func (c Category) ResponseWindow() string {
	switch c {
	case CategoryHigh:
		return "respond within 4 hours"
	case CategoryMedium:
		return "respond within 24 hours"
	default:
		return "respond within 48 hours"
	}
}

// NeedsOperatorAlert reports whether a score is high enough to alert staff.
func NeedsOperatorAlert(score int) bool {
	return score >= mediumThreshold
}

// IsHighPriority reports whether score falls in the high category.
func IsHighPriority(score int) bool {
	return score >= highThreshold
}
