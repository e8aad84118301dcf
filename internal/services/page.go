package services

import "gorm.io/gorm"

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Sort orders accepted by list queries.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// PageMeta describes where a page sits in the full result set.
type PageMeta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

// Page is one page of list results.
type Page[T any] struct {
	Data []T      `json:"data"`
	Meta PageMeta `json:"meta"`
}

// NewPageMeta computes page metadata for a result set of total rows.
func NewPageMeta(total int64, page, limit int) PageMeta {
	pages := int((total + int64(limit) - 1) / int64(limit))
	return PageMeta{Total: total, Page: page, Limit: limit, TotalPages: pages}
}

func paginate(page, limit int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset((page - 1) * limit).Limit(limit)
	}
}

// orderClause builds "column direction" from a whitelisted column.
func orderClause(column, order string) string {
	if order == OrderAsc {
		return column + " ASC"
	}
	return column + " DESC"
}
