package model

import (
	"github.com/go-playground/validator/v10"
)

// PagingQuery represents common pagination parameters.
// Bind from query parameters using Gin: paging, page, page_size.
type PagingQuery struct {
	Paging   *bool `form:"paging" json:"paging" validate:"omitempty"`
	Page     int   `form:"page" json:"page" validate:"omitempty,gte=1"`
	PageSize int   `form:"page_size" json:"page_size" validate:"omitempty,gte=1,lte=1000"`
}

// Enabled reports whether paging was requested; the default is on.
func (p PagingQuery) Enabled() bool {
	if p.Paging == nil {
		return true
	}
	return *p.Paging
}

// SetDefaults applies defaults and caps according to max size.
func (p *PagingQuery) SetDefaults(defaultPage, defaultSize, maxSize int) {
	if p.Page <= 0 {
		p.Page = defaultPage
	}
	if p.PageSize <= 0 {
		p.PageSize = defaultSize
	}
	if maxSize > 0 && p.PageSize > maxSize {
		p.PageSize = maxSize
	}
}

// Offset returns the slice offset for the current page.
func (p PagingQuery) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// Limit returns the page size limit.
func (p PagingQuery) Limit() int { return p.PageSize }

// Validate validates the paging parameters using go-playground/validator.
func (p PagingQuery) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	return v.Struct(p)
}
