package service

import (
	"newsportal/internal/filter"
	"newsportal/internal/models"
	"newsportal/internal/validation"
)

// CategoryView is a category annotated with the requester's subscription state.
type CategoryView struct {
	models.Category
	Subscribed bool `json:"subscribed"`
}

// PageContext is shared by the list and detail views.
type PageContext struct {
	Categories []CategoryView       `json:"categories"`
	Form       validation.PostForm `json:"form"`
	IsAuthor   bool                `json:"is_author"`
	IsAuth     bool                `json:"is_auth"`
}

// Page describes one page of a paginated result.
type Page struct {
	Number      int   `json:"page"`
	PageSize    int   `json:"page_size"`
	Total       int64 `json:"total"`
	NumPages    int   `json:"num_pages"`
	HasNext     bool  `json:"has_next"`
	HasPrevious bool  `json:"has_previous"`
}

func newPage(number, size int, total int64) Page {
	numPages := int((total + int64(size) - 1) / int64(size))
	if numPages < 1 {
		numPages = 1
	}
	return Page{
		Number:      number,
		PageSize:    size,
		Total:       total,
		NumPages:    numPages,
		HasNext:     number < numPages,
		HasPrevious: number > 1,
	}
}

// offset returns the row offset of the page.
func (p Page) offset() int {
	return (p.Number - 1) * p.PageSize
}

// ListView is the feed page.
type ListView struct {
	PageContext
	Posts []*models.Post `json:"posts"`
	Page  Page           `json:"page_obj"`
}

// DetailView is a single post with the feed context.
type DetailView struct {
	PageContext
	Post        *models.Post `json:"post"`
	CurrentUser *models.User `json:"current_user"`
}

// SearchView is a filtered page of posts.
type SearchView struct {
	Posts        []*models.Post  `json:"posts"`
	Page         Page            `json:"page_obj"`
	Filter       filter.Criteria `json:"filter"`
	FilterErrors filter.Errors   `json:"filter_errors,omitempty"`
	Orderings    []string        `json:"orderings"`
}

// FormView is the create or edit form. Post is set once a submission has
// been saved, or to the target of an edit.
type FormView struct {
	Form       validation.PostForm `json:"form"`
	Errors     map[string]string   `json:"errors,omitempty"`
	Categories []models.Category   `json:"categories"`
	Post       *models.Post        `json:"post,omitempty"`
}

// DeleteView is the delete confirmation context.
type DeleteView struct {
	Post *models.Post `json:"post"`
}
