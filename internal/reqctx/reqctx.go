// Package reqctx holds the per-request values handed explicitly from the HTTP
// layer to the service layer.
package reqctx

import (
	"strings"

	"newsportal/internal/models"
)

// RequestContext carries the requester identity, authentication state and
// submitted form payload for a single request.
type RequestContext struct {
	User          *models.User
	Authenticated bool
	Form          map[string]string
	Referer       string
	Path          string
}

// Anonymous returns a context with no identity.
func Anonymous() RequestContext {
	return RequestContext{}
}

// ForUser returns an authenticated context for u.
func ForUser(u *models.User) RequestContext {
	return RequestContext{User: u, Authenticated: u != nil}
}

// UserID returns the requester's id, or 0 when anonymous.
func (rc RequestContext) UserID() uint {
	if rc.User == nil {
		return 0
	}
	return rc.User.ID
}

// HasForm reports whether any non-blank form field was submitted.
func (rc RequestContext) HasForm() bool {
	for _, v := range rc.Form {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// FormValue returns the trimmed value of a submitted field.
func (rc RequestContext) FormValue(name string) string {
	return strings.TrimSpace(rc.Form[name])
}

// WithForm returns a copy of rc carrying form.
func (rc RequestContext) WithForm(form map[string]string) RequestContext {
	rc.Form = form
	return rc
}
