// Package authz evaluates capability requirements for a request before a
// handler body runs.
package authz

import (
	"context"
	"fmt"

	"newsportal/internal/models"
	"newsportal/internal/reqctx"
)

// Decision is the tagged result of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
	// Anonymous is set when the request was denied for lack of identity.
	Anonymous bool
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision with reason.
func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Err converts a denial into an AppError: UNAUTHORIZED for anonymous
// requesters, FORBIDDEN otherwise. Allowed decisions return nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Anonymous {
		return models.NewUnauthorizedError(d.Reason)
	}
	return models.NewForbiddenError(d.Reason)
}

// Requirement describes what a handler needs from the requester.
type Requirement struct {
	Login       bool
	Permissions []string
}

// Login requires an authenticated requester.
func Login() Requirement {
	return Requirement{Login: true}
}

// Permissions requires every listed permission. Permissions imply login.
func Permissions(perms ...string) Requirement {
	return Requirement{Login: true, Permissions: perms}
}

// PermissionChecker answers permission and group membership questions for a
// user. It is backed by the external identity store.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID uint, codename string) (bool, error)
	InGroup(ctx context.Context, userID uint, group string) (bool, error)
}

// Authorizer evaluates Requirements against a RequestContext.
type Authorizer struct {
	checker PermissionChecker
}

// NewAuthorizer returns an Authorizer using checker.
func NewAuthorizer(checker PermissionChecker) *Authorizer {
	return &Authorizer{checker: checker}
}

// Check evaluates req for rc. The error is non-nil only when the permission
// store could not be queried.
func (a *Authorizer) Check(ctx context.Context, rc reqctx.RequestContext, req Requirement) (Decision, error) {
	if (req.Login || len(req.Permissions) > 0) && !rc.Authenticated {
		return Decision{Reason: "Authentication required", Anonymous: true}, nil
	}
	if rc.User != nil && rc.User.IsSuperuser {
		return Allow(), nil
	}
	for _, perm := range req.Permissions {
		ok, err := a.checker.HasPermission(ctx, rc.UserID(), perm)
		if err != nil {
			return Decision{}, fmt.Errorf("check permission %s: %w", perm, err)
		}
		if !ok {
			return Deny("Missing permission " + perm), nil
		}
	}
	return Allow(), nil
}

// Require runs Check and folds denial and lookup failures into a single error.
func (a *Authorizer) Require(ctx context.Context, rc reqctx.RequestContext, req Requirement) error {
	d, err := a.Check(ctx, rc, req)
	if err != nil {
		return models.NewInternalError(err)
	}
	return d.Err()
}

// IsAuthor reports whether the requester belongs to the author group.
func (a *Authorizer) IsAuthor(ctx context.Context, rc reqctx.RequestContext) (bool, error) {
	if !rc.Authenticated {
		return false, nil
	}
	return a.checker.InGroup(ctx, rc.UserID(), models.AuthorGroup)
}
