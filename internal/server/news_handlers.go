package server

import (
	"errors"
	"strconv"

	"newsportal/internal/models"
	"newsportal/internal/service"

	"github.com/gofiber/fiber/v2"
)

// formErrorResponse is the 400 body for an invalid post form: the error
// envelope plus the form to re-render.
type formErrorResponse struct {
	models.ErrorResponse
	*service.FormView
}

// ListPosts handles GET / and POST / (inline create).
func (s *Server) ListPosts(c *fiber.Ctx) error {
	var form map[string]string
	if c.Method() == fiber.MethodPost {
		var err error
		if form, err = formValues(c); err != nil {
			// A malformed inline submission is ignored like an invalid one.
			form = nil
		}
	}

	rc, err := s.requestContext(c)
	if err != nil {
		return s.handleError(c, err, s.config.LoginURL)
	}
	rc = rc.WithForm(form)

	view, err := s.newsService.List(c.UserContext(), rc, pageNumber(c))
	if err != nil {
		return s.handleError(c, err, s.config.LoginURL)
	}
	return c.JSON(view)
}

// GetPost handles GET /:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}
	rc, err := s.requestContext(c)
	if err != nil {
		return s.handleError(c, err, s.config.LoginURL)
	}

	view, err := s.newsService.Detail(c.UserContext(), rc, id)
	if err != nil {
		return s.handleError(c, err, s.config.LoginURL)
	}
	return c.JSON(view)
}

// SearchPosts handles GET /search/
func (s *Server) SearchPosts(c *fiber.Ctx) error {
	rc, err := s.requestContext(c)
	if err != nil {
		return s.handleError(c, err, s.config.LoginURL)
	}

	params := c.Queries()
	delete(params, "page")

	view, err := s.newsService.Search(c.UserContext(), rc, params, pageNumber(c))
	if err != nil {
		return s.handleError(c, err, s.config.LoginURL)
	}
	return c.JSON(view)
}

// NewPostForm handles GET /add/
func (s *Server) NewPostForm(c *fiber.Ctx) error {
	rc, err := s.requestContext(c)
	if err != nil {
		return s.handleError(c, err, s.config.LoginURL)
	}
	view, err := s.newsService.NewPostForm(c.UserContext(), rc)
	if err != nil {
		return s.handleError(c, err, s.config.LoginURL)
	}
	return c.JSON(view)
}

// CreatePost handles POST /add/
func (s *Server) CreatePost(c *fiber.Ctx) error {
	rc, err := s.submission(c)
	if err != nil {
		return s.handleError(c, err, s.config.LoginURL)
	}

	view, err := s.newsService.Create(c.UserContext(), rc)
	if err != nil {
		return s.formError(c, view, err, s.config.LoginURL)
	}
	return c.Redirect(s.postURL(view.Post.ID), fiber.StatusFound)
}

// EditPostForm handles GET /:id/edit/
func (s *Server) EditPostForm(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}
	rc, err := s.requestContext(c)
	if err != nil {
		return s.handleError(c, err, s.config.AdminLoginURL)
	}

	view, err := s.newsService.EditForm(c.UserContext(), rc, id)
	if err != nil {
		return s.handleError(c, err, s.config.AdminLoginURL)
	}
	return c.JSON(view)
}

// UpdatePost handles POST /:id/edit/
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}
	rc, err := s.submission(c)
	if err != nil {
		return s.handleError(c, err, s.config.AdminLoginURL)
	}

	view, err := s.newsService.Update(c.UserContext(), rc, id)
	if err != nil {
		return s.formError(c, view, err, s.config.AdminLoginURL)
	}
	return c.Redirect(s.postURL(id), fiber.StatusFound)
}

// DeletePostConfirm handles GET /:id/delete/
func (s *Server) DeletePostConfirm(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}
	rc, err := s.requestContext(c)
	if err != nil {
		return s.handleError(c, err, s.config.LoginURL)
	}

	view, err := s.newsService.DeleteConfirm(c.UserContext(), rc, id)
	if err != nil {
		return s.handleError(c, err, s.config.LoginURL)
	}
	return c.JSON(view)
}

// DeletePost handles POST /:id/delete/
func (s *Server) DeletePost(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}
	rc, err := s.requestContext(c)
	if err != nil {
		return s.handleError(c, err, s.config.LoginURL)
	}

	if err := s.newsService.Delete(c.UserContext(), rc, id); err != nil {
		return s.handleError(c, err, s.config.LoginURL)
	}
	return c.Redirect(s.config.ListRoot(), fiber.StatusFound)
}

// ToggleSubscription handles POST /subscription/
func (s *Server) ToggleSubscription(c *fiber.Ctx) error {
	rc, err := s.submission(c)
	if err != nil {
		return s.handleError(c, err, s.config.LoginURL)
	}

	subscribed, err := s.newsService.ToggleSubscription(c.UserContext(), rc, rc.FormValue("cat_id"))
	if err != nil {
		return s.handleError(c, err, s.config.LoginURL)
	}

	target := rc.Referer
	if target == "" {
		target = "/"
	}
	c.Set("X-Subscribed", strconv.FormatBool(subscribed))
	return c.Redirect(target, fiber.StatusFound)
}

// formError renders a 400 with the form for validation failures and defers
// to handleError otherwise.
func (s *Server) formError(c *fiber.Ctx, view *service.FormView, err error, loginURL string) error {
	var appErr *models.AppError
	if view == nil || !errors.As(err, &appErr) || appErr.Code != models.CodeValidation {
		return s.handleError(c, err, loginURL)
	}
	return c.Status(fiber.StatusBadRequest).JSON(formErrorResponse{
		ErrorResponse: models.ErrorResponse{
			Error:  appErr.Message,
			Code:   appErr.Code,
			Fields: appErr.Fields,
		},
		FormView: view,
	})
}
