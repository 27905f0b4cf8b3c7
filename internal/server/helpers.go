package server

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"newsportal/internal/models"
	"newsportal/internal/reqctx"
	"newsportal/internal/repository"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper.  Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// parseID extracts the "id" route parameter of a post. Ids that can never
// match a row (zero, negative, overflowing) are answered with 404, like any
// other missing post. On failure it returns errResponseWritten.
func (s *Server) parseID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusNotFound,
			models.NewNotFoundError("Post", c.Params("id")))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// pageNumber reads the "page" query parameter. Missing or malformed values
// select the first page.
func pageNumber(c *fiber.Ctx) int {
	page := c.QueryInt("page", 1)
	if page < 1 {
		return 1
	}
	return page
}

// formValues flattens the submitted body into a field map. JSON, multipart
// and urlencoded bodies are accepted.
func formValues(c *fiber.Ctx) (map[string]string, error) {
	values := map[string]string{}
	if len(c.Body()) == 0 {
		return values, nil
	}

	ctype := strings.ToLower(c.Get(fiber.HeaderContentType))
	switch {
	case strings.HasPrefix(ctype, fiber.MIMEApplicationJSON):
		raw := map[string]any{}
		if err := c.BodyParser(&raw); err != nil {
			return nil, models.NewValidationError("Invalid request body")
		}
		for k, v := range raw {
			if v != nil {
				values[k] = fmt.Sprint(v)
			}
		}
	case strings.HasPrefix(ctype, fiber.MIMEMultipartForm):
		form, err := c.MultipartForm()
		if err != nil {
			return nil, models.NewValidationError("Invalid multipart body")
		}
		for k, v := range form.Value {
			if len(v) > 0 {
				values[k] = v[0]
			}
		}
	default:
		c.Request().PostArgs().VisitAll(func(key, value []byte) {
			values[string(key)] = string(value)
		})
	}
	return values, nil
}

// requestContext resolves the requester from the identity middleware. A
// token whose user no longer exists is treated as anonymous.
func (s *Server) requestContext(c *fiber.Ctx) (reqctx.RequestContext, error) {
	rc := reqctx.RequestContext{
		Referer: c.Get(fiber.HeaderReferer),
		Path:    c.OriginalURL(),
	}

	uid, ok := c.Locals("userID").(uint)
	if !ok {
		return rc, nil
	}
	user, err := s.userRepo.GetByID(c.UserContext(), uid)
	if err != nil {
		if repository.IsNotFound(err) {
			return rc, nil
		}
		return rc, models.NewInternalError(err)
	}
	rc.User = user
	rc.Authenticated = true
	return rc, nil
}

// submission builds a RequestContext carrying the parsed body.
func (s *Server) submission(c *fiber.Ctx) (reqctx.RequestContext, error) {
	form, err := formValues(c)
	if err != nil {
		return reqctx.RequestContext{}, err
	}
	rc, err := s.requestContext(c)
	return rc.WithForm(form), err
}

// handleError renders a service error. Anonymous permission failures
// redirect to loginURL with a next parameter; everything else is JSON.
func (s *Server) handleError(c *fiber.Ctx, err error, loginURL string) error {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}
	if appErr.Code == models.CodeUnauthorized {
		return c.Redirect(loginRedirect(loginURL, c.OriginalURL()), fiber.StatusFound)
	}
	return models.RespondWithError(c, appErr.Status(), appErr)
}

func loginRedirect(loginURL, next string) string {
	sep := "?"
	if strings.Contains(loginURL, "?") {
		sep = "&"
	}
	return loginURL + sep + "next=" + url.QueryEscape(next)
}

// postURL is the detail path of a post.
func (s *Server) postURL(id uint) string {
	return s.config.NewsBasePath + "/" + strconv.FormatUint(uint64(id), 10)
}
