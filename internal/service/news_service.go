// Package service holds the news feed business logic. Handlers pass an
// explicit reqctx.RequestContext into every call.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"newsportal/internal/authz"
	"newsportal/internal/cache"
	"newsportal/internal/featureflags"
	"newsportal/internal/filter"
	"newsportal/internal/models"
	"newsportal/internal/observability"
	"newsportal/internal/reqctx"
	"newsportal/internal/repository"
	"newsportal/internal/validation"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPageSize is used when Options.PageSize is not positive.
const DefaultPageSize = 10

// Options tune NewsService behaviour.
type Options struct {
	PageSize int
	// InvalidateOnWrite drops post-{id} after update and delete. When false
	// the detail view keeps serving the cached copy.
	InvalidateOnWrite bool
	// Flags may override InvalidateOnWrite per requester through the
	// featureflags.CacheInvalidateOnWrite flag. May be nil.
	Flags *featureflags.Manager
}

// NewsService implements the feed, detail, search, post CRUD and
// subscription operations.
type NewsService struct {
	posts      repository.PostRepository
	categories repository.CategoryRepository
	authz      *authz.Authorizer
	cache      *cache.Client
	opts       Options
}

// NewNewsService wires the service. cache may be nil.
func NewNewsService(
	posts repository.PostRepository,
	categories repository.CategoryRepository,
	authorizer *authz.Authorizer,
	cacheClient *cache.Client,
	opts Options,
) *NewsService {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &NewsService{
		posts:      posts,
		categories: categories,
		authz:      authorizer,
		cache:      cacheClient,
		opts:       opts,
	}
}

// List returns page number of the feed. A submitted inline form is saved
// first when it is valid and the requester is logged in, since the post needs
// an author; otherwise it is ignored.
func (s *NewsService) List(ctx context.Context, rc reqctx.RequestContext, number int) (*ListView, error) {
	if rc.HasForm() {
		s.inlineCreate(ctx, rc)
	}

	pc, err := s.pageContext(ctx, rc)
	if err != nil {
		return nil, err
	}

	criteria, _ := filter.Parse(nil)
	posts, page, err := s.findPage(ctx, criteria, number)
	if err != nil {
		return nil, err
	}

	return &ListView{PageContext: *pc, Posts: posts, Page: page}, nil
}

func (s *NewsService) inlineCreate(ctx context.Context, rc reqctx.RequestContext) {
	post, err := s.create(ctx, rc, authz.Login())
	if err != nil {
		observability.Logger.InfoContext(ctx, "inline post submission ignored",
			slog.String("error", err.Error()))
		return
	}
	observability.Logger.InfoContext(ctx, "inline post created", slog.Uint64("post_id", uint64(post.ID)))
}

// Detail returns a post through the post-{id} cache.
func (s *NewsService) Detail(ctx context.Context, rc reqctx.RequestContext, id uint) (_ *DetailView, err error) {
	ctx, finish := observability.StartSpan(ctx, "news.detail", observability.PostID(id))
	defer func() { finish(err) }()

	post, err := s.cachedPost(ctx, id)
	if err != nil {
		return nil, err
	}

	pc, err := s.pageContext(ctx, rc)
	if err != nil {
		return nil, err
	}

	return &DetailView{PageContext: *pc, Post: post, CurrentUser: rc.User}, nil
}

func (s *NewsService) cachedPost(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	err := s.cache.Aside(ctx, cache.PostKey(id), &post, cache.PostTTL, func() error {
		p, err := s.posts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		post = *p
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "Post", id)
	}
	return &post, nil
}

// Search returns a filtered page of posts. Malformed parameters are dropped
// and reported in FilterErrors.
func (s *NewsService) Search(ctx context.Context, _ reqctx.RequestContext, params map[string]string, number int) (*SearchView, error) {
	criteria, errs := filter.Parse(params)

	posts, page, err := s.findPage(ctx, criteria, number)
	if err != nil {
		return nil, err
	}

	return &SearchView{
		Posts:        posts,
		Page:         page,
		Filter:       criteria,
		FilterErrors: errs,
		Orderings:    filter.Orderings(),
	}, nil
}

func (s *NewsService) findPage(ctx context.Context, criteria filter.Criteria, number int) ([]*models.Post, Page, error) {
	if number < 1 {
		number = 1
	}
	page := newPage(number, s.opts.PageSize, 0)
	posts, total, err := s.posts.FindFiltered(ctx, criteria, page.PageSize, page.offset())
	if err != nil {
		return nil, Page{}, models.NewInternalError(err)
	}
	return posts, newPage(number, s.opts.PageSize, total), nil
}

// NewPostForm returns the empty create form.
func (s *NewsService) NewPostForm(ctx context.Context, rc reqctx.RequestContext) (*FormView, error) {
	if err := s.authz.Require(ctx, rc, authz.Permissions(models.PermAddPost)); err != nil {
		return nil, err
	}
	return s.formView(ctx, validation.PostForm{}, nil, nil)
}

// Create validates and saves a new post authored by the requester. On a
// validation failure the returned view carries the form and field errors
// alongside a VALIDATION_ERROR.
func (s *NewsService) Create(ctx context.Context, rc reqctx.RequestContext) (*FormView, error) {
	post, err := s.create(ctx, rc, authz.Permissions(models.PermAddPost))
	if err != nil {
		return s.rejectForm(ctx, rc, err, nil)
	}
	return &FormView{Form: validation.PostFormFromValues(rc.Form), Post: post}, nil
}

func (s *NewsService) create(ctx context.Context, rc reqctx.RequestContext, req authz.Requirement) (*models.Post, error) {
	if err := s.authz.Require(ctx, rc, req); err != nil {
		return nil, err
	}

	form, err := s.validForm(ctx, rc)
	if err != nil {
		return nil, err
	}

	post := &models.Post{
		Title:      form.Title,
		Content:    form.Content,
		AuthorID:   rc.UserID(),
		CategoryID: form.CategoryID,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, models.NewInternalError(err)
	}
	return post, nil
}

// EditForm returns the edit form prefilled from the stored post.
func (s *NewsService) EditForm(ctx context.Context, rc reqctx.RequestContext, id uint) (*FormView, error) {
	if err := s.authz.Require(ctx, rc, authz.Permissions(models.PermChangePost)); err != nil {
		return nil, err
	}
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, "Post", id)
	}
	form := validation.PostForm{Title: post.Title, Content: post.Content, CategoryID: post.CategoryID}
	return s.formView(ctx, form, nil, post)
}

// Update overwrites the title, content and category of a post.
func (s *NewsService) Update(ctx context.Context, rc reqctx.RequestContext, id uint) (*FormView, error) {
	if err := s.authz.Require(ctx, rc, authz.Permissions(models.PermChangePost)); err != nil {
		return nil, err
	}
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, "Post", id)
	}

	form, err := s.validForm(ctx, rc)
	if err != nil {
		return s.rejectForm(ctx, rc, err, post)
	}

	post.Title = form.Title
	post.Content = form.Content
	post.CategoryID = form.CategoryID
	if err := s.posts.Update(ctx, post); err != nil {
		return nil, storeErr(err, "Post", id)
	}
	if s.invalidateOnWrite(rc) {
		s.cache.InvalidatePost(ctx, id)
	}

	// Reload so the preloaded category matches the new category id.
	updated, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, "Post", id)
	}
	return &FormView{Form: form, Post: updated}, nil
}

// DeleteConfirm returns the post to be deleted.
func (s *NewsService) DeleteConfirm(ctx context.Context, rc reqctx.RequestContext, id uint) (*DeleteView, error) {
	if err := s.requireDelete(ctx, rc); err != nil {
		return nil, err
	}
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, "Post", id)
	}
	return &DeleteView{Post: post}, nil
}

// Delete removes a post. An unknown id is a NOT_FOUND error.
func (s *NewsService) Delete(ctx context.Context, rc reqctx.RequestContext, id uint) error {
	if err := s.requireDelete(ctx, rc); err != nil {
		return err
	}
	if err := s.posts.Delete(ctx, id); err != nil {
		return storeErr(err, "Post", id)
	}
	if s.invalidateOnWrite(rc) {
		s.cache.InvalidatePost(ctx, id)
	}
	return nil
}

// invalidateOnWrite reports whether writes by rc drop the cached post. A
// configured flag wins over the static option.
func (s *NewsService) invalidateOnWrite(rc reqctx.RequestContext) bool {
	if s.opts.Flags.Defined(featureflags.CacheInvalidateOnWrite) {
		return s.opts.Flags.Enabled(featureflags.CacheInvalidateOnWrite, rc.UserID())
	}
	return s.opts.InvalidateOnWrite
}

// requireDelete demands both an identity and the delete permission.
func (s *NewsService) requireDelete(ctx context.Context, rc reqctx.RequestContext) error {
	return s.authz.Require(ctx, rc, authz.Requirement{
		Login:       true,
		Permissions: []string{models.PermDeletePost},
	})
}

// ToggleSubscription flips the requester's subscription to the category
// named by rawCategoryID and returns the resulting state.
func (s *NewsService) ToggleSubscription(ctx context.Context, rc reqctx.RequestContext, rawCategoryID string) (subscribed bool, err error) {
	ctx, finish := observability.StartSpan(ctx, "news.toggle_subscription", observability.UserID(rc.UserID()))
	defer func() { finish(err) }()

	if err := s.authz.Require(ctx, rc, authz.Login()); err != nil {
		return false, err
	}

	raw := strings.TrimSpace(rawCategoryID)
	if raw == "" {
		return false, models.NewFieldValidationError(map[string]string{"cat_id": "This field is required."})
	}
	id, parseErr := strconv.ParseUint(raw, 10, 32)
	if parseErr != nil || id == 0 {
		return false, models.NewFieldValidationError(map[string]string{"cat_id": "Enter a whole number."})
	}
	trace.SpanFromContext(ctx).SetAttributes(observability.CategoryID(uint(id)))

	subscribed, err = s.categories.ToggleSubscription(ctx, uint(id), rc.UserID())
	if err != nil {
		return false, storeErr(err, "Category", id)
	}

	observability.SubscriptionToggles.WithLabelValues(strconv.FormatBool(subscribed)).Inc()
	return subscribed, nil
}

func (s *NewsService) validForm(ctx context.Context, rc reqctx.RequestContext) (validation.PostForm, error) {
	form := validation.PostFormFromValues(rc.Form)
	fields, err := form.Validate(ctx, s.categories.Exists)
	if err != nil {
		return form, models.NewInternalError(err)
	}
	if len(fields) > 0 {
		return form, models.NewFieldValidationError(fields)
	}
	return form, nil
}

func (s *NewsService) pageContext(ctx context.Context, rc reqctx.RequestContext) (*PageContext, error) {
	categories, err := s.categories.List(ctx)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	subscribedIDs, err := s.categories.SubscribedCategoryIDs(ctx, rc.UserID())
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	isAuthor, err := s.authz.IsAuthor(ctx, rc)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	subscribed := lo.SliceToMap(subscribedIDs, func(id uint) (uint, bool) { return id, true })
	views := lo.Map(categories, func(c models.Category, _ int) CategoryView {
		return CategoryView{Category: c, Subscribed: subscribed[c.ID]}
	})

	return &PageContext{
		Categories: views,
		IsAuthor:   isAuthor,
		IsAuth:     rc.Authenticated,
	}, nil
}

func (s *NewsService) formView(ctx context.Context, form validation.PostForm, errs map[string]string, post *models.Post) (*FormView, error) {
	categories, err := s.categories.List(ctx)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &FormView{Form: form, Errors: errs, Categories: categories, Post: post}, nil
}

// rejectForm pairs a validation failure with the re-rendered form. Other
// errors pass through without a view.
func (s *NewsService) rejectForm(ctx context.Context, rc reqctx.RequestContext, err error, post *models.Post) (*FormView, error) {
	var appErr *models.AppError
	if !errors.As(err, &appErr) || appErr.Code != models.CodeValidation {
		return nil, err
	}
	view, viewErr := s.formView(ctx, validation.PostFormFromValues(rc.Form), appErr.Fields, post)
	if viewErr != nil {
		return nil, viewErr
	}
	return view, err
}

// storeErr maps repository errors to AppErrors.
func storeErr(err error, resource string, id any) error {
	if repository.IsNotFound(err) {
		return models.NewNotFoundError(resource, id)
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewInternalError(err)
}
