package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"newsportal/internal/config"
	"newsportal/internal/middleware"
	"newsportal/internal/models"
	"newsportal/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type newsFixture struct {
	app    *fiber.App
	cfg    *config.Config
	db     *gorm.DB
	mr     *miniredis.Miniredis
	writer *models.User
	reader *models.User
	sport  *models.Category
	tech   *models.Category
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:              "test-secret",
		Port:                   "0",
		Env:                    "test",
		NewsBasePath:           "/news",
		LoginURL:               "/accounts/login/",
		AdminLoginURL:          "/admin/login/",
		ListCacheSeconds:       300,
		PageSize:               10,
		CacheInvalidateOnWrite: true,
	}
}

func newNewsFixture(t *testing.T) *newsFixture {
	t.Helper()

	db := testutil.NewDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	srv, err := NewServerWithDeps(cfg, db, rdb)
	require.NoError(t, err)

	return &newsFixture{
		app:    srv.NewApp(),
		cfg:    cfg,
		db:     db,
		mr:     mr,
		writer: testutil.CreateAuthor(t, db, "writer"),
		reader: testutil.CreateUser(t, db, "reader"),
		sport:  testutil.CreateCategory(t, db, "Sport"),
		tech:   testutil.CreateCategory(t, db, "Tech"),
	}
}

func (f *newsFixture) token(t *testing.T, u *models.User) string {
	t.Helper()
	tok, err := middleware.SignToken(f.cfg, u.ID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *newsFixture) do(t *testing.T, method, target string, as *models.User, form url.Values) *http.Response {
	t.Helper()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
	}
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+f.token(t, as))
	}

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

type listBody struct {
	Posts []struct {
		ID    uint   `json:"id"`
		Title string `json:"title"`
	} `json:"posts"`
	Page struct {
		Number   int   `json:"page"`
		Total    int64 `json:"total"`
		NumPages int   `json:"num_pages"`
	} `json:"page_obj"`
	Categories []struct {
		ID         uint   `json:"id"`
		Name       string `json:"name"`
		Subscribed bool   `json:"subscribed"`
	} `json:"categories"`
	IsAuthor bool `json:"is_author"`
	IsAuth   bool `json:"is_auth"`
}

func TestListPosts_CachedPerRequester(t *testing.T) {
	f := newNewsFixture(t)
	testutil.CreatePost(t, f.db, f.writer, f.sport, "Cup final")

	first := f.do(t, http.MethodGet, "/news/", nil, nil)
	require.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, "miss", first.Header.Get("X-Cache"))

	var body listBody
	decode(t, first, &body)
	require.Len(t, body.Posts, 1)
	assert.Equal(t, "Cup final", body.Posts[0].Title)
	assert.False(t, body.IsAuth)

	testutil.CreatePost(t, f.db, f.writer, f.tech, "Go 1.23")

	second := f.do(t, http.MethodGet, "/news/", nil, nil)
	assert.Equal(t, "hit", second.Header.Get("X-Cache"))
	decode(t, second, &body)
	assert.Len(t, body.Posts, 1, "cached page is served until it expires")

	authed := f.do(t, http.MethodGet, "/news/", f.writer, nil)
	assert.Equal(t, "miss", authed.Header.Get("X-Cache"))
	decode(t, authed, &body)
	assert.Len(t, body.Posts, 2)
	assert.True(t, body.IsAuthor)
	assert.True(t, body.IsAuth)
}

func TestListPosts_InlineCreate(t *testing.T) {
	f := newNewsFixture(t)

	form := url.Values{"title": {"Inline"}, "content": {"Body"}, "category": {fmt.Sprint(f.sport.ID)}}
	resp := f.do(t, http.MethodPost, "/news/", f.writer, form)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body listBody
	decode(t, resp, &body)
	require.Len(t, body.Posts, 1)
	assert.Equal(t, "Inline", body.Posts[0].Title)

	// Anonymous submissions are ignored and the page still renders.
	resp = f.do(t, http.MethodPost, "/news/", nil, form)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &body)
	assert.Len(t, body.Posts, 1)

	// A logged-in reader without add_post may still post inline.
	resp = f.do(t, http.MethodPost, "/news/", f.reader, url.Values{
		"title": {"Reader post"}, "content": {"Body"}, "category_id": {fmt.Sprint(f.tech.ID)},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &body)
	require.Len(t, body.Posts, 2)
	assert.Equal(t, "Reader post", body.Posts[0].Title)
}

func TestGetPost(t *testing.T) {
	f := newNewsFixture(t)
	post := testutil.CreatePost(t, f.db, f.writer, f.sport, "Cup final")

	resp := f.do(t, http.MethodGet, fmt.Sprintf("/news/%d", post.ID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Post struct {
			Title    string `json:"title"`
			Category struct {
				Name string `json:"name"`
			} `json:"category"`
		} `json:"post"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "Cup final", body.Post.Title)
	assert.Equal(t, "Sport", body.Post.Category.Name)
	assert.True(t, f.mr.Exists(fmt.Sprintf("post-%d", post.ID)))

	missing := f.do(t, http.MethodGet, "/news/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	notInt := f.do(t, http.MethodGet, "/news/abc", nil, nil)
	assert.Equal(t, http.StatusNotFound, notInt.StatusCode)

	for _, target := range []string{"/news/0", "/news/-3", "/news/0/edit/", "/news/0/delete/"} {
		resp := f.do(t, http.MethodGet, target, f.writer, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, target)
	}
}

func TestPublicBodiesOmitAuthorEmail(t *testing.T) {
	f := newNewsFixture(t)
	post := testutil.CreatePost(t, f.db, f.writer, f.sport, "Hello world")

	for _, target := range []string{
		fmt.Sprintf("/news/%d", post.ID),
		"/news/search/?title=hel",
		"/news/",
	} {
		resp := f.do(t, http.MethodGet, target, nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, target)

		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"username":"writer"`, target)
		assert.NotContains(t, string(raw), "email", target)
		assert.NotContains(t, string(raw), f.writer.Email, target)
	}

	cached, err := f.mr.Get(fmt.Sprintf("post-%d", post.ID))
	require.NoError(t, err)
	assert.NotContains(t, cached, "email")
}

func TestSearchPosts(t *testing.T) {
	f := newNewsFixture(t)
	testutil.CreatePost(t, f.db, f.writer, f.sport, "Cup final")
	testutil.CreatePost(t, f.db, f.writer, f.tech, "Go 1.23")

	resp := f.do(t, http.MethodGet, fmt.Sprintf("/news/search/?category=%d", f.tech.ID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Posts []struct {
			Title string `json:"title"`
		} `json:"posts"`
		FilterErrors map[string]string `json:"filter_errors"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Posts, 1)
	assert.Equal(t, "Go 1.23", body.Posts[0].Title)

	resp = f.do(t, http.MethodGet, "/news/search/?created_after=yesterday", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &body)
	assert.Len(t, body.Posts, 2)
	assert.Contains(t, body.FilterErrors, "created_after")
}

func TestCreatePost(t *testing.T) {
	f := newNewsFixture(t)
	form := url.Values{"title": {"Fresh"}, "content": {"News"}, "category": {fmt.Sprint(f.tech.ID)}}

	t.Run("anonymous redirected to login", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/news/add/", nil, nil)
		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/accounts/login/?next=%2Fnews%2Fadd%2F", resp.Header.Get("Location"))
	})

	t.Run("reader forbidden", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/news/add/", f.reader, form)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("author sees form", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/news/add/", f.writer, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("author creates", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/news/add/", f.writer, form)
		require.Equal(t, http.StatusFound, resp.StatusCode)
		location := resp.Header.Get("Location")
		require.True(t, strings.HasPrefix(location, "/news/"), location)

		detail := f.do(t, http.MethodGet, location, nil, nil)
		assert.Equal(t, http.StatusOK, detail.StatusCode)
	})

	t.Run("invalid form", func(t *testing.T) {
		bad := url.Values{"title": {""}, "content": {"x"}, "category": {"999"}}
		resp := f.do(t, http.MethodPost, "/news/add/", f.writer, bad)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body struct {
			Code   string            `json:"code"`
			Fields map[string]string `json:"fields"`
			Form   map[string]any    `json:"form"`
		}
		decode(t, resp, &body)
		assert.Equal(t, models.CodeValidation, body.Code)
		assert.Contains(t, body.Fields, "title")
		assert.Contains(t, body.Fields, "category")
		assert.NotNil(t, body.Form)
	})
}

func TestUpdatePost(t *testing.T) {
	f := newNewsFixture(t)
	post := testutil.CreatePost(t, f.db, f.writer, f.sport, "Before")
	target := fmt.Sprintf("/news/%d/edit/", post.ID)

	anon := f.do(t, http.MethodGet, target, nil, nil)
	assert.Equal(t, http.StatusFound, anon.StatusCode)
	assert.True(t, strings.HasPrefix(anon.Header.Get("Location"), "/admin/login/?next="))

	// Warm the detail cache so the update has something to invalidate.
	f.do(t, http.MethodGet, fmt.Sprintf("/news/%d", post.ID), nil, nil)

	form := url.Values{"title": {"After"}, "content": {"Edited"}, "category": {fmt.Sprint(f.tech.ID)}}
	resp := f.do(t, http.MethodPost, target, f.writer, form)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, fmt.Sprintf("/news/%d", post.ID), resp.Header.Get("Location"))

	detail := f.do(t, http.MethodGet, fmt.Sprintf("/news/%d", post.ID), nil, nil)
	var body struct {
		Post struct {
			Title string `json:"title"`
		} `json:"post"`
	}
	decode(t, detail, &body)
	assert.Equal(t, "After", body.Post.Title)

	missing := f.do(t, http.MethodPost, "/news/999/edit/", f.writer, form)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestDeletePost(t *testing.T) {
	f := newNewsFixture(t)
	post := testutil.CreatePost(t, f.db, f.writer, f.sport, "Doomed")
	target := fmt.Sprintf("/news/%d/delete/", post.ID)

	forbidden := f.do(t, http.MethodPost, target, f.reader, url.Values{})
	assert.Equal(t, http.StatusForbidden, forbidden.StatusCode)

	confirm := f.do(t, http.MethodGet, target, f.writer, nil)
	assert.Equal(t, http.StatusOK, confirm.StatusCode)

	resp := f.do(t, http.MethodPost, target, f.writer, url.Values{})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/news/", resp.Header.Get("Location"))

	gone := f.do(t, http.MethodGet, fmt.Sprintf("/news/%d", post.ID), nil, nil)
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)

	again := f.do(t, http.MethodPost, target, f.writer, url.Values{})
	assert.Equal(t, http.StatusNotFound, again.StatusCode)
}

func TestToggleSubscription(t *testing.T) {
	f := newNewsFixture(t)
	form := url.Values{"cat_id": {fmt.Sprint(f.tech.ID)}}

	toggle := func(referer string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/news/subscription/", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
		req.Header.Set("Authorization", "Bearer "+f.token(t, f.reader))
		if referer != "" {
			req.Header.Set("Referer", referer)
		}
		resp, err := f.app.Test(req, -1)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := toggle("/news/5")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/news/5", resp.Header.Get("Location"))
	assert.Equal(t, "true", resp.Header.Get("X-Subscribed"))

	var count int64
	require.NoError(t, f.db.Model(&models.Subscription{}).
		Where("category_id = ? AND user_id = ?", f.tech.ID, f.reader.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	resp = toggle("")
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Equal(t, "false", resp.Header.Get("X-Subscribed"))

	anon := f.do(t, http.MethodPost, "/news/subscription/", nil, form)
	assert.Equal(t, http.StatusFound, anon.StatusCode)
	assert.True(t, strings.HasPrefix(anon.Header.Get("Location"), "/accounts/login/"))

	bad := f.do(t, http.MethodPost, "/news/subscription/", f.reader, url.Values{"cat_id": {"abc"}})
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	unknown := f.do(t, http.MethodPost, "/news/subscription/", f.reader, url.Values{"cat_id": {"999"}})
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)
}

func TestHealthChecks(t *testing.T) {
	f := newNewsFixture(t)

	live := f.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, live.StatusCode)

	ready := f.do(t, http.MethodGet, "/health/ready", nil, nil)
	require.Equal(t, http.StatusOK, ready.StatusCode)
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	decode(t, ready, &body)
	assert.Equal(t, "healthy", body.Checks["database"])
	assert.Equal(t, "healthy", body.Checks["redis"])
}

func TestFeatureFlags_DisableInvalidation(t *testing.T) {
	db := testutil.NewDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	cfg.FeatureFlags = "cache_invalidate_on_write=off"
	srv, err := NewServerWithDeps(cfg, db, rdb)
	require.NoError(t, err)
	f := &newsFixture{app: srv.NewApp(), cfg: cfg, db: db, mr: mr}
	writer := testutil.CreateAuthor(t, db, "writer")
	post := testutil.CreatePost(t, db, writer, testutil.CreateCategory(t, db, "Sport"), "Before")

	flags := f.do(t, http.MethodGet, "/feature-flags", writer, nil)
	require.Equal(t, http.StatusOK, flags.StatusCode)
	var body struct {
		Raw       map[string]string `json:"raw"`
		Evaluated map[string]bool   `json:"evaluated"`
	}
	decode(t, flags, &body)
	assert.Equal(t, "off", body.Raw["cache_invalidate_on_write"])
	assert.False(t, body.Evaluated["cache_invalidate_on_write"])

	f.do(t, http.MethodGet, fmt.Sprintf("/news/%d", post.ID), nil, nil)
	form := url.Values{"title": {"After"}, "content": {"x"}, "category": {fmt.Sprint(post.CategoryID)}}
	resp := f.do(t, http.MethodPost, fmt.Sprintf("/news/%d/edit/", post.ID), writer, form)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	// The flag overrides CACHE_INVALIDATE_ON_WRITE=true, so the cached copy stays.
	assert.True(t, mr.Exists(fmt.Sprintf("post-%d", post.ID)))
}
