package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"newsportal/internal/authz"
	"newsportal/internal/cache"
	"newsportal/internal/featureflags"
	"newsportal/internal/models"
	"newsportal/internal/reqctx"
	"newsportal/internal/repository"
	"newsportal/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	mr     *miniredis.Miniredis
	svc    *NewsService
	author *models.User
	reader *models.User
	cats   []*models.Category
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := NewNewsService(
		repository.NewPostRepository(db),
		repository.NewCategoryRepository(db),
		authz.NewAuthorizer(repository.NewUserRepository(db)),
		cache.New(rdb),
		opts,
	)

	f := &fixture{
		db:     db,
		mr:     mr,
		svc:    svc,
		author: testutil.CreateAuthor(t, db, "writer"),
		reader: testutil.CreateUser(t, db, "reader"),
	}
	for _, name := range []string{"Politics", "Sport", "Tech"} {
		f.cats = append(f.cats, testutil.CreateCategory(t, db, name))
	}
	return f
}

func (f *fixture) seedPosts(t *testing.T, n int) []*models.Post {
	t.Helper()
	base := time.Now().Add(-time.Duration(n+1) * time.Hour)
	posts := make([]*models.Post, 0, n)
	for i := 0; i < n; i++ {
		p := &models.Post{
			Title:      fmt.Sprintf("Post %02d", i),
			Content:    "body",
			AuthorID:   f.author.ID,
			CategoryID: f.cats[i%len(f.cats)].ID,
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, f.db.Omit("Author", "Category").Create(p).Error)
		posts = append(posts, p)
	}
	return posts
}

func (f *fixture) countPosts(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Post{}).Count(&n).Error)
	return n
}

func postForm(title string, categoryID uint) map[string]string {
	return map[string]string{
		"title":    title,
		"content":  "Body of " + title,
		"category": fmt.Sprint(categoryID),
	}
}

func TestList_FirstPage(t *testing.T) {
	f := newFixture(t, Options{})
	posts := f.seedPosts(t, 12)

	view, err := f.svc.List(context.Background(), reqctx.Anonymous(), 1)
	require.NoError(t, err)

	require.Len(t, view.Posts, 10)
	assert.Equal(t, posts[11].ID, view.Posts[0].ID)
	assert.Equal(t, "writer", view.Posts[0].Author.Username)
	assert.Len(t, view.Categories, 3)
	assert.False(t, view.IsAuth)
	assert.False(t, view.IsAuthor)
	assert.Equal(t, Page{Number: 1, PageSize: 10, Total: 12, NumPages: 2, HasNext: true}, view.Page)

	view, err = f.svc.List(context.Background(), reqctx.ForUser(f.author), 2)
	require.NoError(t, err)
	assert.Len(t, view.Posts, 2)
	assert.True(t, view.IsAuth)
	assert.True(t, view.IsAuthor)
	assert.True(t, view.Page.HasPrevious)
}

func TestCreate_NewPostHeadsList(t *testing.T) {
	f := newFixture(t, Options{})
	f.seedPosts(t, 3)
	ctx := context.Background()

	rc := reqctx.ForUser(f.author).WithForm(postForm("Breaking", f.cats[0].ID))
	view, err := f.svc.Create(ctx, rc)
	require.NoError(t, err)
	require.NotNil(t, view.Post)
	assert.Equal(t, f.author.ID, view.Post.AuthorID)

	list, err := f.svc.List(ctx, reqctx.Anonymous(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, list.Posts)
	assert.Equal(t, view.Post.ID, list.Posts[0].ID)
	assert.Equal(t, "Breaking", list.Posts[0].Title)
}

func TestCreate_WithoutPermissionWritesNothing(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	form := postForm("Sneaky", f.cats[0].ID)

	_, err := f.svc.Create(ctx, reqctx.ForUser(f.reader).WithForm(form))
	assert.True(t, models.HasCode(err, models.CodeForbidden))

	_, err = f.svc.Create(ctx, reqctx.Anonymous().WithForm(form))
	assert.True(t, models.HasCode(err, models.CodeUnauthorized))

	_, err = f.svc.NewPostForm(ctx, reqctx.ForUser(f.reader))
	assert.True(t, models.HasCode(err, models.CodeForbidden))

	assert.Zero(t, f.countPosts(t))
}

func TestCreate_InvalidReturnsForm(t *testing.T) {
	f := newFixture(t, Options{})

	rc := reqctx.ForUser(f.author).WithForm(map[string]string{"title": "No body", "category": "99"})
	view, err := f.svc.Create(context.Background(), rc)
	assert.True(t, models.HasCode(err, models.CodeValidation))
	require.NotNil(t, view)
	assert.Equal(t, "No body", view.Form.Title)
	assert.Contains(t, view.Errors, "content")
	assert.Contains(t, view.Errors, "category")
	assert.Len(t, view.Categories, 3)
	assert.Nil(t, view.Post)
	assert.Zero(t, f.countPosts(t))
}

func TestList_InlineCreate(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	view, err := f.svc.List(ctx, reqctx.ForUser(f.author).WithForm(postForm("Inline", f.cats[1].ID)), 1)
	require.NoError(t, err)
	require.Len(t, view.Posts, 1)
	assert.Equal(t, "Inline", view.Posts[0].Title)

	// Invalid and anonymous submissions are ignored and the list still renders.
	view, err = f.svc.List(ctx, reqctx.ForUser(f.author).WithForm(map[string]string{"title": "x"}), 1)
	require.NoError(t, err)
	assert.Len(t, view.Posts, 1)

	view, err = f.svc.List(ctx, reqctx.Anonymous().WithForm(postForm("Nope", f.cats[1].ID)), 1)
	require.NoError(t, err)
	assert.Len(t, view.Posts, 1)

	// Any logged-in requester may post inline; add_post only gates /add/.
	view, err = f.svc.List(ctx, reqctx.ForUser(f.reader).WithForm(postForm("From reader", f.cats[0].ID)), 1)
	require.NoError(t, err)
	require.Len(t, view.Posts, 2)
	assert.Equal(t, "From reader", view.Posts[0].Title)
	assert.Equal(t, f.reader.ID, view.Posts[0].AuthorID)
	assert.EqualValues(t, 2, f.countPosts(t))
}

func TestDetail_CacheAsideServesStaleCopy(t *testing.T) {
	f := newFixture(t, Options{InvalidateOnWrite: true})
	post := f.seedPosts(t, 1)[0]
	ctx := context.Background()
	key := cache.PostKey(post.ID)

	assert.False(t, f.mr.Exists(key))
	view, err := f.svc.Detail(ctx, reqctx.ForUser(f.reader), post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Post 00", view.Post.Title)
	assert.Equal(t, f.reader.ID, view.CurrentUser.ID)
	assert.True(t, f.mr.Exists(key))
	assert.Zero(t, f.mr.TTL(key))

	require.NoError(t, f.db.Model(&models.Post{}).Where("id = ?", post.ID).Update("title", "Changed").Error)

	view, err = f.svc.Detail(ctx, reqctx.Anonymous(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Post 00", view.Post.Title, "direct store writes are not visible through the cache")
	assert.Nil(t, view.CurrentUser)
}

func TestDetail_NotFound(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.Detail(context.Background(), reqctx.Anonymous(), 999)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
	assert.False(t, f.mr.Exists(cache.PostKey(999)))
}

func TestDetail_WithoutRedis(t *testing.T) {
	db := testutil.NewDB(t)
	author := testutil.CreateAuthor(t, db, "writer")
	post := testutil.CreatePost(t, db, author, testutil.CreateCategory(t, db, "News"), "Uncached")

	svc := NewNewsService(
		repository.NewPostRepository(db),
		repository.NewCategoryRepository(db),
		authz.NewAuthorizer(repository.NewUserRepository(db)),
		nil,
		Options{},
	)
	view, err := svc.Detail(context.Background(), reqctx.Anonymous(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Uncached", view.Post.Title)
}

func TestUpdate_InvalidatesCachedPost(t *testing.T) {
	for _, invalidate := range []bool{true, false} {
		t.Run(fmt.Sprintf("invalidate=%v", invalidate), func(t *testing.T) {
			f := newFixture(t, Options{InvalidateOnWrite: invalidate})
			post := f.seedPosts(t, 1)[0]
			ctx := context.Background()

			_, err := f.svc.Detail(ctx, reqctx.Anonymous(), post.ID)
			require.NoError(t, err)

			rc := reqctx.ForUser(f.author).WithForm(postForm("Edited", f.cats[2].ID))
			view, err := f.svc.Update(ctx, rc, post.ID)
			require.NoError(t, err)
			assert.Equal(t, post.ID, view.Post.ID)
			assert.Equal(t, f.cats[2].ID, view.Post.CategoryID)
			assert.Equal(t, "Tech", view.Post.Category.Name)

			detail, err := f.svc.Detail(ctx, reqctx.Anonymous(), post.ID)
			require.NoError(t, err)
			if invalidate {
				assert.Equal(t, "Edited", detail.Post.Title)
				assert.Equal(t, f.cats[2].ID, detail.Post.CategoryID)
			} else {
				assert.Equal(t, "Post 00", detail.Post.Title)
			}
		})
	}
}

func TestUpdate_FlagOverridesInvalidation(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantFresh bool
	}{
		{"flag off beats option", Options{InvalidateOnWrite: true, Flags: featureflags.NewManager("cache_invalidate_on_write=off")}, false},
		{"flag on beats option", Options{InvalidateOnWrite: false, Flags: featureflags.NewManager("cache_invalidate_on_write=on")}, true},
		{"unrelated flags fall back to option", Options{InvalidateOnWrite: true, Flags: featureflags.NewManager("other=off")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts)
			post := f.seedPosts(t, 1)[0]
			ctx := context.Background()

			_, err := f.svc.Detail(ctx, reqctx.Anonymous(), post.ID)
			require.NoError(t, err)
			_, err = f.svc.Update(ctx, reqctx.ForUser(f.author).WithForm(postForm("Edited", f.cats[0].ID)), post.ID)
			require.NoError(t, err)

			assert.Equal(t, tt.wantFresh, !f.mr.Exists(cache.PostKey(post.ID)))
		})
	}
}

func TestUpdate_Errors(t *testing.T) {
	f := newFixture(t, Options{})
	post := f.seedPosts(t, 1)[0]
	ctx := context.Background()

	_, err := f.svc.EditForm(ctx, reqctx.ForUser(f.author), 999)
	assert.True(t, models.HasCode(err, models.CodeNotFound))

	_, err = f.svc.Update(ctx, reqctx.ForUser(f.reader).WithForm(postForm("x", f.cats[0].ID)), post.ID)
	assert.True(t, models.HasCode(err, models.CodeForbidden))

	view, err := f.svc.Update(ctx, reqctx.ForUser(f.author).WithForm(map[string]string{"title": ""}), post.ID)
	assert.True(t, models.HasCode(err, models.CodeValidation))
	require.NotNil(t, view)
	assert.Equal(t, post.ID, view.Post.ID)

	edit, err := f.svc.EditForm(ctx, reqctx.ForUser(f.author), post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Post 00", edit.Form.Title)
	assert.Equal(t, post.CategoryID, edit.Form.CategoryID)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, Options{InvalidateOnWrite: true})
	post := f.seedPosts(t, 1)[0]
	ctx := context.Background()
	rc := reqctx.ForUser(f.author)

	err := f.svc.Delete(ctx, rc, 999)
	assert.True(t, models.HasCode(err, models.CodeNotFound))

	err = f.svc.Delete(ctx, reqctx.Anonymous(), post.ID)
	assert.True(t, models.HasCode(err, models.CodeUnauthorized))

	confirm, err := f.svc.DeleteConfirm(ctx, rc, post.ID)
	require.NoError(t, err)
	assert.Equal(t, post.ID, confirm.Post.ID)

	_, err = f.svc.Detail(ctx, rc, post.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, rc, post.ID))
	assert.Zero(t, f.countPosts(t))
	assert.False(t, f.mr.Exists(cache.PostKey(post.ID)))

	_, err = f.svc.Detail(ctx, rc, post.ID)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestToggleSubscription_Involution(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	rc := reqctx.ForUser(f.reader)
	require.Equal(t, uint(3), f.cats[2].ID)

	subscribed, err := f.svc.ToggleSubscription(ctx, rc, "3")
	require.NoError(t, err)
	assert.True(t, subscribed)

	list, err := f.svc.List(ctx, rc, 1)
	require.NoError(t, err)
	for _, c := range list.Categories {
		assert.Equal(t, c.ID == 3, c.Subscribed, c.Name)
	}

	subscribed, err = f.svc.ToggleSubscription(ctx, rc, "3")
	require.NoError(t, err)
	assert.False(t, subscribed)

	var n int64
	require.NoError(t, f.db.Model(&models.Subscription{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestToggleSubscription_Errors(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.ToggleSubscription(ctx, reqctx.Anonymous(), "1")
	assert.True(t, models.HasCode(err, models.CodeUnauthorized))

	for _, raw := range []string{"", "abc", "-1", "0"} {
		_, err = f.svc.ToggleSubscription(ctx, reqctx.ForUser(f.reader), raw)
		assert.True(t, models.HasCode(err, models.CodeValidation), raw)
	}

	_, err = f.svc.ToggleSubscription(ctx, reqctx.ForUser(f.reader), "999")
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestSearch(t *testing.T) {
	f := newFixture(t, Options{PageSize: 2})
	f.seedPosts(t, 5)
	ctx := context.Background()

	view, err := f.svc.Search(ctx, reqctx.Anonymous(), map[string]string{
		"category": fmt.Sprint(f.cats[0].ID),
		"bogus":    "1",
	}, 1)
	require.NoError(t, err)
	// Posts 00 and 03 are in the first category.
	require.Len(t, view.Posts, 2)
	assert.Equal(t, "Post 03", view.Posts[0].Title)
	assert.Equal(t, "Post 00", view.Posts[1].Title)
	assert.Equal(t, f.cats[0].ID, view.Filter.CategoryID)
	assert.Empty(t, view.FilterErrors)

	view, err = f.svc.Search(ctx, reqctx.Anonymous(), map[string]string{"category": "x"}, 3)
	require.NoError(t, err)
	assert.Len(t, view.Posts, 1, "malformed parameters are no-ops")
	assert.Contains(t, view.FilterErrors, "category")
	assert.Equal(t, Page{Number: 3, PageSize: 2, Total: 5, NumPages: 3, HasPrevious: true}, view.Page)

	view, err = f.svc.Search(ctx, reqctx.Anonymous(), nil, 9)
	require.NoError(t, err)
	assert.Empty(t, view.Posts)
}

func TestNewPage(t *testing.T) {
	assert.Equal(t, Page{Number: 1, PageSize: 10, NumPages: 1}, newPage(1, 10, 0))
	assert.Equal(t, Page{Number: 2, PageSize: 10, Total: 20, NumPages: 2, HasPrevious: true}, newPage(2, 10, 20))
	assert.Equal(t, 10, newPage(2, 10, 20).offset())
}
