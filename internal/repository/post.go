// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"

	"newsportal/internal/filter"
	"newsportal/internal/models"
	"newsportal/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	FindFiltered(ctx context.Context, c filter.Criteria, limit, offset int) ([]*models.Post, int64, error)
	Update(ctx context.Context, post *models.Post) error
	Delete(ctx context.Context, id uint) error
}

// postRepository implements PostRepository
type postRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db, log: observability.NewRepoLogger("posts")}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(post).Error; err != nil {
		return err
	}
	observability.PostWrites.WithLabelValues("create").Inc()
	r.log.LogCreate(ctx, map[string]any{"post_id": post.ID, "author_id": post.AuthorID})
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).
		Preload("Author").
		Preload("Category").
		First(&post, id).Error
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// FindFiltered returns one page of posts matching c along with the total
// number of matches.
func (r *postRepository) FindFiltered(ctx context.Context, c filter.Criteria, limit, offset int) ([]*models.Post, int64, error) {
	var total int64
	if err := c.Where(r.db.WithContext(ctx).Model(&models.Post{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	posts := []*models.Post{}
	if total == 0 || int64(offset) >= total {
		return posts, total, nil
	}

	err := c.Order(c.Where(r.db.WithContext(ctx))).
		Preload("Author").
		Preload("Category").
		Limit(limit).
		Offset(offset).
		Find(&posts).Error
	if err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

// Update persists the editable fields of post. created_at and author are
// never rewritten.
func (r *postRepository) Update(ctx context.Context, post *models.Post) error {
	res := r.db.WithContext(ctx).
		Model(&models.Post{ID: post.ID}).
		Omit(clause.Associations).
		Updates(map[string]any{
			"title":       post.Title,
			"content":     post.Content,
			"category_id": post.CategoryID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	observability.PostWrites.WithLabelValues("update").Inc()
	r.log.LogUpdate(ctx, map[string]any{"post_id": post.ID})
	return nil
}

func (r *postRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Post{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	observability.PostWrites.WithLabelValues("delete").Inc()
	r.log.LogDelete(ctx, map[string]any{"post_id": id})
	return nil
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
