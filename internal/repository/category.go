package repository

import (
	"context"

	"newsportal/internal/models"
	"newsportal/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CategoryRepository defines category and subscription data operations.
type CategoryRepository interface {
	List(ctx context.Context) ([]models.Category, error)
	GetByID(ctx context.Context, id uint) (*models.Category, error)
	Exists(ctx context.Context, id uint) (bool, error)
	Create(ctx context.Context, category *models.Category) error
	SubscribedCategoryIDs(ctx context.Context, userID uint) ([]uint, error)
	ToggleSubscription(ctx context.Context, categoryID, userID uint) (bool, error)
}

type categoryRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewCategoryRepository creates a new category repository
func NewCategoryRepository(db *gorm.DB) CategoryRepository {
	return &categoryRepository{db: db, log: observability.NewRepoLogger("category_subscriptions")}
}

func (r *categoryRepository) List(ctx context.Context) ([]models.Category, error) {
	categories := []models.Category{}
	err := r.db.WithContext(ctx).Order("name ASC, id ASC").Find(&categories).Error
	return categories, err
}

func (r *categoryRepository) GetByID(ctx context.Context, id uint) (*models.Category, error) {
	var category models.Category
	if err := r.db.WithContext(ctx).First(&category, id).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

func (r *categoryRepository) Exists(ctx context.Context, id uint) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Category{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

func (r *categoryRepository) Create(ctx context.Context, category *models.Category) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(category).Error
}

func (r *categoryRepository) SubscribedCategoryIDs(ctx context.Context, userID uint) ([]uint, error) {
	ids := []uint{}
	if userID == 0 {
		return ids, nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("user_id = ?", userID).
		Order("category_id ASC").
		Pluck("category_id", &ids).Error
	return ids, err
}

// ToggleSubscription flips the user's membership in the category's
// subscriber set and returns the resulting state. The check and the write run
// in one transaction; on PostgreSQL the category row is locked so concurrent
// toggles by the same user serialize.
func (r *categoryRepository) ToggleSubscription(ctx context.Context, categoryID, userID uint) (bool, error) {
	var subscribed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var category models.Category
		if err := q.First(&category, categoryID).Error; err != nil {
			return err
		}

		res := tx.Where("category_id = ? AND user_id = ?", categoryID, userID).Delete(&models.Subscription{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			subscribed = false
			return nil
		}

		subscribed = true
		return tx.Create(&models.Subscription{CategoryID: categoryID, UserID: userID}).Error
	})
	if err != nil {
		return false, err
	}

	r.log.LogUpdate(ctx, map[string]any{"category_id": categoryID, "user_id": userID, "subscribed": subscribed})
	return subscribed, nil
}
