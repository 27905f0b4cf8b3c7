package repository

import (
	"context"

	"newsportal/internal/models"

	"gorm.io/gorm"
)

// UserRepository reads identities and their capabilities. Users are owned by
// the external auth service; AddToGroup exists for admin tooling.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	HasPermission(ctx context.Context, userID uint, codename string) (bool, error)
	InGroup(ctx context.Context, userID uint, group string) (bool, error)
	AddToGroup(ctx context.Context, userID uint, group string) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// HasPermission reports whether the permission is granted to the user
// directly or through any of the user's groups.
func (r *userRepository) HasPermission(ctx context.Context, userID uint, codename string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Permission{}).
		Where("auth_permissions.codename = ?", codename).
		Where(
			r.db.Where("auth_permissions.id IN (?)",
				r.db.Table("auth_user_permissions").Select("permission_id").Where("user_id = ?", userID),
			).Or("auth_permissions.id IN (?)",
				r.db.Table("auth_group_permissions").
					Select("auth_group_permissions.permission_id").
					Joins("JOIN auth_user_groups ON auth_user_groups.group_id = auth_group_permissions.group_id").
					Where("auth_user_groups.user_id = ?", userID),
			),
		).
		Count(&n).Error
	return n > 0, err
}

func (r *userRepository) InGroup(ctx context.Context, userID uint, group string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Table("auth_user_groups").
		Joins("JOIN auth_groups ON auth_groups.id = auth_user_groups.group_id").
		Where("auth_user_groups.user_id = ? AND auth_groups.name = ?", userID, group).
		Count(&n).Error
	return n > 0, err
}

// AddToGroup adds the user to the named group, creating the group if needed.
func (r *userRepository) AddToGroup(ctx context.Context, userID uint, group string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			return err
		}
		g := models.Group{Name: group}
		if err := tx.Where(models.Group{Name: group}).FirstOrCreate(&g).Error; err != nil {
			return err
		}
		return tx.Model(&user).Association("Groups").Append(&g)
	})
}
