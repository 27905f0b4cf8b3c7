// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"testing"

	"newsportal/internal/database"
	"newsportal/internal/models"
	"newsportal/internal/seed"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in-memory SQLite database with the full schema.
// The pool is capped at one connection so every query sees the same memory
// database.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// CreateCategory inserts a category.
func CreateCategory(t testing.TB, db *gorm.DB, name string) *models.Category {
	t.Helper()
	c := &models.Category{Name: name}
	require.NoError(t, db.Create(c).Error)
	return c
}

// CreateUser inserts a plain user with no permissions.
func CreateUser(t testing.TB, db *gorm.DB, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Email: username + "@example.com"}
	require.NoError(t, db.Create(u).Error)
	return u
}

// CreateAuthor inserts a user in the author group, which holds the add,
// change and delete post permissions.
func CreateAuthor(t testing.TB, db *gorm.DB, username string) *models.User {
	t.Helper()

	group := AuthorGroup(t, db)
	u := CreateUser(t, db, username)
	require.NoError(t, db.Model(u).Association("Groups").Append(group))
	return u
}

// AuthorGroup returns the author group, creating it and its permissions on
// first use.
func AuthorGroup(t testing.TB, db *gorm.DB) *models.Group {
	t.Helper()
	group, err := seed.EnsureAuthorGroup(db)
	require.NoError(t, err)
	return group
}

// CreatePost inserts a post by author in category.
func CreatePost(t testing.TB, db *gorm.DB, author *models.User, category *models.Category, title string) *models.Post {
	t.Helper()
	p := &models.Post{
		Title:      title,
		Content:    "Content of " + title,
		AuthorID:   author.ID,
		CategoryID: category.ID,
	}
	require.NoError(t, db.Omit("Author", "Category").Create(p).Error)
	return p
}
