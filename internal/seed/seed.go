// Package seed populates a development database with categories, users and
// posts.
package seed

import (
	"fmt"
	"log"
	"time"

	"newsportal/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultCategories are created on every run.
var DefaultCategories = []string{"Politics", "Sport", "Tech", "Culture", "Economy"}

// Options configuration for the seeder
type Options struct {
	NumAuthors  int
	NumReaders  int
	NumPosts    int
	Password    string
	BcryptCost  int
	MaxDays     int
	RandSeed    int64
	ShouldClean bool
}

// Result counts what a run created.
type Result struct {
	Categories int
	Authors    int
	Readers    int
	Posts      int
}

// EnsureAuthorGroup creates the post permissions and the author group that
// holds them. It is idempotent.
func EnsureAuthorGroup(db *gorm.DB) (*models.Group, error) {
	var group models.Group
	err := db.Transaction(func(tx *gorm.DB) error {
		perms := make([]models.Permission, 0, 3)
		for _, code := range []string{models.PermAddPost, models.PermChangePost, models.PermDeletePost} {
			p := models.Permission{Codename: code, Name: code}
			if err := tx.Where(models.Permission{Codename: code}).FirstOrCreate(&p).Error; err != nil {
				return fmt.Errorf("permission %s: %w", code, err)
			}
			perms = append(perms, p)
		}

		group = models.Group{Name: models.AuthorGroup}
		if err := tx.Where(models.Group{Name: models.AuthorGroup}).FirstOrCreate(&group).Error; err != nil {
			return fmt.Errorf("author group: %w", err)
		}
		return tx.Model(&group).Association("Permissions").Replace(perms)
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// Seed populates the database with demo data
func Seed(db *gorm.DB, opts Options) (*Result, error) {
	if opts.Password == "" {
		opts.Password = "password"
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 30
	}
	if opts.RandSeed == 0 {
		opts.RandSeed = time.Now().UnixNano()
	}
	faker := gofakeit.New(opts.RandSeed)

	log.Printf("Seeding %d authors, %d readers and %d posts", opts.NumAuthors, opts.NumReaders, opts.NumPosts)

	if opts.ShouldClean {
		if err := clearData(db); err != nil {
			return nil, fmt.Errorf("failed to clear data: %w", err)
		}
	}

	group, err := EnsureAuthorGroup(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create author group: %w", err)
	}

	categories, err := createCategories(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create categories: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	authors, err := createUsers(db, faker, "author", opts.NumAuthors, string(hash), group)
	if err != nil {
		return nil, fmt.Errorf("failed to create authors: %w", err)
	}
	readers, err := createUsers(db, faker, "reader", opts.NumReaders, string(hash), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create readers: %w", err)
	}

	posts := 0
	if len(authors) > 0 {
		if posts, err = createPosts(db, faker, authors, categories, opts); err != nil {
			return nil, fmt.Errorf("failed to create posts: %w", err)
		}
	}

	res := &Result{
		Categories: len(categories),
		Authors:    len(authors),
		Readers:    len(readers),
		Posts:      posts,
	}
	log.Printf("✓ seeded %d categories, %d authors, %d readers, %d posts",
		res.Categories, res.Authors, res.Readers, res.Posts)
	return res, nil
}

// clearData removes posts, subscriptions and non-superuser accounts. It uses
// plain deletes so it works on both postgres and sqlite.
func clearData(db *gorm.DB) error {
	log.Println("Clearing existing data...")
	return db.Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := all.Delete(&models.Post{}).Error; err != nil {
			return err
		}
		if err := all.Delete(&models.Subscription{}).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM auth_user_groups WHERE user_id IN (SELECT id FROM users WHERE is_superuser = ?)", false).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM auth_user_permissions WHERE user_id IN (SELECT id FROM users WHERE is_superuser = ?)", false).Error; err != nil {
			return err
		}
		return tx.Where("is_superuser = ?", false).Delete(&models.User{}).Error
	})
}

func createCategories(db *gorm.DB) ([]models.Category, error) {
	categories := make([]models.Category, 0, len(DefaultCategories))
	for _, name := range DefaultCategories {
		c := models.Category{Name: name}
		if err := db.Where(models.Category{Name: name}).FirstOrCreate(&c).Error; err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, nil
}

func createUsers(db *gorm.DB, faker *gofakeit.Faker, role string, n int, hash string, group *models.Group) ([]models.User, error) {
	users := make([]models.User, 0, n)
	for i := 0; i < n; i++ {
		// The suffix keeps usernames unique across runs and collisions.
		username := fmt.Sprintf("%s_%s_%d", role, faker.Username(), faker.Number(1000, 9999))
		u := models.User{
			Username: username,
			Email:    faker.Email(),
			Password: hash,
		}
		if err := db.Omit("Groups", "Permissions").Create(&u).Error; err != nil {
			return nil, err
		}
		if group != nil {
			if err := db.Model(&u).Association("Groups").Append(group); err != nil {
				return nil, err
			}
		}
		users = append(users, u)
	}
	return users, nil
}

func createPosts(db *gorm.DB, faker *gofakeit.Faker, authors []models.User, categories []models.Category, opts Options) (int, error) {
	posts := make([]models.Post, 0, opts.NumPosts)
	now := time.Now()
	for i := 0; i < opts.NumPosts; i++ {
		title := faker.Sentence(faker.Number(3, 8))
		if len(title) > 128 {
			title = title[:128]
		}
		age := time.Duration(faker.Number(0, opts.MaxDays*24*60)) * time.Minute
		posts = append(posts, models.Post{
			Title:      title,
			Content:    faker.Paragraph(2, 4, 12, "\n\n"),
			AuthorID:   authors[faker.Number(0, len(authors)-1)].ID,
			CategoryID: categories[faker.Number(0, len(categories)-1)].ID,
			CreatedAt:  now.Add(-age),
		})
	}
	if len(posts) == 0 {
		return 0, nil
	}
	if err := db.Omit("Author", "Category").CreateInBatches(&posts, 100).Error; err != nil {
		return 0, err
	}
	return len(posts), nil
}
