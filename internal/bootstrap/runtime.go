// Package bootstrap assembles the runtime dependencies shared by the server
// and the admin CLI.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"newsportal/internal/cache"
	"newsportal/internal/config"
	"newsportal/internal/database"
	"newsportal/internal/models"
	"newsportal/internal/observability"
	"newsportal/internal/seed"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// ConnectRedis dials REDIS_URL. The returned client is nil when it is
	// unset here or Redis is unreachable.
	ConnectRedis bool
	// DevAuthor ensures the DEV_AUTHOR_* account when enabled in config.
	DevAuthor bool
}

// InitRuntime connects to the database and, optionally, Redis, then runs the
// development author bootstrap.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	var r *redis.Client
	if opts.ConnectRedis {
		r = cache.Connect(cfg.RedisURL)
	}

	if opts.DevAuthor {
		if err := ensureDevAuthor(cfg, db); err != nil {
			Close(db, r)
			return nil, nil, fmt.Errorf("failed to bootstrap development author: %w", err)
		}
	}

	return db, r, nil
}

// Close releases what InitRuntime opened. Either argument may be nil.
func Close(db *gorm.DB, r *redis.Client) {
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			if cerr := sqlDB.Close(); cerr != nil {
				observability.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
			}
		}
	}
	if r != nil {
		if err := r.Close(); err != nil {
			observability.Logger.Error("error closing redis", slog.String("error", err.Error()))
		}
	}
}

// ensureDevAuthor creates or promotes the development author: a superuser
// in the author group. It only runs in the development profile.
func ensureDevAuthor(cfg *config.Config, db *gorm.DB) error {
	if cfg == nil || db == nil {
		return nil
	}
	if !strings.EqualFold(cfg.Env, "development") || !cfg.DevBootstrapAuthor {
		return nil
	}

	username := strings.TrimSpace(cfg.DevAuthorUsername)
	if username == "" {
		username = "news_author"
	}
	email := strings.ToLower(strings.TrimSpace(cfg.DevAuthorEmail))
	if cfg.DevAuthorPassword == "" {
		return errors.New("DEV_AUTHOR_PASSWORD must be set when DEV_BOOTSTRAP_AUTHOR is enabled")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(cfg.DevAuthorPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash author password: %w", err)
	}

	group, err := seed.EnsureAuthorGroup(db)
	if err != nil {
		return err
	}

	var author models.User
	err = db.Transaction(func(tx *gorm.DB) error {
		findErr := tx.Where("username = ?", username).First(&author).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			author = models.User{
				Username:    username,
				Email:       email,
				Password:    string(hashed),
				IsSuperuser: true,
			}
			if err := tx.Omit("Groups", "Permissions").Create(&author).Error; err != nil {
				return err
			}
		case findErr != nil:
			return findErr
		default:
			if err := tx.Model(&author).Update("is_superuser", true).Error; err != nil {
				return err
			}
		}
		return tx.Model(&author).Association("Groups").Append(group)
	})
	if err != nil {
		return err
	}

	observability.Logger.Info("development author bootstrap ensured",
		slog.String("username", username), slog.Uint64("user_id", uint64(author.ID)))
	return nil
}
