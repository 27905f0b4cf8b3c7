// Package server contains the HTTP handlers and wiring for the news portal.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"newsportal/internal/authz"
	"newsportal/internal/bootstrap"
	"newsportal/internal/cache"
	"newsportal/internal/config"
	"newsportal/internal/featureflags"
	"newsportal/internal/middleware"
	"newsportal/internal/models"
	"newsportal/internal/observability"
	"newsportal/internal/repository"
	"newsportal/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	fibercache "github.com/gofiber/fiber/v2/middleware/cache"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	featureFlags   *featureflags.Manager
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	userRepo       repository.UserRepository
	postRepo       repository.PostRepository
	categoryRepo   repository.CategoryRepository
	newsService    *service.NewsService
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	// A nil redis client runs the service without the post cache.
	db, redisClient, err := bootstrap.InitRuntime(cfg, bootstrap.Options{
		ConnectRedis: true,
		DevAuthor:    true,
	})
	if err != nil {
		return nil, err
	}

	return NewServerWithDeps(cfg, db, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		promMiddleware: observability.InitHTTPMetrics("newsportal"),
		userRepo:       repository.NewUserRepository(db),
		postRepo:       repository.NewPostRepository(db),
		categoryRepo:   repository.NewCategoryRepository(db),
	}
	s.newsService = service.NewNewsService(
		s.postRepo,
		s.categoryRepo,
		authz.NewAuthorizer(s.userRepo),
		cache.New(redisClient),
		service.Options{
			PageSize:          cfg.PageSize,
			InvalidateOnWrite: cfg.CacheInvalidateOnWrite,
			Flags:             s.featureFlags,
		},
	)
	return s, nil
}

// NewApp builds a Fiber app with the full middleware chain and routes.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "News Portal",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return models.RespondWithError(c, fe.Code, err)
			}
			observability.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})

	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())

	app.Use(requestid.New(requestid.Config{
		Generator: observability.GenerateCorrelationID,
	}))

	app.Use(middleware.TracingMiddleware())

	// Identity must run before the context middleware so user_id reaches the logger.
	app.Use(middleware.Identity(s.config))
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}

	app.Use(helmet.New())

	app.Use(middleware.StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:3000,http://127.0.0.1:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Referer",
		ExposeHeaders:    "X-Subscribed, X-Cache, X-Trace-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/feature-flags", s.GetFeatureFlags)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	writes := middleware.WriteRateLimit(s.redis, 30, time.Minute, "news-writes")

	news := app.Group(s.config.NewsBasePath)
	news.Get("/", s.listCache(), s.ListPosts)
	news.Post("/", writes, s.ListPosts)
	news.Get("/search/", s.SearchPosts)
	news.Get("/add/", s.NewPostForm)
	news.Post("/add/", writes, s.CreatePost)
	news.Post("/subscription/", writes, s.ToggleSubscription)
	news.Get("/:id<int>", s.GetPost)
	news.Get("/:id<int>/edit/", s.EditPostForm)
	news.Post("/:id<int>/edit/", writes, s.UpdatePost)
	news.Get("/:id<int>/delete/", s.DeletePostConfirm)
	news.Post("/:id<int>/delete/", writes, s.DeletePost)
}

// listCache caches the rendered list page per URL and requester, since the
// page embeds requester-specific flags.
func (s *Server) listCache() fiber.Handler {
	return fibercache.New(fibercache.Config{
		Expiration:  time.Duration(s.config.ListCacheSeconds) * time.Second,
		CacheHeader: "X-Cache",
		Next: func(c *fiber.Ctx) bool {
			return s.config.ListCacheSeconds <= 0
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			requester := "anon"
			if uid, ok := c.Locals("userID").(uint); ok {
				requester = fmt.Sprintf("user:%d", uid)
			}
			return c.OriginalURL() + "|" + requester
		},
	})
}

// LivenessCheck handles liveness check requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness check requests. Redis is reported but
// does not gate readiness, since the service degrades to store reads.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start starts the server
func (s *Server) Start() error {
	s.app = s.NewApp()

	observability.Logger.Info("Server starting",
		slog.String("port", s.config.Port),
		slog.String("base_path", s.config.ListRoot()))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			observability.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	bootstrap.Close(s.db, s.redis)

	observability.Logger.Info("Server shutdown complete")
	return nil
}
