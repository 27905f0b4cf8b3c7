package main

import (
	"errors"
	"fmt"
	"time"

	"newsportal/internal/bootstrap"
	"newsportal/internal/config"
	"newsportal/internal/database"
	"newsportal/internal/middleware"
	"newsportal/internal/models"
	"newsportal/internal/repository"
	"newsportal/internal/seed"

	"github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

func rootApp() *cli.App {
	return &cli.App{
		Name:  "newsadmin",
		Usage: "Manage the news portal database and accounts",
		Description: `Reads the same configuration as the server (config.yml and
		environment variables, e.g. DB_DRIVER=sqlite SQLITE_PATH=news.db).`,
		Commands: []*cli.Command{
			migrateCmd(),
			seedCmd(),
			grantAuthorCmd(),
			tokenCmd(),
		},
		Action: func(ctx *cli.Context) error {
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

// withDB loads configuration, connects, runs fn and closes the connection.
// Outside production the connection migrates the schema itself.
func withDB(fn func(cfg *config.Config, db *gorm.DB) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, r, err := bootstrap.InitRuntime(cfg, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer bootstrap.Close(db, r)

	return fn(cfg, db)
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Action: func(ctx *cli.Context) error {
			return withDB(func(cfg *config.Config, db *gorm.DB) error {
				if cfg.IsProduction() {
					if err := database.Migrate(db); err != nil {
						return err
					}
				}
				fmt.Println("Migrations applied")
				return nil
			})
		},
	}
}

func seedCmd() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Populate the database with demo categories, users and posts",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "authors", Value: 3, Usage: "number of author accounts"},
			&cli.IntFlag{Name: "readers", Value: 10, Usage: "number of reader accounts"},
			&cli.IntFlag{Name: "posts", Value: 50, Usage: "number of posts"},
			&cli.StringFlag{Name: "password", Value: "password", Usage: "password for every seeded account", EnvVars: []string{"SEED_PASSWORD"}},
			&cli.BoolFlag{Name: "clean", Usage: "delete posts, subscriptions and regular users first"},
		},
		Action: func(ctx *cli.Context) error {
			return withDB(func(cfg *config.Config, db *gorm.DB) error {
				if cfg.IsProduction() {
					return errors.New("refusing to seed a production database")
				}

				res, err := seed.Seed(db, seed.Options{
					NumAuthors:  ctx.Int("authors"),
					NumReaders:  ctx.Int("readers"),
					NumPosts:    ctx.Int("posts"),
					Password:    ctx.String("password"),
					ShouldClean: ctx.Bool("clean"),
				})
				if err != nil {
					return err
				}
				fmt.Printf("Seeded %d categories, %d authors, %d readers, %d posts\n",
					res.Categories, res.Authors, res.Readers, res.Posts)
				return nil
			})
		},
	}
}

func grantAuthorCmd() *cli.Command {
	return &cli.Command{
		Name:      "grant-author",
		Usage:     "Add a user to the author group",
		ArgsUsage: "<username>",
		Action: func(ctx *cli.Context) error {
			username := ctx.Args().First()
			if username == "" {
				return cli.Exit("username is required", 1)
			}

			return withDB(func(_ *config.Config, db *gorm.DB) error {
				if _, err := seed.EnsureAuthorGroup(db); err != nil {
					return err
				}

				users := repository.NewUserRepository(db)
				user, err := users.GetByUsername(ctx.Context, username)
				if err != nil {
					if repository.IsNotFound(err) {
						return cli.Exit(fmt.Sprintf("user %q not found", username), 1)
					}
					return err
				}
				if err := users.AddToGroup(ctx.Context, user.ID, models.AuthorGroup); err != nil {
					return err
				}
				fmt.Printf("%s (ID: %d) is now an author\n", user.Username, user.ID)
				return nil
			})
		},
	}
}

func tokenCmd() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "Mint an access token for a user, for local testing",
		ArgsUsage: "<username>",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "token lifetime"},
		},
		Action: func(ctx *cli.Context) error {
			username := ctx.Args().First()
			if username == "" {
				return cli.Exit("username is required", 1)
			}

			return withDB(func(cfg *config.Config, db *gorm.DB) error {
				user, err := repository.NewUserRepository(db).GetByUsername(ctx.Context, username)
				if err != nil {
					if repository.IsNotFound(err) {
						return cli.Exit(fmt.Sprintf("user %q not found", username), 1)
					}
					return err
				}

				token, err := middleware.SignToken(cfg, user.ID, ctx.Duration("ttl"))
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
}
