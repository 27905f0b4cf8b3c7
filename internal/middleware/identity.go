// Package middleware provides identity, logging, tracing and throttling
// middleware for the HTTP server.
package middleware

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"newsportal/internal/config"
	"newsportal/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenCookie is read when no Authorization header is present.
const AccessTokenCookie = "access_token"

var (
	errMissingSubject = errors.New("token has no subject")
	errBadSubject     = errors.New("token subject is not a user id")
)

// Identity resolves the optional bearer token issued by the external auth
// service and stores the user id in c.Locals("userID"). Requests without a
// usable token continue anonymously; the handlers decide whether identity
// is required.
func Identity(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := bearerToken(c)
		if raw == "" {
			return c.Next()
		}

		userID, err := ParseToken(cfg, raw)
		if err != nil {
			observability.Logger.DebugContext(c.UserContext(), "ignoring invalid access token",
				slog.String("error", err.Error()))
			return c.Next()
		}

		c.Locals("userID", userID)
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.Cookies(AccessTokenCookie)
}

// ParseToken validates an HS256 token and returns the user id from its
// "sub" claim. Issuer and audience are checked when configured.
func ParseToken(cfg *config.Config, raw string) (uint, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
	}
	if cfg.JWTAudience != "" {
		opts = append(opts, jwt.WithAudience(cfg.JWTAudience))
	}

	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return 0, err
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return 0, err
	}
	if sub == "" {
		return 0, errMissingSubject
	}
	id, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || id == 0 {
		return 0, errBadSubject
	}
	return uint(id), nil
}

// SignToken mints a token the way the auth service does. It backs the
// admin CLI and tests.
func SignToken(cfg *config.Config, userID uint, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if cfg.JWTIssuer != "" {
		claims["iss"] = cfg.JWTIssuer
	}
	if cfg.JWTAudience != "" {
		claims["aud"] = cfg.JWTAudience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}
