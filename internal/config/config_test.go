package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:        "development",
		JWTSecret:  "secure-secret-at-least-32-chars-long",
		DBPassword: "secure-password",
		DBSSLMode:  "require",
		DBDriver:   "postgres",
		Port:       "8000",
		PageSize:   10,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"Development defaults", func(c *Config) {}, false},
		{"Missing port", func(c *Config) { c.Port = "" }, true},
		{"Missing secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"Unknown driver", func(c *Config) { c.DBDriver = "mysql" }, true},
		{"Zero page size", func(c *Config) { c.PageSize = 0 }, true},
		{"Negative list cache", func(c *Config) { c.ListCacheSeconds = -1 }, true},
		{"Production with default secret", func(c *Config) {
			c.Env = "production"
			c.JWTSecret = defaultJWTSecret
		}, true},
		{"Production with disabled SSL", func(c *Config) {
			c.Env = "production"
			c.DBSSLMode = "disable"
		}, true},
		{"Production with sqlite", func(c *Config) {
			c.Env = "prod"
			c.DBDriver = "sqlite"
		}, true},
		{"Production fully configured", func(c *Config) { c.Env = "production" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ListRoot(t *testing.T) {
	c := &Config{NewsBasePath: "news/"}
	c.normalize()
	assert.Equal(t, "/news", c.NewsBasePath)
	assert.Equal(t, "/news/", c.ListRoot())

	c = &Config{NewsBasePath: "/"}
	c.normalize()
	assert.Equal(t, "/", c.ListRoot())
}

func TestLoadConfig_Defaults(t *testing.T) {
	defer os.Unsetenv("APP_ENV")
	defer os.Unsetenv("DB_SSLMODE")
	defer viper.Reset()

	os.Setenv("APP_ENV", "development")
	os.Setenv("DB_SSLMODE", "  DISABLE  ")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, 10, c.PageSize)
	assert.Equal(t, 300, c.ListCacheSeconds)
	assert.Equal(t, "/news", c.NewsBasePath)
	assert.True(t, c.CacheInvalidateOnWrite)
}
