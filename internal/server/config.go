package server

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds the configuration of the HTTP server.
type Config struct {
	Host string `yaml:"host"`

	HTTPPort         int           `yaml:"http_port"`
	HTTPReadTimeout  time.Duration `yaml:"http_read_timeout"`
	HTTPWriteTimeout time.Duration `yaml:"http_write_timeout"`
	HTTPIdleTimeout  time.Duration `yaml:"http_idle_timeout"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig enables bearer token authentication when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// Enabled reports whether requests must carry a token.
func (c AuthConfig) Enabled() bool {
	return c.JWTSecret != ""
}

// DefaultConfig returns safe defaults for development.
func DefaultConfig() Config {
	return Config{
		Host:             "localhost",
		HTTPPort:         8080,
		HTTPReadTimeout:  10 * time.Second,
		HTTPWriteTimeout: 30 * time.Second,
		HTTPIdleTimeout:  60 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = defaults.HTTPPort
	}
	if c.HTTPReadTimeout == 0 {
		c.HTTPReadTimeout = defaults.HTTPReadTimeout
	}
	if c.HTTPWriteTimeout == 0 {
		c.HTTPWriteTimeout = defaults.HTTPWriteTimeout
	}
	if c.HTTPIdleTimeout == 0 {
		c.HTTPIdleTimeout = defaults.HTTPIdleTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
}

// ApplyEnvOverrides reads BOXBASE_HOST, BOXBASE_HTTP_PORT and
// BOXBASE_JWT_SECRET.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("BOXBASE_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("BOXBASE_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTPPort = port
		}
	}
	if v := os.Getenv("BOXBASE_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

// ResolvePaths is a no-op: the server config has no paths.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return errors.New("server.http_port must be between 0 and 65535")
	}
	if c.Auth.Enabled() && len(c.Auth.JWTSecret) < 32 {
		return errors.New("server.auth.jwt_secret must be at least 32 bytes")
	}
	return nil
}
