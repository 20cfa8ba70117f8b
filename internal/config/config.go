package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything the directory UI reads from the environment.
type Config struct {
	ListenAddr string `env:"DIRECTORY_UI_LISTEN_ADDR" envDefault:":8100"`

	BackendURL       string        `env:"USERS_BACKEND_URL"`
	UsersFixturePath string        `env:"USERS_FIXTURE_PATH"`
	FetchTimeout     time.Duration `env:"USERS_FETCH_TIMEOUT" envDefault:"10s"`

	SessionSecret string `env:"SESSION_SECRET"`
	SecureCookies bool   `env:"SECURE_COOKIES" envDefault:"false"`

	Auth0Domain       string `env:"AUTH0_DOMAIN"`
	Auth0ClientID     string `env:"AUTH0_CLIENT_ID"`
	Auth0ClientSecret string `env:"AUTH0_CLIENT_SECRET"`
	Auth0RedirectURI  string `env:"AUTH0_REDIRECT_URI"`

	// DevIdentityEmail replaces the OIDC login with a fixed identity.
	DevIdentityEmail string `env:"DEV_IDENTITY_EMAIL"`

	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`
	ViewIdleTimeout time.Duration `env:"VIEW_IDLE_TIMEOUT" envDefault:"30m"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the process environment and validates the result.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.trim()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) trim() {
	for _, field := range []*string{
		&c.BackendURL, &c.UsersFixturePath, &c.SessionSecret,
		&c.Auth0Domain, &c.Auth0ClientID, &c.Auth0ClientSecret, &c.Auth0RedirectURI,
		&c.DevIdentityEmail,
	} {
		*field = strings.TrimSpace(*field)
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// Validate reports the first missing or inconsistent setting.
func (c Config) Validate() error {
	if len(c.SessionSecret) < 32 {
		return errors.New("config: SESSION_SECRET is required and must be at least 32 bytes")
	}
	if c.BackendURL == "" && c.UsersFixturePath == "" {
		return errors.New("config: USERS_BACKEND_URL or USERS_FIXTURE_PATH is required")
	}
	if c.DevIdentityEmail == "" && !c.OIDCEnabled() {
		return errors.New("config: AUTH0_DOMAIN, AUTH0_CLIENT_ID, AUTH0_CLIENT_SECRET, AUTH0_REDIRECT_URI are required unless DEV_IDENTITY_EMAIL is set")
	}
	if c.FetchTimeout < 0 || c.HTTPTimeout <= 0 || c.ViewIdleTimeout <= 0 {
		return errors.New("config: timeouts must be positive")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// OIDCEnabled reports whether every Auth0 login setting is present.
func (c Config) OIDCEnabled() bool {
	return c.Auth0Domain != "" && c.Auth0ClientID != "" && c.Auth0ClientSecret != "" && c.Auth0RedirectURI != ""
}
