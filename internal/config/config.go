// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
	"github.com/unclebandit/drip-service/internal/pkg/logger"
)

type CreateSend struct {
	APIKey            string `env:"API_KEY"`
	ClientID          string `env:"CLIENT_ID"`
	ListID            string `env:"LIST_ID"`
	ConfirmationEmail string `env:"CONFIRMATION_EMAIL"`
	BaseURL           string `env:"BASE_URL" envDefault:"https://api.createsend.com/api/v3.3"`
}

type Database struct {
	User     string `env:"USER" envDefault:"postgres"`
	Password string `env:"PASSWORD"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     string `env:"PORT" envDefault:"5432"`
	Name     string `env:"NAME" envDefault:"drips"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
}

type SES struct {
	Region          string `env:"REGION" envDefault:"us-east-1"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	Endpoint        string `env:"ENDPOINT"`
	Disabled        bool   `env:"DISABLED"`
}

type Site struct {
	Name string `env:"NAME" envDefault:"Drip"`
	URL  string `env:"URL" envDefault:"http://localhost:8080"`
}

type Config struct {
	UseCreateSend   bool          `env:"DRIP_USE_CREATESEND" envDefault:"false"`
	FromEmail       string        `env:"DRIP_FROM_EMAIL" envDefault:"drips@localhost"`
	TickInterval    time.Duration `env:"DRIP_TICK_INTERVAL" envDefault:"1h"`
	LockTTL         time.Duration `env:"DRIP_LOCK_TTL" envDefault:"30m"`
	DefinitionsFile string        `env:"DRIP_DEFINITIONS" envDefault:"db/drips.yaml"`

	CreateSend CreateSend `envPrefix:"CREATESEND_"`

	DatabaseURL string   `env:"DATABASE_URL"`
	DB          Database `envPrefix:"DB_"`

	AMQPURL   string `env:"AMQP_URL"`
	RedisAddr string `env:"REDIS_ADDR"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`

	SES  SES  `envPrefix:"AWS_SES_"`
	Site Site `envPrefix:"SITE_"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env when present, then the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
		logger.Warn("no .env file found, relying on OS environment variables")
	}
	return Parse()
}

// Parse builds a Config from the current environment.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the runner cannot work with. Marketing API
// credentials are only required when that path is switched on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.FromEmail) == "" {
		return appErrors.NewConfigurationError("DRIP_FROM_EMAIL", "must not be empty")
	}
	if c.TickInterval <= 0 {
		return appErrors.NewConfigurationError("DRIP_TICK_INTERVAL", "must be positive")
	}
	if c.UseCreateSend {
		var missing []string
		for name, v := range map[string]string{
			"CREATESEND_API_KEY":            c.CreateSend.APIKey,
			"CREATESEND_CLIENT_ID":          c.CreateSend.ClientID,
			"CREATESEND_LIST_ID":            c.CreateSend.ListID,
			"CREATESEND_CONFIRMATION_EMAIL": c.CreateSend.ConfirmationEmail,
		} {
			if strings.TrimSpace(v) == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			return appErrors.NewConfigurationError("DRIP_USE_CREATESEND", "missing "+strings.Join(missing, ", "))
		}
	}
	return nil
}

// DSN prefers DATABASE_URL and otherwise assembles one from the DB_* parts.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     c.DB.Host + ":" + c.DB.Port,
		Path:     "/" + c.DB.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.DB.SSLMode),
	}
	return u.String()
}

// Settings is the "settings" object exposed to drip templates.
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"site_name":  c.Site.Name,
		"site_url":   c.Site.URL,
		"from_email": c.FromEmail,
	}
}
