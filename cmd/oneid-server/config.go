package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	oi "github.com/panyam/oneid"
)

// Store backends selectable with STORE_BACKEND
const (
	BackendFS        = "fs"
	BackendGorm      = "gorm"
	BackendMongo     = "mongo"
	BackendDatastore = "datastore"
)

// Config is the server configuration, read from the environment.
type Config struct {
	Environment string `env:"NODE_ENV" envDefault:"development"`
	Port        int    `env:"SERVER_PORT" envDefault:"8080"`

	JWTSecret     string        `env:"JWT_SECRET,required"`
	JWTIssuer     string        `env:"JWT_ISSUER" envDefault:"oneid"`
	ActivationTTL time.Duration `env:"ACTIVATION_TTL" envDefault:"24h"`
	ActivationURL string        `env:"ACTIVATION_URL" envDefault:"http://localhost:8080/auth/register/verify"`
	LoginPageURL  string        `env:"LOGIN_PAGE_URL"`

	StoreBackend       string `env:"STORE_BACKEND" envDefault:"fs"`
	FSStoragePath      string `env:"FS_STORAGE_PATH" envDefault:"./data"`
	DatabaseDSN        string `env:"DATABASE_DSN"`
	MongoURI           string `env:"MONGO_URI"`
	MongoDatabase      string `env:"MONGO_DATABASE" envDefault:"oneid"`
	DatastoreProject   string `env:"DATASTORE_PROJECT"`
	DatastoreNamespace string `env:"DATASTORE_NAMESPACE"`
	RedisURI           string `env:"REDIS_URI"`

	GoogleWebClientID     string `env:"GOOGLE_WEB_CLIENT_ID"`
	GoogleIOSClientID     string `env:"GOOGLE_IOS_CLIENT_ID"`
	GoogleAndroidClientID string `env:"GOOGLE_ANDROID_CLIENT_ID"`
	GoogleWebClientSecret string `env:"GOOGLE_WEB_CLIENT_SECRET"`
	GoogleRedirectURL     string `env:"GOOGLE_REDIRECT_URL" envDefault:"http://localhost:8080/auth/google/web/callback/"`
}

// LoadConfig parses the configuration from environ, or from the process
// environment when environ is nil.
func LoadConfig(environ map[string]string) (*Config, error) {
	var cfg Config
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected backend has what it needs.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendFS:
		if c.FSStoragePath == "" {
			return fmt.Errorf("FS_STORAGE_PATH is required for the fs backend")
		}
	case BackendGorm:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN is required for the gorm backend")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo backend")
		}
	case BackendDatastore:
		if c.DatastoreProject == "" {
			return fmt.Errorf("DATASTORE_PROJECT is required for the datastore backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Audiences maps each platform to its configured Google client id.
func (c *Config) Audiences() oi.Audiences {
	return oi.Audiences{
		oi.PlatformWeb:     c.GoogleWebClientID,
		oi.PlatformIOS:     c.GoogleIOSClientID,
		oi.PlatformAndroid: c.GoogleAndroidClientID,
	}
}

// GoogleEnabled reports whether any Google client is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleWebClientID != "" || c.GoogleIOSClientID != "" || c.GoogleAndroidClientID != ""
}
