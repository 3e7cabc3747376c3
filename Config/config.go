// Package config loads runtime settings from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	BaseServices "github.com/venomous-maker/mongo-eloquent/Engine/Mongo/Base"
)

// Config is the process-wide configuration.
type Config struct {
	MongoURI       string        `env:"MONGO_URI"                 envDefault:"mongodb://localhost:27017"`
	MongoDatabase  string        `env:"MONGO_DATABASE"`
	ConnectTimeout time.Duration `env:"ELOQUENT_CONNECT_TIMEOUT"  envDefault:"10s"`

	LogLevel string        `env:"ELOQUENT_LOG_LEVEL" envDefault:"info"`
	CacheTTL time.Duration `env:"ELOQUENT_CACHE_TTL" envDefault:"0s"`

	DeletedField   string `env:"ELOQUENT_DELETED_FIELD"    envDefault:"is_deleted"`
	DeletedAtField string `env:"ELOQUENT_DELETED_AT_FIELD" envDefault:"deleted_at"`
	CreatedAtField string `env:"ELOQUENT_CREATED_AT_FIELD" envDefault:"created_at"`
	UpdatedAtField string `env:"ELOQUENT_UPDATED_AT_FIELD" envDefault:"updated_at"`

	HTTPAddr string `env:"ELOQUENT_HTTP_ADDR" envDefault:":8080"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	if cfg.CacheTTL < 0 {
		return Config{}, errors.Errorf("parse env: ELOQUENT_CACHE_TTL must not be negative, got %s", cfg.CacheTTL)
	}
	return cfg, nil
}

// Defaults returns the schema defaults the manager applies to every model.
func (c Config) Defaults() BaseServices.SchemaDefaults {
	d := BaseServices.DefaultSchemaDefaults()
	if c.DeletedField != "" {
		d.DeletedField = c.DeletedField
	}
	if c.DeletedAtField != "" {
		d.DeletedAtField = c.DeletedAtField
	}
	if c.CreatedAtField != "" {
		d.CreatedAtField = c.CreatedAtField
	}
	if c.UpdatedAtField != "" {
		d.UpdatedAtField = c.UpdatedAtField
	}
	d.CacheTTL = c.CacheTTL
	return d
}

// NewLogger builds a production zap logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger, nil
}
