// Package config loads application configuration from file and
// environment and initializes the global logger.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Search   SearchConfig   `yaml:"search" mapstructure:"search"`
	Scorer   ScorerConfig   `yaml:"scorer" mapstructure:"scorer"`
	Import   ImportConfig   `yaml:"import" mapstructure:"import"`
	Postcode PostcodeConfig `yaml:"postcode" mapstructure:"postcode"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects and configures the database backend. The driver
// is the backend selection signal: it is read once at startup, never
// branched on per call site.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	SQLitePath  string     `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig tunes the Postgres connection pool.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// SearchConfig bounds result pagination.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit" mapstructure:"default_limit"`
	MaxLimit     int `yaml:"max_limit" mapstructure:"max_limit"`
}

// ScorerConfig holds the default criterion weights. Weights need not
// sum to any particular value; the scorer normalizes.
type ScorerConfig struct {
	DistanceWeight float64 `yaml:"distance_weight" mapstructure:"distance_weight"`
	RatingWeight   float64 `yaml:"rating_weight" mapstructure:"rating_weight"`
	FeeWeight      float64 `yaml:"fee_weight" mapstructure:"fee_weight"`
	ClubsWeight    float64 `yaml:"clubs_weight" mapstructure:"clubs_weight"`
}

// Weights returns the configured weights keyed by criterion name.
func (c ScorerConfig) Weights() map[string]float64 {
	return map[string]float64{
		"distance": c.DistanceWeight,
		"rating":   c.RatingWeight,
		"fee":      c.FeeWeight,
		"clubs":    c.ClubsWeight,
	}
}

// ValidateScorerConfig checks the configured weights are usable.
func ValidateScorerConfig(c ScorerConfig) error {
	var errs []string

	var sum float64
	for name, w := range map[string]float64{
		"distance_weight": c.DistanceWeight,
		"rating_weight":   c.RatingWeight,
		"fee_weight":      c.FeeWeight,
		"clubs_weight":    c.ClubsWeight,
	} {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
		sum += w
	}
	if sum <= 0 {
		errs = append(errs, "weight sum must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: scorer validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ImportConfig tunes the bulk import path.
type ImportConfig struct {
	BatchSize   int `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// PostcodeConfig configures the postcode lookup client.
type PostcodeConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.schoolsearch")

	// Environment
	v.SetEnvPrefix("SCHOOLSEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "schoolsearch.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("search.default_limit", 50)
	v.SetDefault("search.max_limit", 500)
	v.SetDefault("scorer.distance_weight", 35)
	v.SetDefault("scorer.rating_weight", 30)
	v.SetDefault("scorer.fee_weight", 20)
	v.SetDefault("scorer.clubs_weight", 15)
	v.SetDefault("import.batch_size", 500)
	v.SetDefault("import.concurrency", 4)
	v.SetDefault("postcode.base_url", "https://api.postcodes.io")
	v.SetDefault("postcode.rate_limit", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
