package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"orderrec/internal/apperr"
)

// Config holds the runtime configuration shared by the serving process and
// the batch jobs. Values come from struct defaults, then an optional YAML
// file, then ORDERREC_* environment variables.
type Config struct {
	// DatabaseURL selects the store: postgres:// for production,
	// sqlite://path (or a file: DSN) for local runs.
	DatabaseURL string `koanf:"database_url" validate:"required"`

	ListenAddr string `koanf:"listen_addr" validate:"required"`

	// IngestAPIKey protects order submission and the admin job triggers.
	// Empty disables bearer auth.
	IngestAPIKey string `koanf:"ingest_api_key"`

	// PendingBatchPath is a CSV of new order lines merged at the start of
	// every derivation run. A missing or empty file is skipped.
	PendingBatchPath string `koanf:"pending_batch_path"`

	Segmentation  SegmentationConfig  `koanf:"segmentation"`
	Factorization FactorizationConfig `koanf:"factorization"`
	Serving       ServingConfig       `koanf:"serving"`
	Schedule      ScheduleConfig      `koanf:"schedule"`
	Logging       LoggingConfig       `koanf:"logging"`

	// GenerationsToKeep bounds how many inactive model generations survive
	// pruning after an activation.
	GenerationsToKeep int `koanf:"generations_to_keep" validate:"gte=0"`
}

// SegmentationConfig controls the clustering stage.
type SegmentationConfig struct {
	ClusterNumber int   `koanf:"cluster_number" validate:"gte=2"`
	Seed          int64 `koanf:"seed"`
	Restarts      int   `koanf:"restarts" validate:"gte=1"`
	MaxIterations int   `koanf:"max_iterations" validate:"gte=1"`
}

// FactorizationConfig holds the per-cluster matrix factorization settings.
type FactorizationConfig struct {
	Factors        int     `koanf:"factors" validate:"gte=1"`
	Epochs         int     `koanf:"epochs" validate:"gte=1"`
	LearningRate   float64 `koanf:"learning_rate" validate:"gt=0"`
	Regularization float64 `koanf:"regularization" validate:"gte=0"`
	InitStdDev     float64 `koanf:"init_std_dev" validate:"gte=0"`
}

// ServingConfig controls the request path.
type ServingConfig struct {
	TopK int `koanf:"top_k" validate:"gte=1"`

	// RateLimit is the sustained order submissions per second; 0 disables.
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`
	RateBurst int     `koanf:"rate_burst" validate:"gte=0"`
}

// ScheduleConfig holds the cadence of the periodic jobs run by the
// serving process.
type ScheduleConfig struct {
	Enabled         bool          `koanf:"enabled"`
	DeriveInterval  time.Duration `koanf:"derive_interval" validate:"gt=0"`
	DeriveTimeout   time.Duration `koanf:"derive_timeout" validate:"gt=0"`
	RetrainInterval time.Duration `koanf:"retrain_interval" validate:"gt=0"`
	RetrainTimeout  time.Duration `koanf:"retrain_timeout" validate:"gt=0"`
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gt=0"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// ConfigPathEnvVar overrides the YAML config file location.
const ConfigPathEnvVar = "ORDERREC_CONFIG"

// DefaultConfigPaths are searched in order when ORDERREC_CONFIG is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/orderrec/config.yaml",
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		DatabaseURL:       "sqlite://orderrec.db",
		ListenAddr:        ":8080",
		GenerationsToKeep: 5,
		Segmentation: SegmentationConfig{
			ClusterNumber: 3,
			Seed:          42,
			Restarts:      10,
			MaxIterations: 300,
		},
		Factorization: FactorizationConfig{
			Factors:        100,
			Epochs:         20,
			LearningRate:   0.005,
			Regularization: 0.02,
			InitStdDev:     0.1,
		},
		Serving: ServingConfig{
			TopK:      5,
			RateLimit: 50,
			RateBurst: 100,
		},
		Schedule: ScheduleConfig{
			Enabled:         true,
			DeriveInterval:  time.Hour,
			DeriveTimeout:   time.Hour,
			RetrainInterval: 72 * time.Hour,
			RetrainTimeout:  2 * time.Hour,
			RefreshInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from defaults, the optional config file and the
// environment, then validates it. Every failure is an apperr.ErrConfiguration.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, apperr.Configuration("load defaults: %v", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, apperr.Configuration("load config file %s: %v", path, err)
		}
	}

	if err := k.Load(env.Provider("ORDERREC_", ".", envTransform), nil); err != nil {
		return nil, apperr.Configuration("load environment: %v", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, apperr.Configuration("unmarshal: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the storage URL scheme.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return apperr.Configuration("%s", strings.Join(msgs, "; "))
		}
		return apperr.Configuration("%v", err)
	}

	dsn := strings.TrimSpace(c.DatabaseURL)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
	case strings.HasPrefix(dsn, "sqlite://"), strings.HasPrefix(dsn, "file:"):
	default:
		return apperr.Configuration("database_url must be postgres://, postgresql://, sqlite:// or file:")
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings maps ORDERREC_* suffixes onto koanf paths. Unknown variables
// are ignored.
var envMappings = map[string]string{
	"database_url":        "database_url",
	"listen_addr":         "listen_addr",
	"ingest_api_key":      "ingest_api_key",
	"pending_batch_path":  "pending_batch_path",
	"generations_to_keep": "generations_to_keep",

	"cluster_number":    "segmentation.cluster_number",
	"seed":              "segmentation.seed",
	"kmeans_restarts":   "segmentation.restarts",
	"kmeans_iterations": "segmentation.max_iterations",

	"factors":             "factorization.factors",
	"epochs":              "factorization.epochs",
	"learning_rate":       "factorization.learning_rate",
	"regularization":      "factorization.regularization",
	"factor_init_std_dev": "factorization.init_std_dev",

	"top_k":      "serving.top_k",
	"rate_limit": "serving.rate_limit",
	"rate_burst": "serving.rate_burst",

	"schedule_enabled": "schedule.enabled",
	"derive_interval":  "schedule.derive_interval",
	"derive_timeout":   "schedule.derive_timeout",
	"retrain_interval": "schedule.retrain_interval",
	"retrain_timeout":  "schedule.retrain_timeout",
	"refresh_interval": "schedule.refresh_interval",

	"log_level":  "logging.level",
	"log_format": "logging.format",
}

func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "ORDERREC_"))
	return envMappings[key]
}
