package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/go-playground/validator.v9"
	"gopkg.in/yaml.v2"
)

const DefaultHistogramBins = 20

type LogSettings struct {
	Level         string `yaml:"level" validate:"omitempty,oneof=panic fatal error warn warning info debug trace"`
	Json          bool   `yaml:"json"`
	Stdout        bool   `yaml:"stdout"`
	Path          string `yaml:"path"`
	Name          string `yaml:"name"`
	MaxAgeDays    int    `yaml:"max_age_days" validate:"gte=0"`
	RotationHours int    `yaml:"rotation_hours" validate:"gte=0"`
}

type SQLSettings struct {
	DefaultDialect string `yaml:"default_dialect"`
	// HistogramBins of zero turns the metric analysis histogram off.
	HistogramBins         int  `yaml:"histogram_bins" validate:"gte=0,lte=200"`
	MaxPastExperimentRows int  `yaml:"max_past_experiment_rows" validate:"gt=0"`
	Pretty                bool `yaml:"pretty"`
	// Parallelism bounds the dialects rendered at once by "render -d all".
	Parallelism int `yaml:"parallelism" validate:"gte=0"`
}

type MetricsSettings struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	Log     LogSettings     `yaml:"log"`
	SQL     SQLSettings     `yaml:"sql"`
	Metrics MetricsSettings `yaml:"metrics"`
}

// Default returns the settings used when no config file is given.
func Default() *Config {
	return &Config{
		Log: LogSettings{
			Level:         "error",
			Stdout:        false,
			Name:          "expsql.log",
			MaxAgeDays:    7,
			RotationHours: 24,
		},
		SQL: SQLSettings{
			DefaultDialect:        "bigquery",
			HistogramBins:         DefaultHistogramBins,
			MaxPastExperimentRows: 3000,
			Pretty:                true,
			Parallelism:           4,
		},
		Metrics: MetricsSettings{Enabled: true},
	}
}

// Load reads a YAML file on top of the defaults. An empty path only applies
// the environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	applyEnv(cfg)
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if lvl := os.Getenv("EXPSQL_LOG_LEVEL"); lvl != "" {
		cfg.Log.Level = strings.ToLower(lvl)
	}
	if d := os.Getenv("EXPSQL_DIALECT"); d != "" {
		cfg.SQL.DefaultDialect = strings.ToLower(d)
	}
	if v, ok := boolEnv("EXPSQL_LOG_JSON"); ok {
		cfg.Log.Json = v
	}
}

func boolEnv(key string) (bool, bool) {
	val := strings.ToLower(os.Getenv(key))
	switch val {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	}
	return false, false
}
