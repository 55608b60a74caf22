// Package config provides configuration parsing for the study binary.
//
// Runtime settings (listen address, logging, storage backend) come from
// command-line flags with environment variable fallbacks, flags taking
// precedence. The experiment definition (scenarios, ensemble sizes,
// aggregation methods) can additionally be loaded from a YAML file layered
// with ENSAGG_* environment variables; the file is optional and the
// built-in defaults reproduce the reference setup.
//
// Supported configuration sources (in order of precedence):
//  1. ENSAGG_* environment variables (experiment settings)
//  2. Experiment YAML file (--experiment)
//  3. Command-line flags / process environment (runtime settings)
//  4. Default values
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/HatiCode/ensagg/pkg/forecast"
)

// Config holds the runtime configuration of the study binary.
type Config struct {
	Listen    string
	LogFormat string
	LogLevel  string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	ExperimentFile string
	OutputDir      string
}

// ParseFlags parses command-line flags and environment variables into a
// Config. Environment variables are used as fallbacks when flags are not
// provided.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8082"), "HTTP listen address")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Storage backend: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 24*time.Hour), "Redis record TTL")

	flag.StringVar(&cfg.ExperimentFile, "experiment", getEnv("EXPERIMENT_FILE", ""), "Experiment YAML file (optional)")
	flag.StringVar(&cfg.OutputDir, "output-dir", getEnv("OUTPUT_DIR", "results"), "Directory for CSV outputs")

	flag.Parse()

	return cfg
}

// Experiment is the immutable definition of one study run.
type Experiment struct {
	Scenarios     []int    `koanf:"scenarios"`
	Replicates    int      `koanf:"replicates"`
	Networks      []string `koanf:"networks"`
	EnsembleSizes []int    `koanf:"ensemble_sizes"`
	AggMethods    []string `koanf:"agg_methods"`

	Levels int `koanf:"levels"`
	Degree int `koanf:"degree"`

	// Interval is the nominal central prediction interval level in
	// quantile notation ("p90" or "0.9"). Empty selects the
	// ensemble-range interval spanned by the outermost grid quantiles.
	Interval string `koanf:"interval"`

	TrainSize int `koanf:"train"`
	ValidSize int `koanf:"valid"`
	TestSize  int `koanf:"test"`

	Workers int `koanf:"workers"`
}

// DefaultExperiment mirrors the reference study configuration.
func DefaultExperiment() Experiment {
	return Experiment{
		Scenarios:     []int{1, 4},
		Replicates:    10,
		Networks:      []string{"drn", "bqn"},
		EnsembleSizes: []int{2, 5, 10},
		AggMethods:    []string{"lp", "vi", "vi-a", "vi-w", "vi-aw"},
		Levels:        99,
		Degree:        12,
		TrainSize:     5000,
		ValidSize:     1000,
		TestSize:      1000,
		Workers:       4,
	}
}

// LoadExperiment layers the optional YAML file and ENSAGG_* environment
// variables over the defaults and validates the result.
func LoadExperiment(cfg *Config) (Experiment, error) {
	k := koanf.New(".")

	if cfg.ExperimentFile != "" {
		if err := k.Load(file.Provider(cfg.ExperimentFile), yaml.Parser()); err != nil {
			return Experiment{}, fmt.Errorf("load experiment file %s: %w", cfg.ExperimentFile, err)
		}
	}

	// ENSAGG_REPLICATES=50 overrides the file's "replicates", etc.
	if err := k.Load(env.Provider("ENSAGG_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "ENSAGG_"))
	}), nil); err != nil {
		return Experiment{}, fmt.Errorf("load experiment env: %w", err)
	}

	exp := DefaultExperiment()
	if err := k.Unmarshal("", &exp); err != nil {
		return Experiment{}, fmt.Errorf("unmarshal experiment: %w", err)
	}

	if err := exp.Validate(); err != nil {
		return Experiment{}, err
	}
	return exp, nil
}

// Validate rejects experiments that cannot run.
func (e Experiment) Validate() error {
	if len(e.Scenarios) == 0 {
		return fmt.Errorf("at least one scenario required")
	}
	if e.Replicates < 1 {
		return fmt.Errorf("replicates must be positive, got %d", e.Replicates)
	}
	if len(e.Networks) == 0 {
		return fmt.Errorf("at least one network type required")
	}
	for _, nn := range e.Networks {
		if nn != "drn" && nn != "bqn" {
			return fmt.Errorf("unknown network type %q (must be drn or bqn)", nn)
		}
	}
	if len(e.EnsembleSizes) == 0 {
		return fmt.Errorf("at least one ensemble size required")
	}
	maxEns := 0
	for _, n := range e.EnsembleSizes {
		if n < 1 {
			return fmt.Errorf("ensemble sizes must be positive, got %d", n)
		}
		if n > maxEns {
			maxEns = n
		}
	}
	if len(e.AggMethods) == 0 {
		return fmt.Errorf("at least one aggregation method required")
	}
	if e.Levels < 1 {
		return fmt.Errorf("levels must be positive, got %d", e.Levels)
	}
	if e.Degree < 1 {
		return fmt.Errorf("degree must be positive, got %d", e.Degree)
	}
	if e.Interval != "" {
		if _, err := forecast.ParseLevel(e.Interval); err != nil {
			return fmt.Errorf("invalid interval: %w", err)
		}
	}
	if e.TrainSize < 1 || e.ValidSize < 1 || e.TestSize < 1 {
		return fmt.Errorf("all split sizes must be positive")
	}
	if e.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", e.Workers)
	}
	return nil
}

// NominalLevel returns the parsed central interval level, or 0 for the
// ensemble-range default. Call Validate first; an unparseable interval
// degrades to the default here.
func (e Experiment) NominalLevel() float64 {
	if e.Interval == "" {
		return 0
	}
	level, err := forecast.ParseLevel(e.Interval)
	if err != nil {
		return 0
	}
	return level
}

// MaxEnsembleSize returns the largest configured ensemble size, which is
// the number of members each unit trains.
func (e Experiment) MaxEnsembleSize() int {
	max := 0
	for _, n := range e.EnsembleSizes {
		if n > max {
			max = n
		}
	}
	return max
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
