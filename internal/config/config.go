// Package config loads patternd configuration.
//
// Values come from, in order of precedence: PATTERND_* environment variables,
// a YAML file, and the defaults returned by Default.
package config

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/confidence"
	"github.com/fyrsmithlabs/patternd/internal/decision"
	"github.com/fyrsmithlabs/patternd/internal/embeddings"
	"github.com/fyrsmithlabs/patternd/internal/events"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/patternsearch"
	"github.com/fyrsmithlabs/patternd/internal/pruner"
	"github.com/fyrsmithlabs/patternd/internal/redisstore"
	"github.com/fyrsmithlabs/patternd/internal/runner"
	"github.com/fyrsmithlabs/patternd/internal/secrets"
	"github.com/fyrsmithlabs/patternd/internal/telemetry"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the complete patternd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Storage    StorageConfig    `koanf:"storage"`
	Redis      RedisConfig      `koanf:"redis"`
	NATS       NATSConfig       `koanf:"nats"`
	Search     SearchConfig     `koanf:"search"`
	Confidence ConfidenceConfig `koanf:"confidence"`
	Decision   DecisionConfig   `koanf:"decision"`
	Strategy   StrategyConfig   `koanf:"strategy"`
	Pruner     PrunerConfig     `koanf:"pruner"`
	Secrets    SecretsConfig    `koanf:"secrets"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Logging    logging.Config   `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StorageConfig holds pattern store configuration.
type StorageConfig struct {
	// Path is the SQLite database file.
	Path string `koanf:"path"`
}

// RedisConfig holds the shared threshold and strategy stat store settings.
// When disabled, both live in process memory.
type RedisConfig struct {
	Enabled   bool   `koanf:"enabled"`
	URL       string `koanf:"url"`
	Password  Secret `koanf:"password"`
	KeyPrefix string `koanf:"key_prefix"`
}

// NATSConfig holds event publishing settings.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// SearchConfig holds the similarity index settings.
type SearchConfig struct {
	TopK       int              `koanf:"top_k"`
	Collection string           `koanf:"collection"`
	Path       string           `koanf:"path"`
	Compress   bool             `koanf:"compress"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
}

// EmbeddingsConfig selects the embedding provider for the index.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	CacheDir  string `koanf:"cache_dir"`
	Dimension int    `koanf:"dimension"`
}

// ConfidenceConfig holds the threshold bounds and steps.
type ConfidenceConfig struct {
	Default      float64 `koanf:"default"`
	Min          float64 `koanf:"min"`
	Max          float64 `koanf:"max"`
	SuccessDelta float64 `koanf:"success_delta"`
	FailureDelta float64 `koanf:"failure_delta"`
}

// DecisionConfig holds the cache decision weights.
type DecisionConfig struct {
	FitnessFloor     float64 `koanf:"fitness_floor"`
	SimilarityWeight float64 `koanf:"similarity_weight"`
	FitnessWeight    float64 `koanf:"fitness_weight"`
}

// StrategyConfig holds strategy statistic retention.
type StrategyConfig struct {
	// StatTTL is how long a stat survives without new samples. Zero keeps stats forever.
	StatTTL Duration `koanf:"stat_ttl"`
}

// PrunerConfig holds the pattern pruning policy and schedule.
type PrunerConfig struct {
	Enabled          bool    `koanf:"enabled"`
	Schedule         string  `koanf:"schedule"`
	BatchSize        int     `koanf:"batch_size"`
	DeletesPerSecond float64 `koanf:"deletes_per_second"`
	FitnessCutoff    float64 `koanf:"fitness_cutoff"`
	MinFailures      int     `koanf:"min_failures"`
}

// SecretsConfig controls credential redaction in learned instructions.
type SecretsConfig struct {
	Enabled  bool `koanf:"enabled"`
	Gitleaks bool `koanf:"gitleaks"`

	// AllowList holds patterns whose matches are never redacted.
	AllowList []string `koanf:"allow_list"`
}

// TelemetryConfig holds OTLP trace export settings.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"`
	Insecure        bool     `koanf:"insecure"`
	SampleRate      float64  `koanf:"sample_rate"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Default returns the configuration used for any value not set elsewhere.
func Default() *Config {
	c := confidence.DefaultConfig()
	d := decision.DefaultConfig()
	p := pruner.DefaultConfig()
	sc := secrets.DefaultConfig()
	tc := telemetry.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Storage: StorageConfig{
			Path: "~/.config/patternd/patterns.db",
		},
		Redis: RedisConfig{
			URL:       "redis://localhost:6379/0",
			KeyPrefix: redisstore.DefaultKeyPrefix,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: events.DefaultPrefix,
		},
		Search: SearchConfig{
			TopK:       runner.DefaultTopK,
			Collection: patternsearch.DefaultCollection,
			Path:       "~/.config/patternd/index",
			Compress:   true,
			Embeddings: EmbeddingsConfig{
				Provider: embeddings.ProviderFastEmbed,
				Model:    embeddings.DefaultModel,
				BaseURL:  "http://localhost:8080",
			},
		},
		Confidence: ConfidenceConfig{
			Default:      c.Default,
			Min:          c.Min,
			Max:          c.Max,
			SuccessDelta: c.SuccessDelta,
			FailureDelta: c.FailureDelta,
		},
		Decision: DecisionConfig{
			FitnessFloor:     d.FitnessFloor,
			SimilarityWeight: d.SimilarityWeight,
			FitnessWeight:    d.FitnessWeight,
		},
		Strategy: StrategyConfig{
			StatTTL: Duration(p.StatTTL),
		},
		Pruner: PrunerConfig{
			Enabled:          true,
			Schedule:         pruner.DefaultSchedule,
			BatchSize:        p.BatchSize,
			DeletesPerSecond: p.DeletesPerSecond,
			FitnessCutoff:    p.FitnessCutoff,
			MinFailures:      p.MinFailures,
		},
		Secrets: SecretsConfig{
			Enabled:  sc.Enabled,
			Gitleaks: sc.Gitleaks,
		},
		Telemetry: TelemetryConfig{
			Enabled:         tc.Enabled,
			Endpoint:        tc.Endpoint,
			Protocol:        tc.Protocol,
			Insecure:        tc.Insecure,
			SampleRate:      tc.SampleRate,
			ShutdownTimeout: Duration(tc.ShutdownTimeout),
		},
		Logging: *logging.NewDefaultConfig(),
	}
}

// Validate reports every invalid setting in a single error wrapping ErrInvalid.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.http_port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("server.shutdown_timeout must be > 0")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		add("storage.path is required")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		add("redis.url is required when redis is enabled")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		add("nats.url is required when nats is enabled")
	}

	if c.Search.TopK < 1 {
		add("search.top_k must be >= 1, got %d", c.Search.TopK)
	}
	switch c.Search.Embeddings.Provider {
	case embeddings.ProviderTEI:
		if c.Search.Embeddings.BaseURL == "" {
			add("search.embeddings.base_url is required for the tei provider")
		}
	case embeddings.ProviderFastEmbed, embeddings.ProviderHash:
	default:
		add("search.embeddings.provider must be tei, fastembed or hash, got %q", c.Search.Embeddings.Provider)
	}

	cc := c.Confidence
	if !(0 < cc.Min && cc.Min <= cc.Default && cc.Default <= cc.Max && cc.Max <= 1) {
		add("confidence bounds must satisfy 0 < min <= default <= max <= 1, got %.3f/%.3f/%.3f", cc.Min, cc.Default, cc.Max)
	}
	if cc.SuccessDelta > 0 {
		add("confidence.success_delta must be <= 0, got %v", cc.SuccessDelta)
	}
	if cc.FailureDelta < 0 {
		add("confidence.failure_delta must be >= 0, got %v", cc.FailureDelta)
	}

	dc := c.Decision
	if dc.FitnessFloor < 0 || dc.FitnessFloor >= 1 {
		add("decision.fitness_floor must be in [0,1), got %v", dc.FitnessFloor)
	}
	if dc.SimilarityWeight < 0 || dc.FitnessWeight < 0 || math.Abs(dc.SimilarityWeight+dc.FitnessWeight-1) > 1e-9 {
		add("decision weights must be non-negative and sum to 1, got %v + %v", dc.SimilarityWeight, dc.FitnessWeight)
	}

	if c.Strategy.StatTTL < 0 {
		add("strategy.stat_ttl must be >= 0")
	}

	pc := c.Pruner
	if err := pruner.ValidateSchedule(pc.Schedule); err != nil {
		add("pruner.schedule: %v", err)
	}
	if pc.BatchSize < 1 {
		add("pruner.batch_size must be >= 1, got %d", pc.BatchSize)
	}
	if pc.DeletesPerSecond < 0 {
		add("pruner.deletes_per_second must be >= 0, got %v", pc.DeletesPerSecond)
	}
	if pc.FitnessCutoff < 0 || pc.FitnessCutoff > 1 {
		add("pruner.fitness_cutoff must be in [0,1], got %v", pc.FitnessCutoff)
	}
	if pc.MinFailures < 0 {
		add("pruner.min_failures must be >= 0, got %d", pc.MinFailures)
	}

	for i, p := range c.Secrets.AllowList {
		if _, err := regexp.Compile(p); err != nil {
			add("secrets.allow_list[%d]: %v", i, err)
		}
	}
	if err := c.TracingConfig("").Validate(); err != nil {
		add("telemetry: %v", err)
	}

	if err := c.Logging.Validate(); err != nil {
		add("logging: %v", err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// ControllerConfig returns the threshold controller configuration.
func (c *Config) ControllerConfig() confidence.Config {
	return confidence.Config{
		Default:      c.Confidence.Default,
		Min:          c.Confidence.Min,
		Max:          c.Confidence.Max,
		SuccessDelta: c.Confidence.SuccessDelta,
		FailureDelta: c.Confidence.FailureDelta,
	}
}

// EngineConfig returns the cache decision engine configuration.
func (c *Config) EngineConfig() decision.Config {
	return decision.Config{
		FitnessFloor:     c.Decision.FitnessFloor,
		SimilarityWeight: c.Decision.SimilarityWeight,
		FitnessWeight:    c.Decision.FitnessWeight,
	}
}

// PruningPolicy returns the pruning policy.
func (c *Config) PruningPolicy() pruner.Config {
	return pruner.Config{
		BatchSize:        c.Pruner.BatchSize,
		FitnessCutoff:    c.Pruner.FitnessCutoff,
		MinFailures:      c.Pruner.MinFailures,
		DeletesPerSecond: c.Pruner.DeletesPerSecond,
		StatTTL:          c.Strategy.StatTTL.Duration(),
	}
}

// ProviderConfig returns the embedding provider configuration.
func (c *Config) ProviderConfig() embeddings.ProviderConfig {
	e := c.Search.Embeddings
	return embeddings.ProviderConfig{
		Provider:  e.Provider,
		Model:     e.Model,
		BaseURL:   e.BaseURL,
		CacheDir:  ExpandHome(e.CacheDir),
		Dimension: e.Dimension,
	}
}

// IndexConfig returns the similarity index configuration.
func (c *Config) IndexConfig() patternsearch.Config {
	return patternsearch.Config{
		Collection: c.Search.Collection,
		Path:       ExpandHome(c.Search.Path),
		Compress:   c.Search.Compress,
	}
}

// RunnerConfig returns the task runner configuration.
func (c *Config) RunnerConfig() runner.Config {
	return runner.Config{TopK: c.Search.TopK}
}

// ScrubberConfig returns the credential scrubber configuration.
func (c *Config) ScrubberConfig() secrets.Config {
	return secrets.Config{
		Enabled:   c.Secrets.Enabled,
		Gitleaks:  c.Secrets.Gitleaks,
		AllowList: c.Secrets.AllowList,
	}
}

// TracingConfig returns the trace export configuration for the given build version.
func (c *Config) TracingConfig(version string) telemetry.Config {
	t := c.Telemetry
	return telemetry.Config{
		Enabled:         t.Enabled,
		Endpoint:        t.Endpoint,
		Protocol:        t.Protocol,
		Insecure:        t.Insecure,
		ServiceName:     "patternd",
		ServiceVersion:  version,
		SampleRate:      t.SampleRate,
		ShutdownTimeout: t.ShutdownTimeout.Duration(),
	}
}

// RedisClientConfig returns the Redis connection settings.
func (c *Config) RedisClientConfig() redisstore.Config {
	return redisstore.Config{URL: c.Redis.URL, Password: c.Redis.Password.Value()}
}
