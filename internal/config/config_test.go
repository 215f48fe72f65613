package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patternd/internal/confidence"
	"github.com/fyrsmithlabs/patternd/internal/decision"
	"github.com/fyrsmithlabs/patternd/internal/pruner"
	"github.com/fyrsmithlabs/patternd/internal/secrets"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, confidence.DefaultConfig(), cfg.ControllerConfig())
	assert.Equal(t, decision.DefaultConfig(), cfg.EngineConfig())
	assert.Equal(t, pruner.DefaultConfig(), cfg.PruningPolicy())
	assert.Equal(t, pruner.DefaultSchedule, cfg.Pruner.Schedule)
	assert.Equal(t, 90*24*time.Hour, cfg.Strategy.StatTTL.Duration())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "http_port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "http_port"},
		{"no shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown_timeout"},
		{"empty storage path", func(c *Config) { c.Storage.Path = " " }, "storage.path"},
		{"redis without url", func(c *Config) { c.Redis.Enabled = true; c.Redis.URL = "" }, "redis.url"},
		{"nats without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }, "nats.url"},
		{"top k zero", func(c *Config) { c.Search.TopK = 0 }, "top_k"},
		{"unknown provider", func(c *Config) { c.Search.Embeddings.Provider = "openai" }, "provider"},
		{"tei without url", func(c *Config) {
			c.Search.Embeddings.Provider = "tei"
			c.Search.Embeddings.BaseURL = ""
		}, "base_url"},
		{"min above max", func(c *Config) { c.Confidence.Min = 0.96 }, "confidence bounds"},
		{"default out of bounds", func(c *Config) { c.Confidence.Default = 0.5 }, "confidence bounds"},
		{"positive success delta", func(c *Config) { c.Confidence.SuccessDelta = 0.01 }, "success_delta"},
		{"negative failure delta", func(c *Config) { c.Confidence.FailureDelta = -0.01 }, "failure_delta"},
		{"weights not summing to one", func(c *Config) { c.Decision.FitnessWeight = 0.5 }, "sum to 1"},
		{"floor of one", func(c *Config) { c.Decision.FitnessFloor = 1 }, "fitness_floor"},
		{"bad schedule", func(c *Config) { c.Pruner.Schedule = "every tuesday" }, "pruner.schedule"},
		{"zero batch", func(c *Config) { c.Pruner.BatchSize = 0 }, "batch_size"},
		{"cutoff above one", func(c *Config) { c.Pruner.FitnessCutoff = 1.5 }, "fitness_cutoff"},
		{"bad allow list pattern", func(c *Config) { c.Secrets.AllowList = []string{"("} }, "secrets.allow_list[0]"},
		{"telemetry without endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = ""
		}, "telemetry: endpoint"},
		{"telemetry insecure remote", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = "otel.example.com:4317"
		}, "telemetry: insecure"},
		{"bad log format", func(c *Config) { c.Logging.Format = "logfmt" }, "logging"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Search.TopK = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http_port")
	assert.Contains(t, err.Error(), "top_k")
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("6h")))
	assert.Equal(t, 6*time.Hour, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	b, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(b))
}

func TestSecret(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "hunter2", s.Value())

	b, err := json.Marshal(struct{ P Secret }{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"P":"[REDACTED]"}`, string(b))

	assert.Equal(t, "", Secret("").String())
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Search.Embeddings.Provider = "hash"
	cfg.Search.Embeddings.Dimension = 64
	cfg.Search.Path = "/var/lib/patternd/index"
	cfg.Redis.Password = "pw"

	assert.Equal(t, "hash", cfg.ProviderConfig().Provider)
	assert.Equal(t, 64, cfg.ProviderConfig().Dimension)
	assert.Equal(t, "/var/lib/patternd/index", cfg.IndexConfig().Path)
	assert.Equal(t, cfg.Search.TopK, cfg.RunnerConfig().TopK)
	assert.Equal(t, "pw", cfg.RedisClientConfig().Password)

	assert.Equal(t, secrets.DefaultConfig(), cfg.ScrubberConfig())

	tc := cfg.TracingConfig("1.2.3")
	assert.Equal(t, "patternd", tc.ServiceName)
	assert.Equal(t, "1.2.3", tc.ServiceVersion)
	assert.False(t, tc.Enabled)
	assert.Equal(t, 5*time.Second, tc.ShutdownTimeout)
}
