// Package confidence maintains the cache-hit confidence threshold.
//
// The threshold is the minimum composite score a cached pattern needs before it is
// reused. It adapts after every cache-hit attempt: a success relaxes it slightly,
// a failure raises it by a larger step. The value is persisted through a
// ThresholdStore and always kept within [Min, Max].
package confidence

import (
	"context"
	"math"
	"sync"

	"go.uber.org/zap"
)

const (
	// DefaultThreshold is used when no valid value is stored.
	DefaultThreshold = 0.85

	// MinThreshold is the lower bound of the threshold.
	MinThreshold = 0.70

	// MaxThreshold is the upper bound of the threshold.
	MaxThreshold = 0.95

	// SuccessDelta is applied after a successful cache hit.
	SuccessDelta = -0.005

	// FailureDelta is applied after a failed cache hit.
	FailureDelta = 0.02
)

// ThresholdStore persists the threshold between invocations.
type ThresholdStore interface {
	// Get returns the stored value. ok is false when nothing is stored.
	Get(ctx context.Context) (value float64, ok bool, err error)

	// Set stores value.
	Set(ctx context.Context, value float64) error
}

// DeltaApplier is implemented by stores that can apply a clamped delta as a
// single atomic command. When the store falls back to def for a missing or
// out-of-range current value, the delta is applied to def.
type DeltaApplier interface {
	ApplyDelta(ctx context.Context, delta, lo, hi, def float64) (float64, error)
}

// Config holds the controller bounds and step sizes.
type Config struct {
	Default      float64
	Min          float64
	Max          float64
	SuccessDelta float64
	FailureDelta float64
}

// DefaultConfig returns the standard bounds and steps.
func DefaultConfig() Config {
	return Config{
		Default:      DefaultThreshold,
		Min:          MinThreshold,
		Max:          MaxThreshold,
		SuccessDelta: SuccessDelta,
		FailureDelta: FailureDelta,
	}
}

// Controller reads and adjusts the shared threshold.
//
// Thread Safety: safe for concurrent use. Stores implementing DeltaApplier make
// adjustments atomic across processes; otherwise adjustments are serialized
// within this process only.
type Controller struct {
	store  ThresholdStore
	config Config
	logger *zap.Logger

	mu   sync.Mutex
	last float64
}

// NewController creates a controller backed by store.
func NewController(store ThresholdStore, cfg Config, logger *zap.Logger) *Controller {
	if store == nil {
		store = NewInMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:  store,
		config: cfg,
		logger: logger,
		last:   cfg.Default,
	}
}

// Get returns the current threshold, or the default when the store is
// unavailable or holds an out-of-range value.
func (c *Controller) Get(ctx context.Context) float64 {
	value, ok, err := c.store.Get(ctx)
	if err != nil {
		c.logger.Warn("threshold read failed, using default",
			zap.Error(err),
			zap.Float64("default", c.config.Default))
		return c.config.Default
	}
	if !ok {
		return c.config.Default
	}
	if !c.inBounds(value) {
		c.logger.Warn("stored threshold out of bounds, using default",
			zap.Float64("stored", value),
			zap.Float64("default", c.config.Default))
		return c.config.Default
	}
	return value
}

// Adjust moves the threshold after a cache-hit attempt and persists it.
// It returns the new threshold. Persistence failures are logged and the
// in-memory value is returned for this invocation.
func (c *Controller) Adjust(ctx context.Context, wasSuccessful bool) float64 {
	delta := c.config.FailureDelta
	if wasSuccessful {
		delta = c.config.SuccessDelta
	}

	if applier, ok := c.store.(DeltaApplier); ok {
		value, err := applier.ApplyDelta(ctx, delta, c.config.Min, c.config.Max, c.config.Default)
		if err == nil {
			c.record(value)
			return value
		}
		c.logger.Warn("atomic threshold adjust failed, falling back to read-modify-write",
			zap.Error(err),
			zap.Float64("delta", delta))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	value := c.clamp(c.Get(ctx) + delta)
	if err := c.store.Set(ctx, value); err != nil {
		c.logger.Warn("threshold persist failed, continuing with in-memory value",
			zap.Error(err),
			zap.Float64("threshold", value))
	}
	c.last = value
	thresholdGauge.Set(value)
	return value
}

// Last returns the value produced by the most recent Adjust, or the default.
func (c *Controller) Last() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Controller) record(value float64) {
	c.mu.Lock()
	c.last = value
	c.mu.Unlock()
	thresholdGauge.Set(value)
}

func (c *Controller) inBounds(v float64) bool {
	return !math.IsNaN(v) && v >= c.config.Min && v <= c.config.Max
}

func (c *Controller) clamp(v float64) float64 {
	return math.Max(c.config.Min, math.Min(c.config.Max, v))
}

// Clamp bounds v to [lo, hi], substituting def for NaN.
func Clamp(v, lo, hi, def float64) float64 {
	if math.IsNaN(v) {
		return def
	}
	return math.Max(lo, math.Min(hi, v))
}
