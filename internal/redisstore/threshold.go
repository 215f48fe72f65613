package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/fyrsmithlabs/patternd/internal/confidence"
)

// applyDeltaScript replaces a missing or out-of-range value with the default,
// adds the delta, clamps to [lo, hi], stores and returns the result.
// The result is returned as a string; Redis truncates Lua numbers to integers.
var applyDeltaScript = redis.NewScript(`
local delta = tonumber(ARGV[1])
local lo = tonumber(ARGV[2])
local hi = tonumber(ARGV[3])
local def = tonumber(ARGV[4])
local v = tonumber(redis.call('GET', KEYS[1]))
if v == nil or v ~= v or v < lo or v > hi then
  v = def
end
v = v + delta
if v < lo then v = lo end
if v > hi then v = hi end
local s = tostring(v)
redis.call('SET', KEYS[1], s)
return s
`)

// ThresholdStore keeps the confidence threshold in a single Redis key.
// It implements confidence.ThresholdStore and confidence.DeltaApplier.
type ThresholdStore struct {
	rdb redis.Cmdable
	key string
}

var (
	_ confidence.ThresholdStore = (*ThresholdStore)(nil)
	_ confidence.DeltaApplier   = (*ThresholdStore)(nil)
)

// NewThresholdStore creates a store under prefix.
func NewThresholdStore(rdb redis.Cmdable, prefix string) *ThresholdStore {
	return &ThresholdStore{rdb: rdb, key: prefixed(prefix) + ":confidence:threshold"}
}

// Key returns the Redis key holding the threshold.
func (s *ThresholdStore) Key() string {
	return s.key
}

// Get returns the stored threshold.
func (s *ThresholdStore) Get(ctx context.Context) (float64, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get threshold: %w", err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse threshold %q: %w", raw, err)
	}
	return v, true, nil
}

// Set stores v.
func (s *ThresholdStore) Set(ctx context.Context, v float64) error {
	if err := s.rdb.Set(ctx, s.key, strconv.FormatFloat(v, 'g', -1, 64), 0).Err(); err != nil {
		return fmt.Errorf("set threshold: %w", err)
	}
	return nil
}

// ApplyDelta atomically adds delta to the stored threshold and clamps it.
func (s *ThresholdStore) ApplyDelta(ctx context.Context, delta, lo, hi, def float64) (float64, error) {
	raw, err := applyDeltaScript.Run(ctx, s.rdb, []string{s.key},
		formatFloat(delta), formatFloat(lo), formatFloat(hi), formatFloat(def),
	).Text()
	if err != nil {
		return 0, fmt.Errorf("apply threshold delta: %w", err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse threshold %q: %w", raw, err)
	}
	return v, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
