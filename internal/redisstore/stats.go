package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fyrsmithlabs/patternd/internal/strategy"
)

// Hash fields of a stat key.
const (
	fieldAttempts    = "attempts"
	fieldSuccesses   = "successes"
	fieldDurationSum = "duration_sum_ms"
	fieldUpdatedAt   = "updated_at"
)

// StatStore keeps one hash per (fingerprint, technique).
//
// Each Record refreshes the key's TTL, so a stat expires once no sample has
// been recorded for ttl.
type StatStore struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ strategy.StatStore = (*StatStore)(nil)

// NewStatStore creates a store under prefix. ttl <= 0 keeps stats forever.
func NewStatStore(rdb redis.Cmdable, prefix string, ttl time.Duration) *StatStore {
	return &StatStore{rdb: rdb, prefix: prefixed(prefix), ttl: ttl, now: time.Now}
}

// Key returns the hash key for a fingerprint and technique.
func (s *StatStore) Key(fingerprint string, t strategy.Technique) string {
	return s.prefix + ":stats:" + t.String() + ":" + fingerprint
}

// Get returns the stat for the key.
func (s *StatStore) Get(ctx context.Context, fingerprint string, t strategy.Technique) (strategy.Stat, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, s.Key(fingerprint, t)).Result()
	if err != nil {
		return strategy.Stat{}, false, fmt.Errorf("get strategy stat: %w", err)
	}
	if len(fields) == 0 {
		return strategy.Stat{}, false, nil
	}

	var st strategy.Stat
	var sum float64
	var updated int64
	if st.Attempts, err = parseInt(fields, fieldAttempts); err != nil {
		return strategy.Stat{}, false, err
	}
	if st.Successes, err = parseInt(fields, fieldSuccesses); err != nil {
		return strategy.Stat{}, false, err
	}
	if sum, err = parseFloat(fields, fieldDurationSum); err != nil {
		return strategy.Stat{}, false, err
	}
	if updated, err = parseInt(fields, fieldUpdatedAt); err != nil {
		return strategy.Stat{}, false, err
	}
	if st.Attempts <= 0 {
		return strategy.Stat{}, false, nil
	}

	st.AvgDurationMs = sum / float64(st.Attempts)
	st.UpdatedAt = time.UnixMilli(updated).UTC()
	return st, true, nil
}

// Record applies one sample in a single transaction.
func (s *StatStore) Record(ctx context.Context, fingerprint string, t strategy.Technique, succeeded bool, durationMs float64) error {
	key := s.Key(fingerprint, t)
	var success int64
	if succeeded {
		success = 1
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, fieldAttempts, 1)
		pipe.HIncrBy(ctx, key, fieldSuccesses, success)
		pipe.HIncrByFloat(ctx, key, fieldDurationSum, durationMs)
		pipe.HSet(ctx, key, fieldUpdatedAt, s.now().UnixMilli())
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record strategy stat: %w", err)
	}
	return nil
}

func parseInt(fields map[string]string, name string) (int64, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", name, raw, err)
	}
	return v, nil
}

func parseFloat(fields map[string]string, name string) (float64, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", name, raw, err)
	}
	return v, nil
}
