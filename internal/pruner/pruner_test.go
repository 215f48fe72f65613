package pruner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patternd/internal/events"
	"github.com/fyrsmithlabs/patternd/internal/fitness"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/strategy"
)

var testNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func ago(d time.Duration) *time.Time {
	t := testNow.Add(-d)
	return &t
}

const day = 24 * time.Hour

// dead fails both conditions: zero fitness and many failures.
func dead(id string, seq int) pattern.Pattern {
	return pattern.Pattern{
		ID:           id,
		Fingerprint:  "shop.example/p/*",
		Target:       "price",
		FailureCount: 5,
		CreatedAt:    testNow.Add(-200*day + time.Duration(seq)*time.Second),
		LastFailedAt: ago(120 * day),
	}
}

// hopeless has zero fitness but too few failures to prune.
func hopeless(id string, seq int) pattern.Pattern {
	p := dead(id, seq)
	p.FailureCount = 2
	return p
}

// flaky has many failures but remains fit.
func flaky(id string, seq int) pattern.Pattern {
	return pattern.Pattern{
		ID:              id,
		SuccessCount:    50,
		FailureCount:    4,
		CreatedAt:       testNow.Add(-100*day + time.Duration(seq)*time.Second),
		LastSucceededAt: ago(2 * day),
		LastFailedAt:    ago(3 * day),
	}
}

func newStore(patterns ...pattern.Pattern) *pattern.InMemoryStore {
	s := pattern.NewInMemoryStore().WithClock(clock)
	for _, p := range patterns {
		s.Put(p)
	}
	return s
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DeletesPerSecond = 0
	return cfg
}

func TestPruner_BothConditionsRequired(t *testing.T) {
	d, h, f := dead("dead", 0), hopeless("hopeless", 1), flaky("flaky", 2)
	require.Less(t, fitness.Score(&d, testNow), 0.05)
	require.Less(t, fitness.Score(&h, testNow), 0.05)
	require.Greater(t, fitness.Score(&f, testNow), 0.05)

	store := newStore(d, h, f)
	rec := &events.Recorder{}
	p, err := New(store, testConfig(), WithClock(clock), WithPublisher(rec))
	require.NoError(t, err)

	report, err := p.Prune(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, report.Pruned)
	assert.Equal(t, 2, report.Remaining)
	require.Len(t, report.Removed, 1)
	assert.Equal(t, "dead", report.Removed[0].ID)

	_, err = store.Get(context.Background(), "dead")
	assert.ErrorIs(t, err, pattern.ErrNotFound)

	for _, id := range []string{"hopeless", "flaky"} {
		got, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
	}

	pruned := rec.BySubject(events.SubjectPatternPruned)
	require.Len(t, pruned, 1)
	assert.Equal(t, "dead", pruned[0].(events.PatternPruned).PatternID)
}

func TestPruner_PagesWithoutSkipping(t *testing.T) {
	var patterns []pattern.Pattern
	wantPruned := 0
	for i := 0; i < 250; i++ {
		id := fmt.Sprintf("p%03d", i)
		switch i % 3 {
		case 0:
			patterns = append(patterns, dead(id, i))
			wantPruned++
		case 1:
			patterns = append(patterns, hopeless(id, i))
		default:
			patterns = append(patterns, flaky(id, i))
		}
	}
	store := newStore(patterns...)

	cfg := testConfig()
	cfg.BatchSize = 7
	p, err := New(store, cfg, WithClock(clock))
	require.NoError(t, err)

	report, err := p.Prune(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 250, report.Scanned)
	assert.Equal(t, wantPruned, report.Pruned)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250-wantPruned, count)
	assert.Equal(t, count, report.Remaining)

	// A second pass finds nothing further.
	again, err := p.Prune(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, again.Pruned)
	assert.Equal(t, count, again.Scanned)
}

func TestPruner_DryRun(t *testing.T) {
	store := newStore(dead("a", 0), dead("b", 1), flaky("c", 2))
	rec := &events.Recorder{}
	p, err := New(store, testConfig(), WithClock(clock), WithPublisher(rec))
	require.NoError(t, err)

	report, err := p.Prune(context.Background(), Options{DryRun: true})
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Pruned)
	assert.Len(t, report.Removed, 2)

	count, _ := store.Count(context.Background())
	assert.Equal(t, 3, count)
	assert.Empty(t, rec.Events())
}

// faultyStore fails deletes for chosen ids and can fail List.
type faultyStore struct {
	*pattern.InMemoryStore
	failDelete map[string]bool
	listErr    error
}

func (s *faultyStore) Delete(ctx context.Context, id string) error {
	if s.failDelete[id] {
		return errors.New("database is locked")
	}
	return s.InMemoryStore.Delete(ctx, id)
}

func (s *faultyStore) List(ctx context.Context, limit, offset int) ([]pattern.Pattern, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.InMemoryStore.List(ctx, limit, offset)
}

func TestPruner_DeleteFailureContinues(t *testing.T) {
	var patterns []pattern.Pattern
	for i := 0; i < 10; i++ {
		patterns = append(patterns, dead(fmt.Sprintf("d%d", i), i))
	}
	store := &faultyStore{InMemoryStore: newStore(patterns...), failDelete: map[string]bool{"d2": true}}

	cfg := testConfig()
	cfg.BatchSize = 3
	p, err := New(store, cfg, WithClock(clock))
	require.NoError(t, err)

	report, err := p.Prune(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 9, report.Pruned)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Remaining)

	_, err = store.Get(context.Background(), "d2")
	assert.NoError(t, err)
}

func TestPruner_ListFailure(t *testing.T) {
	store := &faultyStore{InMemoryStore: newStore(), listErr: errors.New("disk I/O error")}
	p, err := New(store, testConfig())
	require.NoError(t, err)

	report, err := p.Prune(context.Background(), Options{})
	require.Error(t, err)
	assert.NotNil(t, report)
	assert.Zero(t, report.Pruned)
}

func TestPruner_SweepsStaleStats(t *testing.T) {
	now := testNow.Add(-100 * day)
	stats := strategy.NewInMemoryStatStore(0).WithClock(func() time.Time { return now })
	ctx := context.Background()
	require.NoError(t, stats.Record(ctx, "old.example/*", strategy.TechniqueAgent, true, 10))
	now = testNow
	require.NoError(t, stats.Record(ctx, "new.example/*", strategy.TechniqueAgent, true, 10))

	p, err := New(newStore(), testConfig(), WithClock(clock), WithStatSweeper(stats))
	require.NoError(t, err)

	report, err := p.Prune(ctx, Options{DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, report.StatsSwept, "dry run leaves stats alone")

	report, err = p.Prune(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.StatsSwept)

	_, ok, _ := stats.Get(ctx, "new.example/*", strategy.TechniqueAgent)
	assert.True(t, ok)
}

func TestPruner_RateLimitedDeletes(t *testing.T) {
	store := newStore(dead("a", 0), dead("b", 1), dead("c", 2))
	cfg := testConfig()
	cfg.DeletesPerSecond = 1000
	p, err := New(store, cfg, WithClock(clock))
	require.NoError(t, err)

	report, err := p.Prune(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Pruned)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store2 := newStore(dead("x", 0))
	p2, err := New(store2, cfg, WithClock(clock))
	require.NoError(t, err)
	_, err = p2.Prune(ctx, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.BatchSize = 0
	_, err = New(newStore(), cfg)
	assert.Error(t, err)
}
