package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/patternd/internal/confidence"
	"github.com/fyrsmithlabs/patternd/internal/decision"
	"github.com/fyrsmithlabs/patternd/internal/events"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/recovery"
	"github.com/fyrsmithlabs/patternd/internal/secrets"
	"github.com/fyrsmithlabs/patternd/internal/strategy"
)

const (
	productURL = "https://www.shop.example/product/8812"
	productFP  = "shop.example/product/*"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type searchFunc func(ctx context.Context, text string, k int) ([]pattern.Candidate, error)

func (f searchFunc) Query(ctx context.Context, text string, k int) ([]pattern.Candidate, error) {
	return f(ctx, text, k)
}

// similarTo returns a searcher that reports every listed pattern, read fresh
// from store, with the given similarity.
func similarTo(store pattern.Store, sims map[string]float64) searchFunc {
	return func(ctx context.Context, text string, k int) ([]pattern.Candidate, error) {
		var out []pattern.Candidate
		for id, sim := range sims {
			p, err := store.Get(ctx, id)
			if err != nil {
				continue
			}
			out = append(out, pattern.Candidate{Pattern: *p, Similarity: sim})
		}
		return out, nil
	}
}

type fakeExecutor struct {
	mu          sync.Mutex
	cachedCalls int
	freshCalls  int
	usedPattern pattern.Pattern

	cached func() (recovery.Outcome, error)
	fresh  func(ctx context.Context) (recovery.Outcome, error)
}

func (e *fakeExecutor) Cached(ctx context.Context, site recovery.SiteContext, target string, p pattern.Pattern) (recovery.Outcome, error) {
	e.mu.Lock()
	e.cachedCalls++
	e.usedPattern = p
	e.mu.Unlock()
	if e.cached == nil {
		return recovery.Outcome{}, nil
	}
	return e.cached()
}

func (e *fakeExecutor) Fresh(ctx context.Context, site recovery.SiteContext, target string) (recovery.Outcome, error) {
	e.mu.Lock()
	e.freshCalls++
	e.mu.Unlock()
	if e.fresh == nil {
		return recovery.Outcome{}, nil
	}
	return e.fresh(ctx)
}

func ok(value any, instruction string) func() (recovery.Outcome, error) {
	return func() (recovery.Outcome, error) {
		return recovery.Outcome{Succeeded: true, Value: value, LearnedInstruction: instruction}, nil
	}
}

func freshOK(value any, instruction string) func(context.Context) (recovery.Outcome, error) {
	return func(context.Context) (recovery.Outcome, error) {
		return recovery.Outcome{Succeeded: true, Value: value, LearnedInstruction: instruction}, nil
	}
}

// technique handler that counts calls and optionally succeeds.
type technique struct {
	mu      sync.Mutex
	calls   int
	succeed bool
	seen    []recovery.FailureContext
}

func (h *technique) Execute(ctx context.Context, site recovery.SiteContext, target string, failure recovery.FailureContext) (recovery.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.seen = append(h.seen, failure)
	if h.succeed {
		return recovery.Outcome{Succeeded: true, Value: "19.99", LearnedInstruction: "css:.price-current"}, nil
	}
	return recovery.Outcome{}, errors.New("element not found")
}

type harness struct {
	runner     *Runner
	store      *pattern.InMemoryStore
	exec       *fakeExecutor
	controller *confidence.Controller
	stats      *strategy.InMemoryStatStore
	events     *events.Recorder
	techniques map[strategy.Technique]*technique
}

func newHarness(t *testing.T, searcher func(pattern.Store) pattern.Searcher, winner strategy.Technique, haveWinner bool) *harness {
	t.Helper()
	h := &harness{
		store:      pattern.NewInMemoryStore().WithClock(func() time.Time { return now }),
		exec:       &fakeExecutor{},
		controller: confidence.NewController(confidence.NewInMemoryStore(), confidence.DefaultConfig(), nil),
		stats:      strategy.NewInMemoryStatStore(0),
		events:     &events.Recorder{},
		techniques: map[strategy.Technique]*technique{},
	}
	for _, tq := range strategy.DefaultOrder() {
		h.techniques[tq] = &technique{succeed: haveWinner && tq == winner}
	}

	orch, err := recovery.New(recovery.Handlers{
		Agent:          h.techniques[strategy.TechniqueAgent],
		ActThenExtract: h.techniques[strategy.TechniqueActThenExtract],
		RefinedExtract: h.techniques[strategy.TechniqueRefinedExtract],
		PageAnalysis:   h.techniques[strategy.TechniquePageAnalysis],
	}, strategy.NewSelector(h.stats, nil), nil)
	require.NoError(t, err)

	h.runner, err = New(Deps{
		Store:     h.store,
		Searcher:  searcher(h.store),
		Threshold: h.controller,
		Engine:    decision.NewEngine(decision.DefaultConfig()).WithClock(func() time.Time { return now }),
		Executor:  h.exec,
		Recoverer: orch,
		Publisher: h.events,
	}, DefaultConfig())
	require.NoError(t, err)
	h.runner.WithClock(func() time.Time { return now })
	return h
}

func noCandidates(pattern.Store) pattern.Searcher {
	return searchFunc(func(context.Context, string, int) ([]pattern.Candidate, error) {
		return nil, nil
	})
}

// seedReliable stores a pattern with fitness around 0.75.
func seedReliable(h *harness) string {
	last := now
	h.store.Put(pattern.Pattern{
		ID:              "p-reliable",
		Fingerprint:     productFP,
		Target:          "price",
		Instruction:     "css:.price",
		Approach:        pattern.ApproachExtract,
		SuccessCount:    9,
		FailureCount:    1,
		CreatedAt:       now.Add(-10 * 24 * time.Hour),
		LastSucceededAt: &last,
	})
	return "p-reliable"
}

func reliableAt(sim float64) func(pattern.Store) pattern.Searcher {
	return func(s pattern.Store) pattern.Searcher {
		return similarTo(s, map[string]float64{"p-reliable": sim})
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, DefaultConfig())
	assert.Error(t, err)
}

func TestRun_InvalidTask(t *testing.T) {
	h := newHarness(t, noCandidates, 0, false)

	_, err := h.runner.Run(context.Background(), Task{Target: "price"})
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = h.runner.Run(context.Background(), Task{URL: productURL, Target: "  "})
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(t, noCandidates, 0, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.runner.Run(ctx, Task{URL: productURL, Target: "price"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.exec.freshCalls)
}

func TestRun_CacheHitSucceeds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, reliableAt(0.99), 0, false)
	id := seedReliable(h)
	h.exec.cached = ok("24.50", "")

	res, err := h.runner.Run(ctx, Task{URL: productURL, Target: "price"})
	require.NoError(t, err)

	assert.True(t, res.Succeeded)
	assert.True(t, res.CacheHit)
	assert.True(t, res.CacheAttempted)
	assert.False(t, res.Recovered)
	assert.Equal(t, id, res.PatternID)
	assert.Equal(t, "24.50", res.Value)
	assert.Equal(t, productFP, res.Fingerprint)
	assert.Equal(t, id, h.exec.usedPattern.ID)
	assert.Zero(t, h.exec.freshCalls)

	p, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 10, p.SuccessCount)
	assert.Equal(t, 1, p.FailureCount)
	assert.InDelta(t, 0.845, h.controller.Get(ctx), 1e-9)
	assert.Empty(t, h.events.Events())
}

func TestRun_CacheHitFailsThenFresh(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, reliableAt(0.99), 0, false)
	id := seedReliable(h)
	h.exec.cached = func() (recovery.Outcome, error) { return recovery.Outcome{}, errors.New("selector matched nothing") }
	h.exec.fresh = freshOK("21.00", "css:.price-new")

	res, err := h.runner.Run(ctx, Task{URL: productURL, Target: "price"})
	require.NoError(t, err)

	assert.True(t, res.Succeeded)
	assert.True(t, res.CacheHit)
	assert.True(t, res.CacheAttempted)
	assert.NotEqual(t, id, res.PatternID)
	assert.NotEmpty(t, res.PatternID)

	cached, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, cached.FailureCount)
	assert.InDelta(t, 0.87, h.controller.Get(ctx), 1e-9)

	learned, err := h.store.Get(ctx, res.PatternID)
	require.NoError(t, err)
	assert.Equal(t, "css:.price-new", learned.Instruction)
	assert.Equal(t, pattern.ApproachExtract, learned.Approach)
	assert.Zero(t, learned.Total())

	evs := h.events.BySubject(events.SubjectPatternLearned)
	require.Len(t, evs, 1)
	ev := evs[0].(events.PatternLearned)
	assert.Equal(t, res.PatternID, ev.PatternID)
	assert.Empty(t, ev.Technique)
	assert.Equal(t, now, ev.At)
}

func TestRun_StrongSimilarityStillMisses(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(s pattern.Store) pattern.Searcher {
		return similarTo(s, map[string]float64{"p-new": 0.95})
	}, 0, false)
	h.store.Put(pattern.Pattern{
		ID:          "p-new",
		Fingerprint: productFP,
		Target:      "price",
		Instruction: "css:.price",
		Approach:    pattern.ApproachExtract,
		CreatedAt:   now,
	})
	h.exec.fresh = freshOK("24.50", "")

	res, err := h.runner.Run(ctx, Task{URL: productURL, Target: "price"})
	require.NoError(t, err)

	assert.False(t, res.CacheHit)
	assert.False(t, res.CacheAttempted)
	assert.Equal(t, decision.ReasonBelowThreshold, res.Decision.Reason)
	require.NotNil(t, res.Decision.Best)
	assert.InDelta(t, 0.77, res.Decision.Best.Composite, 1e-9)
	assert.Zero(t, h.exec.cachedCalls)

	// No cache attempt, so the threshold is untouched.
	assert.InDelta(t, confidence.DefaultThreshold, h.controller.Get(ctx), 1e-9)

	learned, err := h.store.Get(ctx, res.PatternID)
	require.NoError(t, err)
	assert.Equal(t, "price", learned.Instruction, "falls back to the target description")
}

func TestRun_FreshSuccessReusesIdenticalPattern(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, reliableAt(0.10), 0, false)
	id := seedReliable(h)
	h.exec.fresh = freshOK("24.50", "css:.price")

	res, err := h.runner.Run(ctx, Task{URL: productURL, Target: "price"})
	require.NoError(t, err)

	assert.True(t, res.Succeeded)
	assert.Equal(t, id, res.PatternID)
	n, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.events.Events())
}

func TestRun_SearchFailureIsAMiss(t *testing.T) {
	h := newHarness(t, func(pattern.Store) pattern.Searcher {
		return searchFunc(func(context.Context, string, int) ([]pattern.Candidate, error) {
			return nil, errors.New("index unavailable")
		})
	}, 0, false)
	h.exec.fresh = freshOK("x", "css:h1")

	res, err := h.runner.Run(context.Background(), Task{URL: productURL, Target: "title"})
	require.NoError(t, err)

	assert.True(t, res.Succeeded)
	assert.False(t, res.CacheHit)
	assert.Equal(t, decision.ReasonSearchFailed, res.Decision.Reason)
	assert.Equal(t, 1, h.exec.freshCalls)
}

func TestRun_SearchQueryText(t *testing.T) {
	var gotText string
	var gotK int
	h := newHarness(t, func(pattern.Store) pattern.Searcher {
		return searchFunc(func(_ context.Context, text string, k int) ([]pattern.Candidate, error) {
			gotText, gotK = text, k
			return nil, nil
		})
	}, 0, false)
	h.exec.fresh = freshOK("x", "")

	_, err := h.runner.Run(context.Background(), Task{URL: productURL + "?ref=home", Target: "price"})
	require.NoError(t, err)
	assert.Equal(t, productFP+" price", gotText)
	assert.Equal(t, DefaultTopK, gotK)
}

func TestRun_RecoveryAfterFreshFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, noCandidates, strategy.TechniqueRefinedExtract, true)
	h.exec.fresh = func(context.Context) (recovery.Outcome, error) {
		return recovery.Outcome{}, errors.New("timeout waiting for selector")
	}

	res, err := h.runner.Run(ctx, Task{URL: productURL, Target: "price"})
	require.NoError(t, err)

	assert.True(t, res.Succeeded)
	assert.True(t, res.Recovered)
	assert.Equal(t, strategy.TechniqueRefinedExtract, res.Technique)
	assert.Equal(t, "19.99", res.Value)
	require.NotNil(t, res.Recovery)
	assert.Len(t, res.Recovery.Attempts, 3)

	assert.Equal(t, 1, h.techniques[strategy.TechniqueAgent].calls)
	assert.Equal(t, 1, h.techniques[strategy.TechniqueActThenExtract].calls)
	assert.Equal(t, 1, h.techniques[strategy.TechniqueRefinedExtract].calls)
	assert.Zero(t, h.techniques[strategy.TechniquePageAnalysis].calls)
	assert.Equal(t, "timeout waiting for selector", h.techniques[strategy.TechniqueAgent].seen[0].Reason)

	for _, tq := range []strategy.Technique{strategy.TechniqueAgent, strategy.TechniqueActThenExtract, strategy.TechniqueRefinedExtract} {
		st, found, err := h.stats.Get(ctx, productFP, tq)
		require.NoError(t, err)
		require.True(t, found, tq.String())
		assert.EqualValues(t, 1, st.Attempts)
	}
	_, found, err := h.stats.Get(ctx, productFP, strategy.TechniquePageAnalysis)
	require.NoError(t, err)
	assert.False(t, found)

	learned, err := h.store.Get(ctx, res.PatternID)
	require.NoError(t, err)
	assert.Equal(t, "css:.price-current", learned.Instruction)
	assert.Equal(t, pattern.ApproachExtract, learned.Approach)

	evs := h.events.BySubject(events.SubjectPatternLearned)
	require.Len(t, evs, 1)
	assert.Equal(t, "refined-extract", evs[0].(events.PatternLearned).Technique)
}

func TestRun_RecoveryExhausted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, noCandidates, 0, false)

	res, err := h.runner.Run(ctx, Task{URL: productURL, Target: "price"})
	require.NoError(t, err)

	assert.False(t, res.Succeeded)
	assert.False(t, res.Recovered)
	assert.Empty(t, res.PatternID)
	require.NotNil(t, res.Recovery)
	assert.Equal(t, recovery.StateExhausted, res.Recovery.State)

	n, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	evs := h.events.BySubject(events.SubjectRecoveryExhausted)
	require.Len(t, evs, 1)
	ev := evs[0].(events.RecoveryExhausted)
	assert.Equal(t, strategy.NumTechniques, ev.Attempts)
	assert.Equal(t, productURL, ev.URL)
}

func TestRun_ExecutorPanicIsAFailure(t *testing.T) {
	h := newHarness(t, noCandidates, strategy.TechniqueAgent, true)
	h.exec.fresh = func(context.Context) (recovery.Outcome, error) {
		panic("nil page")
	}

	res, err := h.runner.Run(context.Background(), Task{URL: productURL, Target: "price"})
	require.NoError(t, err)
	assert.True(t, res.Recovered)
	assert.Contains(t, h.techniques[strategy.TechniqueAgent].seen[0].Reason, "nil page")
}

func TestRun_UnparseableURLFallsBackToRaw(t *testing.T) {
	h := newHarness(t, noCandidates, 0, false)
	h.exec.fresh = freshOK("ok", "")

	res, err := h.runner.Run(context.Background(), Task{URL: "http:///no-host", Target: "price"})
	require.NoError(t, err)
	assert.Equal(t, "http:///no-host", res.Fingerprint)
	assert.True(t, res.Succeeded)
}

func TestRun_ContextEndsDuringFreshAttempt(t *testing.T) {
	h := newHarness(t, noCandidates, strategy.TechniqueAgent, true)
	ctx, cancel := context.WithCancel(context.Background())
	h.exec.fresh = func(context.Context) (recovery.Outcome, error) {
		cancel()
		return recovery.Outcome{}, context.Canceled
	}

	res, err := h.runner.Run(ctx, Task{URL: productURL, Target: "price"})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Nil(t, res.Recovery)
	assert.Zero(t, h.techniques[strategy.TechniqueAgent].calls)
}

type failingCreate struct {
	*pattern.InMemoryStore
}

func (failingCreate) Create(context.Context, pattern.NewPattern) (string, error) {
	return "", errors.New("database is locked")
}

func TestRun_StoreFailureDoesNotFailTask(t *testing.T) {
	h := newHarness(t, noCandidates, 0, false)
	h.exec.fresh = freshOK("ok", "css:h1")
	h.runner.store = failingCreate{h.store}

	res, err := h.runner.Run(context.Background(), Task{URL: productURL, Target: "title"})
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Empty(t, res.PatternID)
	assert.Empty(t, h.events.Events())
}

func TestRun_ConcurrentCacheHits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, reliableAt(0.99), 0, false)
	id := seedReliable(h)
	h.exec.cached = ok("24.50", "")

	const tasks = 20
	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.runner.Run(ctx, Task{URL: productURL, Target: "price"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 9+tasks, p.SuccessCount)
	assert.InDelta(t, confidence.DefaultThreshold-tasks*0.005, h.controller.Get(ctx), 1e-9)
}

func TestRun_LearnedInstructionIsScrubbed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, noCandidates, 0, false)
	scrubber, err := secrets.New(secrets.Config{Enabled: true})
	require.NoError(t, err)
	logs := logging.NewTestLogger()
	h.runner.scrubber = scrubber
	h.runner.logger = logs.Logger()
	h.exec.fresh = freshOK("1,204.10", "fill #login, password: hunter2222, then extract .balance")

	res, err := h.runner.Run(ctx, Task{URL: "https://bank.example/account", Target: "balance"})
	require.NoError(t, err)
	require.True(t, res.Succeeded)

	learned, err := h.store.Get(ctx, res.PatternID)
	require.NoError(t, err)
	assert.Equal(t, "fill #login, password: [REDACTED:form-password], then extract .balance", learned.Instruction)
	logs.AssertLogged(t, zapcore.InfoLevel, "redacted credentials from learned instruction")
	logs.AssertField(t, "redacted credentials from learned instruction", "rules", []interface{}{"form-password"})
}
