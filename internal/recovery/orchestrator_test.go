package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/strategy"
)

var site = SiteContext{URL: "https://shop.example/product/123", Fingerprint: "shop.example/product/*"}

// scripted is a handler that returns a fixed outcome and counts calls.
type scripted struct {
	mu    sync.Mutex
	calls int
	out   Outcome
	err   error
	panic any
	seen  []FailureContext
}

func (s *scripted) Execute(ctx context.Context, site SiteContext, target string, failure FailureContext) (Outcome, error) {
	s.mu.Lock()
	s.calls++
	s.seen = append(s.seen, failure)
	s.mu.Unlock()
	if s.panic != nil {
		panic(s.panic)
	}
	return s.out, s.err
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fails() *scripted { return &scripted{} }

func succeeds(instruction string) *scripted {
	return &scripted{out: Outcome{Succeeded: true, Value: "42.00", LearnedInstruction: instruction}}
}

// countingSelector wraps a real selector and counts RecordOutcome calls.
type countingSelector struct {
	*strategy.Selector
	mu       sync.Mutex
	recorded map[strategy.Technique]int
	err      error
}

func newCountingSelector(store strategy.StatStore) *countingSelector {
	return &countingSelector{
		Selector: strategy.NewSelector(store, nil),
		recorded: make(map[strategy.Technique]int),
	}
}

func (c *countingSelector) RecordOutcome(ctx context.Context, fp string, t strategy.Technique, ok bool, d time.Duration) error {
	c.mu.Lock()
	c.recorded[t]++
	c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return c.Selector.RecordOutcome(ctx, fp, t, ok, d)
}

func TestNew_RequiresEveryHandler(t *testing.T) {
	sel := newCountingSelector(strategy.NewInMemoryStatStore(0))

	_, err := New(Handlers{Agent: fails(), ActThenExtract: fails(), RefinedExtract: fails()}, sel, nil)
	require.ErrorIs(t, err, ErrMissingHandler)
	assert.Contains(t, err.Error(), "page-analysis")

	_, err = New(Handlers{Agent: fails(), ActThenExtract: fails(), RefinedExtract: fails(), PageAnalysis: fails()}, nil, nil)
	assert.Error(t, err)
}

func TestRecover_StopsAtFirstSuccess(t *testing.T) {
	store := strategy.NewInMemoryStatStore(0)
	sel := newCountingSelector(store)
	h := Handlers{
		Agent:          fails(),
		ActThenExtract: &scripted{err: errors.New("element not found")},
		RefinedExtract: succeeds("the price in the buy box"),
		PageAnalysis:   succeeds("unused"),
	}
	o, err := New(h, sel, nil)
	require.NoError(t, err)

	res := o.Recover(context.Background(), site, "price", FailureContext{Instruction: "price", Reason: "empty result"})

	require.True(t, res.Succeeded())
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, strategy.TechniqueRefinedExtract, res.Technique)
	assert.Equal(t, "42.00", res.Value)
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, "element not found", res.Attempts[1].Error)
	assert.Equal(t, ErrUnsuccessful.Error(), res.Attempts[0].Error)

	require.NotNil(t, res.Learned)
	assert.Equal(t, pattern.NewPattern{
		Fingerprint: site.Fingerprint,
		Target:      "price",
		Instruction: "the price in the buy box",
		Approach:    pattern.ApproachExtract,
	}, *res.Learned)

	assert.Zero(t, h.PageAnalysis.(*scripted).Calls())

	ctx := context.Background()
	for _, tech := range []strategy.Technique{strategy.TechniqueAgent, strategy.TechniqueActThenExtract, strategy.TechniqueRefinedExtract} {
		st, ok, err := store.Get(ctx, site.Fingerprint, tech)
		require.NoError(t, err)
		require.True(t, ok, tech.String())
		assert.Equal(t, int64(1), st.Attempts, tech.String())
		assert.Equal(t, 1, sel.recorded[tech])
	}
	_, ok, err := store.Get(ctx, site.Fingerprint, strategy.TechniquePageAnalysis)
	require.NoError(t, err)
	assert.False(t, ok, "technique after the success must not be touched")
	assert.Zero(t, sel.recorded[strategy.TechniquePageAnalysis])

	st, _, _ := store.Get(ctx, site.Fingerprint, strategy.TechniqueRefinedExtract)
	assert.Equal(t, int64(1), st.Successes)
}

func TestRecover_Exhausted(t *testing.T) {
	sel := newCountingSelector(strategy.NewInMemoryStatStore(0))
	h := Handlers{Agent: fails(), ActThenExtract: fails(), RefinedExtract: fails(), PageAnalysis: fails()}
	o, err := New(h, sel, nil)
	require.NoError(t, err)

	res := o.Recover(context.Background(), site, "price", FailureContext{})

	assert.Equal(t, StateExhausted, res.State)
	assert.False(t, res.Succeeded())
	assert.Nil(t, res.Learned)
	assert.Len(t, res.Attempts, strategy.NumTechniques)
	for _, tech := range strategy.DefaultOrder() {
		assert.Equal(t, 1, sel.recorded[tech], tech.String())
	}
}

func TestRecover_PanicIsTechniqueFailure(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	sel := newCountingSelector(strategy.NewInMemoryStatStore(0))
	h := Handlers{
		Agent:          &scripted{panic: "nil pointer in page driver"},
		ActThenExtract: succeeds(""),
		RefinedExtract: fails(),
		PageAnalysis:   fails(),
	}
	o, err := New(h, sel, zap.New(core))
	require.NoError(t, err)

	res := o.Recover(context.Background(), site, "price", FailureContext{})

	require.True(t, res.Succeeded())
	assert.Equal(t, strategy.TechniqueActThenExtract, res.Technique)
	assert.Contains(t, res.Attempts[0].Error, ErrTechniquePanic.Error())
	assert.Equal(t, 1, sel.recorded[strategy.TechniqueAgent])
	assert.Equal(t, 1, logs.FilterMessage("recovery technique panicked").Len())

	// Empty learned instruction falls back to the target.
	assert.Equal(t, "price", res.Learned.Instruction)
	assert.Equal(t, pattern.ApproachActThenExtract, res.Learned.Approach)
}

func TestRecover_FollowsLearnedOrder(t *testing.T) {
	store := strategy.NewInMemoryStatStore(0)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, site.Fingerprint, strategy.TechniquePageAnalysis, true, 100))

	sel := newCountingSelector(store)
	h := Handlers{Agent: fails(), ActThenExtract: fails(), RefinedExtract: fails(), PageAnalysis: succeeds("x")}
	o, err := New(h, sel, nil)
	require.NoError(t, err)

	res := o.Recover(ctx, site, "price", FailureContext{})

	require.Len(t, res.Attempts, 1)
	assert.Equal(t, strategy.TechniquePageAnalysis, res.Technique)
	assert.Zero(t, h.Agent.(*scripted).Calls())
}

func TestRecover_PassesPreviousAttempts(t *testing.T) {
	sel := newCountingSelector(strategy.NewInMemoryStatStore(0))
	agent, act := fails(), succeeds("x")
	o, err := New(Handlers{Agent: agent, ActThenExtract: act, RefinedExtract: fails(), PageAnalysis: fails()}, sel, nil)
	require.NoError(t, err)

	o.Recover(context.Background(), site, "price", FailureContext{Reason: "timeout"})

	require.Len(t, act.seen, 1)
	require.Len(t, act.seen[0].Previous, 1)
	assert.Equal(t, strategy.TechniqueAgent, act.seen[0].Previous[0].Technique)
	assert.Equal(t, "timeout", act.seen[0].Reason)
}

func TestRecover_RecordFailureDoesNotAbort(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sel := newCountingSelector(strategy.NewInMemoryStatStore(0))
	sel.err = errors.New("redis: connection refused")
	o, err := New(Handlers{Agent: fails(), ActThenExtract: fails(), RefinedExtract: succeeds("x"), PageAnalysis: fails()}, sel, zap.New(core))
	require.NoError(t, err)

	res := o.Recover(context.Background(), site, "price", FailureContext{})

	assert.True(t, res.Succeeded())
	assert.Equal(t, 3, logs.FilterMessage("failed to record strategy outcome").Len())
}

func TestRecover_CancelledContext(t *testing.T) {
	sel := newCountingSelector(strategy.NewInMemoryStatStore(0))
	ctx, cancel := context.WithCancel(context.Background())

	agent := HandlerFunc(func(ctx context.Context, site SiteContext, target string, failure FailureContext) (Outcome, error) {
		cancel()
		return Outcome{}, ctx.Err()
	})
	other := fails()
	o, err := New(Handlers{Agent: agent, ActThenExtract: other, RefinedExtract: other, PageAnalysis: other}, sel, nil)
	require.NoError(t, err)

	res := o.Recover(ctx, site, "price", FailureContext{})

	assert.Equal(t, StateExhausted, res.State)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, 1, sel.recorded[strategy.TechniqueAgent])
	assert.Zero(t, other.Calls())
}

func TestApproachFor(t *testing.T) {
	assert.Equal(t, pattern.ApproachAgent, ApproachFor(strategy.TechniqueAgent))
	assert.Equal(t, pattern.ApproachActThenExtract, ApproachFor(strategy.TechniqueActThenExtract))
	assert.Equal(t, pattern.ApproachExtract, ApproachFor(strategy.TechniqueRefinedExtract))
	assert.Equal(t, pattern.ApproachExtract, ApproachFor(strategy.TechniquePageAnalysis))
}
