package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/hooks"
	"github.com/arko05roy/swarm/internal/logging"
	"github.com/arko05roy/swarm/internal/registry"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func setup(t *testing.T, cfg Config, agents ...*agent.Agent) (*registry.Registry, *Engine) {
	t.Helper()
	reg := registry.New(testLogger())
	for _, a := range agents {
		require.NoError(t, reg.Register(a, "tester"))
	}
	return reg, New(reg, cfg, testLogger())
}

func doubler() *agent.Agent {
	return agent.New(agent.Manifest{
		ID:      "double",
		Pricing: agent.Pricing{BasePrice: 1, PricePerCall: 0.5},
	}, agent.ProviderFunc(func(_ context.Context, in map[string]any, _ agent.Caller) (any, error) {
		n, _ := in["n"].(int)
		return map[string]any{"n": n * 2}, nil
	}))
}

func broken() *agent.Agent {
	return agent.New(agent.Manifest{ID: "broken"}, agent.ProviderFunc(
		func(context.Context, map[string]any, agent.Caller) (any, error) {
			return nil, errors.New("upstream down")
		}))
}

// blocker returns an agent that blocks until release is closed, ignoring ctx.
func blocker(id string, release <-chan struct{}) *agent.Agent {
	return agent.New(agent.Manifest{ID: id}, agent.ProviderFunc(
		func(context.Context, map[string]any, agent.Caller) (any, error) {
			<-release
			return "done", nil
		}))
}

func TestExecuteSuccess(t *testing.T) {
	_, e := setup(t, Config{}, doubler())

	res := e.Execute(context.Background(), "double", map[string]any{"n": 21}, agent.Caller{UserID: "u"}, Options{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]any{"n": 42}, res.Data)
	assert.Equal(t, 1.5, res.Cost)
	assert.NotEmpty(t, res.ExecutionID)

	hist := e.History(HistoryFilter{})
	require.Len(t, hist, 1)
	assert.Equal(t, res.ExecutionID, hist[0].ExecutionID)
	assert.True(t, hist[0].Success)
	assert.Equal(t, "u", hist[0].Caller.UserID)
	assert.Zero(t, e.InFlight())
}

func TestExecuteNotFoundAndInactive(t *testing.T) {
	reg, e := setup(t, Config{}, doubler())

	res := e.Execute(context.Background(), "ghost", nil, agent.Caller{}, Options{})
	assert.False(t, res.Success)
	assert.Equal(t, domain.CodeNotFound, res.Code)

	a, _ := reg.Get("double")
	a.Pause()
	res = e.Execute(context.Background(), "double", nil, agent.Caller{}, Options{})
	assert.False(t, res.Success)
	assert.Equal(t, domain.CodeInactive, res.Code)
	assert.Zero(t, a.Manifest().Metadata.Calls)

	assert.Len(t, e.History(HistoryFilter{}), 2)
}

func TestExecuteFailureIsRecorded(t *testing.T) {
	_, e := setup(t, Config{}, broken())

	res := e.Execute(context.Background(), "broken", nil, agent.Caller{}, Options{})
	assert.False(t, res.Success)
	assert.Equal(t, "upstream down", res.Error)

	failed := false
	hist := e.History(HistoryFilter{Success: &failed})
	require.Len(t, hist, 1)
	assert.Equal(t, domain.CodeExecutionFailed, hist[0].Code)
}

func TestExecuteOverloaded(t *testing.T) {
	release := make(chan struct{})
	_, e := setup(t, Config{MaxConcurrent: 2}, blocker("slow", release))

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Execute(context.Background(), "slow", nil, agent.Caller{}, Options{})
		}()
	}
	require.Eventually(t, func() bool { return e.InFlight() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "busy", e.Health().Status)

	start := time.Now()
	res := e.Execute(context.Background(), "slow", nil, agent.Caller{}, Options{})
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, res.Success)
	assert.Equal(t, domain.CodeOverloaded, res.Code)
	assert.Empty(t, e.History(HistoryFilter{}))

	close(release)
	wg.Wait()
	assert.Zero(t, e.InFlight())
	assert.Len(t, e.History(HistoryFilter{}), 2)
	assert.Equal(t, "healthy", e.Health().Status)
}

func TestExecuteTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	_, e := setup(t, Config{Timeout: 50 * time.Millisecond}, blocker("stuck", release))

	start := time.Now()
	res := e.Execute(context.Background(), "stuck", nil, agent.Caller{}, Options{})
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.Equal(t, domain.CodeTimeout, res.Code)
	assert.Contains(t, res.Error, "timeout after 50ms")
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	hist := e.History(HistoryFilter{AgentID: "stuck"})
	require.Len(t, hist, 1)
	assert.Equal(t, domain.CodeTimeout, hist[0].Code)
	assert.Zero(t, e.InFlight())
}

func TestExecutePerCallTimeoutOverride(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	_, e := setup(t, Config{Timeout: time.Minute}, blocker("stuck", release))

	res := e.Execute(context.Background(), "stuck", nil, agent.Caller{}, Options{Timeout: 20 * time.Millisecond})
	assert.Equal(t, domain.CodeTimeout, res.Code)
}

func TestExecuteParallel(t *testing.T) {
	_, e := setup(t, Config{}, doubler(), broken())

	results := e.ExecuteParallel(context.Background(), []Request{
		{AgentID: "double", Input: map[string]any{"n": 1}},
		{AgentID: "broken"},
		{AgentID: "double", Input: map[string]any{"n": 5}},
	})
	require.Len(t, results, 3)
	assert.Equal(t, map[string]any{"n": 2}, results[0].Data)
	assert.False(t, results[1].Success)
	assert.Equal(t, map[string]any{"n": 10}, results[2].Data)
	assert.Len(t, e.History(HistoryFilter{}), 3)
}

func TestExecuteWorkflow(t *testing.T) {
	_, e := setup(t, Config{}, doubler(), broken())

	wf := e.ExecuteWorkflow(context.Background(), []Step{
		{AgentID: "double", UsePreviousResult: true},
		{AgentID: "double", UsePreviousResult: true},
		{AgentID: "double", Input: map[string]any{"n": 100}},
	}, map[string]any{"n": 3}, agent.Caller{})

	require.True(t, wf.Success, wf.Error)
	require.Len(t, wf.Results, 3)
	assert.Equal(t, map[string]any{"n": 12}, wf.Results[1].Result.Data)
	assert.Equal(t, map[string]any{"n": 200}, wf.Final)
}

func TestExecuteWorkflowStopsAtFirstFailure(t *testing.T) {
	_, e := setup(t, Config{}, doubler(), broken())

	wf := e.ExecuteWorkflow(context.Background(), []Step{
		{AgentID: "double", Input: map[string]any{"n": 1}},
		{AgentID: "broken"},
		{AgentID: "double"},
	}, nil, agent.Caller{})

	assert.False(t, wf.Success)
	assert.Equal(t, 2, wf.FailedStep)
	assert.Len(t, wf.Results, 2)
	assert.Equal(t, "workflow failed at step 2: upstream down", wf.Error)
	assert.Len(t, e.History(HistoryFilter{}), 2)
}

func TestStatsAndAgentStats(t *testing.T) {
	_, e := setup(t, Config{}, doubler(), broken())
	assert.Equal(t, Stats{}, e.Stats())

	e.Execute(context.Background(), "double", map[string]any{"n": 1}, agent.Caller{}, Options{})
	e.Execute(context.Background(), "double", map[string]any{"n": 2}, agent.Caller{}, Options{})
	e.Execute(context.Background(), "broken", nil, agent.Caller{}, Options{})

	s := e.Stats()
	assert.Equal(t, 3, s.TotalExecutions)
	assert.Equal(t, 2, s.Successful)
	assert.Equal(t, 1, s.Failed)
	assert.InDelta(t, 66.666, s.SuccessRate, 0.01)
	assert.Equal(t, 3.0, s.TotalCost)

	as := e.AgentStats("double")
	assert.Equal(t, 2, as.TotalExecutions)
	assert.Equal(t, 100.0, as.SuccessRate)
	assert.Equal(t, AgentStats{AgentID: "none"}, e.AgentStats("none"))
}

func TestHistoryIsCappedAndNewestFirst(t *testing.T) {
	_, e := setup(t, Config{HistorySize: 3}, doubler())
	for i := range 5 {
		e.Execute(context.Background(), "double", map[string]any{"n": i}, agent.Caller{}, Options{})
	}

	hist := e.History(HistoryFilter{})
	require.Len(t, hist, 3)
	assert.False(t, hist[0].Timestamp.Before(hist[2].Timestamp))
	assert.Len(t, e.History(HistoryFilter{Limit: 2}), 2)

	e.ClearHistory()
	assert.Empty(t, e.History(HistoryFilter{}))
	assert.Equal(t, 0, e.Health().HistorySize)
}

type fakeSettler struct {
	mu      sync.Mutex
	settled []agent.Result
}

func (f *fakeSettler) Settle(_ context.Context, _ *agent.Agent, _ agent.Caller, res agent.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled = append(f.settled, res)
	return nil
}

func TestSettlerAndHooks(t *testing.T) {
	reg := registry.New(testLogger())
	free := agent.New(agent.Manifest{ID: "free"}, agent.ProviderFunc(
		func(context.Context, map[string]any, agent.Caller) (any, error) { return "ok", nil }))
	require.NoError(t, reg.Register(doubler(), ""))
	require.NoError(t, reg.Register(free, ""))

	hm := hooks.NewManager(testLogger())
	var completed []string
	hm.On(hooks.EventExecutionCompleted, "test", func(_ context.Context, p hooks.Payload) error {
		completed = append(completed, p.Data["agentId"].(string))
		return nil
	})

	settler := &fakeSettler{}
	e := New(reg, Config{}, testLogger(), WithSettler(settler), WithHooks(hm))

	e.Execute(context.Background(), "double", map[string]any{"n": 1}, agent.Caller{}, Options{})
	e.Execute(context.Background(), "free", nil, agent.Caller{}, Options{})

	require.Len(t, settler.settled, 1)
	assert.Equal(t, "double", settler.settled[0].AgentID)
	assert.Equal(t, []string{"double", "free"}, completed)
}
