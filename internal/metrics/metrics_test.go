package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arko05roy/swarm/internal/hooks"
	"github.com/arko05roy/swarm/internal/logging"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestAttachCountsEvents(t *testing.T) {
	hm := hooks.NewManager(logging.New(nil, "silent"))
	m := New()
	m.Attach(hm)

	ctx := context.Background()
	hm.Emit(ctx, hooks.EventExecutionCompleted, map[string]any{"agentId": "echo", "success": true, "durationMs": int64(250)})
	hm.Emit(ctx, hooks.EventExecutionCompleted, map[string]any{"agentId": "echo", "success": false, "durationMs": int64(10)})
	hm.Emit(ctx, hooks.EventExecutionRejected, map[string]any{"agentId": "echo"})
	hm.Emit(ctx, hooks.EventEarningsSettled, map[string]any{"agentId": "echo", "amount": 1.5})
	hm.Emit(ctx, hooks.EventEarningsDistributed, map[string]any{"agentId": "echo", "amount": 1.5})
	hm.Emit(ctx, hooks.EventInvestmentMade, map[string]any{"agentId": "echo", "amount": 10.0})
	hm.Emit(ctx, hooks.EventWithdrawalCompleted, map[string]any{"agentId": "echo", "amount": 4.0})
	m.ObserveRPC("engine.execute", "ok")
	m.ObserveRPC("engine.execute", "overloaded")

	out := scrape(t, m)
	for _, line := range []string{
		`swarm_executions_total{agent="echo",outcome="success"} 1`,
		`swarm_executions_total{agent="echo",outcome="failure"} 1`,
		`swarm_execution_duration_seconds_count{agent="echo"} 2`,
		`swarm_executions_rejected_total 1`,
		`swarm_earnings_settled_total{agent="echo"} 1.5`,
		`swarm_earnings_distributed_total{agent="echo"} 1.5`,
		`swarm_invested_total 10`,
		`swarm_withdrawn_total 4`,
		`swarm_rpc_requests_total{code="ok",method="engine.execute"} 1`,
		`swarm_rpc_requests_total{code="overloaded",method="engine.execute"} 1`,
	} {
		assert.Contains(t, out, line)
	}
	assert.Contains(t, out, "go_goroutines")

	m.Detach(hm)
	assert.Zero(t, hm.Count(hooks.EventExecutionCompleted))
}

func TestGaugeFunc(t *testing.T) {
	m := New()
	tvl := 12.5
	m.GaugeFunc("total_value_locked", "Principal plus unclaimed earnings.", func() float64 { return tvl })

	assert.Contains(t, scrape(t, m), "swarm_total_value_locked 12.5")
	tvl = 20
	assert.Contains(t, scrape(t, m), "swarm_total_value_locked 20")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRPC("health", "ok")
		m.GaugeFunc("x", "x", func() float64 { return 1 })
		m.Attach(hooks.NewManager(logging.New(nil, "silent")))
	})
}

func TestNum(t *testing.T) {
	data := map[string]any{"f": 1.5, "i": 2, "i64": int64(3), "neg": -4.0, "s": "5"}
	assert.Equal(t, 1.5, num(data, "f"))
	assert.Equal(t, 2.0, num(data, "i"))
	assert.Equal(t, 3.0, num(data, "i64"))
	assert.Zero(t, num(data, "neg"))
	assert.Zero(t, num(data, "s"))
	assert.Zero(t, num(data, "missing"))
}
